package tinfl

// fastBits is the width of the direct lookup table used to decode the
// common case (every code of this length or shorter) in one step. Codes
// longer than fastBits chain into tree, walked one bit at a time.
const fastBits = 10
const fastSize = 1 << fastBits
const maxHuffLen = 15

// huffmanTable is a canonical Huffman decoder built from per-symbol code
// lengths: a 1024-entry fast table for codes of up to fastBits bits, plus a
// small binary tree for the rest. Every slot in fast and tree is
// zero-valued until build()/insertLong assigns it, so 0 is reserved as the
// "not yet set" marker throughout and is never itself a valid encoding:
// fast entries are > 0, packing (len<<9)|symbol plus one, or < 0, encoding
// -(nodeIndex+1) into tree. tree is a flat array of (left, right) pairs;
// a negative tree entry encodes a leaf as -(symbol+1), a positive one a
// child node index plus one, so a genuinely unset slot (0) is never
// confused with a pointer to node/symbol 0.
type huffmanTable struct {
	fast [fastSize]int16
	tree []int32
}

// build assigns canonical codes to lengths (index i is symbol i's code
// length, 0 meaning "unused") and populates fast/tree. An all-zero lengths
// slice is valid and leaves the table empty (never looked up, e.g. an
// unused distance table).
func (h *huffmanTable) build(lengths []uint8) error {
	var count [maxHuffLen + 1]int
	numSymbols := 0
	maxLen := 0
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		if int(l) > maxHuffLen {
			return StructuralError("huffman code length exceeds 15 bits")
		}
		count[l]++
		numSymbols++
		if int(l) > maxLen {
			maxLen = int(l)
		}
	}
	for i := range h.fast {
		h.fast[i] = 0
	}
	h.tree = h.tree[:0]
	if numSymbols == 0 {
		return nil
	}

	if numSymbols > 1 {
		var total uint32
		for l := 1; l <= maxLen; l++ {
			total += uint32(count[l]) << uint(maxLen-l)
		}
		if total != uint32(1)<<uint(maxLen) {
			return StructuralError("huffman code lengths do not form a complete prefix code")
		}
	}

	var nextCode [maxHuffLen + 1]uint32
	code := uint32(0)
	for l := 1; l <= maxLen; l++ {
		code = (code + uint32(count[l-1])) << 1
		nextCode[l] = code
	}

	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		c := nextCode[l]
		nextCode[l]++
		rev := reverseBits(c, uint32(l))
		if int(l) <= fastBits {
			step := uint32(1) << uint(l)
			entry := int16(int(l)<<9|sym) + 1
			for idx := rev; idx < fastSize; idx += step {
				h.fast[idx] = entry
			}
		} else {
			h.insertLong(rev, uint32(l), sym)
		}
	}
	return nil
}

// insertLong threads a code longer than fastBits into tree. code's low l
// bits hold the bit-reversed (stream order) code; the low fastBits of it
// select the fast-table slot that roots this code's subtree. Canonical
// codes are prefix-free, so a slot this function claims as a subtree root
// is never also a short code's fast-table entry.
func (h *huffmanTable) insertLong(code, l uint32, sym int) {
	prefix := code & (fastSize - 1)
	entry := h.fast[prefix]
	var node int32
	if entry != 0 {
		node = -int32(entry) - 1
	} else {
		node = h.newNode()
		h.fast[prefix] = int16(-(node + 1))
	}
	for bit := uint32(fastBits); bit < l; bit++ {
		b := (code >> bit) & 1
		if bit == l-1 {
			h.tree[2*node+int32(b)] = -(int32(sym) + 1)
			return
		}
		child := h.tree[2*node+int32(b)]
		if child == 0 {
			newIdx := h.newNode()
			child = newIdx + 1
			h.tree[2*node+int32(b)] = child
		}
		node = child - 1
	}
}

func (h *huffmanTable) newNode() int32 {
	idx := int32(len(h.tree) / 2)
	h.tree = append(h.tree, 0, 0)
	return idx
}

// decode consumes the next symbol from in, using s.huffInTree/s.huffNode to
// resume a tree walk that was interrupted by a previous call running out of
// input. It reports ok=false, without having consumed any bits beyond
// those already committed to a resumed walk, when it cannot yet determine
// the symbol. A non-nil error means the bit pattern read so far does not
// correspond to any code this table assigned — always possible against a
// degenerate single-symbol table, which build() accepts without requiring
// it to cover every codepoint.
func (h *huffmanTable) decode(s *State, in *cursor) (int, bool, error) {
	if !s.huffInTree {
		prefix, ok := s.peekBits(fastBits, in)
		if !ok {
			// Input ran dry before a full fastBits peek. The bits already
			// buffered may still spell out a complete short code: unread
			// high bits of bitBuf are zero, and a fast entry whose length
			// fits within numBits decodes identically under any padding.
			// This is what lets a raw DEFLATE stream end exactly at its
			// last byte instead of demanding a phantom byte.
			if s.numBits > 0 {
				entry := h.fast[s.bitBuf&(fastSize-1)]
				if entry > 0 {
					length := uint32(entry-1) >> 9
					if length <= s.numBits {
						s.dropBits(length)
						return int(entry-1) & 0x1ff, true, nil
					}
				}
			}
			return 0, false, nil
		}
		entry := h.fast[prefix]
		if entry == 0 {
			return 0, true, StructuralError("huffman code does not correspond to a valid symbol")
		}
		if entry > 0 {
			length := uint32(entry-1) >> 9
			s.dropBits(length)
			return int(entry-1) & 0x1ff, true, nil
		}
		s.dropBits(fastBits)
		s.huffNode = -int32(entry) - 1
		s.huffInTree = true
	}
	for {
		b, ok := s.getBits(1, in)
		if !ok {
			return 0, false, nil
		}
		child := h.tree[2*s.huffNode+int32(b)]
		if child == 0 {
			return 0, true, StructuralError("huffman code does not correspond to a valid symbol")
		}
		if child < 0 {
			s.huffInTree = false
			return int(-child - 1), true, nil
		}
		s.huffNode = child - 1
	}
}

func reverseBits(v, n uint32) uint32 {
	var r uint32
	for i := uint32(0); i < n; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}
