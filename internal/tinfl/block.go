package tinfl

import "math/bits"

// stepBlockHeader reads BFINAL and BTYPE (RFC 1951 §3.2.3) and dispatches to
// the matching block body.
func (s *State) stepBlockHeader(in *cursor) (Status, bool) {
	v, ok := s.getBits(3, in)
	if !ok {
		return StatusNeedsMoreInput, false
	}
	s.finalFlag = v&1 != 0
	s.blockType = (v >> 1) & 3
	s.stats.BlockCount++
	switch s.blockType {
	case 0:
		s.alignToByte()
		s.stateLabel = stateStoredAlign
	case 1:
		s.tables[tblLitLen] = fixedLitLenTable
		s.tables[tblDist] = fixedDistTable
		s.stateLabel = stateBlockSymbols
	case 2:
		s.stateLabel = stateDynamicCounts
	default:
		return s.fail(StatusFailed)
	}
	return 0, true
}

// stepStoredAlign reads the LEN/NLEN pair of an uncompressed block
// (RFC 1951 §3.2.4); BFINAL/BTYPE already byte-aligned the bit reader.
func (s *State) stepStoredAlign(in *cursor) (Status, bool) {
	v, ok := s.getBits(32, in)
	if !ok {
		return StatusNeedsMoreInput, false
	}
	length := v & 0xffff
	nlength := v >> 16
	if length != (^nlength)&0xffff {
		return s.fail(StatusFailed)
	}
	s.storedRemaining = length
	s.stateLabel = stateStoredCopy
	return 0, true
}

// stepStoredCopy copies storedRemaining literal bytes straight from input
// to output. When the bit accumulator is empty (the common case, since
// stored blocks are the rare uncompressed fallback) it bulk-copies directly
// from the input cursor instead of going through getBits a byte at a time.
func (s *State) stepStoredCopy(in *cursor, out *Window) (Status, bool) {
	for s.storedRemaining > 0 {
		if out.full() {
			return StatusHasMoreOutput, false
		}
		if s.numBits == 0 {
			n := s.storedRemaining
			if avail := uint32(len(in.buf) - in.pos); avail < n {
				n = avail
			}
			if room := out.room(); room < n {
				n = room
			}
			if n == 0 {
				return StatusNeedsMoreInput, false
			}
			s.emitBulk(out, in.buf[in.pos:in.pos+int(n)])
			in.pos += int(n)
			s.storedRemaining -= n
			continue
		}
		v, ok := s.getBits(8, in)
		if !ok {
			return StatusNeedsMoreInput, false
		}
		s.emitByte(out, byte(v))
		s.storedRemaining--
	}
	s.stateLabel = stateBlockEnd
	return 0, true
}

// stepDynamicCounts reads HLIT/HDIST/HCLEN (RFC 1951 §3.2.7) and resets the
// scratch arrays the following two phases fill in.
func (s *State) stepDynamicCounts(in *cursor) (Status, bool) {
	v, ok := s.getBits(14, in)
	if !ok {
		return StatusNeedsMoreInput, false
	}
	s.hlit = (v & 0x1f) + 257
	s.hdist = ((v >> 5) & 0x1f) + 1
	s.hclen = ((v >> 10) & 0xf) + 4
	s.symTotal = s.hlit + s.hdist
	for i := range s.codeLengths {
		s.codeLengths[i] = 0
	}
	for i := range s.clLengths {
		s.clLengths[i] = 0
	}
	s.counter = 0
	s.stateLabel = stateDynamicCLLengths
	return 0, true
}

// stepDynamicCLLengths reads the code-length alphabet's own hclen code
// lengths (3 bits each, in clOrder) and builds the table used to decode it.
func (s *State) stepDynamicCLLengths(in *cursor) (Status, bool) {
	for s.counter < s.hclen {
		v, ok := s.getBits(3, in)
		if !ok {
			return StatusNeedsMoreInput, false
		}
		s.clLengths[clOrder[s.counter]] = uint8(v)
		s.counter++
	}
	if err := s.tables[tblCL].build(s.clLengths[:]); err != nil {
		return s.fail(StatusFailed)
	}
	s.counter = 0
	s.prevCL = 0
	s.pendingRLE = 0
	s.stateLabel = stateDynamicExpand
	return 0, true
}

// stepDynamicExpand decodes the combined literal/length and distance code
// lengths, expanding RLE symbols 16/17/18 (RFC 1951 §3.2.7), then builds
// the two Huffman tables the block body will use. pendingRLE/rleRemaining
// carry a partially-read repeat count or in-progress fill across a
// suspension so the already-decoded RLE symbol is never re-decoded.
func (s *State) stepDynamicExpand(in *cursor) (Status, bool) {
	for s.counter < s.symTotal {
		if s.rleRemaining > 0 {
			s.codeLengths[s.counter] = s.rleFill
			s.counter++
			s.rleRemaining--
			continue
		}
		if s.pendingRLE == 0 {
			sym, ok, err := s.tables[tblCL].decode(s, in)
			if err != nil {
				return s.fail(StatusFailed)
			}
			if !ok {
				return StatusNeedsMoreInput, false
			}
			if sym < 16 {
				s.codeLengths[s.counter] = uint8(sym)
				s.prevCL = uint8(sym)
				s.counter++
				continue
			}
			if sym > 18 {
				return s.fail(StatusFailed)
			}
			if sym == 16 && s.counter == 0 {
				return s.fail(StatusFailed)
			}
			s.pendingRLE = uint8(sym)
		}

		var extraBits, base uint32
		switch s.pendingRLE {
		case 16:
			extraBits, base = 2, 3
		case 17:
			extraBits, base = 3, 3
		case 18:
			extraBits, base = 7, 11
		}
		v, ok := s.getBits(extraBits, in)
		if !ok {
			return StatusNeedsMoreInput, false
		}
		repeat := base + v
		if s.counter+repeat > s.symTotal {
			return s.fail(StatusFailed)
		}
		fill := uint8(0)
		if s.pendingRLE == 16 {
			fill = s.prevCL
		}
		s.rleFill = fill
		s.rleRemaining = repeat
		s.pendingRLE = 0
	}

	if err := s.tables[tblLitLen].build(s.codeLengths[:s.hlit]); err != nil {
		return s.fail(StatusFailed)
	}
	if err := s.tables[tblDist].build(s.codeLengths[s.hlit : s.hlit+s.hdist]); err != nil {
		return s.fail(StatusFailed)
	}
	s.stateLabel = stateBlockSymbols
	return 0, true
}

// stepBlockSymbols is the hot loop: decode literal/length symbols, and for
// length symbols a matching distance symbol, replicating matches from the
// window. symPhase tracks which of the (up to five) steps of decoding one
// symbol is in flight, so a suspension at any point resumes without
// re-decoding or re-reading anything already committed.
func (s *State) stepBlockSymbols(in *cursor, out *Window) (Status, bool) {
	for {
		switch s.symPhase {
		case symPhaseDecodeLitLen:
			if out.full() {
				return StatusHasMoreOutput, false
			}
			sym, ok, err := s.tables[tblLitLen].decode(s, in)
			if err != nil {
				return s.fail(StatusFailed)
			}
			if !ok {
				return StatusNeedsMoreInput, false
			}
			switch {
			case sym < 256:
				s.emitByte(out, byte(sym))
				continue
			case sym == 256:
				s.stateLabel = stateBlockEnd
				return 0, true
			case sym <= 285:
				s.lenSym = uint32(sym)
				s.symPhase = symPhaseLengthExtra
			default:
				return s.fail(StatusFailed)
			}

		case symPhaseLengthExtra:
			idx := s.lenSym - 257
			v, ok := s.getBits(uint32(lengthExtra[idx]), in)
			if !ok {
				return StatusNeedsMoreInput, false
			}
			s.matchLength = uint32(lengthBase[idx]) + v
			s.symPhase = symPhaseDecodeDist

		case symPhaseDecodeDist:
			sym, ok, err := s.tables[tblDist].decode(s, in)
			if err != nil {
				return s.fail(StatusFailed)
			}
			if !ok {
				return StatusNeedsMoreInput, false
			}
			if sym > 29 {
				return s.fail(StatusFailed)
			}
			s.distSym = uint32(sym)
			s.symPhase = symPhaseDistExtra

		case symPhaseDistExtra:
			v, ok := s.getBits(uint32(distExtra[s.distSym]), in)
			if !ok {
				return StatusNeedsMoreInput, false
			}
			distance := uint32(distBase[s.distSym]) + v
			if !out.validDistance(distance) {
				return s.fail(StatusFailed)
			}
			s.matchDistance = distance
			s.copyRemaining = s.matchLength
			s.symPhase = symPhaseCopy

		case symPhaseCopy:
			for s.copyRemaining > 0 {
				if out.full() {
					return StatusHasMoreOutput, false
				}
				s.emitMatchByte(out, out.byteAt(s.matchDistance))
				s.copyRemaining--
			}
			s.symPhase = symPhaseDecodeLitLen
		}
	}
}

func (s *State) stepBlockEnd() (Status, bool) {
	s.symPhase = symPhaseDecodeLitLen
	if s.finalFlag {
		// counter is repurposed by the gzip trailer as its two-halves-read
		// gate; a dynamic block leaves it at symTotal.
		s.counter = 0
		s.stateLabel = stateTrailer
	} else {
		s.stateLabel = stateBlockHeader
	}
	return 0, true
}

// stepTrailer validates the stream checksum: a big-endian Adler-32 for
// zlib, or a little-endian CRC-32 plus ISIZE (uncompressed size mod 2^32)
// for gzip. Raw DEFLATE has no trailer at all.
func (s *State) stepTrailer(in *cursor, out *Window) (Status, bool) {
	s.alignToByte()
	switch s.framing {
	case FramingRaw:
		s.stats.FinalChecksum = 0
		s.stateLabel = stateDone
		return 0, true

	case FramingZlib:
		v, ok := s.getBits(32, in)
		if !ok {
			return StatusNeedsMoreInput, false
		}
		expected := bits.ReverseBytes32(v)
		if expected != s.adler.sum() {
			return s.fail(StatusAdler32Mismatch)
		}
		s.stats.FinalChecksum = expected
		s.stateLabel = stateDone
		return 0, true

	default: // FramingGzip
		if s.counter == 0 {
			v, ok := s.getBits(32, in)
			if !ok {
				return StatusNeedsMoreInput, false
			}
			if v != s.crc.sum() {
				return s.fail(StatusISizeOrCRC32Mismatch)
			}
			s.stats.FinalChecksum = v
			s.counter = 1
		}
		v, ok := s.getBits(32, in)
		if !ok {
			return StatusNeedsMoreInput, false
		}
		if v != out.Total() {
			return s.fail(StatusISizeOrCRC32Mismatch)
		}
		s.counter = 0
		s.stateLabel = stateDone
		return 0, true
	}
}
