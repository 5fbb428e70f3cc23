// Package scan locates candidate gzip member boundaries within a buffer.
//
// Unlike bzip2's block magic, which can start at any of the 8 bit offsets
// within a byte and therefore needs a bit-shifted lookup table to find
// efficiently, a gzip member header is always byte-aligned (RFC 1952 §2.3
// starts every member with ID1, ID2, CM at a byte boundary), so a plain
// byte-string search is both correct and sufficient here.
package scan

import "bytes"

// Magic is the fixed 3-byte prefix of every gzip member: ID1, ID2, CM.
// CM is pinned to 8 (DEFLATE) since that is the only method this package
// decompresses; other CM values are not valid gzip members for our purposes.
var Magic = [3]byte{0x1f, 0x8b, 0x08}

// Find returns the offset of the first occurrence of Magic in buf at or
// after start, or -1 if none is found.
func Find(buf []byte, start int) int {
	if start >= len(buf) {
		return -1
	}
	idx := bytes.Index(buf[start:], Magic[:])
	if idx == -1 {
		return -1
	}
	return start + idx
}

// All returns the offsets of every occurrence of Magic in buf, in
// ascending order. Consecutive members are typically separated by nothing
// at all (gzip members may be concatenated directly), so overlapping
// matches are not possible here: Magic itself never occurs as a suffix of
// itself.
func All(buf []byte) []int {
	var offsets []int
	for pos := 0; ; {
		idx := Find(buf, pos)
		if idx == -1 {
			return offsets
		}
		offsets = append(offsets, idx)
		pos = idx + 1
	}
}
