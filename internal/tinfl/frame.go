package tinfl

// stepZlibHeader validates the 2-byte zlib header (RFC 1950 §2.2): the low
// nibble of CMF must select the DEFLATE compression method, (CMF*256+FLG)
// must be a multiple of 31, and a preset dictionary (FDICT) is rejected,
// there being no channel in this API to supply one. When decoding into a
// ring, the window size CINFO declares must also fit the ring: a smaller
// ring could not hold enough history to satisfy every back-reference the
// declared window permits.
func (s *State) stepZlibHeader(in *cursor, out *Window) (Status, bool) {
	v, ok := s.getBits(16, in)
	if !ok {
		return StatusNeedsMoreInput, false
	}
	cmf := byte(v)
	flg := byte(v >> 8)
	if cmf&0x0f != 8 {
		return s.fail(StatusFailed)
	}
	if (uint32(cmf)*256+uint32(flg))%31 != 0 {
		return s.fail(StatusFailed)
	}
	if flg&0x20 != 0 {
		return s.fail(StatusFailed)
	}
	if int(cmf>>4)+8 > 15 {
		return s.fail(StatusFailed)
	}
	if out.ring {
		if declared := uint32(1) << (8 + uint32(cmf>>4)); declared > uint32(len(out.buf)) {
			return s.fail(StatusFailed)
		}
	}
	s.stateLabel = stateBlockHeader
	return 0, true
}

// stepGzipHeader walks the gzip member header (RFC 1952 §2.3): a 10-byte
// fixed header, then whichever of FEXTRA/FNAME/FCOMMENT/FHCRC are flagged.
// None of the variable fields are interpreted beyond skipping them (the
// filename and comment, if present, are never surfaced to the caller).
func (s *State) stepGzipHeader(in *cursor) (Status, bool) {
	for {
		switch s.stateLabel {
		case stateGzipFixedHeader:
			status, suspend := s.stepGzipFixedHeader(in)
			if suspend {
				return status, false
			}
			if s.stateLabel == stateFailed {
				return status, true
			}
			s.stateLabel = stateGzipExtra

		case stateGzipExtra:
			if s.gzipFlag&0x04 != 0 {
				if s.counter == 0 {
					v, ok := s.getBits(16, in)
					if !ok {
						return StatusNeedsMoreInput, false
					}
					s.gzipRemaining = v
					s.counter = 1
				}
				for s.gzipRemaining > 0 {
					if _, ok := s.getBits(8, in); !ok {
						return StatusNeedsMoreInput, false
					}
					s.gzipRemaining--
				}
			}
			s.counter = 0
			s.stateLabel = stateGzipName

		case stateGzipName:
			if s.gzipFlag&0x08 != 0 {
				for {
					v, ok := s.getBits(8, in)
					if !ok {
						return StatusNeedsMoreInput, false
					}
					if v == 0 {
						break
					}
				}
			}
			s.stateLabel = stateGzipComment

		case stateGzipComment:
			if s.gzipFlag&0x10 != 0 {
				for {
					v, ok := s.getBits(8, in)
					if !ok {
						return StatusNeedsMoreInput, false
					}
					if v == 0 {
						break
					}
				}
			}
			s.stateLabel = stateGzipHCRC

		case stateGzipHCRC:
			if s.gzipFlag&0x02 != 0 {
				if _, ok := s.getBits(16, in); !ok {
					return StatusNeedsMoreInput, false
				}
			}
			s.stateLabel = stateBlockHeader
			return 0, true
		}
	}
}

// stepGzipFixedHeader reads and validates the 10 fixed header bytes. It is
// split into three gated reads (32+32+16 bits) because a single getBits
// call is limited to 32 bits; s.counter records how many of the three have
// already landed, so a suspension partway through doesn't re-read fields
// already committed. The returned bool is true only for a genuine
// suspend (insufficient input); a validation failure instead sets
// stateLabel to stateFailed and returns false, letting the caller tell the
// two apart.
func (s *State) stepGzipFixedHeader(in *cursor) (Status, bool) {
	if s.counter < 1 {
		v, ok := s.getBits(32, in)
		if !ok {
			return StatusNeedsMoreInput, true
		}
		id1, id2, cm, flg := byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		if id1 != 0x1f || id2 != 0x8b || cm != 8 {
			status, _ := s.fail(StatusFailed)
			return status, false
		}
		s.gzipFlag = flg
		s.counter = 1
	}
	if s.counter < 2 {
		if _, ok := s.getBits(32, in); !ok { // MTIME: not surfaced to the caller.
			return StatusNeedsMoreInput, true
		}
		s.counter = 2
	}
	if s.counter < 3 {
		if _, ok := s.getBits(16, in); !ok { // XFL, OS: not surfaced to the caller.
			return StatusNeedsMoreInput, true
		}
		s.counter = 3
	}
	s.counter = 0
	return 0, false
}
