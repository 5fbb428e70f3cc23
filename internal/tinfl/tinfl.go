// Package tinfl implements a streaming, resumable DEFLATE/zlib/gzip
// decompressor. A State owns no goroutine and blocks on nothing: each call
// to Decompress consumes as much of the supplied input as it can, writes as
// much output as the Window has room for, and returns a status telling the
// caller whether to supply more input, drain more output, or that the
// stream is finished or corrupt. This mirrors miniz's tinfl_decompress in
// spirit: a single flat state machine over a handful of scalar fields,
// rather than a tree of blocking readers.
package tinfl

// Status reports the outcome of a single Decompress call.
type Status int

const (
	StatusDone                     Status = 0
	StatusNeedsMoreInput           Status = 1
	StatusHasMoreOutput            Status = 2
	StatusFailed                   Status = -1
	StatusAdler32Mismatch          Status = -2
	StatusISizeOrCRC32Mismatch     Status = -3
	StatusBadParam                 Status = -4
	StatusFailedCannotMakeProgress Status = -5
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNeedsMoreInput:
		return "needs more input"
	case StatusHasMoreOutput:
		return "has more output"
	case StatusFailed:
		return "failed"
	case StatusAdler32Mismatch:
		return "adler-32 mismatch"
	case StatusISizeOrCRC32Mismatch:
		return "isize or crc-32 mismatch"
	case StatusBadParam:
		return "bad parameter"
	case StatusFailedCannotMakeProgress:
		return "cannot make progress"
	default:
		return "unknown status"
	}
}

// Flags configures a State at construction.
type Flags uint32

const (
	// FlagParseZlibHeader tells Decompress to expect an RFC 1950 zlib
	// wrapper (2-byte header, Adler-32 trailer) around the raw DEFLATE
	// stream. Mutually exclusive with FlagParseGzipHeader.
	FlagParseZlibHeader Flags = 1 << iota
	// FlagParseGzipHeader tells Decompress to expect an RFC 1952 gzip
	// member (10+-byte header, CRC-32+ISIZE trailer). Mutually exclusive
	// with FlagParseZlibHeader.
	FlagParseGzipHeader
	// FlagHasMoreInput tells Decompress that the input slice passed to
	// this call is not the final chunk of the stream, so running out of
	// input mid-symbol is expected (StatusNeedsMoreInput) rather than a
	// sign the stream ended early.
	FlagHasMoreInput
	// FlagUsingNonWrappingOutputBuf tells Decompress the output Window is
	// a flat, caller-sized buffer rather than a ring: back-references are
	// validated against the whole buffer instead of a power-of-two mask.
	FlagUsingNonWrappingOutputBuf
)

// Framing identifies which container, if any, wraps the DEFLATE stream.
type Framing int

const (
	FramingRaw Framing = iota
	FramingZlib
	FramingGzip
)

// StructuralError reports malformed input: a corrupt header, an invalid
// Huffman code table, an out-of-range back-reference, or a checksum
// mismatch discovered while building a table (as opposed to one detected
// directly by Decompress's own trailer check, which is reported as a
// Status instead).
type StructuralError string

func (e StructuralError) Error() string { return "tinfl: " + string(e) }

// Stats carries purely observational counters a caller can inspect after
// Decompress returns; nothing in the decoder's control flow depends on them.
type Stats struct {
	BlockCount    int
	FinalChecksum uint32
}

const (
	tblLitLen = 0
	tblDist   = 1
	tblCL     = 2
)

// Symbol-loop sub-phases (see block.go's stepBlockSymbols).
const (
	symPhaseDecodeLitLen = iota
	symPhaseLengthExtra
	symPhaseDecodeDist
	symPhaseDistExtra
	symPhaseCopy
)

// Top-level state labels. Gzip header parsing gets its own sub-labels
// because it has more internal phases than any other step; zlib's header
// is small enough to read in one shot via stepZlibHeader instead.
const (
	stateStart = iota
	stateGzipFixedHeader
	stateGzipExtra
	stateGzipName
	stateGzipComment
	stateGzipHCRC
	stateBlockHeader
	stateStoredAlign
	stateStoredCopy
	stateDynamicCounts
	stateDynamicCLLengths
	stateDynamicExpand
	stateBlockSymbols
	stateBlockEnd
	stateTrailer
	stateDone
	stateFailed
)

// State is a single decompression session. It is not safe for concurrent
// use; a caller decompressing several streams concurrently (as the
// multi-member gzip reader in the parent package does) uses one State per
// member. The zero value is not ready to use — construct with New.
type State struct {
	flags   Flags
	framing Framing

	stateLabel   int
	failedStatus Status

	// Bit accumulator (bitreader.go). LSB-first, per DEFLATE's packing
	// convention.
	bitBuf  uint64
	numBits uint32

	// Gzip header scratch.
	gzipFlag      byte
	gzipRemaining uint32

	// Shared scratch used by several phases at different times: the
	// gzip header's per-field gate, dynamic block header counters, and
	// the gzip/zlib trailer's "have I read the first half yet" gate.
	counter uint32

	// Dynamic Huffman header scratch (block.go).
	hlit, hdist, hclen uint32
	symTotal           uint32
	codeLengths        [320]uint8
	clLengths          [19]uint8
	prevCL             uint8
	pendingRLE         uint8
	rleFill            uint8
	rleRemaining       uint32

	tables [3]huffmanTable

	// Huffman decode resumption (huffman.go).
	huffInTree bool
	huffNode   int32

	// Block header scratch.
	finalFlag bool
	blockType uint32

	// Stored block scratch.
	storedRemaining uint32

	// Symbol loop scratch (block.go's stepBlockSymbols).
	symPhase      int
	lenSym        uint32
	matchLength   uint32
	distSym       uint32
	matchDistance uint32
	copyRemaining uint32

	adler adler32State
	crc   crc32State

	stats Stats
}

// New constructs a State ready to decompress a stream framed according to
// flags. FlagParseZlibHeader and FlagParseGzipHeader are mutually
// exclusive; neither set means raw DEFLATE.
func New(flags Flags) (*State, error) {
	s := &State{flags: flags}
	switch {
	case flags&FlagParseZlibHeader != 0 && flags&FlagParseGzipHeader != 0:
		return nil, StructuralError("zlib and gzip framing flags are mutually exclusive")
	case flags&FlagParseZlibHeader != 0:
		s.framing = FramingZlib
		s.stateLabel = stateStart
	case flags&FlagParseGzipHeader != 0:
		s.framing = FramingGzip
		s.crc = newCRC32State()
		s.stateLabel = stateStart
	default:
		s.framing = FramingRaw
		s.stateLabel = stateBlockHeader
	}
	s.adler = newAdler32State()
	return s, nil
}

// Stats returns the observational counters accumulated so far.
func (s *State) Stats() Stats { return s.stats }

func (s *State) fail(status Status) (Status, bool) {
	s.stateLabel = stateFailed
	s.failedStatus = status
	return status, true
}

// emitByte writes a single decoded byte to out and folds it into whichever
// checksum the active framing uses.
func (s *State) emitByte(out *Window, b byte) {
	out.putByte(b)
	switch s.framing {
	case FramingZlib:
		s.adler.updateByte(b)
	case FramingGzip:
		s.crc.updateByte(b)
	}
}

// emitMatchByte is emitByte's counterpart for back-reference copies; kept
// distinct so a future optimization (e.g. folding whole matches into the
// checksum without a Go-level byte loop) has a single call site to change.
func (s *State) emitMatchByte(out *Window, b byte) {
	s.emitByte(out, b)
}

// emitBulk writes a whole chunk (the stored-block fast path) and folds it
// into the checksum in one call rather than byte by byte.
func (s *State) emitBulk(out *Window, data []byte) {
	out.write(data)
	switch s.framing {
	case FramingZlib:
		s.adler.update(data)
	case FramingGzip:
		s.crc.update(data)
	}
}

// Decompress consumes as much of input as it can, writing decompressed
// bytes to out, and returns how many input bytes were consumed, how many
// output bytes were written, and a status describing why it stopped.
//
// A caller resumes a suspended stream by calling Decompress again with a
// Window that has been drained (if it's a ring) and with input advanced
// past the returned consumed count — except after StatusNeedsMoreInput,
// where consumed already excludes any bytes read ahead into the bit
// accumulator but not actually needed (see pushBack), so the caller should
// resupply from the same logical position, not discard them.
func (s *State) Decompress(input []byte, out *Window, flags Flags) (status Status, consumed, produced int) {
	if s.stateLabel == stateFailed {
		return s.failedStatus, 0, 0
	}
	if flags&FlagUsingNonWrappingOutputBuf != 0 && out.ring {
		st, _ := s.fail(StatusBadParam)
		return st, 0, 0
	}
	if s.stateLabel == stateDone {
		return StatusDone, 0, 0
	}

	in := &cursor{buf: input}
	outStart := out.total

	finish := func(st Status) (Status, int, int) {
		// An input underflow with no promise of more input to come is a
		// dead end, reported distinctly from the ordinary NeedsMoreInput a
		// caller expects to resolve by supplying another chunk. Either
		// way the read-ahead bytes stay buffered in the accumulator, so
		// no push-back is needed or wanted.
		if st == StatusNeedsMoreInput && flags&FlagHasMoreInput == 0 {
			st = StatusFailedCannotMakeProgress
		}
		if st != StatusNeedsMoreInput && st != StatusFailedCannotMakeProgress {
			s.pushBack(in)
		}
		return st, in.pos, int(out.total - outStart)
	}

	for {
		var st Status
		var advance bool

		switch s.stateLabel {
		case stateStart:
			if s.framing == FramingZlib {
				st, advance = s.stepZlibHeader(in, out)
			} else {
				s.stateLabel = stateGzipFixedHeader
				advance = true
			}
		case stateGzipFixedHeader, stateGzipExtra, stateGzipName, stateGzipComment, stateGzipHCRC:
			st, advance = s.stepGzipHeader(in)
		case stateBlockHeader:
			st, advance = s.stepBlockHeader(in)
		case stateStoredAlign:
			st, advance = s.stepStoredAlign(in)
		case stateStoredCopy:
			st, advance = s.stepStoredCopy(in, out)
		case stateDynamicCounts:
			st, advance = s.stepDynamicCounts(in)
		case stateDynamicCLLengths:
			st, advance = s.stepDynamicCLLengths(in)
		case stateDynamicExpand:
			st, advance = s.stepDynamicExpand(in)
		case stateBlockSymbols:
			st, advance = s.stepBlockSymbols(in, out)
		case stateBlockEnd:
			st, advance = s.stepBlockEnd()
		case stateTrailer:
			st, advance = s.stepTrailer(in, out)
		default:
			return finish(StatusFailed)
		}

		if !advance {
			return finish(st)
		}
		if s.stateLabel == stateFailed {
			return finish(s.failedStatus)
		}
		if s.stateLabel == stateDone {
			return finish(StatusDone)
		}
	}
}
