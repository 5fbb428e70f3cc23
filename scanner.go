// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package inflate

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/cosnicolaou/inflate/internal/scan"
)

type scannerOpts struct {
	maxMember int
}

// ScannerOption represents an option to NewScanner.
type ScannerOption func(*scannerOpts)

// MaxMemberSize sets the largest a single gzip member is assumed to be
// able to grow to while the scanner is looking for the next member's
// magic number. It should only need changing for pathologically large
// members.
func MaxMemberSize(n int) ScannerOption {
	return func(o *scannerOpts) {
		o.maxMember = n
	}
}

// Scanner splits a stream of one or more concatenated gzip members into
// runs of bytes, each believed to hold exactly one member: from that
// member's own magic number up to (but not including) the next member's
// magic number, or end of stream. It works by peeking ahead for the gzip
// magic number sequence, a byte-aligned analogue of a bit-shifted block
// magic scan.
type Scanner struct {
	rd        io.Reader
	brd       *bufio.Reader
	err       error
	done      bool
	first     bool
	maxMember int
	order     uint64
	member    []byte
}

// NewScanner returns a new Scanner reading from rd.
func NewScanner(rd io.Reader, opts ...ScannerOption) *Scanner {
	o := scannerOpts{
		maxMember: 64 * 1024 * 1024,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Scanner{
		rd:        rd,
		brd:       bufio.NewReaderSize(rd, o.maxMember),
		first:     true,
		maxMember: o.maxMember,
	}
}

// Scan advances the Scanner to the next member, returning false once the
// stream is exhausted or an error occurs (see Err).
func (sc *Scanner) Scan(ctx context.Context) bool {
	if sc.err != nil || sc.done {
		return false
	}
	select {
	case <-ctx.Done():
		sc.err = ctx.Err()
		return false
	default:
	}

	buf, err := sc.brd.Peek(sc.maxMember)
	eof := false
	if err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF && err != bufio.ErrBufferFull {
			sc.err = err
			return false
		}
		eof = err != bufio.ErrBufferFull
	}
	if len(buf) == 0 {
		sc.done = true
		return false
	}

	if sc.first {
		if len(buf) < len(scan.Magic) || buf[0] != scan.Magic[0] || buf[1] != scan.Magic[1] || buf[2] != scan.Magic[2] {
			sc.err = fmt.Errorf("stream does not start with a gzip member")
			return false
		}
		sc.first = false
	}

	next := scan.Find(buf, 1)
	if next == -1 {
		if !eof {
			sc.err = fmt.Errorf("failed to find next gzip member within %v bytes", sc.maxMember)
			return false
		}
		sc.order++
		sc.member = append([]byte(nil), buf...)
		sc.brd.Discard(len(buf))
		sc.done = true
		return true
	}

	sc.order++
	sc.member = append([]byte(nil), buf[:next]...)
	sc.brd.Discard(next)
	return true
}

// Member returns the current candidate member's bytes.
func (sc *Scanner) Member() []byte {
	return sc.member
}

// Order returns the 1-based position of the current member in the stream.
func (sc *Scanner) Order() uint64 {
	return sc.order
}

// Err returns any error encountered by the Scanner.
func (sc *Scanner) Err() error {
	return sc.err
}
