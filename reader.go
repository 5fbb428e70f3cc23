// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package inflate

import (
	"context"
	"io"
	"sync"
)

type pipelineOpts struct {
	decompress []DecompressorOption
	scan       []ScannerOption
}

// ReaderOption represents an option to NewReader.
type ReaderOption func(o *pipelineOpts)

// ScannerOptions passes a ScannerOption to the underlying scanner created by
// NewReader.
func ScannerOptions(opts ...ScannerOption) ReaderOption {
	return func(o *pipelineOpts) {
		o.scan = append(o.scan, opts...)
	}
}

// DecompressionOptions passes a DecompressorOption to the underlying
// decompressor created by NewReader.
func DecompressionOptions(opts ...DecompressorOption) ReaderOption {
	return func(o *pipelineOpts) {
		o.decompress = append(o.decompress, opts...)
	}
}

// memberStream drives a Scanner and Decompressor as a single io.Reader:
// members found by the scanner are fed to the decompressor as fast as it
// can accept them, while Read drains reassembled, in-order output from the
// other end. The feeding goroutine is the only writer of trailing, which
// carries either the scan/submit error that stopped feeding or whatever
// Finish reports once the input is exhausted.
type memberStream struct {
	ctx      context.Context
	dc       *Decompressor
	trailing chan error
	wg       sync.WaitGroup
}

// NewReader returns an io.Reader that uses a Scanner and Decompressor to
// decompress a stream of one or more concatenated gzip members concurrently.
func NewReader(ctx context.Context, rd io.Reader, opts ...ReaderOption) io.Reader {
	var o pipelineOpts
	for _, fn := range opts {
		fn(&o)
	}
	sc := NewScanner(rd, o.scan...)
	ms := &memberStream{
		ctx:      ctx,
		dc:       NewDecompressor(ctx, o.decompress...),
		trailing: make(chan error, 1),
	}
	ms.wg.Add(1)
	go ms.feedAndFinish(sc)
	return ms
}

// feedAndFinish submits every member the scanner finds to the decompressor
// and, once the input is exhausted or submission fails, finishes the
// decompressor and reports the terminal error on trailing. A submit or
// scan failure takes precedence over whatever Finish subsequently reports,
// since Finish is still called to release the pool's workers either way.
func (ms *memberStream) feedAndFinish(sc *Scanner) {
	defer ms.wg.Done()
	defer close(ms.trailing)

	feedErr := ms.submitMembers(sc)
	if feedErr != nil {
		ms.dc.Cancel(feedErr)
		ms.dc.Finish()
		ms.trailing <- feedErr
		return
	}
	ms.trailing <- ms.dc.Finish()
}

// submitMembers hands each candidate member the scanner finds to the
// decompressor, in order, stopping at the first submission or scan error.
func (ms *memberStream) submitMembers(sc *Scanner) error {
	for sc.Scan(ms.ctx) {
		if err := ms.dc.Submit(sc.Member()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// trailingError reports a trailing error without blocking if the feeding
// goroutine has produced one, or if the caller's context has since been
// canceled.
func (ms *memberStream) trailingError() error {
	select {
	case err := <-ms.trailing:
		return err
	case <-ms.ctx.Done():
		return ms.ctx.Err()
	default:
		return nil
	}
}

// Read implements io.Reader over the reassembled member stream.
func (ms *memberStream) Read(buf []byte) (int, error) {
	// Checked up front, since Read below can block indefinitely and a
	// canceled context must unblock it via Cancel rather than waiting on
	// the pipe to notice on its own.
	if err := ms.trailingError(); err != nil {
		ms.dc.Cancel(err)
		ms.wg.Wait()
		return 0, err
	}

	n, err := ms.dc.Read(buf)
	if err == nil {
		return n, nil
	}

	ms.wg.Wait()

	// A trailer error (e.g. a CRC mismatch) discovered only after all
	// decompressed bytes were already streamed out still needs to surface
	// in place of the plain EOF that ends the pipe.
	select {
	case trailerErr := <-ms.trailing:
		if err != io.EOF {
			return n, err
		}
		if trailerErr != nil {
			return n, trailerErr
		}
	default:
	}
	return n, err
}
