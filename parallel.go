// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package inflate

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cosnicolaou/inflate/internal/assemble"
	"github.com/cosnicolaou/inflate/internal/tinfl"
)

type decompressorOpts struct {
	verbose     bool
	concurrency int
	progressCh  chan<- Progress
}

// DecompressorOption configures a Decompressor.
type DecompressorOption func(*decompressorOpts)

// Verbose controls verbose logging for decompression.
func Verbose(v bool) DecompressorOption {
	return func(o *decompressorOpts) {
		o.verbose = v
	}
}

// Concurrency sets the degree of concurrency to use, that is, the number
// of goroutines used for decompression.
func Concurrency(n int) DecompressorOption {
	return func(o *decompressorOpts) {
		o.concurrency = n
	}
}

// SendUpdates sets the channel for sending progress updates over.
func SendUpdates(ch chan<- Progress) DecompressorOption {
	return func(o *decompressorOpts) {
		o.progressCh = ch
	}
}

// Progress is used to report the progress of decompression. Each report
// pertains to a correctly ordered, reassembled gzip member.
type Progress struct {
	Duration         time.Duration
	Member           uint64
	CRC              uint32
	Compressed, Size int
}

// Decompressor represents a concurrent decompressor for streams of one or
// more concatenated gzip members. It is designed to work in conjunction
// with Scanner: each member the scanner finds is submitted via Submit,
// decompressed independently, and the results are streamed back out, in
// the original order, via Read.
type Decompressor struct {
	pool *assemble.Pool

	// Internal progress channel bridging assemble.Progress to the caller's
	// Progress channel; closed by Finish once the pool's assembly goroutine
	// can no longer send on it. The caller's own channel is never closed
	// here - it belongs to the caller.
	progressFwd chan assemble.Progress
	fwdWg       sync.WaitGroup
}

// NewDecompressor creates a new parallel decompressor.
func NewDecompressor(ctx context.Context, opts ...DecompressorOption) *Decompressor {
	o := decompressorOpts{
		concurrency: runtime.GOMAXPROCS(-1),
	}
	for _, fn := range opts {
		fn(&o)
	}
	dc := &Decompressor{}
	poolOpts := []assemble.Option{assemble.WithVerbose(o.verbose)}
	if o.progressCh != nil {
		dc.progressFwd = make(chan assemble.Progress, cap(o.progressCh))
		poolOpts = append(poolOpts, assemble.WithProgress(dc.progressFwd))
		dc.fwdWg.Add(1)
		go func() {
			defer dc.fwdWg.Done()
			for p := range dc.progressFwd {
				select {
				case o.progressCh <- Progress{
					Duration:   p.Duration,
					Member:     p.Order,
					CRC:        p.CRC,
					Compressed: p.Compressed,
					Size:       p.Size,
				}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	dc.pool = assemble.NewPool(ctx, o.concurrency, decodeMember, mergeMembers, poolOpts...)
	return dc
}

// Submit enqueues one candidate gzip member, as returned by Scanner.Member,
// for decompression.
func (dc *Decompressor) Submit(data []byte) error {
	return dc.pool.Submit(data)
}

// Cancel can be called to unblock any readers that are reading from this
// decompressor and/or the Finish method.
func (dc *Decompressor) Cancel(err error) {
	dc.pool.Cancel(err)
}

// Finish must be called to wait for all of the currently outstanding
// decompression work to finish and its output to be reassembled. It
// should be called exactly once.
func (dc *Decompressor) Finish() error {
	err := dc.pool.Finish()
	if dc.progressFwd != nil {
		close(dc.progressFwd)
		dc.fwdWg.Wait()
	}
	return err
}

// Read implements io.Reader on the decompressed stream.
func (dc *Decompressor) Read(buf []byte) (int, error) {
	return dc.pool.Read(buf)
}

// decodeMember fully decompresses one gzip member's compressed bytes,
// growing its output buffer as needed, since a member's decompressed size
// is not known in advance.
func decodeMember(m assemble.Member) assemble.Result {
	start := time.Now()
	data, crc, err := decodeGzipMember(m.Data)
	return assemble.Result{
		Member:   m,
		Data:     data,
		CRC:      crc,
		Err:      err,
		Duration: time.Since(start),
	}
}

// decodeRingSize is the ring window a member is decoded into. A member's
// decompressed size is not known in advance, so output is drained from the
// ring and appended to an ordinary growable slice each time the ring fills,
// rather than sizing a flat buffer up front.
const decodeRingSize = 256 * 1024

func decodeGzipMember(compressed []byte) (data []byte, crc uint32, err error) {
	st, nerr := tinfl.New(tinfl.FlagParseGzipHeader)
	if nerr != nil {
		return nil, 0, nerr
	}
	window, nerr := tinfl.NewRingWindow(decodeRingSize)
	if nerr != nil {
		return nil, 0, nerr
	}

	var out []byte
	consumedTotal := 0
	for {
		status, consumed, _ := st.Decompress(compressed[consumedTotal:], window, tinfl.FlagParseGzipHeader)
		consumedTotal += consumed
		first, second := window.Drain()
		out = append(out, first...)
		out = append(out, second...)

		switch status {
		case tinfl.StatusDone:
			return out, st.Stats().FinalChecksum, nil
		case tinfl.StatusHasMoreOutput:
			continue
		case tinfl.StatusNeedsMoreInput, tinfl.StatusFailedCannotMakeProgress:
			return out, 0, fmt.Errorf("truncated or corrupt gzip member: %v", status)
		default:
			return out, 0, fmt.Errorf("gzip member decode failed: %v", status)
		}
	}
}

// mergeMembers concatenates two consecutive candidate members' raw bytes,
// for retrying a decode that failed because a false-positive magic-number
// match inside the first member's compressed payload was mistaken for the
// start of a new member.
func mergeMembers(a, b assemble.Member) assemble.Member {
	merged := make([]byte, 0, len(a.Data)+len(b.Data))
	merged = append(merged, a.Data...)
	merged = append(merged, b.Data...)
	return assemble.Member{Order: a.Order, Data: merged}
}
