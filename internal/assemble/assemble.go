// Package assemble runs a fixed pool of workers over a stream of candidate
// gzip members, decoding each concurrently and then re-serializing their
// output in submission order: a worker pool, a container/heap reassembly
// buffer, and io.Pipe streaming, merging two units when a decode fails in
// case a member boundary was a false-positive magic match.
package assemble

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// NumWorkerGoroutines reports how many decode worker goroutines are
// currently running across all Pools in this process, for tests that want
// to confirm goroutines are not leaked.
var NumWorkerGoroutines int64

// Member is one candidate gzip member: Data is believed to run from a
// magic-number match up to the next one (or end of input). Order fixes its
// position in the original stream so results can be reassembled regardless
// of which worker finishes first.
type Member struct {
	Order uint64
	Data  []byte
}

// Result is what a DecodeFunc produces for a Member.
type Result struct {
	Member   Member
	Data     []byte
	CRC      uint32
	Err      error
	Duration time.Duration
}

// DecodeFunc decompresses one candidate member.
type DecodeFunc func(Member) Result

// MergeFunc combines two consecutive members into one, for retrying a
// member whose decode failed because a false-positive magic match inside
// an earlier member's compressed data split it in the wrong place.
type MergeFunc func(a, b Member) Member

// Progress reports one correctly ordered, successfully reassembled member.
type Progress struct {
	Order      uint64
	CRC        uint32
	Compressed int
	Size       int
	Duration   time.Duration
}

// Pool decodes a stream of Members concurrently and exposes their
// decompressed, order-restored concatenation via Read.
type Pool struct {
	ctx        context.Context
	decode     DecodeFunc
	merge      MergeFunc
	verbose    bool
	progressCh chan<- Progress

	order  uint64
	workCh chan Member
	doneCh chan Result
	workWg sync.WaitGroup
	doneWg sync.WaitGroup

	prd *io.PipeReader
	pwr *io.PipeWriter

	resultHeap *resultHeap
}

// Option configures a Pool.
type Option func(*Pool)

// WithVerbose enables trace logging of worker and assembly activity.
func WithVerbose(v bool) Option {
	return func(p *Pool) { p.verbose = v }
}

// WithProgress sets the channel progress reports are sent to; optional.
func WithProgress(ch chan<- Progress) Option {
	return func(p *Pool) { p.progressCh = ch }
}

// NewPool starts concurrency decode workers and an assembly goroutine.
// decode is called once per submitted Member, possibly concurrently;
// merge, if non-nil, is used to retry two consecutive members as one when
// the first's decode fails.
func NewPool(ctx context.Context, concurrency int, decode DecodeFunc, merge MergeFunc, opts ...Option) *Pool {
	p := &Pool{
		ctx:        ctx,
		decode:     decode,
		merge:      merge,
		workCh:     make(chan Member, concurrency),
		doneCh:     make(chan Result, concurrency),
		resultHeap: &resultHeap{},
	}
	for _, fn := range opts {
		fn(p)
	}
	p.prd, p.pwr = io.Pipe()
	heap.Init(p.resultHeap)

	p.workWg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			atomic.AddInt64(&NumWorkerGoroutines, 1)
			p.worker()
			atomic.AddInt64(&NumWorkerGoroutines, -1)
			p.workWg.Done()
		}()
	}
	p.doneWg.Add(1)
	go func() {
		atomic.AddInt64(&NumWorkerGoroutines, 1)
		p.assemble()
		atomic.AddInt64(&NumWorkerGoroutines, -1)
		p.doneWg.Done()
	}()
	return p
}

func (p *Pool) trace(format string, args ...interface{}) {
	if p.verbose {
		log.Printf(format, args...)
	}
}

func (p *Pool) worker() {
	for {
		select {
		case m, ok := <-p.workCh:
			if !ok {
				return
			}
			p.trace("assemble: decoding %v bytes at order %v", len(m.Data), m.Order)
			result := p.decode(m)
			select {
			case p.doneCh <- result:
			case <-p.ctx.Done():
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Submit enqueues a candidate member for decoding.
func (p *Pool) Submit(data []byte) error {
	order := atomic.AddUint64(&p.order, 1)
	select {
	case p.workCh <- Member{Order: order, Data: data}:
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
	return nil
}

// Cancel unblocks any reader currently blocked in Read.
func (p *Pool) Cancel(err error) {
	p.pwr.CloseWithError(err)
}

// Finish must be called exactly once, after all Submit calls are done, to
// wait for every worker and the assembly goroutine to finish. It does so
// even when the context has been canceled, so that no pool goroutine
// outlives it either way.
func (p *Pool) Finish() error {
	var err error
	select {
	case <-p.ctx.Done():
		err = p.ctx.Err()
	default:
	}
	close(p.workCh)
	p.workWg.Wait()
	close(p.doneCh)
	p.doneWg.Wait()
	return err
}

// Read implements io.Reader over the reassembled, in-order output.
func (p *Pool) Read(buf []byte) (int, error) {
	return p.prd.Read(buf)
}

type resultHeap []Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Member.Order < h[j].Member.Order }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// tryMerge attempts to combine min (whose decode failed) with the member
// immediately following it in submission order, in the hope that a
// false-positive magic match inside min's payload split one real member
// into two. It blocks, pulling further results off ch, until that next
// member arrives.
func (p *Pool) tryMerge(ch <-chan Result, min Result) (Result, bool) {
	if p.merge == nil {
		return Result{}, false
	}
	for {
		if len(*p.resultHeap) > 0 && (*p.resultHeap)[0].Member.Order == min.Member.Order+1 {
			break
		}
		select {
		case r, ok := <-ch:
			if !ok {
				return Result{}, false
			}
			heap.Push(p.resultHeap, r)
		case <-p.ctx.Done():
			p.pwr.CloseWithError(p.ctx.Err())
			return Result{}, false
		}
	}
	next := heap.Pop(p.resultHeap).(Result)
	merged := p.merge(min.Member, next.Member)
	result := p.decode(merged)
	if result.Err != nil {
		return Result{}, false
	}
	return result, true
}

func (p *Pool) assemble() {
	defer p.pwr.Close()
	expected := uint64(1)
	for {
		select {
		case result, ok := <-p.doneCh:
			if !ok {
				return
			}
			heap.Push(p.resultHeap, result)
			for len(*p.resultHeap) > 0 {
				min := (*p.resultHeap)[0]
				if min.Member.Order != expected {
					break
				}
				heap.Remove(p.resultHeap, 0)
				expected++
				if min.Err != nil {
					merged, ok := p.tryMerge(p.doneCh, min)
					if !ok {
						p.pwr.CloseWithError(fmt.Errorf("assemble: member %v: %w", min.Member.Order, min.Err))
						return
					}
					min = merged
					expected++
				}
				if _, err := p.pwr.Write(min.Data); err != nil {
					p.pwr.CloseWithError(err)
					return
				}
				if p.progressCh != nil {
					select {
					case p.progressCh <- Progress{
						Order:      min.Member.Order,
						CRC:        min.CRC,
						Compressed: len(min.Member.Data),
						Size:       len(min.Data),
						Duration:   min.Duration,
					}:
					case <-p.ctx.Done():
					}
				}
			}
		case <-p.ctx.Done():
			p.pwr.CloseWithError(p.ctx.Err())
			return
		}
	}
}
