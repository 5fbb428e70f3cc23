// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package assemble_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cosnicolaou/inflate/internal/assemble"
)

// upperDecode is a DecodeFunc for tests: it "decodes" a member by
// upper-casing its bytes, the way a real decoder would decompress them.
func upperDecode(m assemble.Member) assemble.Result {
	return assemble.Result{
		Member: m,
		Data:   bytes.ToUpper(m.Data),
		CRC:    uint32(len(m.Data)),
	}
}

func concatMerge(a, b assemble.Member) assemble.Member {
	merged := make([]byte, 0, len(a.Data)+len(b.Data))
	merged = append(merged, a.Data...)
	merged = append(merged, b.Data...)
	return assemble.Member{Order: a.Order, Data: merged}
}

func readAll(t *testing.T, p *assemble.Pool) []byte {
	t.Helper()
	got, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return got
}

func TestPoolOrdering(t *testing.T) {
	for _, concurrency := range []int{1, 2, 4, 8} {
		ctx := context.Background()
		p := assemble.NewPool(ctx, concurrency, upperDecode, concatMerge)
		members := []string{"one ", "two ", "three ", "four ", "five "}
		done := make(chan []byte, 1)
		go func() { done <- readAll(t, p) }()
		for _, m := range members {
			if err := p.Submit([]byte(m)); err != nil {
				t.Fatalf("concurrency %v: Submit: %v", concurrency, err)
			}
		}
		if err := p.Finish(); err != nil {
			t.Fatalf("concurrency %v: Finish: %v", concurrency, err)
		}
		got := <-done
		want := strings.ToUpper(strings.Join(members, ""))
		if string(got) != want {
			t.Errorf("concurrency %v: got %q, want %q", concurrency, got, want)
		}
	}
}

func TestPoolProgress(t *testing.T) {
	ctx := context.Background()
	progressCh := make(chan assemble.Progress, 8)
	p := assemble.NewPool(ctx, 4, upperDecode, concatMerge, assemble.WithProgress(progressCh))

	members := []string{"a", "b", "c", "d", "e", "f"}
	for _, m := range members {
		if err := p.Submit([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}

	var seen []uint64
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for pr := range progressCh {
			seen = append(seen, pr.Order)
		}
	}()

	readDone := make(chan []byte, 1)
	go func() { readDone <- readAll(t, p) }()

	if err := p.Finish(); err != nil {
		t.Fatal(err)
	}
	close(progressCh)
	<-progressDone
	<-readDone

	for i, order := range seen {
		if order != uint64(i+1) {
			t.Errorf("progress out of order: %v", seen)
			break
		}
	}
	if len(seen) != len(members) {
		t.Errorf("got %v progress reports, want %v", len(seen), len(members))
	}
}

// decodeOddFails simulates a magic-number scan that split a real member in
// the wrong place: a lone "!" can never be a complete member by itself, so
// it only decodes successfully once merged with the member that follows it.
func decodeOddFails(m assemble.Member) assemble.Result {
	if len(m.Data) == 1 && m.Data[0] == '!' {
		return assemble.Result{Member: m, Err: fmt.Errorf("bad member %v", m.Order)}
	}
	return upperDecode(m)
}

func TestPoolMergeOnFailure(t *testing.T) {
	ctx := context.Background()
	p := assemble.NewPool(ctx, 2, decodeOddFails, concatMerge)

	done := make(chan []byte, 1)
	go func() { done <- readAll(t, p) }()
	for _, m := range []string{"!", "abcd", "ef"} {
		if err := p.Submit([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Finish(); err != nil {
		t.Fatal(err)
	}
	got := <-done
	want := "!ABCDEF"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPoolNoMergeFuncPropagatesError(t *testing.T) {
	ctx := context.Background()
	p := assemble.NewPool(ctx, 2, decodeOddFails, nil)
	for _, m := range []string{"!", "ok"} {
		if err := p.Submit([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	_, err := io.ReadAll(p)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	p.Finish()
}

func TestPoolCancel(t *testing.T) {
	ctx := context.Background()
	blockCh := make(chan struct{})
	block := func(m assemble.Member) assemble.Result {
		<-blockCh
		return upperDecode(m)
	}
	p := assemble.NewPool(ctx, 1, block, nil)
	if err := p.Submit([]byte("slow")); err != nil {
		t.Fatal(err)
	}
	wantErr := errors.New("canceled by test")
	p.Cancel(wantErr)
	_, err := io.ReadAll(p)
	if err == nil || !strings.Contains(err.Error(), wantErr.Error()) {
		t.Errorf("got %v, want an error containing %q", err, wantErr)
	}
	close(blockCh)
	p.Finish()
}

func TestPoolContextCancelation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	before := atomic.LoadInt64(&assemble.NumWorkerGoroutines)

	blockCh := make(chan struct{})
	block := func(m assemble.Member) assemble.Result {
		<-blockCh
		return upperDecode(m)
	}
	p := assemble.NewPool(ctx, 2, block, nil)
	if err := p.Submit([]byte("one")); err != nil {
		t.Fatal(err)
	}

	cancel()
	_, err := io.ReadAll(p)
	if err == nil {
		t.Errorf("expected a context-cancelation error, got nil")
	}
	close(blockCh)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&assemble.NumWorkerGoroutines) != before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got, want := atomic.LoadInt64(&assemble.NumWorkerGoroutines), before; got != want {
		t.Errorf("goroutine leak after context cancelation: %v %v", got, want)
	}
}
