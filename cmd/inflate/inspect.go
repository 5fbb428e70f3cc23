// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"cloudeng.io/cmdutil"
	"cloudeng.io/errors"
	"github.com/cosnicolaou/inflate"
	"github.com/cosnicolaou/inflate/internal/tinfl"
)

func scanFile(ctx context.Context, name string) error {
	src, err := openSource(ctx, name)
	if err != nil {
		return err
	}
	defer src.close(ctx)
	sc := inflate.NewScanner(src.rd)
	for sc.Scan(ctx) {
		fmt.Printf("%v: member %v: %v bytes\n", name, sc.Order(), len(sc.Member()))
	}
	return sc.Err()
}

func scan(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	cmdutil.HandleSignals(cancel, os.Interrupt)
	errs := errors.M{}
	for _, arg := range args {
		errs.Append(scanFile(ctx, arg))
	}
	return errs.Err()
}

// decodeMemberStats fully decodes a single candidate gzip member purely to
// report its observational Stats; it doesn't reuse the concurrent
// Decompressor since stats gathering here is intentionally serial.
func decodeMemberStats(data []byte) (tinfl.Stats, int, error) {
	st, err := tinfl.New(tinfl.FlagParseGzipHeader)
	if err != nil {
		return tinfl.Stats{}, 0, err
	}
	win, err := tinfl.NewRingWindow(256 * 1024)
	if err != nil {
		return tinfl.Stats{}, 0, err
	}
	size := 0
	consumedTotal := 0
	for {
		status, consumed, _ := st.Decompress(data[consumedTotal:], win, tinfl.FlagParseGzipHeader)
		consumedTotal += consumed
		first, second := win.Drain()
		size += len(first) + len(second)
		switch status {
		case tinfl.StatusDone:
			return st.Stats(), size, nil
		case tinfl.StatusHasMoreOutput:
			continue
		default:
			return tinfl.Stats{}, size, fmt.Errorf("member decode failed: %v", status)
		}
	}
}

func statsFile(ctx context.Context, name string) error {
	src, err := openSource(ctx, name)
	if err != nil {
		return err
	}
	defer src.close(ctx)

	sc := inflate.NewScanner(src.rd)
	fmt.Printf("=== %v ===\n", name)
	fmt.Printf("Member, Blocks, Compressed, Size, CRC32\n")
	for sc.Scan(ctx) {
		stats, size, err := decodeMemberStats(sc.Member())
		if err != nil {
			return fmt.Errorf("%v: member %v: %w", name, sc.Order(), err)
		}
		fmt.Printf("% 12d   : % 8d   : % 12d - % 12d : %#08x\n",
			sc.Order(), stats.BlockCount, len(sc.Member()), size, stats.FinalChecksum)
	}
	return sc.Err()
}

func stats(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	cmdutil.HandleSignals(cancel, os.Interrupt)
	errs := errors.M{}
	for _, arg := range args {
		errs.Append(statsFile(ctx, arg))
	}
	return errs.Err()
}
