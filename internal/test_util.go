// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math/rand"
	"os"
	"time"
)

// Seed for the pseudorandom generator, shared by every caller that wants a
// fixed, reproducible fixture.
const fixedRandSeed = 0x1234

var randSource rand.Source

func init() {
	randSeed := time.Now().UnixNano()
	fmt.Printf("rand seed for GenReproducibleRandomData: %v\n", randSeed)
	randSource = rand.NewSource(randSeed)
}

// GenPredictableRandomData generates random data starting with a fixed
// known seed, so the same bytes are produced across test runs.
func GenPredictableRandomData(size int) []byte {
	gen := rand.New(rand.NewSource(fixedRandSeed))
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(gen.Intn(256))
	}
	return out
}

// GenReproducibleRandomData uses the random # seed printed out by this
// file's init function, so a failure can be reproduced by hand from the
// test log without being pinned to the same bytes on every run.
func GenReproducibleRandomData(size int) []byte {
	gen := rand.New(randSource)
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(gen.Intn(256))
	}
	return out
}

// CreateGzipFile writes data to filename+".gz" as a single gzip member at
// the given compression level.
func CreateGzipFile(filename string, level int, data []byte) error {
	f, err := os.Create(filename + ".gz")
	if err != nil {
		return fmt.Errorf("create %v: %v", filename, err)
	}
	defer f.Close()
	zw, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return fmt.Errorf("gzip.NewWriterLevel: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("write %v: %v", filename, err)
	}
	return zw.Close()
}

// ConcatenatedGzip encodes each of members as its own gzip member and
// concatenates them, as RFC 1952 permits and as a truncated multi-part
// download or `cat a.gz b.gz` would produce.
func ConcatenatedGzip(members ...[]byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, m := range members {
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(m); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// FirstN returns at most the first n bytes of b.
func FirstN(n int, b []byte) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
