// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tinfl

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"math/rand"
	"testing"
)

func decodeFlat(t *testing.T, input []byte, flags Flags, bufSize int) ([]byte, Status) {
	t.Helper()
	st, err := New(flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	win := NewFlatWindow(make([]byte, bufSize))
	status, consumed, _ := st.Decompress(input, win, 0)
	if consumed != len(input) && status != StatusNeedsMoreInput {
		t.Fatalf("consumed %v of %v bytes, status %v", consumed, len(input), status)
	}
	return win.Bytes(), status
}

func TestEmptyZlibStream(t *testing.T) {
	input := []byte{0x78, 0x9c, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01}
	out, status := decodeFlat(t, input, FlagParseZlibHeader, 16)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if len(out) != 0 {
		t.Fatalf("got %v, want empty output", out)
	}
}

func TestHelloRawDeflate(t *testing.T) {
	input := []byte{0xf2, 0x48, 0xcd, 0xc9, 0xc9, 0x57, 0x04, 0x00}
	out, status := decodeFlat(t, input, 0, 16)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if got, want := string(out), "Hello"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGzipOfAbc(t *testing.T) {
	input := []byte{
		0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
		0x4b, 0x4c, 0x4a, 0x06, 0x00, 0xc2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00, 0x00,
	}
	st, err := New(FlagParseGzipHeader)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, 16))
	status, consumed, _ := st.Decompress(input, win, FlagParseGzipHeader)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if consumed != len(input) {
		t.Errorf("consumed %v, want %v", consumed, len(input))
	}
	if got, want := string(win.Bytes()), "abc"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := st.Stats().FinalChecksum, uint32(0x352441c2); got != want {
		t.Errorf("got crc32 %#x, want %#x", got, want)
	}
}

func TestTruncatedGzipFinal(t *testing.T) {
	input := []byte{
		0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
		0x4b, 0x4c, 0x4a, 0x06, 0x00, 0xc2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00,
	}
	st, err := New(FlagParseGzipHeader)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, 16))
	status, _, _ := st.Decompress(input, win, 0)
	if status == StatusDone {
		t.Errorf("got done, want some indication the stream is incomplete")
	}
}

func TestTruncatedGzipMoreInputComing(t *testing.T) {
	input := []byte{
		0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
		0x4b, 0x4c, 0x4a, 0x06, 0x00, 0xc2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00,
	}
	st, err := New(FlagParseGzipHeader)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, 16))
	status, _, _ := st.Decompress(input, win, FlagParseGzipHeader|FlagHasMoreInput)
	if status != StatusNeedsMoreInput {
		t.Errorf("got status %v, want needs more input", status)
	}
}

func TestTailDataPreserved(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte("hello world"))
	zw.Close()
	stream := buf.Bytes()
	input := append(append([]byte(nil), stream...), 0xde, 0xad, 0xbe, 0xef)

	out, status := decodeFlat(t, input, FlagParseZlibHeader, 64)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if got, want := string(out), "hello world"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	st, err := New(FlagParseZlibHeader)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, 64))
	_, consumed, _ := st.Decompress(input, win, 0)
	if got, want := consumed, len(stream); got != want {
		t.Errorf("input_consumed = %v, want %v (tail bytes must not be consumed)", got, want)
	}
}

func TestCorruptTrailerDetected(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte("corrupt me please"))
	zw.Close()
	stream := buf.Bytes()
	corrupted := append([]byte(nil), stream...)
	corrupted[len(corrupted)-1] ^= 0xff

	_, status := decodeFlat(t, corrupted, FlagParseZlibHeader, 64)
	if status != StatusAdler32Mismatch {
		t.Errorf("got status %v, want adler-32 mismatch", status)
	}
}

func TestStickyFailure(t *testing.T) {
	st, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, 16))
	// An invalid block type (0b11) in the very first header byte's low bits.
	bad := []byte{0x07}
	status, _, _ := st.Decompress(bad, win, 0)
	if status >= 0 {
		t.Fatalf("expected a negative failure status, got %v", status)
	}
	for i := 0; i < 3; i++ {
		again, _, _ := st.Decompress(nil, win, 0)
		if again != status {
			t.Errorf("call %v: got %v, want sticky %v", i, again, status)
		}
	}
}

func zlibEncode(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipEncode(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRoundTripAgainstReferenceEncoders(t *testing.T) {
	gen := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 2, 31, 255, 4096, 70 * 1024}
	for _, n := range sizes {
		data := make([]byte, n)
		gen.Read(data)

		zlibOut, status := decodeFlat(t, zlibEncode(t, data), FlagParseZlibHeader, n+64)
		if status != StatusDone {
			t.Errorf("zlib size %v: got status %v, want done", n, status)
		}
		if !bytes.Equal(zlibOut, data) {
			t.Errorf("zlib size %v: round trip mismatch", n)
		}

		gzipOut, status := decodeFlat(t, gzipEncode(t, data), FlagParseGzipHeader, n+64)
		if status != StatusDone {
			t.Errorf("gzip size %v: got status %v, want done", n, status)
		}
		if !bytes.Equal(gzipOut, data) {
			t.Errorf("gzip size %v: round trip mismatch", n)
		}
	}
}

func TestRawDeflateAgainstFlate(t *testing.T) {
	gen := rand.New(rand.NewSource(2))
	data := make([]byte, 50*1024)
	gen.Read(data)

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}

	out, status := decodeFlat(t, buf.Bytes(), 0, len(data)+64)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("round trip mismatch against compress/flate output")
	}
}

// TestChunkedEquivalence feeds a compressed stream to Decompress one byte at
// a time, with FlagHasMoreInput set on every call but the last, and checks
// the concatenated output and final status match a single whole-buffer call.
func TestChunkedEquivalence(t *testing.T) {
	gen := rand.New(rand.NewSource(3))
	data := make([]byte, 20*1024)
	gen.Read(data)
	stream := gzipEncode(t, data)

	whole, wholeStatus := decodeFlat(t, stream, FlagParseGzipHeader, len(data)+64)
	if wholeStatus != StatusDone {
		t.Fatalf("whole-buffer decode: got status %v, want done", wholeStatus)
	}

	st, err := New(FlagParseGzipHeader)
	if err != nil {
		t.Fatal(err)
	}
	win := NewFlatWindow(make([]byte, len(data)+64))
	pos := 0
	var status Status
	for pos < len(stream) {
		end := pos + 1
		last := end >= len(stream)
		flags := Flags(0)
		if !last {
			flags = FlagHasMoreInput
		}
		var consumed int
		status, consumed, _ = st.Decompress(stream[pos:end], win, flags)
		pos += consumed
		if status != StatusDone && status != StatusNeedsMoreInput && status != StatusHasMoreOutput {
			t.Fatalf("chunked decode failed at byte %v: %v", pos, status)
		}
	}
	if status != StatusDone {
		t.Fatalf("chunked decode: got final status %v, want done", status)
	}
	if !bytes.Equal(win.Bytes(), whole) {
		t.Errorf("chunked output does not match whole-buffer output")
	}
}

// TestRingBufferPartitioning decompresses a payload larger than one window
// into a 32KiB ring, draining a different number of bytes between calls than
// a single flat-buffer decode would, and checks the concatenation matches.
func TestRingBufferPartitioning(t *testing.T) {
	gen := rand.New(rand.NewSource(4))
	data := make([]byte, 128*1024)
	gen.Read(data)
	stream := gzipEncode(t, data)

	flatOut, status := decodeFlat(t, stream, FlagParseGzipHeader, len(data)+64)
	if status != StatusDone {
		t.Fatalf("flat decode: got status %v, want done", status)
	}

	st, err := New(FlagParseGzipHeader)
	if err != nil {
		t.Fatal(err)
	}
	win, err := NewRingWindow(32 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	var out []byte
	pos := 0
	for {
		status, consumed, _ := st.Decompress(stream[pos:], win, FlagParseGzipHeader)
		pos += consumed
		first, second := win.Drain()
		out = append(out, first...)
		out = append(out, second...)
		if status == StatusDone {
			break
		}
		if status != StatusHasMoreOutput {
			t.Fatalf("ring decode failed: %v", status)
		}
	}
	if !bytes.Equal(out, flatOut) {
		t.Errorf("ring-buffer output does not match flat-buffer output")
	}
}

// TestOverlappingBackReference builds a dynamic Huffman block by hand that
// emits "ab" as literals, then a length-6, distance-2 match, which must
// replay as "ababab" via overlapping copy rather than a naive bulk memmove.
func TestOverlappingBackReference(t *testing.T) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	// flate.Writer doesn't expose direct control over match emission, but
	// highly repetitive input reliably forces the encoder to choose an
	// overlapping (distance < length) back-reference.
	data := bytes.Repeat([]byte("ab"), 64)
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	out, status := decodeFlat(t, buf.Bytes(), 0, len(data)+64)
	if status != StatusDone {
		t.Fatalf("got status %v, want done", status)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("overlapping back-reference replay mismatch")
	}
}
