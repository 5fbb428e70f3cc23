// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command inflate decompresses and inspects gzip files, decoding the
// members of a multi-member file concurrently. Inputs and outputs may be
// local files, S3 paths or http(s) URLs.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/errors"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cosnicolaou/inflate"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

// CommonFlags are shared by every command that decompresses data.
type CommonFlags struct {
	Concurrency   int  `subcmd:"concurrency,4,'number of goroutines used for decompression'"`
	MaxMemberSize int  `subcmd:"max-member-size,,'largest size a single gzip member may span while scanning'"`
	Verbose       bool `subcmd:"verbose,false,'enable verbose debug/trace output'"`
}

type unzipFlags struct {
	CommonFlags
	Progress bool   `subcmd:"progress,true,'display a progress bar when writing to a file'"`
	Output   string `subcmd:"output,,'output file or s3 path, stdout if unset'"`
}

type noFlags struct{}

var cmdSet *subcmd.CommandSet

func newCommand(name string, flags interface{}, defaults map[string]interface{}, runner subcmd.Runner, nargs subcmd.CommandOption, doc string) *subcmd.Command {
	cmd := subcmd.NewCommand(name,
		subcmd.MustRegisterFlagStruct(flags, defaults, nil), runner, nargs)
	cmd.Document(doc)
	return cmd
}

func init() {
	defaults := map[string]interface{}{
		"concurrency": runtime.GOMAXPROCS(-1),
	}
	cmdSet = subcmd.NewCommandSet(
		newCommand("cat", &CommonFlags{}, defaults, runCat, subcmd.AtLeastNArguments(0),
			`decompress gzip files, or stdin, to stdout. Files may be local, on S3 or a URL.`),
		newCommand("unzip", &unzipFlags{}, defaults, runUnzip, subcmd.ExactlyNumArguments(1),
			`decompress a single gzip file, possibly made up of several concatenated members.`),
		newCommand("scan", &noFlags{}, nil, scan, subcmd.AtLeastNArguments(1),
			`scan a gzip file's member boundaries using the inflate package's scanner.`),
		newCommand("stats", &noFlags{}, nil, stats, subcmd.AtLeastNArguments(1),
			`decode each member of a gzip file serially and report its block count, size and CRC32, for debugging purposes.`),
	)
	cmdSet.Document(`decompress and inspect gzip files. Files may be local, on S3 or a URL.`)

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

// readerOptions translates the shared command line flags, and an optional
// progress channel, into options for inflate.NewReader.
func readerOptions(cl *CommonFlags, progress chan<- inflate.Progress) []inflate.ReaderOption {
	dcOpts := []inflate.DecompressorOption{
		inflate.Concurrency(cl.Concurrency),
		inflate.Verbose(cl.Verbose),
	}
	if progress != nil {
		dcOpts = append(dcOpts, inflate.SendUpdates(progress))
	}
	opts := []inflate.ReaderOption{inflate.DecompressionOptions(dcOpts...)}
	if cl.MaxMemberSize > 0 {
		opts = append(opts,
			inflate.ScannerOptions(inflate.MaxMemberSize(cl.MaxMemberSize)))
	}
	return opts
}

// source is an opened input: a local/S3 file, or the body of an http(s)
// response. size is -1 when the input's length is unknown up front.
type source struct {
	rd    io.Reader
	size  int64
	close func(context.Context) error
}

func openSource(ctx context.Context, name string) (*source, error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		resp, err := http.Get(name)
		if err != nil {
			return nil, err
		}
		return &source{
			rd:   resp.Body,
			size: resp.ContentLength,
			close: func(context.Context) error {
				return resp.Body.Close()
			},
		}, nil
	}
	info, err := file.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &source{rd: f.Reader(ctx), size: info.Size(), close: f.Close}, nil
}

// createSink opens the decompressed-output destination, which is stdout
// when name is empty.
func createSink(ctx context.Context, name string) (io.Writer, func(context.Context) error, error) {
	if len(name) == 0 {
		return os.Stdout, func(context.Context) error { return nil }, nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Writer(ctx), f.Close, nil
}

// progressDisplay renders a progress bar from the decompressor's ordered
// per-member updates. The bar goes to stdout only when stdout is a
// terminal (the decompressed data is going elsewhere); otherwise stderr.
type progressDisplay struct {
	ch chan inflate.Progress
	wg sync.WaitGroup
}

func newProgressDisplay(ctx context.Context, size int64, concurrency int) *progressDisplay {
	pd := &progressDisplay{ch: make(chan inflate.Progress, concurrency)}
	wr := os.Stderr
	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		wr = os.Stdout
	}
	pd.wg.Add(1)
	go pd.render(ctx, wr, size)
	return pd
}

func (pd *progressDisplay) render(ctx context.Context, wr *os.File, size int64) {
	defer pd.wg.Done()
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetBytes64(size),
		progressbar.OptionSetWriter(wr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	for {
		select {
		case p, ok := <-pd.ch:
			if !ok {
				fmt.Fprintln(wr)
				return
			}
			bar.Add(p.Compressed)
		case <-ctx.Done():
			return
		}
	}
}

// stop must only be called once no further updates can be sent, i.e. after
// the reader has been fully drained.
func (pd *progressDisplay) stop() {
	close(pd.ch)
	pd.wg.Wait()
}

func runCat(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)
	cl := values.(*CommonFlags)
	opts := readerOptions(cl, nil)

	if len(args) == 0 {
		_, err := io.Copy(os.Stdout, inflate.NewReader(ctx, os.Stdin, opts...))
		return err
	}
	errs := &errors.M{}
	for _, name := range args {
		errs.Append(catOne(ctx, name, opts))
	}
	return errs.Err()
}

func catOne(ctx context.Context, name string, opts []inflate.ReaderOption) error {
	src, err := openSource(ctx, name)
	if err != nil {
		return err
	}
	errs := &errors.M{}
	_, err = io.Copy(os.Stdout, inflate.NewReader(ctx, src.rd, opts...))
	errs.Append(err)
	errs.Append(src.close(ctx))
	return errs.Err()
}

func runUnzip(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)
	cl := values.(*unzipFlags)

	src, err := openSource(ctx, args[0])
	if err != nil {
		return err
	}
	sink, sinkClose, err := createSink(ctx, cl.Output)
	if err != nil {
		src.close(ctx)
		return err
	}

	// A bar interleaved with decompressed data would garble both, so the
	// bar is only offered when the data is going to a file.
	var (
		pd         *progressDisplay
		progressCh chan inflate.Progress
	)
	if cl.Progress && len(cl.Output) > 0 {
		pd = newProgressDisplay(ctx, src.size, cl.Concurrency)
		progressCh = pd.ch
	}

	rd := inflate.NewReader(ctx, src.rd,
		readerOptions(&cl.CommonFlags, progressCh)...)

	errs := &errors.M{}
	_, err = io.Copy(sink, rd)
	errs.Append(err)
	errs.Append(sinkClose(ctx))
	errs.Append(src.close(ctx))
	if pd != nil {
		pd.stop()
	}
	return errs.Err()
}
