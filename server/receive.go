// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

const defaultRangeSize = 4 << 20

var errUnsafeName = errors.New("stream name escapes the target directory")

// receiver stores what dumpers send to dir.
type receiver struct {
	dir       string
	engine    *xfer.Engine
	box       *xfer.Box
	rangeSize int64
	quiet     bool
}

func (r *receiver) logln(v ...any) {
	if !r.quiet {
		log.Println(v...)
	}
}

// handleStream serves one smux stream according to its header.
func (r *receiver) handleStream(ctx context.Context, s io.ReadWriteCloser) {
	defer s.Close()

	hdr, err := std.ReadHeader(s)
	if err != nil {
		log.Println(err)
		return
	}
	r.logln("stream opened", hdr.Kind, hdr.Name, hdr.Size)
	start := time.Now()

	switch hdr.Kind {
	case std.KindFile:
		err = r.receiveFile(ctx, s, hdr.Name, hdr.Size)
		if aerr := std.WriteAck(s, err); aerr != nil && err == nil {
			err = aerr
		}
	case std.KindList:
		err = r.requestList(ctx, s, hdr)
	}
	if err != nil {
		log.Printf("stream %s %q: %+v", hdr.Kind, hdr.Name, err)
		return
	}
	r.logln("stream closed", hdr.Kind, hdr.Name, "in", time.Since(start))
}

// create opens "<dir>/<name>.temp"; commit renames it into place and
// discard removes it.
func (r *receiver) create(name string) (f *os.File, commit func() error, discard func(), err error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, nil, nil, errors.Wrapf(errUnsafeName, "%q", name)
	}
	dst := filepath.Join(r.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, nil, nil, errors.WithStack(err)
	}
	temp := dst + ".temp"
	f, err = os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, nil, errors.WithStack(err)
	}
	commit = func() error {
		if err := f.Close(); err != nil {
			os.Remove(temp)
			return errors.WithStack(err)
		}
		return errors.WithStack(os.Rename(temp, dst))
	}
	discard = func() {
		f.Close()
		os.Remove(temp)
	}
	return f, commit, discard, nil
}

// receiveFile stores exactly size bytes of s as name.
func (r *receiver) receiveFile(ctx context.Context, s io.Reader, name string, size int64) error {
	f, commit, discard, err := r.create(name)
	if err != nil {
		return err
	}
	r.box.NewTransfer(name)
	if err := r.engine.Transfer(ctx, r.box, size, std.SequentialReadFunc(s), std.WriterAtFunc(f)); err != nil {
		discard()
		return err
	}
	return commit()
}

// requestList reads the offered file list and fetches every file in
// ranges of rangeSize, in order, which suits senders in stream mode too.
func (r *receiver) requestList(ctx context.Context, s io.ReadWriter, hdr *std.Header) error {
	if hdr.Size < 0 || hdr.Size > std.MaxListSize {
		return errors.Wrapf(std.ErrListTooLarge, "%d bytes", hdr.Size)
	}
	list := make([]byte, hdr.Size)
	if _, err := io.ReadFull(s, list); err != nil {
		return errors.Wrap(err, "read file list")
	}
	entries, err := std.ParseList(list)
	if err != nil {
		return err
	}
	r.logln("file list:", len(entries), "files, stream mode:", hdr.Flags&std.FlagStream != 0)

	client := std.NewRangeClient(s)
	for _, e := range entries {
		if err := r.fetchFile(ctx, client, e); err != nil {
			return err
		}
	}
	return client.Exit()
}

func (r *receiver) fetchFile(ctx context.Context, client *std.RangeClient, e std.ListEntry) error {
	f, commit, discard, err := r.create(e.Name)
	if err != nil {
		return err
	}
	r.box.NewTransfer(e.Name)

	step := r.rangeSize
	if step <= 0 {
		step = defaultRangeSize
	}
	off := int64(0)
	for {
		size := step
		if off+size > e.Size {
			size = e.Size - off
		}
		req := std.RangeRequest{Name: e.Name, Off: off, Size: size}
		if err := client.Fetch(ctx, r.engine, r.box, req, f); err != nil {
			discard()
			return err
		}
		if off += size; off >= e.Size {
			break
		}
	}
	return commit()
}
