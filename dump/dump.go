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

// Package dump copies a set of files to a destination: a directory, the
// void, a network peer that receives pushed streams, or a remote requester
// that pulls ranges.
package dump

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

// DefaultFrameSize is how much a network dump pulls per stream write.
const DefaultFrameSize = 8192

// Location is where a dump goes: File, DevNull, Network or Remote.
type Location interface {
	location()
}

// File writes below Root. Each file is written as "<name>.temp" and
// renamed once complete. Throttle is a pause after every write for slow
// stores; it also drops the engine to ConstrainedBufferSize.
type File struct {
	Root     string
	Throttle time.Duration
}

// DevNull reads everything and discards it, for measuring source speed.
type DevNull struct{}

// StreamOpener opens streams to a receiver, see std.Link.
type StreamOpener interface {
	OpenStream() (io.ReadWriteCloser, error)
}

// Network pushes every file on its own stream, in pull mode: the stream
// writer drives the engine FrameSize bytes at a time.
type Network struct {
	Link      StreamOpener
	FrameSize int
}

// Remote offers the files to a requester over Conn and serves the range
// commands it sends back. With Stream set, ranges of a file must be
// requested in order and are served from a single pull transfer.
type Remote struct {
	Conn   io.ReadWriter
	Stream bool
}

func (File) location()    {}
func (DevNull) location() {}
func (Network) location() {}
func (Remote) location()  {}

type transferNamer interface {
	NewTransfer(name string)
}

// Dumper runs dumps with one engine configuration.
type Dumper struct {
	engine *xfer.Engine
	quiet  bool
}

// New returns a dumper. A nil engine means the default configuration.
func New(e *xfer.Engine, quiet bool) *Dumper {
	if e == nil {
		e = xfer.New(xfer.Config{})
	}
	return &Dumper{engine: e, quiet: quiet}
}

func (d *Dumper) logln(v ...any) {
	if !d.quiet {
		log.Println(v...)
	}
}

func (d *Dumper) announce(p xfer.Progress, name string) {
	if n, ok := p.(transferNamer); ok {
		n.NewTransfer(name)
	}
}

// Dump copies paths from src to loc, one engine transfer per file, and
// stops at the first failure.
func (d *Dumper) Dump(ctx context.Context, p xfer.Progress, src Source, loc Location, paths []string) error {
	if p == nil {
		p = xfer.NopProgress{}
	}
	if r, ok := loc.(Remote); ok {
		return d.serveRemote(ctx, p, src, r, paths)
	}

	for _, path := range paths {
		size, err := src.Size(path)
		if err != nil {
			return err
		}
		name := src.Name(path)
		read := func(b []byte, off int64) (int, error) { return src.Read(path, b, off) }
		d.announce(p, name)

		start := time.Now()
		switch l := loc.(type) {
		case File:
			err = d.toFile(ctx, p, l, name, size, read)
		case DevNull:
			err = d.engine.Transfer(ctx, p, size, read, func([]byte, int64) error { return nil })
		case Network:
			err = d.toNetwork(ctx, p, l, name, size, read)
		default:
			return errors.Errorf("unsupported location %T", loc)
		}
		if err != nil {
			return errors.Wrapf(err, "dump %s", name)
		}
		d.logln("dumped", name, size, "bytes in", time.Since(start))
	}
	return nil
}

func (d *Dumper) toFile(ctx context.Context, p xfer.Progress, l File, name string, size int64, read xfer.ReadFunc) (err error) {
	dst := filepath.Join(l.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}
	temp := dst + ".temp"
	f, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(temp)
		}
	}()

	e := d.engine
	writeAt := std.WriterAtFunc(f)
	write := writeAt
	if l.Throttle > 0 {
		cfg := e.Config()
		cfg.BufferSize = xfer.ConstrainedBufferSize
		e = xfer.New(cfg)
		write = func(b []byte, off int64) error {
			err := writeAt(b, off)
			time.Sleep(l.Throttle)
			return err
		}
	}
	if err := e.Transfer(ctx, p, size, read, write); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(temp, dst))
}

func (d *Dumper) toNetwork(ctx context.Context, p xfer.Progress, l Network, name string, size int64, read xfer.ReadFunc) error {
	stream, err := l.Link.OpenStream()
	if err != nil {
		return err
	}
	defer stream.Close()

	hdr := std.Header{Kind: std.KindFile, Name: name, Size: size}
	if _, err := hdr.WriteTo(stream); err != nil {
		return err
	}

	frame := l.FrameSize
	if frame <= 0 {
		frame = DefaultFrameSize
	}
	start := func(launch xfer.LaunchFunc, pull xfer.PullFunc) error {
		if err := launch(); err != nil {
			return err
		}
		buf := make([]byte, frame)
		for {
			n, err := pull(buf)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := stream.Write(buf[:n]); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	if err := d.engine.TransferPull(ctx, p, size, read, start); err != nil {
		return err
	}
	return std.ReadAck(stream)
}
