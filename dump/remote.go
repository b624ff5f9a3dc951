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

package dump

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

var (
	// ErrUnknownFile is returned when the requester asks for a name that
	// was not offered.
	ErrUnknownFile = errors.New("range for a file not in the list")
	// ErrOutOfOrder is returned in stream mode for a range that does not
	// continue where the previous one ended.
	ErrOutOfOrder = errors.New("range out of order in stream mode")
	// ErrBadRange is returned for a range past the end of its file.
	ErrBadRange = errors.New("range outside the file")
)

type offered struct {
	path string
	size int64
}

// serveRemote sends the file list, then answers range commands until the
// requester sends EXIT.
func (d *Dumper) serveRemote(ctx context.Context, p xfer.Progress, src Source, r Remote, paths []string) error {
	files := make(map[string]offered, len(paths))
	entries := make([]std.ListEntry, 0, len(paths))
	for _, path := range paths {
		size, err := src.Size(path)
		if err != nil {
			return err
		}
		name := src.Name(path)
		files[name] = offered{path: path, size: size}
		entries = append(entries, std.ListEntry{Name: name, Size: size})
	}

	list := std.EncodeList(entries)
	if len(list) > std.MaxListSize {
		return errors.Wrapf(std.ErrListTooLarge, "%d files", len(entries))
	}
	hdr := std.Header{Kind: std.KindList, Size: int64(len(list))}
	if r.Stream {
		hdr.Flags |= std.FlagStream
	}
	if _, err := hdr.WriteTo(r.Conn); err != nil {
		return err
	}
	if _, err := r.Conn.Write(list); err != nil {
		return errors.WithStack(err)
	}

	for {
		if p.ShouldCancel() {
			return xfer.ErrCancelled
		}
		cmd, err := std.ReadCommand(r.Conn)
		if err != nil {
			return err
		}
		if cmd.Cmd == std.CmdExit {
			d.logln("remote: exit")
			return nil
		}
		req, err := std.ReadRange(r.Conn, cmd)
		if err != nil {
			return err
		}
		f, ok := files[req.Name]
		if !ok {
			return errors.Wrapf(ErrUnknownFile, "%q", req.Name)
		}
		if req.Size > f.size || req.Off > f.size-req.Size {
			return errors.Wrapf(ErrBadRange, "%s@%d+%d of %d", req.Name, req.Off, req.Size, f.size)
		}

		read := func(b []byte, off int64) (int, error) { return src.Read(f.path, b, off) }
		d.announce(p, req.Name)
		if r.Stream {
			if req.Off != 0 {
				return errors.Wrapf(ErrOutOfOrder, "%s starts at %d", req.Name, req.Off)
			}
			err = d.streamFile(ctx, p, r.Conn, req, f.size, read)
		} else {
			err = d.serveRange(ctx, p, r.Conn, req, read)
		}
		if err != nil {
			return errors.Wrapf(err, "serve %s", req.Name)
		}
	}
}

func answer(w io.Writer, req std.RangeRequest) error {
	return std.WriteCommand(w, std.Command{Cmd: std.CmdFileRange, DataSize: uint64(req.Size)})
}

// serveRange answers one range with its own push transfer.
func (d *Dumper) serveRange(ctx context.Context, p xfer.Progress, conn io.ReadWriter, req std.RangeRequest, read xfer.ReadFunc) error {
	if err := answer(conn, req); err != nil {
		return err
	}
	shifted := func(b []byte, off int64) (int, error) { return read(b, req.Off+off) }
	return d.engine.Transfer(ctx, p, req.Size, shifted, std.SequentialWriteFunc(conn))
}

// streamFile serves a whole file from one pull transfer. first is the
// range that opened it; the remaining ranges are read from conn as the
// previous one completes.
func (d *Dumper) streamFile(ctx context.Context, p xfer.Progress, conn io.ReadWriter, first std.RangeRequest, size int64, read xfer.ReadFunc) error {
	start := func(launch xfer.LaunchFunc, pull xfer.PullFunc) error {
		if err := launch(); err != nil {
			return err
		}
		buf := make([]byte, DefaultFrameSize)
		req := first
		var sent int64
		for {
			if err := answer(conn, req); err != nil {
				return err
			}
			for left := req.Size; left > 0; {
				chunk := buf
				if int64(len(chunk)) > left {
					chunk = chunk[:left]
				}
				n, err := pull(chunk)
				if err != nil {
					return err
				}
				if _, err := conn.Write(chunk[:n]); err != nil {
					return errors.WithStack(err)
				}
				left -= int64(n)
			}
			if sent += req.Size; sent >= size {
				return nil
			}

			cmd, err := std.ReadCommand(conn)
			if err != nil {
				return err
			}
			if cmd.Cmd != std.CmdFileRange {
				return errors.Wrapf(ErrOutOfOrder, "command %d with %s incomplete", cmd.Cmd, first.Name)
			}
			if req, err = std.ReadRange(conn, cmd); err != nil {
				return err
			}
			if req.Name != first.Name || req.Off != sent || req.Size > size-sent {
				return errors.Wrapf(ErrOutOfOrder, "%s@%d after %s@%d", req.Name, req.Off, first.Name, sent)
			}
		}
	}
	return d.engine.TransferPull(ctx, p, size, read, start)
}
