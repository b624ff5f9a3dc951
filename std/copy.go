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

package std

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/xfer"
)

var errNonSequential = errors.New("non sequential offset on a stream")

// ReaderAtFunc adapts an io.ReaderAt to a transfer source. The io.EOF that
// ReadAt may return alongside the final bytes is dropped.
func ReaderAtFunc(r io.ReaderAt) xfer.ReadFunc {
	return func(p []byte, off int64) (int, error) {
		n, err := r.ReadAt(p, off)
		if n > 0 && err == io.EOF {
			err = nil
		}
		return n, err
	}
}

// WriterAtFunc adapts an io.WriterAt to a push sink. A short write is an
// error.
func WriterAtFunc(w io.WriterAt) xfer.WriteFunc {
	return func(p []byte, off int64) error {
		n, err := w.WriteAt(p, off)
		if err != nil {
			return err
		}
		if n != len(p) {
			return io.ErrShortWrite
		}
		return nil
	}
}

// sequence checks that offsets arrive back to back.
type sequence struct {
	mu   sync.Mutex
	next int64
}

func (s *sequence) expect(off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off != s.next {
		return errors.Wrapf(errNonSequential, "got %d, want %d", off, s.next)
	}
	return nil
}

func (s *sequence) advance(n int) {
	s.mu.Lock()
	s.next += int64(n)
	s.mu.Unlock()
}

// SequentialReadFunc adapts a stream to a transfer source. The engine reads
// in order, so off only serves as a consistency check. A stream ending
// before the transfer size is io.ErrUnexpectedEOF.
func SequentialReadFunc(r io.Reader) xfer.ReadFunc {
	seq := new(sequence)
	return func(p []byte, off int64) (int, error) {
		if err := seq.expect(off); err != nil {
			return 0, err
		}
		n, err := io.ReadAtLeast(r, p, 1)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if n > 0 {
			seq.advance(n)
			return n, nil
		}
		return 0, err
	}
}

// SequentialWriteFunc adapts a stream to a push sink.
func SequentialWriteFunc(w io.Writer) xfer.WriteFunc {
	seq := new(sequence)
	return func(p []byte, off int64) error {
		if err := seq.expect(off); err != nil {
			return err
		}
		n, err := w.Write(p)
		seq.advance(n)
		if err != nil {
			return err
		}
		if n != len(p) {
			return io.ErrShortWrite
		}
		return nil
	}
}

// Copy transfers size bytes between two random access files. A nil engine
// means the default configuration.
func Copy(ctx context.Context, e *xfer.Engine, p xfer.Progress, dst io.WriterAt, src io.ReaderAt, size int64) error {
	if e == nil {
		e = xfer.New(xfer.Config{})
	}
	return e.Transfer(ctx, p, size, ReaderAtFunc(src), WriterAtFunc(dst))
}

// CopyStream transfers exactly size bytes from src to dst.
func CopyStream(ctx context.Context, e *xfer.Engine, p xfer.Progress, dst io.Writer, src io.Reader, size int64) error {
	if e == nil {
		e = xfer.New(xfer.Config{})
	}
	return e.Transfer(ctx, p, size, SequentialReadFunc(src), SequentialWriteFunc(dst))
}
