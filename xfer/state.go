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

package xfer

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
)

// state is the coordination object of a single transfer. It is built fresh
// by Engine.Run and dropped once both workers have been joined.
type state struct {
	size    int64
	bufSize int
	logger  *log.Logger
	prog    Progress

	readOff  atomic.Int64
	writeOff atomic.Int64
	pulled   atomic.Int64

	mu       sync.Mutex
	readErr  error
	writeErr error
	pullErr  error
	first    error

	ring *doubleBuffer
	slot *pullSlot

	launched atomic.Bool
	launch   sync.Once
	workers  sync.WaitGroup

	// refill, when set, stages the next chunk on the consumer's goroutine
	// instead of waiting for a writer worker.
	refill func() error
}

func newState(size int64, cfg Config, p Progress) *state {
	return &state{
		size:    size,
		bufSize: cfg.BufferSize,
		logger:  cfg.Logger,
		prog:    p,
		ring:    newDoubleBuffer(),
		slot:    newPullSlot(),
	}
}

func (s *state) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

// set stores err into *slot unless the slot already holds an outcome. The
// first outcome recorded across all slots is what result reports.
func (s *state) set(slot *error, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if *slot == nil {
		*slot = err
	}
	if s.first == nil {
		s.first = err
	}
	s.mu.Unlock()
}

func (s *state) setRead(err error)  { s.set(&s.readErr, err) }
func (s *state) setWrite(err error) { s.set(&s.writeErr, err) }
func (s *state) setPull(err error)  { s.set(&s.pullErr, err) }

// cancel marks every pending slot cancelled. It does not wake anyone, so it
// is safe to call with a ring or slot lock held.
func (s *state) cancel() {
	s.mu.Lock()
	for _, slot := range []*error{&s.readErr, &s.writeErr, &s.pullErr} {
		if *slot == nil {
			*slot = ErrCancelled
		}
	}
	if s.first == nil {
		s.first = ErrCancelled
	}
	s.mu.Unlock()
}

// result returns the first recorded outcome, or nil while the transfer is
// still pending. A cancellation requested through the progress handle is
// folded in here so every loop observes it on its next iteration.
func (s *state) result() error {
	if s.prog.ShouldCancel() {
		s.cancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// abort records cancellation and releases every blocked waiter.
func (s *state) abort() {
	s.cancel()
	s.wakeAll()
}

func (s *state) wakeAll() {
	s.ring.wake()
	s.slot.wake()
}

// readChunk reads the next chunk of the source into *buf and advances the
// read cursor by the number of bytes actually returned.
func (s *state) readChunk(read ReadFunc, buf *[]byte) (int, error) {
	off := s.readOff.Load()
	want := s.size - off
	if want > int64(s.bufSize) {
		want = int64(s.bufSize)
	}
	if int64(cap(*buf)) < want {
		*buf = make([]byte, want)
	}
	*buf = (*buf)[:want]

	n, err := read(*buf, off)
	switch {
	case err != nil:
		return 0, &StageError{Stage: StageRead, Off: off, Err: err}
	case n <= 0:
		return 0, &StageError{Stage: StageRead, Off: off, Err: errShortRead}
	case int64(n) > want:
		return 0, &StageError{Stage: StageRead, Off: off, Err: errOverRead}
	}

	*buf = (*buf)[:n]
	s.readOff.Add(int64(n))
	return n, nil
}

// advance moves the write cursor past a delivered chunk and reports it.
func (s *state) advance(n int) {
	off := s.writeOff.Add(int64(n))
	s.prog.UpdateTransfer(off, s.size)
}

// Pull is the consumer side of pull mode. It returns io.EOF once the whole
// transfer has been consumed.
func (s *state) Pull(p []byte) (int, error) {
	if err := s.result(); err != nil {
		return 0, err
	}
	if !s.launched.Load() {
		return 0, ErrNotLaunched
	}
	if s.pulled.Load() >= s.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.refill != nil && s.slot.pending() == 0 {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}

	n, _, err := s.slot.consume(p, s.result)
	if err != nil {
		return 0, err
	}
	s.pulled.Add(int64(n))
	return n, nil
}
