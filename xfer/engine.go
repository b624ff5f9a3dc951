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

// Package xfer moves a byte range from a source to a sink through a bounded
// double buffer, with a reader and a writer running concurrently.
package xfer

import (
	"context"
	"log"
	"runtime"
	"time"

	"github.com/pkg/errors"
)

const (
	// NormalBufferSize is the default chunk size.
	NormalBufferSize = 4 << 20
	// ConstrainedBufferSize suits stores that cannot take large writes
	// quickly, so the reader does not run far ahead of them.
	ConstrainedBufferSize = 1 << 20

	defaultPollInterval = time.Millisecond
)

type (
	// ReadFunc fills p with the source bytes starting at off and returns
	// how many were read. It must return at least one byte and never more
	// than len(p).
	ReadFunc func(p []byte, off int64) (int, error)

	// WriteFunc consumes all of p, which belongs at off in the destination.
	WriteFunc func(p []byte, off int64) error

	// PullFunc copies up to len(p) transferred bytes into p. It returns
	// io.EOF once the whole transfer has been consumed.
	PullFunc func(p []byte) (int, error)

	// LaunchFunc starts the transfer in pull mode. Calls after the first
	// have no effect.
	LaunchFunc func() error

	// StartFunc is the consumer of a pull mode transfer. It is invoked on
	// the caller's goroutine and should launch, then pull until done.
	StartFunc func(launch LaunchFunc, pull PullFunc) error
)

// Sink is where transferred bytes go: either Push or Pull.
type Sink interface {
	sink()
}

// Push delivers every chunk to Write.
type Push struct {
	Write WriteFunc
}

// Pull hands control to an external consumer which pulls the bytes.
type Pull struct {
	Start StartFunc
}

func (Push) sink() {}
func (Pull) sink() {}

// Mode selects the threading strategy of a transfer.
type Mode int

const (
	MultiThreaded Mode = iota
	SingleThreaded
	SingleThreadedIfSmaller
)

func (m Mode) String() string {
	switch m {
	case MultiThreaded:
		return "multi"
	case SingleThreaded:
		return "single"
	case SingleThreadedIfSmaller:
		return "auto"
	}
	return "unknown"
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "multi", "":
		return MultiThreaded, nil
	case "single":
		return SingleThreaded, nil
	case "auto":
		return SingleThreadedIfSmaller, nil
	}
	return 0, errors.Errorf("unknown transfer mode %q", s)
}

// Config tunes an Engine. The zero value is usable.
type Config struct {
	BufferSize   int           // chunk size, NormalBufferSize if zero
	Mode         Mode          // threading strategy
	Threshold    int64         // SingleThreadedIfSmaller cut-off, BufferSize if zero
	Affinity     bool          // pin reader and writer to alternating CPUs
	CPU          int           // CPU of the writer when Affinity is set
	PollInterval time.Duration // cancellation poll period of the caller
	Logger       *log.Logger   // nil is silent
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = NormalBufferSize
	}
	if c.Threshold <= 0 {
		c.Threshold = int64(c.BufferSize)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CPU < 0 {
		c.CPU = 0
	}
	return c
}

// singleThreaded resolves the mode for one transfer of size bytes.
func (c Config) singleThreaded(size int64) bool {
	switch c.Mode {
	case SingleThreaded:
		return true
	case SingleThreadedIfSmaller:
		return size <= c.Threshold
	}
	return false
}

func alternateCPU(cpu int) int {
	n := runtime.NumCPU()
	if n <= 1 {
		return cpu
	}
	return (cpu + 1) % n
}

// Engine runs transfers with a fixed Config. It holds no per-transfer state
// and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an engine with cfg's zero fields replaced by defaults.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Transfer pushes size bytes from read into write.
func (e *Engine) Transfer(ctx context.Context, p Progress, size int64, read ReadFunc, write WriteFunc) error {
	return e.Run(ctx, p, size, read, Push{Write: write})
}

// TransferPull lets start pull size bytes produced by read.
func (e *Engine) TransferPull(ctx context.Context, p Progress, size int64, read ReadFunc, start StartFunc) error {
	return e.Run(ctx, p, size, read, Pull{Start: start})
}

// Run moves size bytes from read into sink and returns the first failure or
// cancellation observed, or nil when every byte was delivered. It returns
// only after every goroutine it started has exited.
func (e *Engine) Run(ctx context.Context, p Progress, size int64, read ReadFunc, sink Sink) error {
	_, err := e.run(ctx, p, size, read, sink)
	return err
}

func validate(size int64, read ReadFunc, sink Sink) error {
	if size < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative size %d", size)
	}
	if read == nil {
		return errors.Wrap(ErrInvalidArgument, "nil read func")
	}
	switch s := sink.(type) {
	case Push:
		if s.Write == nil {
			return errors.Wrap(ErrInvalidArgument, "nil write func")
		}
	case Pull:
		if s.Start == nil {
			return errors.Wrap(ErrInvalidArgument, "nil start func")
		}
	case nil:
		return errors.Wrap(ErrInvalidArgument, "nil sink")
	default:
		return errors.Wrapf(ErrInvalidArgument, "unsupported sink %T", sink)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, p Progress, size int64, read ReadFunc, sink Sink) (*state, error) {
	if err := validate(size, read, sink); err != nil {
		return nil, err
	}
	if p == nil {
		p = NopProgress{}
	}

	st := newState(size, e.cfg, p)
	if ctx.Err() != nil {
		st.cancel()
		return st, st.result()
	}
	stop := context.AfterFunc(ctx, st.abort)
	defer stop()

	single := e.cfg.singleThreaded(size)
	st.logf("xfer: start size=%d buf=%d single=%v", size, e.cfg.BufferSize, single)

	var err error
	switch s := sink.(type) {
	case Push:
		if single {
			err = st.runSinglePush(read, s.Write)
		} else {
			err = st.runPush(read, s.Write, e.cfg)
		}
	case Pull:
		if single {
			err = st.runSinglePull(read, s.Start)
		} else {
			err = st.runPull(read, s.Start, e.cfg)
		}
	}
	if err != nil {
		st.logf("xfer: stopped at read=%d write=%d: %v", st.readOff.Load(), st.writeOff.Load(), err)
	}
	return st, err
}

// runPush starts both workers and polls for cancellation on the calling
// goroutine until they have exited.
func (s *state) runPush(read ReadFunc, write WriteFunc, cfg Config) error {
	s.startWorkers(read, s.pushDeliver(write), cfg)

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	s.monitor(done, cfg.PollInterval)
	return s.result()
}

// runPull hands control to start while a monitor goroutine polls for
// cancellation. Workers run only once start calls launch.
func (s *state) runPull(read ReadFunc, start StartFunc, cfg Config) error {
	launch := func() error {
		if err := s.result(); err != nil {
			return err
		}
		s.startWorkers(read, s.pullDeliver(), cfg)
		return nil
	}

	done := make(chan struct{})
	go s.monitor(done, cfg.PollInterval)
	s.finishPull(start(launch, s.Pull))
	close(done)
	s.workers.Wait()
	return s.result()
}

// finishPull records how the consumer returned and releases the workers
// if it gave up early.
func (s *state) finishPull(err error) {
	if err != nil {
		s.setPull(&StageError{Stage: StagePull, Off: s.pulled.Load(), Err: err})
	} else if s.pulled.Load() < s.size {
		s.setPull(&StageError{Stage: StagePull, Off: s.pulled.Load(), Err: errUnconsumed})
	}
	s.wakeAll()
}

// monitor wakes every blocked worker as soon as an outcome is recorded,
// including a cancellation requested through the progress handle.
func (s *state) monitor(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.result() != nil {
				s.wakeAll()
			}
		}
	}
}

// Transfer pushes size bytes from read into write with a default engine.
func Transfer(ctx context.Context, p Progress, size int64, read ReadFunc, write WriteFunc) error {
	return New(Config{}).Transfer(ctx, p, size, read, write)
}

// TransferPull lets start pull size bytes from read with a default engine.
func TransferPull(ctx context.Context, p Progress, size int64, read ReadFunc, start StartFunc) error {
	return New(Config{}).TransferPull(ctx, p, size, read, start)
}
