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
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRead is matched by errors.Is for any failure of the source.
	ErrRead = errors.New("xfer: read failed")
	// ErrWrite is matched by errors.Is for any failure of a push sink.
	ErrWrite = errors.New("xfer: write failed")
	// ErrPull is matched by errors.Is for any failure of a pull consumer.
	ErrPull = errors.New("xfer: pull failed")
	// ErrCancelled is returned when the transfer was cancelled through the
	// context or the progress handle.
	ErrCancelled = errors.New("xfer: cancelled")
	// ErrInvalidArgument rejects a malformed request before anything runs.
	ErrInvalidArgument = errors.New("xfer: invalid argument")
	// ErrNotLaunched is returned by pull() when the consumer has not called
	// launch() yet.
	ErrNotLaunched = errors.New("xfer: pull before launch")

	errShortRead  = errors.New("source made no progress")
	errOverRead   = errors.New("source returned more bytes than requested")
	errUnconsumed = errors.New("consumer returned before draining the transfer")
)

// Stage identifies the pipeline stage that recorded an outcome.
type Stage int

const (
	StageRead Stage = iota
	StageWrite
	StagePull
)

func (s Stage) String() string {
	switch s {
	case StageRead:
		return "read"
	case StageWrite:
		return "write"
	case StagePull:
		return "pull"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) sentinel() error {
	switch s {
	case StageRead:
		return ErrRead
	case StageWrite:
		return ErrWrite
	case StagePull:
		return ErrPull
	}
	return nil
}

// StageError is the terminal outcome of a failed stage. errors.Is matches
// it against the stage sentinel, and Unwrap exposes the callback's error.
type StageError struct {
	Stage Stage
	Off   int64
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("xfer: %v failed at offset %d: %v", e.Stage, e.Off, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == e.Stage.sentinel() }
