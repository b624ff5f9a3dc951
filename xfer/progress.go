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
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Progress is the caller-facing handle polled by the engine. ShouldCancel is
// checked by both workers on every iteration; UpdateTransfer is called after
// each chunk reaches the sink.
type Progress interface {
	ShouldCancel() bool
	UpdateTransfer(offset, size int64)
	Yield()
}

// NopProgress never cancels and discards updates.
type NopProgress struct{}

func (NopProgress) ShouldCancel() bool               { return false }
func (NopProgress) UpdateTransfer(offset, size int64) {}
func (NopProgress) Yield()                           {}

// Snapshot is a consistent view of a Box.
type Snapshot struct {
	Name   string
	Offset int64
	Size   int64
	Speed  float64 // bytes per second over the last sampling window
}

// Box is a thread safe Progress that tracks the current transfer name,
// position and throughput, and carries the cancellation flag for every
// transfer that reports into it.
type Box struct {
	mu       sync.Mutex
	name     string
	offset   int64
	size     int64
	speed    float64
	lastOff  int64
	lastTime time.Time
	onUpdate func(Snapshot)

	cancelled atomic.Bool
}

// NewBox creates a Box. onUpdate, if not nil, is called with a fresh snapshot
// on every NewTransfer and UpdateTransfer.
func NewBox(onUpdate func(Snapshot)) *Box {
	return &Box{onUpdate: onUpdate, lastTime: time.Now()}
}

// NewTransfer starts tracking a new named transfer and resets the counters.
func (b *Box) NewTransfer(name string) {
	b.mu.Lock()
	b.name = name
	b.offset, b.size = 0, 0
	b.lastOff, b.lastTime = 0, time.Now()
	b.speed = 0
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

func (b *Box) UpdateTransfer(offset, size int64) {
	b.mu.Lock()
	b.offset, b.size = offset, size
	if elapsed := time.Since(b.lastTime); elapsed >= time.Second {
		b.speed = float64(offset-b.lastOff) / elapsed.Seconds()
		b.lastOff, b.lastTime = offset, time.Now()
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

// Cancel requests cooperative cancellation of every transfer using b.
func (b *Box) Cancel() { b.cancelled.Store(true) }

func (b *Box) ShouldCancel() bool { return b.cancelled.Load() }

func (b *Box) Yield() { runtime.Gosched() }

func (b *Box) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Box) snapshotLocked() Snapshot {
	return Snapshot{Name: b.name, Offset: b.offset, Size: b.size, Speed: b.speed}
}

func (b *Box) notify(s Snapshot) {
	if b.onUpdate != nil {
		b.onUpdate(s)
	}
}
