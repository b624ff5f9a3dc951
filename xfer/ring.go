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

import "sync"

// ringCapacity must stay a power of two: the indices below are kept modulo
// 2*ringCapacity and the unsigned subtraction in size() relies on that
// modulus dividing 2^64.
const ringCapacity = 2

type chunk struct {
	buf []byte
	off int64
}

// doubleBuffer hands completed chunks from the reader to the writer.
// Indices run over [0, 2*ringCapacity) so that r == w means empty and
// w - r == ringCapacity means full, without a separate counter.
type doubleBuffer struct {
	mu      sync.Mutex
	canPush *sync.Cond
	canPop  *sync.Cond

	slots [ringCapacity]chunk
	r     uint
	w     uint
}

func newDoubleBuffer() *doubleBuffer {
	b := new(doubleBuffer)
	b.canPush = sync.NewCond(&b.mu)
	b.canPop = sync.NewCond(&b.mu)
	return b
}

func (b *doubleBuffer) capacity() int { return ringCapacity }

func (b *doubleBuffer) size() int { return int((b.w - b.r) % (ringCapacity * 2)) }

func (b *doubleBuffer) free() int { return b.capacity() - b.size() }

// Len reports the number of queued chunks.
func (b *doubleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size()
}

// push swaps *buf into the next free slot and hands back whatever buffer the
// slot held before, so allocations are recycled rather than copied. It blocks
// while the ring is full and gives up as soon as abort reports an outcome.
func (b *doubleBuffer) push(buf *[]byte, off int64, abort func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.free() == 0 {
		if err := abort(); err != nil {
			return err
		}
		b.canPush.Wait()
	}
	if err := abort(); err != nil {
		return err
	}

	slot := &b.slots[b.w%ringCapacity]
	slot.off = off
	slot.buf, *buf = *buf, slot.buf
	b.w = (b.w + 1) % (ringCapacity * 2)
	b.canPop.Signal()
	return nil
}

// pop swaps the oldest queued chunk into *buf and returns its offset tag.
func (b *doubleBuffer) pop(buf *[]byte, abort func() error) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size() == 0 {
		if err := abort(); err != nil {
			return 0, err
		}
		b.canPop.Wait()
	}
	if err := abort(); err != nil {
		return 0, err
	}

	slot := &b.slots[b.r%ringCapacity]
	slot.buf, *buf = *buf, slot.buf
	off := slot.off
	b.r = (b.r + 1) % (ringCapacity * 2)
	b.canPush.Signal()
	return off, nil
}

// reset drops every queued chunk.
func (b *doubleBuffer) reset() {
	b.mu.Lock()
	b.r = b.w
	b.canPush.Broadcast()
	b.mu.Unlock()
}

// wake releases every goroutine blocked in push or pop so it can re-check
// its abort condition. Taking the lock first prevents a lost wakeup against
// a waiter that has checked abort but not yet parked.
func (b *doubleBuffer) wake() {
	b.mu.Lock()
	b.canPush.Broadcast()
	b.canPop.Broadcast()
	b.mu.Unlock()
}
