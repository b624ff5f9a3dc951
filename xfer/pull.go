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

// pullSlot is a single-buffer mailbox between the writer worker and an
// external consumer that asks for arbitrarily sized pieces. The consumer may
// drain one published buffer over many calls.
type pullSlot struct {
	mu         sync.Mutex
	canConsume *sync.Cond
	canPublish *sync.Cond

	buf []byte
	off int
}

func newPullSlot() *pullSlot {
	s := new(pullSlot)
	s.canConsume = sync.NewCond(&s.mu)
	s.canPublish = sync.NewCond(&s.mu)
	return s
}

func (s *pullSlot) empty() bool { return len(s.buf) == 0 }

// publish blocks while the previous buffer is still being consumed, then
// takes ownership of *buf. The caller receives the slot's drained buffer in
// exchange.
func (s *pullSlot) publish(buf *[]byte, abort func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.empty() {
		if err := abort(); err != nil {
			return err
		}
		s.canPublish.Wait()
	}
	if err := abort(); err != nil {
		return err
	}

	s.buf, *buf = *buf, s.buf[:0]
	s.off = 0
	s.canConsume.Signal()
	return nil
}

// consume copies at most len(p) bytes from the pending buffer. drained is
// true when this call emptied the slot.
func (s *pullSlot) consume(p []byte, abort func() error) (n int, drained bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.empty() {
		if err := abort(); err != nil {
			return 0, false, err
		}
		s.canConsume.Wait()
	}
	if err := abort(); err != nil {
		return 0, false, err
	}

	n = copy(p, s.buf[s.off:])
	s.off += n
	if s.off == len(s.buf) {
		s.buf = s.buf[:0]
		s.off = 0
		s.canPublish.Signal()
		return n, true, nil
	}
	return n, false, nil
}

// pending reports how many published bytes are still unconsumed.
func (s *pullSlot) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) - s.off
}

func (s *pullSlot) wake() {
	s.mu.Lock()
	s.canConsume.Broadcast()
	s.canPublish.Broadcast()
	s.mu.Unlock()
}
