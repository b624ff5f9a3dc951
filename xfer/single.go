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

// runSinglePush alternates reads and writes on the calling goroutine.
func (s *state) runSinglePush(read ReadFunc, write WriteFunc) error {
	var buf []byte
	for s.readOff.Load() < s.size {
		if err := s.result(); err != nil {
			return err
		}
		off := s.readOff.Load()
		n, err := s.readChunk(read, &buf)
		if err != nil {
			s.setRead(err)
			return s.result()
		}
		if err := write(buf, off); err != nil {
			s.setWrite(&StageError{Stage: StageWrite, Off: off, Err: err})
			return s.result()
		}
		s.advance(n)
		s.prog.Yield()
	}
	return s.result()
}

// runSinglePull serves pull mode without workers: launch only arms the
// transfer and every pull that finds the slot empty reads the next chunk
// from the source itself.
func (s *state) runSinglePull(read ReadFunc, start StartFunc) error {
	var buf []byte
	s.refill = func() error {
		n, err := s.readChunk(read, &buf)
		if err != nil {
			s.setRead(err)
			return s.result()
		}
		if err := s.slot.publish(&buf, s.result); err != nil {
			return err
		}
		s.advance(n)
		return nil
	}
	launch := func() error {
		if err := s.result(); err != nil {
			return err
		}
		s.launched.Store(true)
		return nil
	}

	s.finishPull(start(launch, s.Pull))
	return s.result()
}
