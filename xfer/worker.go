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

// deliverFunc hands one popped chunk to the sink. Push mode writes it,
// pull mode stages it in the pull slot.
type deliverFunc func(buf *[]byte, off int64) error

func (s *state) pushDeliver(write WriteFunc) deliverFunc {
	return func(buf *[]byte, off int64) error {
		if err := write(*buf, off); err != nil {
			return &StageError{Stage: StageWrite, Off: off, Err: err}
		}
		return nil
	}
}

func (s *state) pullDeliver() deliverFunc {
	return func(buf *[]byte, off int64) error {
		return s.slot.publish(buf, s.result)
	}
}

// readLoop drives the source and fills the double buffer until the whole
// size has been read or some outcome is recorded.
func (s *state) readLoop(read ReadFunc) error {
	var buf []byte
	for s.readOff.Load() < s.size {
		if err := s.result(); err != nil {
			return err
		}
		off := s.readOff.Load()
		if _, err := s.readChunk(read, &buf); err != nil {
			return err
		}
		if err := s.ring.push(&buf, off, s.result); err != nil {
			return err
		}
	}
	s.logf("xfer: read finished at %d", s.readOff.Load())
	return nil
}

// writeLoop drains the double buffer into the sink.
func (s *state) writeLoop(deliver deliverFunc) error {
	var buf []byte
	for s.writeOff.Load() < s.size {
		if err := s.result(); err != nil {
			return err
		}
		if _, err := s.ring.pop(&buf, s.result); err != nil {
			return err
		}
		n := len(buf)
		if err := deliver(&buf, s.writeOff.Load()); err != nil {
			return err
		}
		s.advance(n)
	}
	s.logf("xfer: write finished at %d", s.writeOff.Load())
	return nil
}

// startWorkers launches the reader and the writer exactly once. Each worker
// records its own outcome and wakes every waiter on exit so the other side
// never stays parked on a buffer that will not move.
func (s *state) startWorkers(read ReadFunc, deliver deliverFunc, cfg Config) {
	s.launch.Do(func() {
		writerCPU := cfg.CPU
		readerCPU := alternateCPU(writerCPU)

		s.workers.Add(2)
		go func() {
			defer s.workers.Done()
			defer s.wakeAll()
			if cfg.Affinity {
				if err := pinThread(readerCPU); err != nil {
					s.logf("xfer: pin reader to cpu %d: %v", readerCPU, err)
				}
			}
			s.setRead(s.readLoop(read))
		}()
		go func() {
			defer s.workers.Done()
			defer s.wakeAll()
			if cfg.Affinity {
				if err := pinThread(writerCPU); err != nil {
					s.logf("xfer: pin writer to cpu %d: %v", writerCPU, err)
				}
			}
			s.setWrite(s.writeLoop(deliver))
		}()
		s.launched.Store(true)
	})
}
