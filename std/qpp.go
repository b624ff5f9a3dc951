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
	"fmt"
	"io"
	"math/big"

	"github.com/pkg/errors"
	"github.com/xtaci/qpp"
)

const (
	qppQubits  = 8  // one pad permutes a whole byte
	qppMinSeed = 32 // bytes of key below which pads are guessable
	qppMinPads = 8
)

// ValidateQPPParams rejects a pad count that cannot work and returns
// warnings for settings that work but are weak.
func ValidateQPPParams(count int, key string) ([]string, error) {
	if count <= 0 || count > 0xffff {
		return nil, errors.Errorf("QPPCount %d out of range (1-65535)", count)
	}

	var warnings []string
	if len(key) < qppMinSeed {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: 'key' has size of %d bytes, required %d bytes at least", len(key), qppMinSeed))
	}
	if count < qppMinPads {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, required %d at least", count, qppMinPads))
	}
	if new(big.Int).GCD(nil, nil, big.NewInt(int64(count)), big.NewInt(qppQubits)).Int64() != 1 {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, choose a prime number for security", count))
	}
	return warnings, nil
}

// QPPPort permutes every byte of one stream. The pad keeps separate
// selector states for each direction, so the two ends of a stream stay in
// step as long as both build their port from the same key and count.
type QPPPort struct {
	underlying io.ReadWriteCloser
	pad        *qpp.QuantumPermutationPad
}

// NewQPPPort builds a fresh pad for s. Ports must not be shared between
// streams: the selector state advances with every byte.
func NewQPPPort(s io.ReadWriteCloser, key []byte, count uint16) *QPPPort {
	return &QPPPort{underlying: s, pad: qpp.NewQPP(key, count)}
}

func (r *QPPPort) Read(p []byte) (n int, err error) {
	n, err = r.underlying.Read(p)
	r.pad.Decrypt(p[:n])
	return
}

// Write permutes a private copy; the engine recycles p after the call.
func (r *QPPPort) Write(p []byte) (n int, err error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	r.pad.Encrypt(buf)
	return r.underlying.Write(buf)
}

func (r *QPPPort) Close() error {
	return r.underlying.Close()
}
