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
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// smuxConfig carries the session settings of the link into smux. Zero
// buffer and frame sizes keep the smux defaults so a partly filled
// LinkConfig still yields a working session.
func (c *LinkConfig) smuxConfig() (*smux.Config, error) {
	cfg := smux.DefaultConfig()
	if c.SmuxVer != 0 {
		cfg.Version = c.SmuxVer
	}
	if c.SmuxBuf > 0 {
		cfg.MaxReceiveBuffer = c.SmuxBuf
	}
	if c.StreamBuf > 0 {
		cfg.MaxStreamBuffer = c.StreamBuf
	}
	if c.FrameSize > 0 {
		cfg.MaxFrameSize = c.FrameSize
	}
	if c.KeepAlive > 0 {
		cfg.KeepAliveInterval = time.Duration(c.KeepAlive) * time.Second
	}
	if err := smux.VerifyConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "smux config")
	}
	return cfg, nil
}
