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

package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

// Config for client
type Config struct {
	std.LinkConfig
	RemoteAddr  string `json:"remoteaddr"`
	BufferSize  int    `json:"buffersize"`
	Constrained bool   `json:"constrained"`
	XferMode    string `json:"xfermode"`
	Threshold   int64  `json:"threshold"`
	Affinity    bool   `json:"affinity"`
	CPU         int    `json:"cpu"`
	PullFrame   int    `json:"pullframe"`
	Log         string `json:"log"`
	StatLog     string `json:"statlog"`
	StatPeriod  int    `json:"statperiod"`
	Quiet       bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

// engineConfig translates the transfer flags.
func (c *Config) engineConfig() (xfer.Config, error) {
	mode, err := xfer.ParseMode(c.XferMode)
	if err != nil {
		return xfer.Config{}, errors.WithStack(err)
	}
	cfg := xfer.Config{
		BufferSize: c.BufferSize,
		Mode:       mode,
		Threshold:  c.Threshold,
		Affinity:   c.Affinity,
		CPU:        c.CPU,
	}
	if c.Constrained {
		cfg.BufferSize = xfer.ConstrainedBufferSize
	}
	return cfg, nil
}
