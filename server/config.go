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

// Config for server
type Config struct {
	std.LinkConfig
	Listen     string `json:"listen"`
	Dir        string `json:"dir"`
	BufferSize int    `json:"buffersize"`
	XferMode   string `json:"xfermode"`
	Threshold  int64  `json:"threshold"`
	Affinity   bool   `json:"affinity"`
	CPU        int    `json:"cpu"`
	RangeSize  int64  `json:"rangesize"`
	Log        string `json:"log"`
	StatLog    string `json:"statlog"`
	StatPeriod int    `json:"statperiod"`
	Quiet      bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

func (c *Config) engineConfig() (xfer.Config, error) {
	mode, err := xfer.ParseMode(c.XferMode)
	if err != nil {
		return xfer.Config{}, errors.WithStack(err)
	}
	return xfer.Config{
		BufferSize: c.BufferSize,
		Mode:       mode,
		Threshold:  c.Threshold,
		Affinity:   c.Affinity,
		CPU:        c.CPU,
	}, nil
}
