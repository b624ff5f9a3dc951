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
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/streamxfer/xfer"
)

// StatLogger appends a CSV row every interval seconds with the current
// transfer snapshot followed by the kcp SNMP counters. path may carry a Go
// time layout, like ./stat-20060102.log. It returns when ctx is done.
func StatLogger(ctx context.Context, path string, interval int, snap func() xfer.Snapshot) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := appendStat(path, now, snap()); err != nil {
				log.Println(err)
				return
			}
		}
	}
}

func statHeader() []string {
	return append([]string{"Unix", "Name", "Offset", "Size", "Speed"}, kcp.DefaultSnmp.Header()...)
}

func statRow(now time.Time, s xfer.Snapshot) []string {
	row := []string{
		fmt.Sprint(now.Unix()),
		s.Name,
		fmt.Sprint(s.Offset),
		fmt.Sprint(s.Size),
		fmt.Sprintf("%.0f", s.Speed),
	}
	return append(row, kcp.DefaultSnmp.ToSlice()...)
}

func appendStat(path string, now time.Time, s xfer.Snapshot) error {
	// only the file name is formatted
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+now.Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(statHeader()); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := w.Write(statRow(now, s)); err != nil {
		return errors.WithStack(err)
	}
	w.Flush()
	return errors.WithStack(w.Error())
}
