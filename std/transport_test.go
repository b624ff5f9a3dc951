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
	"bytes"
	"io"
	"math/rand"
	"strconv"
	"testing"
	"time"
)

func TestLinkConfigApplyMode(t *testing.T) {
	cfg := LinkConfig{Mode: "fast3", NoDelay: 9}
	cfg.ApplyMode()
	if cfg.NoDelay != 1 || cfg.Interval != 10 || cfg.Resend != 2 || cfg.NoCongestion != 1 {
		t.Fatalf("fast3 not applied: %+v", cfg)
	}
	manual := LinkConfig{Mode: "manual", NoDelay: 9, Interval: 7}
	manual.ApplyMode()
	if manual.NoDelay != 9 || manual.Interval != 7 {
		t.Fatalf("manual overridden: %+v", manual)
	}
}

func TestLinkConfigValidate(t *testing.T) {
	if _, err := (&LinkConfig{SmuxVer: 3}).Validate(); err == nil {
		t.Fatal("smux version 3 accepted")
	}
	warnings, err := (&LinkConfig{SmuxVer: 2, QPP: true, QPPCount: 4, Key: "k"}).Validate()
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) == 0 {
		t.Fatal("weak QPP settings produced no warning")
	}
	if _, err := (&LinkConfig{SmuxVer: 2, QPP: true}).Validate(); err == nil {
		t.Fatal("zero QPPCount accepted")
	}
}

func testLinkConfig() *LinkConfig {
	cfg := &LinkConfig{
		Key:         "it's a secrect",
		Crypt:       "aes",
		Mode:        "fast",
		MTU:         1350,
		SndWnd:      128,
		RcvWnd:      512,
		DataShard:   10,
		ParityShard: 3,
		SockBuf:     4194304,
		SmuxVer:     2,
		SmuxBuf:     4194304,
		FrameSize:   8192,
		StreamBuf:   2097152,
		KeepAlive:   10,
		QPP:         true,
		QPPCount:    61,
	}
	cfg.ApplyMode()
	return cfg
}

func TestLinkLoopback(t *testing.T) {
	port := 20000 + rand.Intn(20000)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	ln, err := Listen(testLinkConfig(), addr)
	if err != nil {
		t.Skipf("listen %s: %v", addr, err)
	}
	defer ln.Close()

	payload := bytes.Repeat([]byte("link payload "), 4096)
	echoed := make(chan error, 1)
	go func() {
		link, err := ln.Accept()
		if err != nil {
			echoed <- err
			return
		}
		defer link.Close()
		s, err := link.AcceptStream()
		if err != nil {
			echoed <- err
			return
		}
		defer s.Close()
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(s, buf); err != nil {
			echoed <- err
			return
		}
		_, err = s.Write(buf)
		echoed <- err
	}()

	link, err := Dial(testLinkConfig(), addr)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()
	s, err := link.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Write(payload); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(s, got)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timeout waiting for echo")
	}
	if err := <-echoed; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("echo differs")
	}
}
