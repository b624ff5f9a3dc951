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

package dump

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

var testFiles = map[string][]byte{
	"a.bin":         bytes.Repeat([]byte("a"), 10),
	"dir/b.bin":     bytes.Repeat([]byte("0123456789abcdef"), 20000),
	"dir/empty.bin": nil,
}

func setup(t *testing.T) (*FileSource, []string) {
	t.Helper()
	root := t.TempDir()
	for name, data := range testFiles {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	src := NewFileSource(root)
	t.Cleanup(func() { src.Close() })
	paths, err := Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(paths)
	return src, paths
}

func testDumper() *Dumper {
	return New(xfer.New(xfer.Config{BufferSize: 32 << 10}), true)
}

func checkTree(t *testing.T, root string) {
	t.Helper()
	for name, want := range testFiles {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s differs", name)
		}
	}
}

func TestDumpToFile(t *testing.T) {
	for _, throttle := range []time.Duration{0, time.Microsecond} {
		src, paths := setup(t)
		dst := t.TempDir()
		box := xfer.NewBox(nil)
		if err := testDumper().Dump(context.Background(), box, src, File{Root: dst, Throttle: throttle}, paths); err != nil {
			t.Fatal(err)
		}
		checkTree(t, dst)

		temps, _ := filepath.Glob(filepath.Join(dst, "*", "*.temp"))
		if len(temps) > 0 {
			t.Fatalf("temp files left behind: %v", temps)
		}
		if snap := box.Snapshot(); snap.Name != paths[len(paths)-1] {
			t.Fatalf("last transfer name %q", snap.Name)
		}
	}
}

type failingSource struct {
	*FileSource
	failAt int64
}

func (s failingSource) Read(path string, p []byte, off int64) (int, error) {
	if off >= s.failAt {
		return 0, errors.New("media removed")
	}
	return s.FileSource.Read(path, p, off)
}

func TestDumpToFileFailureRemovesTemp(t *testing.T) {
	src, _ := setup(t)
	dst := t.TempDir()
	bad := failingSource{FileSource: src, failAt: 64 << 10}

	err := testDumper().Dump(context.Background(), nil, bad, File{Root: dst}, []string{"dir/b.bin"})
	if !errors.Is(err, xfer.ErrRead) {
		t.Fatalf("got %v", err)
	}
	for _, name := range []string{"dir/b.bin", "dir/b.bin.temp"} {
		if _, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name))); !os.IsNotExist(err) {
			t.Fatalf("%s exists after failure", name)
		}
	}
}

func TestDumpToDevNull(t *testing.T) {
	src, paths := setup(t)
	box := xfer.NewBox(nil)
	if err := testDumper().Dump(context.Background(), box, src, DevNull{}, paths); err != nil {
		t.Fatal(err)
	}
	if snap := box.Snapshot(); snap.Offset != snap.Size {
		t.Fatalf("last transfer incomplete: %+v", snap)
	}
}

func TestDumpCancelled(t *testing.T) {
	src, paths := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := testDumper().Dump(ctx, nil, src, DevNull{}, paths)
	if !errors.Is(err, xfer.ErrCancelled) {
		t.Fatalf("got %v", err)
	}
}

// pipeOpener hands out net.Pipe streams and serves each with a receiver
// that stores the file and acknowledges it.
type pipeOpener struct {
	received chan map[string][]byte
}

func (o *pipeOpener) OpenStream() (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		hdr, err := std.ReadHeader(server)
		if err != nil {
			return
		}
		data := make([]byte, hdr.Size)
		_, err = io.ReadFull(server, data)
		std.WriteAck(server, err)
		o.received <- map[string][]byte{hdr.Name: data}
	}()
	return client, nil
}

func TestDumpToNetwork(t *testing.T) {
	src, paths := setup(t)
	opener := &pipeOpener{received: make(chan map[string][]byte, len(paths))}
	if err := testDumper().Dump(context.Background(), nil, src, Network{Link: opener, FrameSize: 1000}, paths); err != nil {
		t.Fatal(err)
	}
	for range paths {
		for name, data := range <-opener.received {
			if !bytes.Equal(data, testFiles[name]) {
				t.Fatalf("%s differs", name)
			}
		}
	}
}

// fetchAll plays the requester: it reads the offered list and fetches
// every file in ranges of rangeSize, in order.
func fetchAll(conn net.Conn, dir string, rangeSize int64) error {
	hdr, err := std.ReadHeader(conn)
	if err != nil {
		return err
	}
	list := make([]byte, hdr.Size)
	if _, err := io.ReadFull(conn, list); err != nil {
		return err
	}
	entries, err := std.ParseList(list)
	if err != nil {
		return err
	}
	c := std.NewRangeClient(conn)
	for _, e := range entries {
		path := filepath.Join(dir, filepath.FromSlash(e.Name))
		os.MkdirAll(filepath.Dir(path), 0755)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		for off := int64(0); off < e.Size || off == 0; off += rangeSize {
			size := rangeSize
			if off+size > e.Size {
				size = e.Size - off
			}
			if err := c.Fetch(context.Background(), nil, nil, std.RangeRequest{Name: e.Name, Off: off, Size: size}, f); err != nil {
				f.Close()
				return err
			}
			if e.Size == 0 {
				break
			}
		}
		f.Close()
	}
	return c.Exit()
}

func TestDumpToRemote(t *testing.T) {
	for _, stream := range []bool{false, true} {
		src, paths := setup(t)
		dst := t.TempDir()
		left, right := net.Pipe()

		fetched := make(chan error, 1)
		go func() { fetched <- fetchAll(right, dst, 3000) }()

		if err := testDumper().Dump(context.Background(), nil, src, Remote{Conn: left, Stream: stream}, paths); err != nil {
			t.Fatalf("stream=%v: %v", stream, err)
		}
		if err := <-fetched; err != nil {
			t.Fatalf("stream=%v requester: %v", stream, err)
		}
		left.Close()
		right.Close()
		checkTree(t, dst)
	}
}

func TestRemoteStreamRejectsOutOfOrder(t *testing.T) {
	src, paths := setup(t)
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	go func() {
		hdr, err := std.ReadHeader(right)
		if err != nil {
			return
		}
		io.CopyN(io.Discard, right, hdr.Size)
		std.WriteRange(right, std.RangeRequest{Name: "dir/b.bin", Off: 100, Size: 10})
	}()

	err := testDumper().Dump(context.Background(), nil, src, Remote{Conn: left, Stream: true}, paths)
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("got %v", err)
	}
}

func TestRemoteUnknownFile(t *testing.T) {
	src, paths := setup(t)
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	go func() {
		hdr, err := std.ReadHeader(right)
		if err != nil {
			return
		}
		io.CopyN(io.Discard, right, hdr.Size)
		std.WriteRange(right, std.RangeRequest{Name: "nope", Size: 1})
	}()

	err := testDumper().Dump(context.Background(), nil, src, Remote{Conn: left}, paths)
	if !errors.Is(err, ErrUnknownFile) {
		t.Fatalf("got %v", err)
	}
}

// A range whose end does not fit in an int64 must be refused before any
// answer is written.
func TestRemoteRejectsOverflowingRange(t *testing.T) {
	for _, stream := range []bool{false, true} {
		src, paths := setup(t)
		left, right := net.Pipe()
		answered := make(chan bool, 1)
		go func() {
			hdr, err := std.ReadHeader(right)
			if err != nil {
				answered <- false
				return
			}
			io.CopyN(io.Discard, right, hdr.Size)
			std.WriteRange(right, std.RangeRequest{Name: "dir/b.bin", Off: math.MaxInt64 - 10, Size: 100})
			_, err = std.ReadCommand(right)
			answered <- err == nil
		}()
		err := testDumper().Dump(context.Background(), nil, src, Remote{Conn: left, Stream: stream}, paths)
		left.Close()
		if !errors.Is(err, ErrBadRange) {
			t.Fatalf("stream=%v: got %v, want ErrBadRange", stream, err)
		}
		if <-answered {
			t.Fatalf("stream=%v: range answered before rejection", stream)
		}
		right.Close()
	}
}

func TestRemoteRejectsRangePastEnd(t *testing.T) {
	src, paths := setup(t)
	left, right := net.Pipe()
	defer right.Close()
	go func() {
		hdr, err := std.ReadHeader(right)
		if err != nil {
			return
		}
		io.CopyN(io.Discard, right, hdr.Size)
		std.WriteRange(right, std.RangeRequest{Name: "a.bin", Off: 5, Size: 6})
	}()
	err := testDumper().Dump(context.Background(), nil, src, Remote{Conn: left}, paths)
	left.Close()
	if !errors.Is(err, ErrBadRange) {
		t.Fatalf("got %v, want ErrBadRange", err)
	}
}
