package std

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/xtaci/streamxfer/xfer"
)

// A stream header written through CompStream must reach the peer on its
// own, before any file data follows.
func TestCompStreamFlushesHeader(t *testing.T) {
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()
	w, r := NewCompStream(left), NewCompStream(right)

	got := make(chan *Header, 1)
	go func() {
		h, err := ReadHeader(r)
		if err != nil {
			t.Error(err)
		}
		got <- h
	}()

	hdr := Header{Kind: KindFile, Name: "a/b.bin", Size: 42}
	if _, err := hdr.WriteTo(w); err != nil {
		t.Fatal(err)
	}
	select {
	case h := <-got:
		if h == nil || *h != hdr {
			t.Fatalf("got %+v", h)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("header stuck in the compressor")
	}
}

func TestCompStreamEngineCopy(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	w, r := NewCompStream(left), NewCompStream(right)

	payload := bytes.Repeat([]byte("compressible "), 100000)
	done := make(chan error, 1)
	go func() {
		e := xfer.New(xfer.Config{BufferSize: 64 << 10})
		done <- CopyStream(context.Background(), e, nil, w, bytes.NewReader(payload), int64(len(payload)))
		w.Close()
	}()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("received %d bytes, differs from payload", len(out))
	}
}

func TestCompStreamForwardsDeadline(t *testing.T) {
	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()
	c := NewCompStream(left)
	if err := c.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("read returned without data or deadline error")
	}

	// streams without deadlines accept the call and ignore it
	var nop struct {
		io.Reader
		io.Writer
		io.Closer
	}
	if err := NewCompStream(nop).SetDeadline(time.Now()); err != nil {
		t.Fatal(err)
	}
}
