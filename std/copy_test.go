package std

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtaci/streamxfer/xfer"
)

type shortWriterAt struct{}

func (shortWriterAt) WriteAt(p []byte, off int64) (int, error) { return len(p) / 2, nil }

func TestReaderAtFuncDropsEOF(t *testing.T) {
	read := ReaderAtFunc(bytes.NewReader([]byte("abcdef")))
	p := make([]byte, 4)
	n, err := read(p, 2)
	if err != nil || n != 4 || string(p) != "cdef" {
		t.Fatalf("read = %d, %v, %q", n, err, p)
	}
}

func TestWriterAtFuncShortWrite(t *testing.T) {
	write := WriterAtFunc(shortWriterAt{})
	if err := write([]byte("1234"), 0); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("got %v, want io.ErrShortWrite", err)
	}

	err := xfer.Transfer(context.Background(), nil, 4, ReaderAtFunc(bytes.NewReader([]byte("1234"))), write)
	if !errors.Is(err, xfer.ErrWrite) || !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("transfer: %v", err)
	}
}

func TestSequentialReadFuncOrder(t *testing.T) {
	read := SequentialReadFunc(bytes.NewReader([]byte("hello")))
	p := make([]byte, 3)
	if n, err := read(p, 0); err != nil || n != 3 {
		t.Fatalf("first read %d %v", n, err)
	}
	if _, err := read(p, 0); !errors.Is(err, errNonSequential) {
		t.Fatalf("rewind accepted: %v", err)
	}
	if n, err := read(p, 3); err != nil || n != 2 {
		t.Fatalf("tail read %d %v", n, err)
	}
	if _, err := read(p, 5); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("read past end: %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("streamxfer "), 100000)
	srcPath := filepath.Join(dir, "src")
	if err := os.WriteFile(srcPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	dst, err := os.Create(filepath.Join(dir, "dst"))
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	e := xfer.New(xfer.Config{BufferSize: 64 << 10})
	if err := Copy(context.Background(), e, nil, dst, src, int64(len(data))); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := os.ReadFile(dst.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("copied file differs")
	}
}

func TestCopyStreamOverPipe(t *testing.T) {
	left, right := net.Pipe()
	data := bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 50000)

	go func() {
		left.Write(data)
		left.Close()
	}()

	var out bytes.Buffer
	e := xfer.New(xfer.Config{BufferSize: 32 << 10})
	if err := CopyStream(context.Background(), e, nil, &out, right, int64(len(data))); err != nil {
		t.Fatalf("CopyStream: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("stream payload differs")
	}
}

func TestCopyStreamTruncated(t *testing.T) {
	var out bytes.Buffer
	err := CopyStream(context.Background(), nil, nil, &out, bytes.NewReader([]byte("short")), 10)
	if !errors.Is(err, xfer.ErrRead) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v", err)
	}
}
