package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtaci/streamxfer/dump"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

func newTestReceiver(t *testing.T) *receiver {
	return &receiver{
		dir:       t.TempDir(),
		engine:    xfer.New(xfer.Config{BufferSize: 16 << 10}),
		box:       xfer.NewBox(nil),
		rangeSize: 5000,
		quiet:     true,
	}
}

func TestReceiveFile(t *testing.T) {
	r := newTestReceiver(t)
	data := bytes.Repeat([]byte("pushed "), 30000)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		r.handleStream(context.Background(), server)
		close(done)
	}()

	hdr := std.Header{Kind: std.KindFile, Name: "saves/game.bin", Size: int64(len(data))}
	if _, err := hdr.WriteTo(client); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := std.ReadAck(client); err != nil {
		t.Fatalf("ack: %v", err)
	}
	<-done

	got, err := os.ReadFile(filepath.Join(r.dir, "saves", "game.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("received file differs")
	}
	if _, err := os.Stat(filepath.Join(r.dir, "saves", "game.bin.temp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestReceiveRejectsUnsafeName(t *testing.T) {
	r := newTestReceiver(t)
	client, server := net.Pipe()
	defer client.Close()
	go r.handleStream(context.Background(), server)

	hdr := std.Header{Kind: std.KindFile, Name: "../outside", Size: 0}
	if _, err := hdr.WriteTo(client); err != nil {
		t.Fatal(err)
	}
	if err := std.ReadAck(client); !errors.Is(err, std.ErrRemote) {
		t.Fatalf("got %v, want a failed ack", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(r.dir), "outside")); !os.IsNotExist(err) {
		t.Fatal("file written outside the target directory")
	}
}

func TestReceiveTruncatedStream(t *testing.T) {
	r := newTestReceiver(t)
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		r.handleStream(context.Background(), server)
		close(done)
	}()

	hdr := std.Header{Kind: std.KindFile, Name: "short.bin", Size: 100}
	hdr.WriteTo(client)
	client.Write([]byte("only a few bytes"))
	client.Close()
	<-done

	for _, name := range []string{"short.bin", "short.bin.temp"} {
		if _, err := os.Stat(filepath.Join(r.dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s exists after a truncated stream", name)
		}
	}
}

func TestRequestListFromDumper(t *testing.T) {
	files := map[string][]byte{
		"a.bin":     bytes.Repeat([]byte{1}, 12345),
		"b/c.bin":   bytes.Repeat([]byte("xyz"), 7000),
		"empty.bin": nil,
	}
	for _, stream := range []bool{false, true} {
		root := t.TempDir()
		for name, data := range files {
			path := filepath.Join(root, filepath.FromSlash(name))
			os.MkdirAll(filepath.Dir(path), 0755)
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatal(err)
			}
		}
		paths, err := dump.Walk(root)
		if err != nil {
			t.Fatal(err)
		}
		src := dump.NewFileSource(root)

		r := newTestReceiver(t)
		client, server := net.Pipe()
		done := make(chan struct{})
		go func() {
			r.handleStream(context.Background(), server)
			close(done)
		}()

		d := dump.New(xfer.New(xfer.Config{BufferSize: 4096}), true)
		if err := d.Dump(context.Background(), nil, src, dump.Remote{Conn: client, Stream: stream}, paths); err != nil {
			t.Fatalf("stream=%v: %v", stream, err)
		}
		<-done
		client.Close()
		src.Close()

		for name, want := range files {
			got, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(name)))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("stream=%v: %s differs", stream, name)
			}
		}
	}
}

func TestRequestListRejectsOversizedList(t *testing.T) {
	r := newTestReceiver(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	err := r.requestList(context.Background(), server, &std.Header{Kind: std.KindList, Size: 1 << 62})
	if !errors.Is(err, std.ErrListTooLarge) {
		t.Fatalf("got %v, want ErrListTooLarge", err)
	}
}

func TestReceiveSurvivesOversizedListHeader(t *testing.T) {
	r := newTestReceiver(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		r.handleStream(context.Background(), server)
		close(done)
	}()

	hdr := std.Header{Kind: std.KindList, Size: 1 << 62}
	if _, err := hdr.WriteTo(client); err != nil {
		t.Fatal(err)
	}
	// the receiver drops the stream without reading a list
	if _, err := io.ReadAll(client); err != nil {
		t.Fatal(err)
	}
	<-done
}
