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

package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtaci/streamxfer/xfer"
)

func writeTree(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBackupRestore(t *testing.T) {
	files := map[string][]byte{
		"small.txt":        []byte("hello"),
		"empty":            nil,
		"sub/big.bin":      bytes.Repeat([]byte("0123456789"), 120000),
		"sub/deep/mid.bin": bytes.Repeat([]byte{0xab}, SmallEntry+1),
	}
	src := t.TempDir()
	writeTree(t, src, files)

	zipPath := filepath.Join(t.TempDir(), "backup.zip")
	box := xfer.NewBox(nil)
	e := xfer.New(xfer.Config{BufferSize: 64 << 10})
	if err := ZipDir(context.Background(), e, box, src, zipPath); err != nil {
		t.Fatalf("ZipDir: %v", err)
	}

	dst := t.TempDir()
	if err := UnzipAll(context.Background(), e, box, zipPath, dst, nil); err != nil {
		t.Fatalf("UnzipAll: %v", err)
	}
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s differs after restore", name)
		}
	}
	if box.Snapshot().Name == "" {
		t.Fatal("progress box never saw a transfer name")
	}
}

func TestZipReturnsCRC(t *testing.T) {
	data := bytes.Repeat([]byte("crc me "), 1000)
	path := filepath.Join(t.TempDir(), "in")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	crc, err := Zip(context.Background(), nil, nil, zw, "in", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if crc != crc32.ChecksumIEEE(data) {
		t.Fatalf("crc %08x", crc)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if zr.File[0].CRC32 != crc {
		t.Fatalf("header crc %08x, returned %08x", zr.File[0].CRC32, crc)
	}
}

func buildRawZip(t *testing.T, name string, data []byte, crc uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc,
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUnzipChecksumMismatch(t *testing.T) {
	data := []byte("payload with a lying header")
	zipPath := buildRawZip(t, "x.bin", data, crc32.ChecksumIEEE(data)^1)
	dst := t.TempDir()

	err := UnzipAll(context.Background(), nil, nil, zipPath, dst, nil)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "x.bin")); !os.IsNotExist(err) {
		t.Fatalf("corrupt entry left on disk: %v", err)
	}
}

func TestUnzipRejectsEscape(t *testing.T) {
	for _, name := range []string{"../evil", "a/../../evil", "/abs/evil"} {
		zipPath := buildRawZip(t, name, []byte("x"), crc32.ChecksumIEEE([]byte("x")))
		err := UnzipAll(context.Background(), nil, nil, zipPath, t.TempDir(), nil)
		if !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("%s: got %v", name, err)
		}
	}
}

func TestUnzipFilter(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"keep.txt": []byte("k"), "skip.txt": []byte("s")})
	zipPath := filepath.Join(t.TempDir(), "f.zip")
	if err := ZipDir(context.Background(), nil, nil, src, zipPath); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	filter := func(name string) (string, bool) {
		if strings.HasPrefix(name, "skip") {
			return "", false
		}
		return "renamed/" + name, true
	}
	if err := UnzipAll(context.Background(), nil, nil, zipPath, dst, filter); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dst, "renamed", "keep.txt")); err != nil {
		t.Fatalf("renamed entry missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "skip.txt")); !os.IsNotExist(err) {
		t.Fatalf("skipped entry restored")
	}
}

func TestUnzipCancelled(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a": []byte("a")})
	zipPath := filepath.Join(t.TempDir(), "c.zip")
	if err := ZipDir(context.Background(), nil, nil, src, zipPath); err != nil {
		t.Fatal(err)
	}
	box := xfer.NewBox(nil)
	box.Cancel()
	if err := UnzipAll(context.Background(), nil, box, zipPath, t.TempDir(), nil); !errors.Is(err, xfer.ErrCancelled) {
		t.Fatalf("got %v", err)
	}
}
