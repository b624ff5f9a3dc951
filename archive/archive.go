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

// Package archive packs and unpacks zip files, moving each entry through
// the transfer engine.
package archive

import (
	"archive/zip"
	"context"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
)

// SmallEntry is the size at or below which an entry is inflated on the
// calling goroutine; starting workers costs more than it saves there.
const SmallEntry = 512 << 10

var (
	ErrChecksum   = errors.New("archive: checksum mismatch")
	ErrUnsafePath = errors.New("archive: entry escapes destination")
)

// Filter may rename an entry or skip it by returning false.
type Filter func(name string) (string, bool)

type transferNamer interface {
	NewTransfer(name string)
}

func announce(p xfer.Progress, name string) {
	if n, ok := p.(transferNamer); ok {
		n.NewTransfer(name)
	}
}

func engineFor(e *xfer.Engine, mode xfer.Mode, threshold int64) *xfer.Engine {
	var cfg xfer.Config
	if e != nil {
		cfg = e.Config()
	}
	cfg.Mode = mode
	cfg.Threshold = threshold
	return xfer.New(cfg)
}

// Unzip extracts entry f into the file dstPath. Entries of at most
// SmallEntry bytes run single threaded. The CRC32 of the header is
// verified when present. dstPath is removed on failure.
func Unzip(ctx context.Context, e *xfer.Engine, p xfer.Progress, f *zip.File, dstPath string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "open entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
		if err != nil {
			os.Remove(dstPath)
		}
	}()

	crc := crc32.NewIEEE()
	writeAt := std.WriterAtFunc(out)
	write := func(b []byte, off int64) error {
		crc.Write(b)
		return writeAt(b, off)
	}

	size := int64(f.UncompressedSize64)
	eng := engineFor(e, xfer.SingleThreadedIfSmaller, SmallEntry)
	if err := eng.Transfer(ctx, p, size, std.SequentialReadFunc(rc), write); err != nil {
		return errors.Wrapf(err, "unzip %s", f.Name)
	}
	if f.CRC32 != 0 && crc.Sum32() != f.CRC32 {
		return errors.Wrapf(ErrChecksum, "%s: got %08x, want %08x", f.Name, crc.Sum32(), f.CRC32)
	}
	return nil
}

// safeJoin resolves name below dir, rejecting anything that would land
// outside it.
func safeJoin(dir, name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", errors.Wrapf(ErrUnsafePath, "%q", name)
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

// UnzipAll restores every entry of zipPath below dstDir. Directories are
// created as needed.
func UnzipAll(ctx context.Context, e *xfer.Engine, p xfer.Progress, zipPath, dstDir string, filter Filter) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer zr.Close()
	if p == nil {
		p = xfer.NopProgress{}
	}

	for _, f := range zr.File {
		if p.ShouldCancel() {
			return xfer.ErrCancelled
		}
		name := f.Name
		if filter != nil {
			var keep bool
			if name, keep = filter(name); !keep {
				continue
			}
		}
		dst, err := safeJoin(dstDir, strings.TrimSuffix(name, "/"))
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return errors.WithStack(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.WithStack(err)
		}
		announce(p, name)
		if err := Unzip(ctx, e, p, f, dst); err != nil {
			return err
		}
	}
	return nil
}

// Zip deflates srcPath into zw as name and returns the CRC32 of the data.
func Zip(ctx context.Context, e *xfer.Engine, p xfer.Progress, zw *zip.Writer, name, srcPath string) (uint32, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	crc := crc32.NewIEEE()
	write := std.SequentialWriteFunc(io.MultiWriter(w, crc))
	eng := engineFor(e, xfer.SingleThreadedIfSmaller, SmallEntry)
	if err := eng.Transfer(ctx, p, fi.Size(), std.ReaderAtFunc(src), write); err != nil {
		return 0, errors.Wrapf(err, "zip %s", name)
	}
	return crc.Sum32(), nil
}

// ZipDir backs up every regular file below srcDir into a new archive at
// zipPath. The archive is removed on failure.
func ZipDir(ctx context.Context, e *xfer.Engine, p xfer.Progress, srcDir, zipPath string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return errors.WithStack(err)
	}
	zw := zip.NewWriter(out)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
		if cerr := out.Close(); err == nil {
			err = errors.WithStack(cerr)
		}
		if err != nil {
			os.Remove(zipPath)
		}
	}()

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || sameFile(path, zipPath) {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return errors.WithStack(err)
		}
		name := filepath.ToSlash(rel)
		announce(p, name)
		_, err = Zip(ctx, e, p, zw, name, path)
		return err
	})
}

// sameFile keeps ZipDir from archiving its own output.
func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}
