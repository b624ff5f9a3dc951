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

// Package hasher computes digests by streaming a source through the
// transfer engine into a running hash.
package hasher

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/xfer"
)

// Type selects a digest.
type Type int

const (
	CRC32 Type = iota
	MD5
	SHA1
	SHA256
	XXH64
)

var typeNames = map[Type]string{
	CRC32:  "crc32",
	MD5:    "md5",
	SHA1:   "sha1",
	SHA256: "sha256",
	XXH64:  "xxh64",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType accepts the names returned by Type.String, in any case.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(s)
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown hash type %q", s)
}

// New returns a fresh digest of type t.
func (t Type) New() (hash.Hash, error) {
	switch t {
	case CRC32:
		return crc32.NewIEEE(), nil
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXH64:
		return xxhash.New(), nil
	}
	return nil, errors.Errorf("unknown hash type %d", int(t))
}

// Source is anything with a known size that can be read at an offset.
type Source interface {
	Size() int64
	Read(p []byte, off int64) (int, error)
}

// FileSource reads a file. Throttle delays every read, for stores that
// stall when read back to back.
type FileSource struct {
	f        *os.File
	size     int64
	Throttle time.Duration
}

func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Read(p []byte, off int64) (int, error) {
	if s.Throttle > 0 {
		time.Sleep(s.Throttle)
	}
	n, err := s.f.ReadAt(p, off)
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (s *FileSource) Close() error { return s.f.Close() }

// MemSource serves a byte slice.
type MemSource []byte

func (m MemSource) Size() int64 { return int64(len(m)) }

func (m MemSource) Read(p []byte, off int64) (int, error) {
	return copy(p, m[off:]), nil
}

// Hash streams src into a digest of type typ and returns it as lowercase
// hex. A nil engine means the default configuration.
func Hash(ctx context.Context, e *xfer.Engine, p xfer.Progress, typ Type, src Source) (string, error) {
	h, err := typ.New()
	if err != nil {
		return "", err
	}
	if e == nil {
		e = xfer.New(xfer.Config{})
	}
	write := func(b []byte, off int64) error {
		h.Write(b)
		return nil
	}
	if err := e.Transfer(ctx, p, src.Size(), src.Read, write); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile opens path and hashes it.
func HashFile(ctx context.Context, e *xfer.Engine, p xfer.Progress, typ Type, path string) (string, error) {
	src, err := OpenFile(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	return Hash(ctx, e, p, typ, src)
}
