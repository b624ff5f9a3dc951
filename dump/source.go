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
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Source yields the files to dump, addressed by path.
type Source interface {
	// Name is the destination name of path, slash separated.
	Name(path string) string
	Size(path string) (int64, error)
	Read(path string, p []byte, off int64) (int, error)
}

// FileSource serves files below Root. Files are opened on first use and
// stay open until Close.
type FileSource struct {
	Root string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewFileSource(root string) *FileSource {
	return &FileSource{Root: root, files: make(map[string]*os.File)}
}

func (s *FileSource) open(path string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[path]; ok {
		return f, nil
	}
	f, err := os.Open(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s.files[path] = f
	return f, nil
}

func (s *FileSource) Name(path string) string { return filepath.ToSlash(path) }

func (s *FileSource) Size(path string) (int64, error) {
	f, err := s.open(path)
	if err != nil {
		return 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return fi.Size(), nil
}

func (s *FileSource) Read(path string, p []byte, off int64) (int, error) {
	f, err := s.open(path)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(p, off)
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for path, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = errors.WithStack(err)
		}
		delete(s.files, path)
	}
	return first
}

// Walk lists every regular file below root as a slash separated path.
func Walk(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	return paths, errors.WithStack(err)
}
