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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Stream header, sent first on every smux stream:
//
//	magic[4] kind[1] flags[1] nameLen[2] size[8] name[nameLen]
//
// All integers are little endian.
const (
	Magic      = "XFR0"
	headerSize = 16
	maxNameLen = 0xffff

	// MaxListSize bounds the file list a receiver buffers in memory.
	MaxListSize = 16 << 20
)

// Kind tells the receiver what follows the header.
type Kind uint8

const (
	// KindFile is followed by exactly Size bytes of file data.
	KindFile Kind = iota + 1
	// KindList is followed by a Size byte file list, after which the
	// receiver drives the range command protocol on the same stream.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Flags qualify a stream.
type Flags uint8

const (
	// FlagStream means the sender can only serve file ranges in order.
	FlagStream Flags = 1 << iota
)

var (
	ErrBadMagic = errors.New("bad stream magic")
	ErrBadKind  = errors.New("unknown stream kind")
	// ErrRemote is returned by ReadAck when the peer reported a failure.
	ErrRemote = errors.New("remote side failed")
	// ErrListTooLarge rejects a file list above MaxListSize.
	ErrListTooLarge = errors.New("file list too large")
)

// Header describes one stream.
type Header struct {
	Kind  Kind
	Flags Flags
	Name  string
	Size  int64
}

// WriteTo encodes the header as one write.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	if len(h.Name) > maxNameLen {
		return 0, errors.Errorf("name too long: %d bytes", len(h.Name))
	}
	if h.Size < 0 {
		return 0, errors.Errorf("negative size %d", h.Size)
	}
	buf := make([]byte, headerSize+len(h.Name))
	copy(buf, Magic)
	buf[4] = byte(h.Kind)
	buf[5] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(h.Name)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.Size))
	copy(buf[headerSize:], h.Name)
	n, err := w.Write(buf)
	return int64(n), errors.WithStack(err)
}

// ReadHeader decodes a header written by Header.WriteTo.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [headerSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(fixed[:4]) != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "%q", fixed[:4])
	}
	h := &Header{
		Kind:  Kind(fixed[4]),
		Flags: Flags(fixed[5]),
		Size:  int64(binary.LittleEndian.Uint64(fixed[8:])),
	}
	if h.Kind != KindFile && h.Kind != KindList {
		return nil, errors.Wrapf(ErrBadKind, "%d", fixed[4])
	}
	if h.Size < 0 {
		return nil, errors.Errorf("negative size in header")
	}
	if h.Kind == KindList && h.Size > MaxListSize {
		return nil, errors.Wrapf(ErrListTooLarge, "%d bytes", h.Size)
	}
	name := make([]byte, binary.LittleEndian.Uint16(fixed[6:]))
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, errors.Wrap(err, "read header name")
	}
	h.Name = string(name)
	return h, nil
}

// WriteAck reports the outcome of a stream to the sender.
func WriteAck(w io.Writer, failure error) error {
	status := byte(0)
	if failure != nil {
		status = 1
	}
	_, err := w.Write([]byte{status})
	return errors.WithStack(err)
}

// ReadAck waits for the receiver's verdict.
func ReadAck(r io.Reader) error {
	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return errors.Wrap(err, "read ack")
	}
	if status[0] != 0 {
		return ErrRemote
	}
	return nil
}

// ListEntry is one line of a file list.
type ListEntry struct {
	Name string
	Size int64
}

// EncodeList renders entries as "size\tname\n" lines.
func EncodeList(entries []ListEntry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&b, "%d\t%s\n", e.Size, e.Name)
	}
	return b.Bytes()
}

// ParseList is the inverse of EncodeList.
func ParseList(data []byte) ([]ListEntry, error) {
	var entries []ListEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if text == "" {
			continue
		}
		sizeStr, name, ok := strings.Cut(text, "\t")
		if !ok || name == "" {
			return nil, errors.Errorf("file list line %d: malformed %q", line, text)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			return nil, errors.Errorf("file list line %d: bad size %q", line, sizeStr)
		}
		entries = append(entries, ListEntry{Name: name, Size: size})
	}
	return entries, errors.WithStack(sc.Err())
}
