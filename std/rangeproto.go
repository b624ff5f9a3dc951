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
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/xtaci/streamxfer/xfer"
)

// Range commands flow from the receiver of a file list back to its sender:
//
//	command: magic[4] cmd[4] dataSize[8]
//	FILE_RANGE data: size[8] offset[8] nameLen[8] pad[8] name[nameLen]
//
// The sender answers a FILE_RANGE by echoing the command header with
// dataSize set to the range size, followed by the range bytes. EXIT has
// no data and no answer.
const (
	CmdMagic       = "XFRC"
	commandSize    = 16
	rangeFixedSize = 32
)

// Cmd identifies a range command.
type Cmd uint32

const (
	CmdExit Cmd = iota
	CmdFileRange
)

// Command is the fixed part of every range command.
type Command struct {
	Cmd      Cmd
	DataSize uint64
}

// RangeRequest asks for Size bytes of Name starting at Off.
type RangeRequest struct {
	Name string
	Off  int64
	Size int64
}

func WriteCommand(w io.Writer, c Command) error {
	var buf [commandSize]byte
	copy(buf[:], CmdMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.Cmd))
	binary.LittleEndian.PutUint64(buf[8:], c.DataSize)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func ReadCommand(r io.Reader) (Command, error) {
	var buf [commandSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Command{}, errors.Wrap(err, "read command")
	}
	if string(buf[:4]) != CmdMagic {
		return Command{}, errors.Wrapf(ErrBadMagic, "%q", buf[:4])
	}
	return Command{
		Cmd:      Cmd(binary.LittleEndian.Uint32(buf[4:])),
		DataSize: binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}

// WriteRange sends a FILE_RANGE command with its data in a single write.
func WriteRange(w io.Writer, req RangeRequest) error {
	if req.Off < 0 || req.Size < 0 {
		return errors.Errorf("bad range %d+%d", req.Off, req.Size)
	}
	data := make([]byte, commandSize+rangeFixedSize+len(req.Name))
	copy(data, CmdMagic)
	binary.LittleEndian.PutUint32(data[4:], uint32(CmdFileRange))
	binary.LittleEndian.PutUint64(data[8:], uint64(rangeFixedSize+len(req.Name)))
	body := data[commandSize:]
	binary.LittleEndian.PutUint64(body[0:], uint64(req.Size))
	binary.LittleEndian.PutUint64(body[8:], uint64(req.Off))
	binary.LittleEndian.PutUint64(body[16:], uint64(len(req.Name)))
	copy(body[rangeFixedSize:], req.Name)
	_, err := w.Write(data)
	return errors.WithStack(err)
}

// ReadRange decodes the data of a FILE_RANGE command whose header was
// already read.
func ReadRange(r io.Reader, c Command) (RangeRequest, error) {
	if c.Cmd != CmdFileRange {
		return RangeRequest{}, errors.Errorf("command %d is not FILE_RANGE", c.Cmd)
	}
	if c.DataSize < rangeFixedSize || c.DataSize > rangeFixedSize+maxNameLen {
		return RangeRequest{}, errors.Errorf("bad FILE_RANGE data size %d", c.DataSize)
	}
	data := make([]byte, c.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return RangeRequest{}, errors.Wrap(err, "read FILE_RANGE")
	}
	size := int64(binary.LittleEndian.Uint64(data[0:]))
	off := int64(binary.LittleEndian.Uint64(data[8:]))
	nameLen := binary.LittleEndian.Uint64(data[16:])
	if nameLen != c.DataSize-rangeFixedSize || size < 0 || off < 0 {
		return RangeRequest{}, errors.New("inconsistent FILE_RANGE")
	}
	return RangeRequest{Name: string(data[rangeFixedSize:]), Off: off, Size: size}, nil
}

// RangeClient issues range commands on a stream whose sender serves them.
type RangeClient struct {
	rw io.ReadWriter
}

func NewRangeClient(rw io.ReadWriter) *RangeClient {
	return &RangeClient{rw: rw}
}

// Fetch requests a range and transfers the answer into dst at the
// range's own offset. A nil engine means the default configuration.
func (c *RangeClient) Fetch(ctx context.Context, e *xfer.Engine, p xfer.Progress, req RangeRequest, dst io.WriterAt) error {
	if err := WriteRange(c.rw, req); err != nil {
		return err
	}
	echo, err := ReadCommand(c.rw)
	if err != nil {
		return err
	}
	if echo.Cmd != CmdFileRange || echo.DataSize != uint64(req.Size) {
		return errors.Errorf("unexpected answer %+v to range %s@%d+%d", echo, req.Name, req.Off, req.Size)
	}
	if e == nil {
		e = xfer.New(xfer.Config{})
	}
	write := WriterAtFunc(dst)
	shifted := func(b []byte, off int64) error { return write(b, req.Off+off) }
	if err := e.Transfer(ctx, p, req.Size, SequentialReadFunc(c.rw), shifted); err != nil {
		return errors.Wrapf(err, "range %s@%d", req.Name, req.Off)
	}
	return nil
}

// Exit ends the session.
func (c *RangeClient) Exit() error {
	return WriteCommand(c.rw, Command{Cmd: CmdExit})
}
