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
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
	"github.com/xtaci/tcpraw"
)

// MaxSmuxVer guards against negotiating unsupported smux protocol versions.
const MaxSmuxVer = 2

// LinkConfig holds the tunables both ends of a link must agree on. The
// json tags let binaries embed it in their own config file struct.
type LinkConfig struct {
	Key          string `json:"key"`
	Crypt        string `json:"crypt"`
	Mode         string `json:"mode"`
	MTU          int    `json:"mtu"`
	SndWnd       int    `json:"sndwnd"`
	RcvWnd       int    `json:"rcvwnd"`
	DataShard    int    `json:"datashard"`
	ParityShard  int    `json:"parityshard"`
	DSCP         int    `json:"dscp"`
	NoComp       bool   `json:"nocomp"`
	AckNodelay   bool   `json:"acknodelay"`
	NoDelay      int    `json:"nodelay"`
	Interval     int    `json:"interval"`
	Resend       int    `json:"resend"`
	NoCongestion int    `json:"nc"`
	SockBuf      int    `json:"sockbuf"`
	SmuxVer      int    `json:"smuxver"`
	SmuxBuf      int    `json:"smuxbuf"`
	FrameSize    int    `json:"framesize"`
	StreamBuf    int    `json:"streambuf"`
	KeepAlive    int    `json:"keepalive"`
	TCP          bool   `json:"tcp"`
	QPP          bool   `json:"qpp"`
	QPPCount     int    `json:"qpp-count"`
}

// ApplyMode overrides the nodelay parameters with a named profile. Unknown
// modes, including "manual", keep the explicit values.
func (c *LinkConfig) ApplyMode() {
	switch c.Mode {
	case "normal":
		c.NoDelay, c.Interval, c.Resend, c.NoCongestion = 0, 40, 2, 1
	case "fast":
		c.NoDelay, c.Interval, c.Resend, c.NoCongestion = 0, 30, 2, 1
	case "fast2":
		c.NoDelay, c.Interval, c.Resend, c.NoCongestion = 1, 20, 2, 1
	case "fast3":
		c.NoDelay, c.Interval, c.Resend, c.NoCongestion = 1, 10, 2, 1
	}
}

// Validate returns an error for settings that cannot work and warnings for
// ones that are merely unwise.
func (c *LinkConfig) Validate() ([]string, error) {
	if c.SmuxVer > MaxSmuxVer {
		return nil, errors.Errorf("unsupported smux version: %d", c.SmuxVer)
	}
	var warnings []string
	if _, ok := lookupCipher(c.Crypt); !ok {
		warnings = append(warnings, fmt.Sprintf("unknown crypt %q, using %s", c.Crypt, defaultCipher))
	}
	if c.QPP {
		qw, err := ValidateQPPParams(c.QPPCount, c.Key)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, qw...)
	}
	return warnings, nil
}

// Print logs the effective link settings.
func (c *LinkConfig) Print() {
	log.Println("encryption:", c.Crypt)
	log.Println("QPP:", c.QPP, "QPP Count:", c.QPPCount)
	log.Println("nodelay parameters:", c.NoDelay, c.Interval, c.Resend, c.NoCongestion)
	log.Println("sndwnd:", c.SndWnd, "rcvwnd:", c.RcvWnd)
	log.Println("compression:", !c.NoComp)
	log.Println("mtu:", c.MTU)
	log.Println("datashard:", c.DataShard, "parityshard:", c.ParityShard)
	log.Println("acknodelay:", c.AckNodelay)
	log.Println("dscp:", c.DSCP)
	log.Println("sockbuf:", c.SockBuf)
	log.Println("smux version:", c.SmuxVer, "smuxbuf:", c.SmuxBuf, "streambuf:", c.StreamBuf, "framesize:", c.FrameSize)
	log.Println("keepalive:", c.KeepAlive)
	log.Println("tcp:", c.TCP)
}

func (c *LinkConfig) blockCrypt() kcp.BlockCrypt {
	block, effective := SelectBlockCrypt(c.Crypt, DeriveKey(c.Key))
	c.Crypt = effective
	return block
}

// tune applies the per connection knobs to a fresh kcp session.
func (c *LinkConfig) tune(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(c.NoDelay, c.Interval, c.Resend, c.NoCongestion)
	conn.SetWindowSize(c.SndWnd, c.RcvWnd)
	conn.SetMtu(c.MTU)
	conn.SetACKNoDelay(c.AckNodelay)

	if err := conn.SetDSCP(c.DSCP); err != nil {
		log.Println("SetDSCP:", err)
	}
	if err := conn.SetReadBuffer(c.SockBuf); err != nil {
		log.Println("SetReadBuffer:", err)
	}
	if err := conn.SetWriteBuffer(c.SockBuf); err != nil {
		log.Println("SetWriteBuffer:", err)
	}
}

// Link is one smux session over kcp. Streams opened or accepted on it are
// wrapped with QPP when the link enables it.
type Link struct {
	session  *smux.Session
	remote   net.Addr
	qppKey   []byte
	qppCount uint16
}

func newLink(cfg *LinkConfig, kconn *kcp.UDPSession, server bool) (*Link, error) {
	var conn io.ReadWriteCloser = kconn
	smuxConfig, err := cfg.smuxConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.NoComp {
		conn = NewCompStream(conn)
	}

	l := &Link{remote: kconn.RemoteAddr()}
	if server {
		l.session, err = smux.Server(conn, smuxConfig)
	} else {
		l.session, err = smux.Client(conn, smuxConfig)
	}
	if err != nil {
		return nil, errors.Wrap(err, "smux")
	}
	if cfg.QPP {
		l.qppKey = []byte(cfg.Key)
		l.qppCount = uint16(cfg.QPPCount)
	}
	return l, nil
}

func (l *Link) wrap(s *smux.Stream) io.ReadWriteCloser {
	if l.qppCount > 0 {
		return NewQPPPort(s, l.qppKey, l.qppCount)
	}
	return s
}

// OpenStream opens a new stream to the peer.
func (l *Link) OpenStream() (io.ReadWriteCloser, error) {
	s, err := l.session.OpenStream()
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}
	return l.wrap(s), nil
}

// AcceptStream waits for the peer to open a stream.
func (l *Link) AcceptStream() (io.ReadWriteCloser, error) {
	s, err := l.session.AcceptStream()
	if err != nil {
		return nil, errors.Wrap(err, "accept stream")
	}
	return l.wrap(s), nil
}

func (l *Link) RemoteAddr() net.Addr { return l.remote }
func (l *Link) IsClosed() bool       { return l.session.IsClosed() }
func (l *Link) Close() error         { return l.session.Close() }

// Dial connects to addr, which may name a port range; one port of the
// range is picked at random.
func Dial(cfg *LinkConfig, addr string) (*Link, error) {
	mp, err := ParseMultiPort(addr)
	if err != nil {
		return nil, err
	}
	raddr := mp.Random()

	block := cfg.blockCrypt()
	var conn *kcp.UDPSession
	if cfg.TCP {
		pc, err := tcpraw.Dial("tcp", raddr)
		if err != nil {
			return nil, errors.Wrap(err, "tcpraw.Dial()")
		}
		conn, err = kcp.NewConn(raddr, block, cfg.DataShard, cfg.ParityShard, pc)
		if err != nil {
			return nil, errors.Wrap(err, "kcp.NewConn()")
		}
	} else {
		conn, err = kcp.DialWithOptions(raddr, block, cfg.DataShard, cfg.ParityShard)
		if err != nil {
			return nil, errors.Wrap(err, "kcp.DialWithOptions()")
		}
	}
	cfg.tune(conn)
	log.Println("smux version:", cfg.SmuxVer, "on connection:", conn.LocalAddr(), "->", conn.RemoteAddr())

	link, err := newLink(cfg, conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// Listener accepts links on every port of a range.
type Listener struct {
	cfg       *LinkConfig
	listeners []*kcp.Listener
	links     chan *Link
	errs      chan error
	die       chan struct{}
	closeOnce sync.Once
}

// Listen binds every port of addr.
func Listen(cfg *LinkConfig, addr string) (*Listener, error) {
	mp, err := ParseMultiPort(addr)
	if err != nil {
		return nil, err
	}
	block := cfg.blockCrypt()

	l := &Listener{
		cfg:   cfg,
		links: make(chan *Link),
		errs:  make(chan error, 1),
		die:   make(chan struct{}),
	}
	for port := mp.MinPort; port <= mp.MaxPort; port++ {
		laddr := mp.Addr(port - mp.MinPort)
		ln, err := listen(cfg, laddr, block)
		if err != nil {
			l.Close()
			return nil, err
		}
		if err := ln.SetDSCP(cfg.DSCP); err != nil {
			log.Println("SetDSCP:", err)
		}
		if err := ln.SetReadBuffer(cfg.SockBuf); err != nil {
			log.Println("SetReadBuffer:", err)
		}
		if err := ln.SetWriteBuffer(cfg.SockBuf); err != nil {
			log.Println("SetWriteBuffer:", err)
		}
		log.Println("listening on:", ln.Addr())
		l.listeners = append(l.listeners, ln)
		go l.acceptLoop(ln)
	}
	return l, nil
}

func (l *Listener) acceptLoop(ln *kcp.Listener) {
	for {
		conn, err := ln.AcceptKCP()
		if err != nil {
			select {
			case l.errs <- err:
			default:
			}
			return
		}
		log.Println("remote address:", conn.RemoteAddr())
		l.cfg.tune(conn)
		link, err := newLink(l.cfg, conn, true)
		if err != nil {
			log.Println(err)
			conn.Close()
			continue
		}
		select {
		case l.links <- link:
		case <-l.die:
			link.Close()
			return
		}
	}
}

// Accept waits for the next link on any port.
func (l *Listener) Accept() (*Link, error) {
	select {
	case link := <-l.links:
		return link, nil
	case err := <-l.errs:
		return nil, errors.Wrap(err, "accept")
	case <-l.die:
		return nil, errors.WithStack(io.ErrClosedPipe)
	}
}

// Addr returns the address of the first bound port.
func (l *Listener) Addr() net.Addr {
	if len(l.listeners) == 0 {
		return nil
	}
	return l.listeners[0].Addr()
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.die)
		for _, ln := range l.listeners {
			ln.Close()
		}
	})
	return nil
}
