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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/streamxfer/archive"
	"github.com/xtaci/streamxfer/dump"
	"github.com/xtaci/streamxfer/hasher"
	"github.com/xtaci/streamxfer/std"
	"github.com/xtaci/streamxfer/xfer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "xfer"
	myApp.Usage = "stream files to disk, to a receiver, or through a digest"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "127.0.0.1:29900",
			Usage: `receiver address, eg: "IP:29900" a for single port, "IP:minport-maxport" for port range`,
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret between client and server",
			EnvVar: "STREAMXFER_KEY",
		},
		cli.StringFlag{
			Name:  "crypt",
			Value: "aes",
			Usage: std.CipherNames(),
		},
		cli.StringFlag{
			Name:  "mode",
			Value: "fast",
			Usage: "profiles: fast3, fast2, fast, normal, manual",
		},
		cli.BoolFlag{
			Name:  "QPP",
			Usage: "enable Quantum Permutation Pads(QPP)",
		},
		cli.IntFlag{
			Name:  "QPPCount",
			Value: 61,
			Usage: "the prime number of pads to use for QPP: The more pads you use, the more secure the encryption. Each pad requires 256 bytes.",
		},
		cli.IntFlag{
			Name:  "mtu",
			Value: 1350,
			Usage: "set maximum transmission unit for UDP packets",
		},
		cli.IntFlag{
			Name:  "sndwnd",
			Value: 1024,
			Usage: "set send window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "rcvwnd",
			Value: 1024,
			Usage: "set receive window size(num of packets)",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "set reed-solomon erasure coding - datashard",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "set reed-solomon erasure coding - parityshard",
		},
		cli.IntFlag{
			Name:  "dscp",
			Value: 0,
			Usage: "set DSCP(6bit)",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable compression",
		},
		cli.BoolFlag{
			Name:   "acknodelay",
			Usage:  "flush ack immediately when a packet is received",
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nodelay",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "interval",
			Value:  50,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "resend",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:   "nc",
			Value:  0,
			Hidden: true,
		},
		cli.IntFlag{
			Name:  "sockbuf",
			Value: 4194304,
			Usage: "per-socket buffer in bytes",
		},
		cli.IntFlag{
			Name:  "smuxver",
			Value: 2,
			Usage: "specify smux version, available 1,2",
		},
		cli.IntFlag{
			Name:  "smuxbuf",
			Value: 4194304,
			Usage: "the overall de-mux buffer in bytes",
		},
		cli.IntFlag{
			Name:  "framesize",
			Value: 8192,
			Usage: "smux max frame size",
		},
		cli.IntFlag{
			Name:  "streambuf",
			Value: 2097152,
			Usage: "per stream receive buffer in bytes, smux v2+",
		},
		cli.IntFlag{
			Name:  "keepalive",
			Value: 10,
			Usage: "seconds between heartbeats",
		},
		cli.BoolFlag{
			Name:  "tcp",
			Usage: "to emulate a TCP connection(linux)",
		},
		cli.IntFlag{
			Name:  "buffersize",
			Value: xfer.NormalBufferSize,
			Usage: "transfer chunk size in bytes",
		},
		cli.BoolFlag{
			Name:  "constrained",
			Usage: "use 1MiB chunks, for slow destinations",
		},
		cli.StringFlag{
			Name:  "xfermode",
			Value: "multi",
			Usage: "multi: reader and writer in parallel, single: one goroutine, auto: single for small files",
		},
		cli.Int64Flag{
			Name:  "threshold",
			Value: 0,
			Usage: "largest file size run single threaded in auto mode, 0 means the chunk size",
		},
		cli.BoolFlag{
			Name:  "affinity",
			Usage: "pin reader and writer to alternating CPUs(linux)",
		},
		cli.IntFlag{
			Name:  "cpu",
			Value: 0,
			Usage: "CPU of the writer when --affinity is set",
		},
		cli.IntFlag{
			Name:  "pullframe",
			Value: dump.DefaultFrameSize,
			Usage: "bytes pulled per stream write when dumping to the network",
		},
		cli.StringFlag{
			Name:  "statlog",
			Value: "",
			Usage: "collect transfer and snmp stats to file, aware of timeformat in golang, like: ./stat-20060102.log",
		},
		cli.IntFlag{
			Name:  "statperiod",
			Value: 60,
			Usage: "stat collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress per file messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Commands = []cli.Command{
		{
			Name:      "dump",
			Usage:     "copy every file below a directory to a destination",
			ArgsUsage: "<root> [path...]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "to",
					Value: "file",
					Usage: "file, null, net (push to the receiver) or remote (let the receiver request ranges)",
				},
				cli.StringFlag{
					Name:  "dst",
					Value: ".",
					Usage: "destination directory for --to file",
				},
				cli.IntFlag{
					Name:  "throttle",
					Value: 0,
					Usage: "milliseconds to pause after every write for --to file",
				},
				cli.BoolFlag{
					Name:  "stream",
					Usage: "for --to remote, serve ranges strictly in order",
				},
			},
			Action: dumpAction,
		},
		{
			Name:      "hash",
			Usage:     "print the digest of files",
			ArgsUsage: "<file>...",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "type",
					Value: "sha256",
					Usage: "crc32, md5, sha1, sha256, xxh64",
				},
			},
			Action: hashAction,
		},
		{
			Name:      "zip",
			Usage:     "back up a directory into a zip archive",
			ArgsUsage: "<dir> <archive>",
			Action:    zipAction,
		},
		{
			Name:      "unzip",
			Usage:     "restore a zip archive into a directory",
			ArgsUsage: "<archive> <dir>",
			Action:    unzipAction,
		},
	}
	checkError(myApp.Run(os.Args))
}

// loadConfig collects the global flags, then lets -c override them.
func loadConfig(c *cli.Context) *Config {
	config := Config{}
	config.RemoteAddr = c.GlobalString("remoteaddr")
	config.Key = c.GlobalString("key")
	config.Crypt = c.GlobalString("crypt")
	config.Mode = c.GlobalString("mode")
	config.QPP = c.GlobalBool("QPP")
	config.QPPCount = c.GlobalInt("QPPCount")
	config.MTU = c.GlobalInt("mtu")
	config.SndWnd = c.GlobalInt("sndwnd")
	config.RcvWnd = c.GlobalInt("rcvwnd")
	config.DataShard = c.GlobalInt("datashard")
	config.ParityShard = c.GlobalInt("parityshard")
	config.DSCP = c.GlobalInt("dscp")
	config.NoComp = c.GlobalBool("nocomp")
	config.AckNodelay = c.GlobalBool("acknodelay")
	config.NoDelay = c.GlobalInt("nodelay")
	config.Interval = c.GlobalInt("interval")
	config.Resend = c.GlobalInt("resend")
	config.NoCongestion = c.GlobalInt("nc")
	config.SockBuf = c.GlobalInt("sockbuf")
	config.SmuxVer = c.GlobalInt("smuxver")
	config.SmuxBuf = c.GlobalInt("smuxbuf")
	config.FrameSize = c.GlobalInt("framesize")
	config.StreamBuf = c.GlobalInt("streambuf")
	config.KeepAlive = c.GlobalInt("keepalive")
	config.TCP = c.GlobalBool("tcp")
	config.BufferSize = c.GlobalInt("buffersize")
	config.Constrained = c.GlobalBool("constrained")
	config.XferMode = c.GlobalString("xfermode")
	config.Threshold = c.GlobalInt64("threshold")
	config.Affinity = c.GlobalBool("affinity")
	config.CPU = c.GlobalInt("cpu")
	config.PullFrame = c.GlobalInt("pullframe")
	config.StatLog = c.GlobalString("statlog")
	config.StatPeriod = c.GlobalInt("statperiod")
	config.Log = c.GlobalString("log")
	config.Quiet = c.GlobalBool("quiet")

	if c.GlobalString("c") != "" {
		err := parseJSONConfig(&config, c.GlobalString("c"))
		checkError(err)
	}

	// Rotate the log file instead of growing it forever.
	if config.Log != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   config.Log,
			MaxSize:    10, // MB
			MaxBackups: 3,
		})
	}
	config.ApplyMode()
	return &config
}

// session is what every command needs: an engine, a cancellable progress
// box and the stat logger.
type session struct {
	config *Config
	engine *xfer.Engine
	box    *xfer.Box
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(c *cli.Context) *session {
	config := loadConfig(c)
	ecfg, err := config.engineConfig()
	checkError(err)
	if !config.Quiet {
		ecfg.Logger = log.Default()
	}

	s := &session{config: config, engine: xfer.New(ecfg), box: xfer.NewBox(nil)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	watchSignals(s.box)
	go std.StatLogger(s.ctx, config.StatLog, config.StatPeriod, s.box.Snapshot)

	log.Println("version:", VERSION)
	log.Println("buffersize:", s.engine.Config().BufferSize, "xfermode:", config.XferMode, "affinity:", config.Affinity)
	return s
}

func (s *session) close() { s.cancel() }

// dial validates the link settings and connects to the receiver.
func (s *session) dial() *std.Link {
	warnings, err := s.config.Validate()
	checkError(err)
	for _, msg := range warnings {
		color.Red(msg)
	}
	s.config.Print()
	log.Println("remote address:", s.config.RemoteAddr)

	link, err := std.Dial(&s.config.LinkConfig, s.config.RemoteAddr)
	checkError(err)
	return link
}

func dumpAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("dump: missing <root>")
	}
	s := newSession(c)
	defer s.close()

	root := c.Args().First()
	paths := c.Args().Tail()
	if len(paths) == 0 {
		var err error
		if paths, err = dump.Walk(root); err != nil {
			return err
		}
	}
	src := dump.NewFileSource(root)
	defer src.Close()

	var loc dump.Location
	switch to := c.String("to"); to {
	case "file":
		loc = dump.File{Root: c.String("dst"), Throttle: time.Duration(c.Int("throttle")) * time.Millisecond}
	case "null":
		loc = dump.DevNull{}
	case "net":
		link := s.dial()
		defer link.Close()
		loc = dump.Network{Link: link, FrameSize: s.config.PullFrame}
	case "remote":
		link := s.dial()
		defer link.Close()
		stream, err := link.OpenStream()
		if err != nil {
			return err
		}
		defer stream.Close()
		loc = dump.Remote{Conn: stream, Stream: c.Bool("stream")}
	default:
		return errors.Errorf("dump: unknown destination %q", to)
	}

	start := time.Now()
	if err := dump.New(s.engine, s.config.Quiet).Dump(s.ctx, s.box, src, loc, paths); err != nil {
		return err
	}
	log.Println("dump finished:", len(paths), "files in", time.Since(start))
	return nil
}

func hashAction(c *cli.Context) error {
	typ, err := hasher.ParseType(c.String("type"))
	if err != nil {
		return err
	}
	s := newSession(c)
	defer s.close()

	for _, path := range c.Args() {
		s.box.NewTransfer(path)
		sum, err := hasher.HashFile(s.ctx, s.engine, s.box, typ, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s  %s\n", sum, path)
	}
	return nil
}

func zipAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("zip: want <dir> <archive>")
	}
	s := newSession(c)
	defer s.close()
	return archive.ZipDir(s.ctx, s.engine, s.box, c.Args().Get(0), c.Args().Get(1))
}

func unzipAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("unzip: want <archive> <dir>")
	}
	s := newSession(c)
	defer s.close()
	return archive.UnzipAll(s.ctx, s.engine, s.box, c.Args().Get(0), c.Args().Get(1), nil)
}

// checkError logs the supplied fatal error and terminates the process.
func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
