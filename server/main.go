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
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"
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
	myApp.Name = "xferd"
	myApp.Usage = "receive dumps over kcp"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":29900",
			Usage: `kcp server listen address, eg: "IP:29900" for a single port, "IP:minport-maxport" for port range`,
		},
		cli.StringFlag{
			Name:  "dir, d",
			Value: ".",
			Usage: "directory received files are stored in",
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
		cli.StringFlag{
			Name:  "xfermode",
			Value: "multi",
			Usage: "multi, single or auto",
		},
		cli.Int64Flag{
			Name:  "threshold",
			Value: 0,
			Usage: "largest transfer run single threaded in auto mode, 0 means the chunk size",
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
		cli.Int64Flag{
			Name:  "rangesize",
			Value: defaultRangeSize,
			Usage: "bytes requested per FILE_RANGE command when pulling a file list",
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
			Usage: "to suppress the 'stream open/close' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.String("listen")
		config.Dir = c.String("dir")
		config.Key = c.String("key")
		config.Crypt = c.String("crypt")
		config.Mode = c.String("mode")
		config.QPP = c.Bool("QPP")
		config.QPPCount = c.Int("QPPCount")
		config.MTU = c.Int("mtu")
		config.SndWnd = c.Int("sndwnd")
		config.RcvWnd = c.Int("rcvwnd")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.DSCP = c.Int("dscp")
		config.NoComp = c.Bool("nocomp")
		config.AckNodelay = c.Bool("acknodelay")
		config.NoDelay = c.Int("nodelay")
		config.Interval = c.Int("interval")
		config.Resend = c.Int("resend")
		config.NoCongestion = c.Int("nc")
		config.SockBuf = c.Int("sockbuf")
		config.SmuxVer = c.Int("smuxver")
		config.SmuxBuf = c.Int("smuxbuf")
		config.FrameSize = c.Int("framesize")
		config.StreamBuf = c.Int("streambuf")
		config.KeepAlive = c.Int("keepalive")
		config.TCP = c.Bool("tcp")
		config.BufferSize = c.Int("buffersize")
		config.XferMode = c.String("xfermode")
		config.Threshold = c.Int64("threshold")
		config.Affinity = c.Bool("affinity")
		config.CPU = c.Int("cpu")
		config.RangeSize = c.Int64("rangesize")
		config.StatLog = c.String("statlog")
		config.StatPeriod = c.Int("statperiod")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			log.SetOutput(&lumberjack.Logger{
				Filename:   config.Log,
				MaxSize:    10, // MB
				MaxBackups: 3,
			})
		}
		config.ApplyMode()

		warnings, err := config.Validate()
		checkError(err)
		for _, msg := range warnings {
			color.Red(msg)
		}

		ecfg, err := config.engineConfig()
		checkError(err)
		if !config.Quiet {
			ecfg.Logger = log.Default()
		}
		checkError(os.MkdirAll(config.Dir, 0755))

		log.Println("version:", VERSION)
		log.Println("listening on:", config.Listen)
		log.Println("target directory:", config.Dir)
		config.Print()
		log.Println("buffersize:", ecfg.BufferSize, "xfermode:", config.XferMode, "rangesize:", config.RangeSize)

		r := &receiver{
			dir:       config.Dir,
			engine:    xfer.New(ecfg),
			box:       xfer.NewBox(nil),
			rangeSize: config.RangeSize,
			quiet:     config.Quiet,
		}
		ctx := context.Background()
		go std.StatLogger(ctx, config.StatLog, config.StatPeriod, r.box.Snapshot)
		watchSignals(r.box)

		ln, err := std.Listen(&config.LinkConfig, config.Listen)
		checkError(err)
		defer ln.Close()
		for {
			link, err := ln.Accept()
			if err != nil {
				log.Printf("%+v", err)
				return err
			}
			go serveLink(ctx, r, link)
		}
	}
	checkError(myApp.Run(os.Args))
}

// serveLink handles every stream the peer opens on link.
func serveLink(ctx context.Context, r *receiver, link *std.Link) {
	defer link.Close()
	log.Println("link opened:", link.RemoteAddr())
	defer log.Println("link closed:", link.RemoteAddr())
	for {
		s, err := link.AcceptStream()
		if err != nil {
			r.logln(err)
			return
		}
		go r.handleStream(ctx, s)
	}
}

// checkError logs the supplied fatal error and terminates the process.
func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
