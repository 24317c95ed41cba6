// Copyright (c) 2024 The Echoloop Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command echoloop-server runs an echo server on a single reactor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echoloop/echoloop"
	"github.com/echoloop/echoloop/pkg/logging"
)

type echoServer struct {
	echoloop.BuiltinEventEngine

	addr string
}

func (es *echoServer) OnBoot(eng echoloop.Engine) echoloop.Action {
	logging.Infof("echo server is listening on %s (%s)", eng.Addr(), es.addr)
	return echoloop.None
}

func (es *echoServer) OnClose(c echoloop.Conn, err error) echoloop.Action {
	if err != nil {
		logging.Debugf("connection %s closed with error: %v", c.RemoteAddr(), err)
	}
	return echoloop.None
}

func main() {
	var (
		port        int
		workers     int
		readBuffer  int
		latency     bool
		lockThread  bool
		reuseAddr   bool
		pollTimeout time.Duration
		keepAlive   time.Duration
		logFile     string
		logLevel    logging.Level
	)

	flag.IntVar(&port, "port", 8000, "server port")
	flag.IntVar(&workers, "workers", 0, "capacity of the worker pool, 0 means the default")
	flag.IntVar(&readBuffer, "read-buffer", echoloop.DefaultReadBufferCap, "bytes read from a connection at most per event")
	flag.BoolVar(&latency, "latency", false, "log the service time of every connection")
	flag.BoolVar(&lockThread, "lock-os-thread", true, "pin the reactor to its OS thread")
	flag.BoolVar(&reuseAddr, "reuse-addr", true, "set SO_REUSEADDR on the listener")
	flag.DurationVar(&pollTimeout, "poll-timeout", 0, "upper bound of one poller wait, 0 waits indefinitely")
	flag.DurationVar(&keepAlive, "keep-alive", 0, "TCP keep-alive period of the connections, 0 disables it")
	flag.StringVar(&logFile, "log-file", "", "write logs to this rotated file instead of stdout")
	flag.TextVar(&logLevel, "log-level", logging.InfoLevel, "logging level of the log file")
	flag.Parse()

	protoAddr := fmt.Sprintf("tcp://:%d", port)
	es := &echoServer{addr: protoAddr}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logging.Infof("received signal %s, shutting down", s)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := echoloop.Stop(ctx, protoAddr); err != nil {
			logging.Errorf("failed to stop the echo server: %v", err)
		}
	}()

	err := echoloop.Run(es, protoAddr,
		echoloop.WithWorkerPoolSize(workers),
		echoloop.WithReadBufferCap(readBuffer),
		echoloop.WithLatencyLog(latency),
		echoloop.WithLockOSThread(lockThread),
		echoloop.WithReuseAddr(reuseAddr),
		echoloop.WithPollTimeout(pollTimeout),
		echoloop.WithTCPKeepAlive(keepAlive),
		echoloop.WithLogPath(logFile),
		echoloop.WithLogLevel(logLevel),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echoloop-server: %v\n", err)
		os.Exit(1)
	}
}
