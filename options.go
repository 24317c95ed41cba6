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

package echoloop

import (
	"time"

	"github.com/echoloop/echoloop/pkg/logging"
	"github.com/echoloop/echoloop/pkg/pool/goroutine"
)

// DefaultReadBufferCap is the capacity of the read buffer of the event-loop, 8KB.
const DefaultReadBufferCap = 8 * 1024

// Option is a function that will set up option.
type Option func(opts *Options)

func initOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// TCPSocketOpt is the type of TCP socket options.
type TCPSocketOpt int

// Available TCP socket options.
const (
	TCPNoDelay TCPSocketOpt = iota
	TCPDelay
)

// Options are configurations for the echoloop engine.
type Options struct {
	// ================================== Options for the event-loop ==================================

	// LockOSThread is used to determine whether the reactor goroutine is pinned to its OS thread.
	LockOSThread bool

	// ReadBufferCap is the maximum number of bytes that can be read from the peer in one read event,
	// the default value is 8KB, it is rounded up to the nearest power of two.
	ReadBufferCap int

	// PollTimeout bounds a single wait of the poller, the zero value waits until an event or a wake-up arrives.
	PollTimeout time.Duration

	// LatencyLog enables a debug log line carrying the service time of a connection,
	// measured from the first read to the moment its outbound queue is drained.
	LatencyLog bool

	// ================================== Options for the worker pool ==================================

	// WorkerPoolSize is the capacity of the worker pool that runs EventHandler.React,
	// the default value is goroutine.DefaultAntsPoolSize.
	WorkerPoolSize int

	// WorkerPool replaces the worker pool created by the engine, it is not released on shutdown.
	WorkerPool *goroutine.Pool

	// =================================== Options for the sockets ===================================

	// ReuseAddr indicates whether to set the SO_REUSEADDR socket option on the listener.
	ReuseAddr bool

	// TCPKeepAlive enables the TCP keep-alive mechanism (SO_KEEPALIVE) and sets its period.
	TCPKeepAlive time.Duration

	// TCPNoDelay controls whether the operating system should delay
	// packet transmission in hopes of sending fewer packets (Nagle's algorithm).
	//
	// The default is true (no delay), meaning that data is sent
	// as soon as possible after a write operation.
	TCPNoDelay TCPSocketOpt

	// SocketRecvBuffer sets the maximum socket receive buffer in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the maximum socket send buffer in bytes.
	SocketSendBuffer int

	// ================================== Options for logging ==================================

	// LogPath is the local path where logs will be written, this is the easiest way to set up logging,
	// echoloop instantiates a default uber-go/zap logger with this given log path, you are also allowed to employ
	// your own logger during the lifetime by implementing the following logging.Logger interface.
	//
	// Note that this option can be overridden by the option Logger.
	LogPath string

	// LogLevel indicates the logging level, it should be used along with LogPath.
	LogLevel logging.Level

	// Logger is the customized logger for logging info, if it is not set,
	// then echoloop will use the default logger powered by go.uber.org/zap.
	Logger logging.Logger
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithLockOSThread sets up LockOSThread mode for the reactor goroutine.
func WithLockOSThread(lockOSThread bool) Option {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithReadBufferCap sets up ReadBufferCap for reading bytes.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithPollTimeout sets up the upper bound of one poller wait.
func WithPollTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = timeout
	}
}

// WithLatencyLog enables the per-connection service time log.
func WithLatencyLog(latencyLog bool) Option {
	return func(opts *Options) {
		opts.LatencyLog = latencyLog
	}
}

// WithWorkerPoolSize sets up the capacity of the worker pool.
func WithWorkerPoolSize(size int) Option {
	return func(opts *Options) {
		opts.WorkerPoolSize = size
	}
}

// WithWorkerPool sets up a worker pool owned by the caller.
func WithWorkerPool(pool *goroutine.Pool) Option {
	return func(opts *Options) {
		opts.WorkerPool = pool
	}
}

// WithReuseAddr sets up SO_REUSEADDR socket option.
func WithReuseAddr(reuseAddr bool) Option {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(tcpKeepAlive time.Duration) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithTCPNoDelay enable/disable the TCP_NODELAY socket option.
func WithTCPNoDelay(tcpNoDelay TCPSocketOpt) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = tcpNoDelay
	}
}

// WithSocketRecvBuffer sets the maximum socket receive buffer in bytes.
func WithSocketRecvBuffer(recvBuf int) Option {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer sets the maximum socket send buffer in bytes.
func WithSocketSendBuffer(sendBuf int) Option {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithLogPath is an option to set up the local path of log file.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithLogLevel is an option to set up the logging level.
func WithLogLevel(lvl logging.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = lvl
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
