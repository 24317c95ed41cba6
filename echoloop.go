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

// Package echoloop implements a TCP echo server driven by a single reactor: one goroutine owns an
// epoll/kqueue poller that multiplexes the listening socket and every client connection, while the
// application logic of EventHandler.React runs on a pool of worker goroutines.
package echoloop

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/echoloop/echoloop/internal/math"
	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/logging"
)

// Engine represents an engine context which provides information about the
// running engine and has control functions for managing state.
type Engine struct {
	// eng is the internal engine struct.
	eng *engine
}

// Validate checks whether the engine is available.
func (e Engine) Validate() error {
	if e.eng == nil {
		return errors.ErrEmptyEngine
	}
	if e.eng.isInShutdown() {
		return errors.ErrEngineInShutdown
	}
	return nil
}

// CountConnections counts the number of currently active connections and returns it,
// it returns -1 if the engine is not available.
func (e Engine) CountConnections() (count int) {
	if e.Validate() != nil {
		return -1
	}
	return e.eng.countConnections()
}

// Addr returns the address the engine is listening on, the port is the one picked
// by the kernel when the engine was asked to listen on port 0.
func (e Engine) Addr() net.Addr {
	if e.eng == nil {
		return nil
	}
	return e.eng.addr()
}

// Stop gracefully shuts down this Engine without interrupting any active event-loops,
// it waits indefinitely for connections and event-loops to be closed and then shuts down.
func (e Engine) Stop(ctx context.Context) error {
	if err := e.Validate(); err != nil {
		return err
	}

	e.eng.shutdown(nil)

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if e.eng.isInShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run starts handling events on the specified address, it blocks until the engine is shut down.
//
// Address should use a scheme prefix and be formatted
// like `tcp://192.168.0.10:9851`.
// Valid network schemes:
//
//	tcp   - bind to both IPv4 and IPv6
//	tcp4  - IPv4
//	tcp6  - IPv6
//
// The "tcp" network scheme is assumed when one is not specified.
// A failure to bind the address is returned right away.
func Run(eventHandler EventHandler, protoAddr string, opts ...Option) (err error) {
	options := initOptions(opts...)

	logger, logFlusher := logging.GetDefaultLogger(), logging.GetDefaultFlusher()
	if options.Logger == nil {
		if options.LogPath != "" {
			if logger, logFlusher, err = logging.CreateLoggerAsLocalFile(options.LogPath, options.LogLevel); err != nil {
				return
			}
		}
		options.Logger = logger
	} else {
		logger = options.Logger
		logFlusher = nil
	}
	logging.SetDefaultLoggerAndFlusher(logger, logFlusher)
	defer logging.Cleanup()

	logger.Debugf("default logging level is %s", logging.LogLevel())

	if rbc := options.ReadBufferCap; rbc <= 0 {
		options.ReadBufferCap = DefaultReadBufferCap
	} else {
		options.ReadBufferCap = math.CeilToPowerOfTwo(rbc)
	}

	network, addr, err := parseProtoAddr(protoAddr)
	if err != nil {
		return
	}

	ln, err := initListener(network, addr, options)
	if err != nil {
		logger.Errorf("failed to listen on %s: %v", protoAddr, err)
		return
	}
	defer ln.close()

	return run(eventHandler, ln, options, protoAddr)
}

var (
	allEngines sync.Map

	// shutdownPollInterval is how often we poll to check whether engine has been shut down during echoloop.Stop().
	shutdownPollInterval = 500 * time.Millisecond
)

// Stop gracefully shuts down the engine listening on protoAddr without interrupting any active event-loops,
// it waits indefinitely for connections and event-loops to be closed and then shuts down.
func Stop(ctx context.Context, protoAddr string) error {
	var eng *engine
	if s, ok := allEngines.Load(protoAddr); ok {
		eng = s.(*engine)
		eng.shutdown(nil)
		defer allEngines.Delete(protoAddr)
	} else {
		return errors.ErrEngineInShutdown
	}

	if eng.isInShutdown() {
		return errors.ErrEngineInShutdown
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if eng.isInShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseProtoAddr(protoAddr string) (network, address string, err error) {
	network = "tcp"
	address = strings.ToLower(protoAddr)
	if strings.Contains(address, "://") {
		pair := strings.SplitN(address, "://", 2)
		network, address = pair[0], pair[1]
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return "", "", errors.ErrUnsupportedProtocol
	}
	if address == "" {
		return "", "", errors.ErrInvalidNetworkAddress
	}
	return
}
