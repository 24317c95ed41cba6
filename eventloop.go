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

//go:build darwin || dragonfly || freebsd || linux

package echoloop

import (
	goerrors "errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/echoloop/echoloop/internal/io"
	"github.com/echoloop/echoloop/internal/netpoll"
	"github.com/echoloop/echoloop/internal/socket"
	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/logging"
	"github.com/echoloop/echoloop/pkg/pool/bytebuffer"
)

// iovMax is the limit of buffers gathered by one writev.
const iovMax = 1024

type eventloop struct {
	ln           *listener       // listener
	engine       *engine         // engine in loop
	poller       *netpoll.Poller // epoll or kqueue
	buffer       []byte          // read packet buffer whose capacity is set by user, default value is 8KB
	iov          [][]byte        // scratch space of write
	connCount    int32           // number of active connections in event-loop
	connections  map[int]*conn   // TCP connection map: fd -> conn
	workers      sync.WaitGroup  // in-flight workers serving connections of this loop
	parked       []*conn         // connections waiting for a free worker
	retrying     bool            // whether a resubmission of parked connections is pending
	eventHandler EventHandler    // user eventHandler
}

func (el *eventloop) getLogger() logging.Logger {
	return el.engine.opts.Logger
}

func (el *eventloop) addConn(delta int32) {
	atomic.AddInt32(&el.connCount, delta)
}

func (el *eventloop) countConn() int32 {
	return atomic.LoadInt32(&el.connCount)
}

func (el *eventloop) closeConns() {
	for _, c := range el.connections {
		_ = el.close(c, nil)
	}
}

// accept takes exactly one pending connection off the listener.
func (el *eventloop) accept(fd int, _ netpoll.Interest) error {
	nfd, remoteAddr, err := socket.Accept(fd)
	if err != nil {
		if goerrors.Is(err, unix.EAGAIN) || goerrors.Is(err, unix.EINTR) || goerrors.Is(err, unix.ECONNABORTED) {
			return nil
		}
		if goerrors.Is(err, unix.EMFILE) || goerrors.Is(err, unix.ENFILE) ||
			goerrors.Is(err, unix.ENOBUFS) || goerrors.Is(err, unix.ENOMEM) {
			el.pauseAccept()
		}
		return fmt.Errorf("%w: %v", errors.ErrAcceptSocket, err)
	}

	opts := el.engine.opts
	if opts.TCPNoDelay == TCPNoDelay {
		logging.Error(socket.SetNoDelay(nfd, 1))
	}
	if opts.TCPKeepAlive > 0 {
		logging.Error(socket.SetKeepAlivePeriod(nfd, int(opts.TCPKeepAlive/time.Second)))
	}
	if opts.SocketRecvBuffer > 0 {
		logging.Error(socket.SetRecvBuffer(nfd, opts.SocketRecvBuffer))
	}
	if opts.SocketSendBuffer > 0 {
		logging.Error(socket.SetSendBuffer(nfd, opts.SocketSendBuffer))
	}

	localAddr, err := socket.LocalAddr(nfd)
	if err != nil {
		localAddr = el.ln.addr
	}
	c := newConn(nfd, el, localAddr, remoteAddr)
	if err = el.poller.Register(c.reg, netpoll.InterestRead); err != nil {
		_ = unix.Close(nfd)
		return err
	}
	el.connections[nfd] = c
	c.opened = true
	el.addConn(1)
	el.getLogger().Debugf("accepted connection from %s", remoteAddr)

	return el.handleAction(c, el.eventHandler.OnOpen(c))
}

// acceptRetryDelay is how long the listener is left alone after the process ran out of resources.
const acceptRetryDelay = 100 * time.Millisecond

// pauseAccept stops watching the listener so a level-triggered backlog the process cannot accept
// does not spin the reactor, accepting resumes after acceptRetryDelay.
func (el *eventloop) pauseAccept() {
	if err := el.poller.ModInterest(el.ln.reg, 0); err != nil {
		el.getLogger().Warnf("failed to pause accepting connections: %v", err)
		return
	}
	time.AfterFunc(acceptRetryDelay, func() {
		if err := el.poller.Trigger(el.resumeAccept, nil); err != nil {
			el.getLogger().Errorf("failed to resume accepting connections: %v", err)
		}
	})
}

func (el *eventloop) resumeAccept(_ interface{}) error {
	if !el.ln.reg.Valid() {
		return nil
	}
	return el.poller.ModInterest(el.ln.reg, netpoll.InterestAccept)
}

// handleEvents serves one coalesced readiness event of c, pending output goes first.
func (el *eventloop) handleEvents(c *conn, ready netpoll.Interest) error {
	if ready&netpoll.InterestWrite != 0 {
		if err := el.write(c); err != nil || !c.opened {
			return err
		}
	}
	if ready&(netpoll.InterestRead|netpoll.ReadyError) != 0 {
		return el.read(c)
	}
	return nil
}

func (el *eventloop) read(c *conn) error {
	n, err := unix.Read(c.fd, el.buffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return el.close(c, os.NewSyscallError("read", err))
	}
	if n == 0 {
		return el.close(c, nil)
	}

	if el.engine.opts.LatencyLog && c.serviceStart.IsZero() {
		c.serviceStart = time.Now()
	}
	return el.dispatch(c, bytebuffer.From(el.buffer[:n]))
}

func (el *eventloop) write(c *conn) error {
	c.outMu.Lock()
	el.iov = c.outbound.peek(el.iov[:0], iovMax)
	c.outMu.Unlock()

	var (
		n   int
		err error
	)
	switch len(el.iov) {
	case 0:
	case 1:
		n, err = unix.Write(c.fd, el.iov[0])
	default:
		n, err = io.Writev(c.fd, el.iov)
	}
	for i := range el.iov {
		el.iov[i] = nil
	}

	c.outMu.Lock()
	if n > 0 {
		c.outbound.discard(n)
	}
	empty := c.outbound.isEmpty()
	c.outMu.Unlock()

	if err != nil && err != unix.EAGAIN {
		return el.close(c, os.NewSyscallError("write", err))
	}

	// A writable registration with nothing left to write would be reported again on every poll.
	if empty {
		if err = el.poller.ModInterest(c.reg, netpoll.InterestRead); err != nil {
			return el.close(c, err)
		}
		if !c.serviceStart.IsZero() {
			el.getLogger().Debugf("connection(%s) served in %s", c.remoteAddr, time.Since(c.serviceStart))
			c.serviceStart = time.Time{}
		}
	}
	return nil
}

// closeTask runs a Conn.Close request on the reactor.
func (el *eventloop) closeTask(arg interface{}) error {
	return el.close(arg.(*conn), nil)
}

// close releases c, it is a no-op for a connection that has already been released.
func (el *eventloop) close(c *conn, err error) (rerr error) {
	if !c.opened || el.connections[c.fd] != c {
		return nil
	}

	// Send residual data in buffer back to the peer before actually closing the connection.
	c.outMu.Lock()
	if !c.outbound.isEmpty() {
		el.iov = c.outbound.peek(el.iov[:0], iovMax)
		if n, _ := io.Writev(c.fd, el.iov); n > 0 {
			c.outbound.discard(n)
		}
		for i := range el.iov {
			el.iov[i] = nil
		}
	}
	c.outbound.release()
	c.outMu.Unlock()
	c.releaseInbox()
	c.serviceStart = time.Time{}

	if err0 := el.poller.Cancel(c.reg); err0 != nil {
		rerr = err0
		el.getLogger().Warnf("failed to cancel the registration of fd=%d in event-loop: %v", c.fd, err0)
	}
	if err1 := unix.Close(c.fd); err1 != nil {
		rerr = os.NewSyscallError("close", err1)
		el.getLogger().Warnf("failed to close fd=%d in event-loop: %v", c.fd, err1)
	}

	delete(el.connections, c.fd)
	c.opened = false
	el.addConn(-1)

	if el.eventHandler.OnClose(c, err) == Shutdown {
		return errors.ErrEngineShutdown
	}
	return
}

func (el *eventloop) handleAction(c *conn, action Action) error {
	switch action {
	case None:
		return nil
	case Close:
		return el.close(c, nil)
	case Shutdown:
		return errors.ErrEngineShutdown
	default:
		return nil
	}
}

func (el *eventloop) run() (err error) {
	if el.engine.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	defer func() {
		el.closeConns()
		el.engine.shutdown(err)
	}()

	err = el.poller.Polling(el.engine.opts.PollTimeout)
	if err == errors.ErrEngineShutdown {
		el.getLogger().Debugf("event-loop is exiting due to engine shutdown")
	} else if err != nil {
		el.getLogger().Errorf("event-loop is exiting due to error: %v", err)
	}
	return
}
