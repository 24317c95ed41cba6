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
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/echoloop/echoloop/internal/netpoll"
	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/pool/bytebuffer"
)

type conn struct {
	fd         int                   // file descriptor
	reg        *netpoll.Registration // registration of fd in the poller
	loop       *eventloop            // connected event-loop
	ctx        interface{}           // user-defined context
	localAddr  net.Addr              // local addr
	remoteAddr net.Addr              // remote addr
	opened     bool                  // connection opened event fired, reactor only

	inMu      sync.Mutex
	inbox     *queue.Queue // payloads waiting for the worker pool
	scheduled bool         // whether a worker is draining inbox

	outMu    sync.Mutex
	outbound outboundQueue // bytes waiting to be written

	serviceStart time.Time // first read not yet answered, reactor only
}

func newConn(fd int, el *eventloop, localAddr, remoteAddr net.Addr) (c *conn) {
	c = &conn{
		fd:         fd,
		loop:       el,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		inbox:      queue.New(),
		outbound:   newOutboundQueue(),
	}
	c.reg = &netpoll.Registration{FD: fd, Callback: c.handleEvents}
	return
}

func (c *conn) handleEvents(_ int, ready netpoll.Interest) error {
	return c.loop.handleEvents(c, ready)
}

// enqueue hands b over to the outbound queue and asks the reactor to watch for writability.
func (c *conn) enqueue(b *bytebuffer.ByteBuffer) error {
	c.outMu.Lock()
	ok := c.outbound.push(b)
	c.outMu.Unlock()
	if !ok {
		return errors.ErrConnectionClosed
	}
	return c.loop.poller.UpdateInterest(c.reg, netpoll.InterestReadWrite)
}

// releaseInbox recycles the payloads no worker has picked up yet.
func (c *conn) releaseInbox() {
	c.inMu.Lock()
	for c.inbox.Length() > 0 {
		bytebuffer.Put(c.inbox.Remove().(*bytebuffer.ByteBuffer))
	}
	c.inMu.Unlock()
}

// ================================== Non-concurrency-safe API's ==================================

func (c *conn) Context() interface{}       { return c.ctx }
func (c *conn) SetContext(ctx interface{}) { c.ctx = ctx }
func (c *conn) LocalAddr() net.Addr        { return c.localAddr }
func (c *conn) RemoteAddr() net.Addr       { return c.remoteAddr }

// ==================================== Concurrency-safe API's ====================================

func (c *conn) OutboundBuffered() int {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.outbound.buffered()
}

func (c *conn) Close() error {
	return c.loop.poller.Trigger(c.loop.closeTask, c)
}
