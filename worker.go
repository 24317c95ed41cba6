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
	"fmt"
	"time"

	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/pool/bytebuffer"
	"github.com/echoloop/echoloop/pkg/pool/goroutine"
)

// dispatch appends a received payload to the inbox of c and makes sure a worker is draining it,
// at most one worker serves a connection at a time so its payloads are handled in arrival order.
func (el *eventloop) dispatch(c *conn, b *bytebuffer.ByteBuffer) error {
	c.inMu.Lock()
	c.inbox.Add(b)
	if c.scheduled {
		c.inMu.Unlock()
		return nil
	}
	c.scheduled = true
	c.inMu.Unlock()

	return el.submit(c)
}

// submitRetryDelay is how long a connection waits for a worker when the pool is saturated.
const submitRetryDelay = time.Millisecond

// submit hands c over to the worker pool. A saturated pool parks c, its payloads stay in the inbox
// and the reactor submits it again shortly; c is released only when the pool cannot take tasks anymore.
func (el *eventloop) submit(c *conn) error {
	el.workers.Add(1)
	err := el.engine.workerPool.Submit(c.serve)
	if err == nil {
		return nil
	}
	el.workers.Done()

	if err == goroutine.ErrPoolOverload {
		el.parked = append(el.parked, c)
		if !el.retrying {
			el.retrying = true
			time.AfterFunc(submitRetryDelay, func() {
				if err := el.poller.Trigger(el.resubmit, nil); err != nil {
					el.getLogger().Errorf("failed to resubmit parked connections: %v", err)
				}
			})
		}
		return nil
	}

	c.inMu.Lock()
	c.scheduled = false
	c.inMu.Unlock()
	return el.close(c, fmt.Errorf("failed to hand connection over to the worker pool: %w", err))
}

// resubmit runs on the reactor, it offers the parked connections to the worker pool again.
func (el *eventloop) resubmit(_ interface{}) error {
	el.retrying = false
	parked := el.parked
	el.parked = nil
	for i, c := range parked {
		if !c.opened {
			continue
		}
		if err := el.submit(c); err != nil {
			el.parked = append(el.parked, parked[i+1:]...)
			return err
		}
	}
	return nil
}

// serve runs on a worker goroutine, it reacts to every payload queued in the inbox of c
// and queues the replies for the reactor to write.
func (c *conn) serve() {
	el := c.loop
	defer el.workers.Done()
	defer func() {
		if r := recover(); r != nil {
			c.inMu.Lock()
			c.scheduled = false
			c.inMu.Unlock()
			_ = c.Close()
			panic(r)
		}
	}()

	for {
		c.inMu.Lock()
		if c.inbox.Length() == 0 {
			c.scheduled = false
			c.inMu.Unlock()
			return
		}
		b := c.inbox.Remove().(*bytebuffer.ByteBuffer)
		c.inMu.Unlock()

		out, action := el.eventHandler.React(b.B, c)
		if len(out) > 0 {
			if err := c.enqueue(bytebuffer.From(out)); err != nil && err != errors.ErrConnectionClosed {
				el.getLogger().Warnf("failed to queue reply for connection(fd=%d): %v", c.fd, err)
			}
		}
		bytebuffer.Put(b)

		switch action {
		case None:
		case Close:
			_ = c.Close()
		case Shutdown:
			err := el.poller.UrgentTrigger(func(_ interface{}) error { return errors.ErrEngineShutdown }, nil)
			if err != nil {
				el.getLogger().Errorf("failed to shut the engine down from connection(fd=%d): %v", c.fd, err)
			}
		}
	}
}
