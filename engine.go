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
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/echoloop/echoloop/internal/netpoll"
	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/pool/goroutine"
)

type engine struct {
	ln         *listener       // the listener for accepting new connections
	opts       *Options        // options with engine
	eventLoop  *eventloop      // the reactor serving the listener and all connections
	workerPool *goroutine.Pool // pool running EventHandler.React
	ownPool    bool            // whether workerPool is released along with the engine
	inShutdown int32           // whether the engine is in shutdown
	lifecycle  struct {
		*errgroup.Group

		shutdownCtx context.Context
		shutdown    context.CancelFunc
		once        sync.Once
	}
	eventHandler EventHandler // user eventHandler
}

func (eng *engine) isInShutdown() bool {
	return atomic.LoadInt32(&eng.inShutdown) == 1
}

// shutdown signals the engine to shut down.
func (eng *engine) shutdown(err error) {
	if err != nil && err != errors.ErrEngineShutdown {
		eng.opts.Logger.Errorf("engine is being shutdown with error: %v", err)
	}

	eng.lifecycle.once.Do(func() {
		eng.lifecycle.shutdown()
	})
}

func (eng *engine) countConnections() int {
	return int(eng.eventLoop.countConn())
}

func (eng *engine) addr() net.Addr {
	return eng.ln.addr
}

func (eng *engine) start() error {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return err
	}

	el := new(eventloop)
	el.ln = eng.ln
	el.engine = eng
	el.poller = p
	el.buffer = make([]byte, eng.opts.ReadBufferCap)
	el.connections = make(map[int]*conn)
	el.eventHandler = eng.eventHandler
	eng.eventLoop = el

	eng.ln.reg = &netpoll.Registration{FD: eng.ln.fd, Callback: el.accept}
	if err = p.Register(eng.ln.reg, netpoll.InterestAccept); err != nil {
		return err
	}

	eng.lifecycle.Go(el.run)
	return nil
}

func (eng *engine) closeEventLoop() {
	if eng.eventLoop != nil {
		eng.eventLoop.workers.Wait()
		if err := eng.eventLoop.poller.Close(); err != nil {
			eng.opts.Logger.Errorf("failed to close poller when stopping engine: %v", err)
		}
	}
	eng.ln.close()
	if eng.ownPool {
		eng.workerPool.Release()
	}
}

func (eng *engine) stop(s Engine) {
	// Wait on a signal for shutdown
	<-eng.lifecycle.shutdownCtx.Done()

	eng.eventHandler.OnShutdown(s)

	// Notify the reactor to exit.
	err := eng.eventLoop.poller.UrgentTrigger(func(_ interface{}) error { return errors.ErrEngineShutdown }, nil)
	if err != nil {
		eng.opts.Logger.Errorf("failed to call UrgentTrigger on event-loop when stopping engine: %v", err)
	}

	if err := eng.lifecycle.Wait(); err != nil && err != errors.ErrEngineShutdown {
		eng.opts.Logger.Errorf("engine shutdown error: %v", err)
	}

	// Close the listener and the poller of the event-loop.
	eng.closeEventLoop()

	// Put the engine into the shutdown state.
	atomic.StoreInt32(&eng.inShutdown, 1)
}

func run(eventHandler EventHandler, listener *listener, options *Options, protoAddr string) (err error) {
	shutdownCtx, shutdown := context.WithCancel(context.Background())
	eng := engine{
		ln:           listener,
		opts:         options,
		workerPool:   options.WorkerPool,
		eventHandler: eventHandler,
	}
	eng.lifecycle.Group = &errgroup.Group{}
	eng.lifecycle.shutdownCtx, eng.lifecycle.shutdown = shutdownCtx, shutdown

	switch {
	case eng.workerPool != nil:
	case options.WorkerPoolSize <= 0:
		eng.workerPool, eng.ownPool = goroutine.Default(), true
	default:
		if eng.workerPool, err = goroutine.New(options.WorkerPoolSize, options.Logger); err != nil {
			return
		}
		eng.ownPool = true
	}

	if err = eng.start(); err != nil {
		eng.closeEventLoop()
		eng.opts.Logger.Errorf("echoloop engine is stopping with error: %v", err)
		return
	}
	e := Engine{&eng}
	defer func() {
		eng.stop(e)
		allEngines.Delete(protoAddr)
	}()

	allEngines.Store(protoAddr, &eng)

	eng.opts.Logger.Infof("echoloop engine is listening on %s", eng.ln.addr)

	switch eng.eventHandler.OnBoot(e) {
	case None:
	case Shutdown:
		eng.shutdown(nil)
	}

	return nil
}
