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

// Package netpoll implements the readiness multiplexer of echoloop: a Poller
// owns one epoll/kqueue handle, tracks the Registration (and its interest set)
// of every monitored file-descriptor and dispatches readiness events to the
// registration callbacks from the single goroutine that runs Polling.
//
// Register, ModInterest and Cancel must only be called from the polling goroutine.
// UpdateInterest, Trigger, UrgentTrigger and Wake are safe for concurrent use:
// they queue a message for the polling goroutine and wake it up.
package netpoll

import (
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/echoloop/echoloop/internal/queue"
	"github.com/echoloop/echoloop/pkg/errors"
	"github.com/echoloop/echoloop/pkg/logging"
)

const (
	// InitPollEventsCap represents the initial capacity of poller event-list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum limitation of events that the poller can process.
	MaxPollEventsCap = 1024
	// MinPollEventsCap is the minimum limitation of events that the poller can process.
	MinPollEventsCap = 32
	// MaxAsyncTasksAtOneTime is the maximum amount of asynchronous tasks that the event-loop will process at one time.
	MaxAsyncTasksAtOneTime = 256
)

// Interest is a set of readiness events.
type Interest uint8

const (
	// InterestAccept is the readiness of a listening socket with pending connections.
	InterestAccept Interest = 1 << iota
	// InterestRead is the readiness of a socket with bytes to read or a closed peer.
	InterestRead
	// InterestWrite is the readiness of a socket whose send buffer has room.
	InterestWrite
	// ReadyError is never subscribed to, it is reported alongside the other readiness
	// when the kernel flags the socket as hung up or failed.
	ReadyError
)

// InterestReadWrite subscribes to both readable and writable events.
const InterestReadWrite = InterestRead | InterestWrite

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var names []string
	if i&InterestAccept != 0 {
		names = append(names, "accept")
	}
	if i&InterestRead != 0 {
		names = append(names, "read")
	}
	if i&InterestWrite != 0 {
		names = append(names, "write")
	}
	if i&ReadyError != 0 {
		names = append(names, "error")
	}
	return strings.Join(names, "|")
}

// PollEventHandler is the callback for a ready registration.
type PollEventHandler func(fd int, ready Interest) error

// Registration binds a file-descriptor to its interest set and to the callback
// which carries the state attached to it. A cancelled Registration is never reused.
type Registration struct {
	FD       int
	Callback PollEventHandler

	interest   Interest
	registered bool
	cancelled  bool
}

// Interest returns the interest set currently subscribed in the kernel.
func (r *Registration) Interest() Interest {
	return r.interest
}

// Valid reports whether the registration is still monitored by a poller.
func (r *Registration) Valid() bool {
	return r.registered && !r.cancelled
}

// ReadyEvent names a registration and the subset of its interests that are satisfied.
type ReadyEvent struct {
	Reg   *Registration
	Ready Interest
}

// readySet coalesces the kernel events of one poll cycle into a single ReadyEvent
// per registration, in the order registrations were first reported.
type readySet struct {
	events []ReadyEvent
	index  map[*Registration]int
}

func newReadySet() readySet {
	return readySet{
		events: make([]ReadyEvent, 0, InitPollEventsCap),
		index:  make(map[*Registration]int, InitPollEventsCap),
	}
}

func (rs *readySet) add(reg *Registration, ready Interest) {
	if i, ok := rs.index[reg]; ok {
		rs.events[i].Ready |= ready
		return
	}
	rs.index[reg] = len(rs.events)
	rs.events = append(rs.events, ReadyEvent{reg, ready})
}

func (rs *readySet) reset() {
	rs.events = rs.events[:0]
	for reg := range rs.index {
		delete(rs.index, reg)
	}
}

type interestRequest struct {
	reg      *Registration
	interest Interest
}

// Register starts monitoring reg.FD for the given interest.
func (p *Poller) Register(reg *Registration, interest Interest) error {
	if reg.cancelled {
		return errors.ErrCancelledRegistration
	}
	if err := p.add(reg.FD, interest); err != nil {
		return err
	}
	reg.interest, reg.registered = interest, true
	p.registrations[reg.FD] = reg
	return nil
}

// ModInterest renews the interest set of reg in the kernel.
func (p *Poller) ModInterest(reg *Registration, interest Interest) error {
	if !reg.Valid() {
		return errors.ErrCancelledRegistration
	}
	if reg.interest == interest {
		return nil
	}
	if err := p.mod(reg.FD, reg.interest, interest); err != nil {
		return err
	}
	reg.interest = interest
	return nil
}

// Cancel stops monitoring reg, it is a no-op for a registration that is not live.
func (p *Poller) Cancel(reg *Registration) error {
	if !reg.Valid() {
		return nil
	}
	reg.cancelled = true
	if p.registrations[reg.FD] == reg {
		delete(p.registrations, reg.FD)
	}
	return p.del(reg.FD, reg.interest)
}

// UpdateInterest asks the polling goroutine to renew the interest set of reg and wakes it up.
// The request is dropped if reg has been cancelled by the time it is applied.
func (p *Poller) UpdateInterest(reg *Registration, interest Interest) error {
	return p.Trigger(p.applyInterest, &interestRequest{reg, interest})
}

func (p *Poller) applyInterest(arg interface{}) error {
	req := arg.(*interestRequest)
	if !req.reg.Valid() {
		return nil
	}
	return p.ModInterest(req.reg, req.interest)
}

// UrgentTrigger puts task into urgentAsyncTaskQueue and wakes up the poller which is waiting for network-events,
// then the poller will get tasks from urgentAsyncTaskQueue and run them.
//
// Note that urgentAsyncTaskQueue is a queue with high-priority and its size is expected to be small,
// so only those urgent tasks should be put into this queue.
func (p *Poller) UrgentTrigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.urgentAsyncTaskQueue.Enqueue(task)
	return p.Wake()
}

// Trigger is like UrgentTrigger but it puts task into asyncTaskQueue,
// call this method when the task is not so urgent, for instance an interest change.
//
// Note that asyncTaskQueue is a queue with low-priority whose size may grow large and tasks in it may backlog.
func (p *Poller) Trigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.asyncTaskQueue.Enqueue(task)
	return p.Wake()
}

// Wake interrupts a blocked Polling, at most one wake-up is in flight at a time.
func (p *Poller) Wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		return p.wakeup()
	}
	return nil
}

// Polling blocks the current goroutine, waiting for network-events, timeout <= 0 waits indefinitely.
// It only returns on errors.ErrEngineShutdown or when the poller itself fails.
func (p *Poller) Polling(timeout time.Duration) error {
	msec := -1
	if timeout > 0 {
		if msec = int(timeout / time.Millisecond); msec == 0 {
			msec = 1
		}
	}

	wait := msec
	for {
		n, err := p.wait(wait)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			wait = msec
			runtime.Gosched()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in poller: %v", err)
			return err
		}
		wait = 0

		doChores := p.collect(n)
		for i := range p.ready.events {
			ev := p.ready.events[i]
			p.ready.events[i] = ReadyEvent{}
			if !ev.Reg.Valid() {
				continue // cancelled by an earlier event of this cycle
			}
			switch err = ev.Reg.Callback(ev.Reg.FD, ev.Ready); err {
			case nil:
			case errors.ErrEngineShutdown:
				return err
			default:
				logging.Warnf("error occurs in event-loop: %v", err)
			}
		}
		p.ready.reset()

		if doChores {
			if err = p.doChores(); err != nil {
				return err
			}
		}

		p.events.adjust(n)
	}
}

func (p *Poller) doChores() error {
	task := p.urgentAsyncTaskQueue.Dequeue()
	for ; task != nil; task = p.urgentAsyncTaskQueue.Dequeue() {
		err := task.Run(task.Arg)
		queue.PutTask(task)
		switch err {
		case nil:
		case errors.ErrEngineShutdown:
			return err
		default:
			logging.Warnf("error occurs in urgent task, %v", err)
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		if task = p.asyncTaskQueue.Dequeue(); task == nil {
			break
		}
		err := task.Run(task.Arg)
		queue.PutTask(task)
		switch err {
		case nil:
		case errors.ErrEngineShutdown:
			return err
		default:
			logging.Warnf("error occurs in task, %v", err)
		}
	}
	atomic.StoreInt32(&p.wakeupCall, 0)
	if !p.asyncTaskQueue.IsEmpty() || !p.urgentAsyncTaskQueue.IsEmpty() {
		if err := p.Wake(); err != nil {
			logging.Errorf("failed to wake up poller with backlogged tasks: %v", err)
		}
	}
	return nil
}

func closeFD(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
