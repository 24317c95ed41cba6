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

//go:build darwin || dragonfly || freebsd

package netpoll

import (
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/echoloop/echoloop/internal/queue"
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	fd                   int // kqueue fd
	wakeupCall           int32
	registrations        map[int]*Registration
	events               eventList
	ready                readySet
	asyncTaskQueue       queue.AsyncTaskQueue // queue with low priority
	urgentAsyncTaskQueue queue.AsyncTaskQueue // queue with high priority
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		poller = nil
		err = os.NewSyscallError("kqueue", err)
		return
	}
	unix.CloseOnExec(poller.fd)
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = poller.Close()
		poller = nil
		err = os.NewSyscallError("kevent add|clear", err)
		return
	}
	poller.registrations = make(map[int]*Registration, InitPollEventsCap)
	poller.events = newEventList(InitPollEventsCap)
	poller.ready = newReadySet()
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	// Wake is a no-op once the poller is closed.
	atomic.StoreInt32(&p.wakeupCall, 1)
	return closeFD(p.fd)
}

var note = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

func (p *Poller) wakeup() (err error) {
	if _, err = unix.Kevent(p.fd, note, nil, nil); err == unix.EAGAIN {
		err = nil
	}
	return os.NewSyscallError("kevent trigger", err)
}

func (p *Poller) wait(msec int) (int, error) {
	var tsp *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(time.Duration(msec) * time.Millisecond))
		tsp = &ts
	}
	n, err := unix.Kevent(p.fd, nil, p.events.events, tsp)
	if err != nil && err != unix.EINTR {
		err = os.NewSyscallError("kevent wait", err)
	}
	return n, err
}

// collect translates the kevents of this cycle into the ready set, merging the
// separate read and write filters of one descriptor into a single ReadyEvent.
// It reports whether the poller has been woken up to run queued tasks.
func (p *Poller) collect(n int) (wakenUp bool) {
	for i := 0; i < n; i++ {
		ev := &p.events.events[i]
		if ev.Filter == unix.EVFILT_USER {
			wakenUp = true
			continue
		}
		reg := p.registrations[int(ev.Ident)]
		if reg == nil {
			continue
		}
		var ready Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			if reg.interest&InterestAccept != 0 {
				ready |= InterestAccept
			} else {
				ready |= InterestRead
			}
		case unix.EVFILT_WRITE:
			ready |= InterestWrite
		}
		if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			ready |= ReadyError
		}
		p.ready.add(reg, ready)
	}
	return
}

func kevent(fd int, filter, flags int) unix.Kevent_t {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	return ev
}

func (p *Poller) apply(changes []unix.Kevent_t, op string) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return os.NewSyscallError(op, err)
}

func (p *Poller) add(fd int, interest Interest) error {
	return p.mod(fd, 0, interest)
}

func (p *Poller) mod(fd int, old, interest Interest) error {
	var changes []unix.Kevent_t
	wasRead, isRead := old&(InterestAccept|InterestRead) != 0, interest&(InterestAccept|InterestRead) != 0
	switch {
	case isRead && !wasRead:
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD))
	case !isRead && wasRead:
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	wasWrite, isWrite := old&InterestWrite != 0, interest&InterestWrite != 0
	switch {
	case isWrite && !wasWrite:
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD))
	case !isWrite && wasWrite:
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	return p.apply(changes, "kevent mod")
}

func (p *Poller) del(fd int, interest Interest) error {
	err := p.mod(fd, interest, 0)
	if err != nil && (os.IsNotExist(err) || err.(*os.SyscallError).Err == unix.EBADF) {
		// Closing a descriptor removes its filters, nothing left to delete.
		err = nil
	}
	return err
}

type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) eventList {
	return eventList{size, make([]unix.Kevent_t, size)}
}

func (el *eventList) adjust(n int) {
	if n == el.size && el.size<<1 <= MaxPollEventsCap {
		el.size <<= 1
		el.events = make([]unix.Kevent_t, el.size)
	} else if n < el.size>>1 && el.size>>1 >= MinPollEventsCap {
		el.size >>= 1
		el.events = make([]unix.Kevent_t, el.size)
	}
}
