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

//go:build linux

package netpoll

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/echoloop/echoloop/internal/queue"
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	fd                   int    // epoll fd
	wfd                  int    // wake fd
	wfdBuf               []byte // wfd buffer to read packet
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
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		poller = nil
		err = os.NewSyscallError("epoll_create1", err)
		return
	}
	if poller.wfd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = closeFD(poller.fd)
		poller = nil
		err = os.NewSyscallError("eventfd", err)
		return
	}
	poller.wfdBuf = make([]byte, 8)
	if err = poller.add(poller.wfd, InterestRead); err != nil {
		_ = poller.Close()
		poller = nil
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
	if err := closeFD(p.fd); err != nil {
		return err
	}
	return closeFD(p.wfd)
}

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

func (p *Poller) wakeup() (err error) {
	for _, err = unix.Write(p.wfd, b); err == unix.EINTR; _, err = unix.Write(p.wfd, b) {
	}
	if err == unix.EAGAIN {
		// The counter is saturated, the poller is going to wake up anyway.
		err = nil
	}
	return os.NewSyscallError("write", err)
}

func (p *Poller) wait(msec int) (int, error) {
	n, err := unix.EpollWait(p.fd, p.events.events, msec)
	if err != nil && err != unix.EINTR {
		err = os.NewSyscallError("epoll_wait", err)
	}
	return n, err
}

// collect translates the epoll events of this cycle into the ready set,
// it reports whether the poller has been woken up to run queued tasks.
func (p *Poller) collect(n int) (wakenUp bool) {
	for i := 0; i < n; i++ {
		ev := &p.events.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			wakenUp = true
			_, _ = unix.Read(p.wfd, p.wfdBuf)
			continue
		}
		reg := p.registrations[fd]
		if reg == nil {
			continue
		}
		var ready Interest
		if ev.Events&inEvents != 0 {
			if reg.interest&InterestAccept != 0 {
				ready |= InterestAccept
			} else {
				ready |= InterestRead
			}
		}
		if ev.Events&outEvents != 0 {
			ready |= InterestWrite
		}
		if ev.Events&errEvents != 0 {
			ready |= ReadyError
		}
		p.ready.add(reg, ready)
	}
	return
}

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT

	inEvents  = unix.EPOLLIN | unix.EPOLLPRI
	outEvents = unix.EPOLLOUT
	errEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
)

func toEpollEvents(interest Interest) (events uint32) {
	if interest&(InterestAccept|InterestRead) != 0 {
		events |= readEvents
	}
	if interest&InterestWrite != 0 {
		events |= writeEvents
	}
	return
}

func (p *Poller) add(fd int, interest Interest) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(interest)}))
}

func (p *Poller) mod(fd int, _, interest Interest) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(interest)}))
}

func (p *Poller) del(fd int, _ Interest) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) eventList {
	return eventList{size, make([]unix.EpollEvent, size)}
}

func (el *eventList) adjust(n int) {
	if n == el.size && el.size<<1 <= MaxPollEventsCap {
		el.size <<= 1
		el.events = make([]unix.EpollEvent, el.size)
	} else if n < el.size>>1 && el.size>>1 >= MinPollEventsCap {
		el.size >>= 1
		el.events = make([]unix.EpollEvent, el.size)
	}
}
