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

package netpoll

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/echoloop/echoloop/pkg/errors"
)

func socketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func startPolling(t *testing.T, p *Poller) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Polling(0)
	}()
	t.Cleanup(func() {
		_ = p.UrgentTrigger(func(interface{}) error { return errors.ErrEngineShutdown }, nil)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, errors.ErrEngineShutdown)
		case <-time.After(5 * time.Second):
			t.Error("poller did not stop")
		}
		assert.NoError(t, p.Close())
	})
	return done
}

// onPoller runs fn on the polling goroutine and waits for it.
func onPoller(t *testing.T, p *Poller, fn func() error) error {
	res := make(chan error, 1)
	require.NoError(t, p.Trigger(func(interface{}) error {
		res <- fn()
		return nil
	}, nil))
	select {
	case err := <-res:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("task was not run by the poller")
		return nil
	}
}

func TestPollerReadable(t *testing.T) {
	p, err := OpenPoller()
	require.NoError(t, err)
	a, b := socketPair(t)

	readable := make(chan Interest, 1)
	reg := &Registration{FD: a, Callback: func(fd int, ready Interest) error {
		buf := make([]byte, 64)
		n, _ := unix.Read(fd, buf)
		if n > 0 {
			readable <- ready
		}
		return nil
	}}
	startPolling(t, p)
	require.NoError(t, onPoller(t, p, func() error { return p.Register(reg, InterestRead) }))

	_, err = unix.Write(b, []byte("hello\n"))
	require.NoError(t, err)
	select {
	case ready := <-readable:
		assert.NotZero(t, ready&InterestRead)
		assert.Zero(t, ready&InterestWrite)
	case <-time.After(5 * time.Second):
		t.Fatal("no readable event")
	}
}

func TestNoWritableEventsAfterDemotion(t *testing.T) {
	const cycles = 20
	p, err := OpenPoller()
	require.NoError(t, err)
	a, _ := socketPair(t)

	var writable int32
	reg := &Registration{FD: a}
	reg.Callback = func(_ int, ready Interest) error {
		if ready&InterestWrite != 0 {
			atomic.AddInt32(&writable, 1)
			// Nothing left to send: drop the write interest.
			return p.ModInterest(reg, InterestRead)
		}
		return nil
	}
	startPolling(t, p)
	require.NoError(t, onPoller(t, p, func() error { return p.Register(reg, InterestReadWrite) }))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&writable) == 1 }, 5*time.Second, time.Millisecond)
	for i := 0; i < cycles; i++ {
		require.NoError(t, onPoller(t, p, func() error { return nil }))
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&writable), "writable events must stop once the interest is demoted")
	assert.NoError(t, onPoller(t, p, func() error {
		assert.Equal(t, InterestRead, reg.Interest())
		return nil
	}))
}

func TestUpdateInterestWakesPoller(t *testing.T) {
	p, err := OpenPoller()
	require.NoError(t, err)
	a, _ := socketPair(t)

	writable := make(chan struct{}, 1)
	reg := &Registration{FD: a}
	reg.Callback = func(_ int, ready Interest) error {
		if ready&InterestWrite != 0 {
			writable <- struct{}{}
			return p.ModInterest(reg, InterestRead)
		}
		return nil
	}
	startPolling(t, p)
	require.NoError(t, onPoller(t, p, func() error { return p.Register(reg, InterestRead) }))

	// Polling blocks indefinitely, only the wake-up can deliver the request.
	require.NoError(t, p.UpdateInterest(reg, InterestReadWrite))
	select {
	case <-writable:
	case <-time.After(5 * time.Second):
		t.Fatal("interest change from another goroutine was not observed")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	p, err := OpenPoller()
	require.NoError(t, err)
	a, b := socketPair(t)

	var events int32
	reg := &Registration{FD: a, Callback: func(int, Interest) error {
		atomic.AddInt32(&events, 1)
		return nil
	}}
	startPolling(t, p)
	require.NoError(t, onPoller(t, p, func() error { return p.Register(reg, InterestRead) }))
	require.NoError(t, onPoller(t, p, func() error { return p.Cancel(reg) }))
	require.NoError(t, onPoller(t, p, func() error { return p.Cancel(reg) }))
	assert.False(t, reg.Valid())

	require.NoError(t, p.UpdateInterest(reg, InterestReadWrite))
	_, err = unix.Write(b, []byte("ping"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, onPoller(t, p, func() error { return nil }))
	}
	assert.Zero(t, atomic.LoadInt32(&events), "a cancelled registration must not be dispatched")
	assert.ErrorIs(t, onPoller(t, p, func() error { return p.ModInterest(reg, InterestRead) }), errors.ErrCancelledRegistration)
	assert.ErrorIs(t, onPoller(t, p, func() error { return p.Register(reg, InterestRead) }), errors.ErrCancelledRegistration)
}

func TestReadySetCoalesces(t *testing.T) {
	rs := newReadySet()
	r1, r2 := &Registration{FD: 1}, &Registration{FD: 2}
	rs.add(r1, InterestRead)
	rs.add(r2, InterestWrite)
	rs.add(r1, InterestWrite|ReadyError)

	require.Len(t, rs.events, 2)
	assert.Equal(t, ReadyEvent{r1, InterestReadWrite | ReadyError}, rs.events[0])
	assert.Equal(t, ReadyEvent{r2, InterestWrite}, rs.events[1])

	rs.reset()
	assert.Empty(t, rs.events)
	assert.Empty(t, rs.index)
}

func TestInterestString(t *testing.T) {
	assert.Equal(t, "none", Interest(0).String())
	assert.Equal(t, "read|write", InterestReadWrite.String())
	assert.Equal(t, "accept|error", (InterestAccept | ReadyError).String())
}
