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

package socket

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/echoloop/echoloop/pkg/errors"
)

func TestTCPSocketAndAccept(t *testing.T) {
	fd, addr, err := TCPSocket("tcp4", "127.0.0.1:0", Option{SetSockopt: SetReuseAddr, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck

	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok, "expected *net.TCPAddr, got %T", addr)
	assert.NotZero(t, tcpAddr.Port, "the kernel-picked port must be resolved")

	_, _, err = Accept(fd)
	assert.True(t, errors.Is(err, unix.EAGAIN), "accept on an idle non-blocking listener must not block: %v", err)

	c, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	var nfd int
	var remote net.Addr
	require.Eventually(t, func() bool {
		nfd, remote, err = Accept(fd)
		return err == nil
	}, 5*time.Second, time.Millisecond)
	defer unix.Close(nfd) //nolint:errcheck

	flags, err := unix.FcntlInt(uintptr(nfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "accepted socket must be non-blocking")
	assert.Equal(t, c.LocalAddr().String(), remote.String())

	assert.NoError(t, SetNoDelay(nfd, 1))
	assert.NoError(t, SetKeepAlivePeriod(nfd, 60))
	assert.Error(t, SetKeepAlivePeriod(nfd, 0))
	assert.NoError(t, SetRecvBuffer(nfd, 1<<16))
	assert.NoError(t, SetSendBuffer(nfd, 1<<16))
}

func TestTCPSocketBadAddress(t *testing.T) {
	_, _, err := TCPSocket("tcp", "not-a-host-port")
	assert.Error(t, err)

	_, _, err = TCPSocket("udp", "127.0.0.1:0")
	assert.Error(t, err)

	fd, addr, err := TCPSocket("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck
	_, _, err = TCPSocket("tcp4", addr.String())
	assert.Error(t, err, "binding an address in use must fail")
}

func TestDetermineTCPProto(t *testing.T) {
	p, err := determineTCPProto("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	assert.NoError(t, err)
	assert.Equal(t, "tcp4", p)

	p, err = determineTCPProto("tcp", &net.TCPAddr{IP: net.ParseIP("::1")})
	assert.NoError(t, err)
	assert.Equal(t, "tcp6", p)

	p, err = determineTCPProto("tcp6", &net.TCPAddr{})
	assert.NoError(t, err)
	assert.Equal(t, "tcp6", p)

	_, err = determineTCPProto("udp", &net.TCPAddr{})
	assert.ErrorIs(t, err, errorx.ErrUnsupportedTCPProtocol)
}

func TestSockaddrToTCPAddr(t *testing.T) {
	addr := SockaddrToTCPAddr(&unix.SockaddrInet4{Port: 8000, Addr: [4]byte{127, 0, 0, 1}})
	assert.Equal(t, "127.0.0.1:8000", addr.String())
	assert.Nil(t, SockaddrToTCPAddr(&unix.SockaddrUnix{Name: "sock"}))
	assert.Equal(t, "42", uitoa(42))
}
