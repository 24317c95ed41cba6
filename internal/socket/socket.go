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

// Package socket creates the non-blocking TCP listening socket used by the
// reactor, accepts connections from it and tunes their socket options.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Option is used for setting an option on socket.
type Option struct {
	SetSockopt func(int, int) error
	Opt        int
}

// TCPSocket creates a non-blocking TCP listening socket bound to addr
// and returns its file-descriptor and the resolved address.
func TCPSocket(proto, addr string, sockopts ...Option) (int, net.Addr, error) {
	return tcpSocket(proto, addr, sockopts...)
}

// Accept accepts exactly one pending connection of the listening socket fd,
// the returned descriptor is already in non-blocking, close-on-exec mode.
func Accept(fd int) (int, net.Addr, error) {
	nfd, sa, err := sysAccept(fd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, SockaddrToTCPAddr(sa), nil
}

// LocalAddr returns the local address the socket fd is bound to.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return SockaddrToTCPAddr(sa), nil
}
