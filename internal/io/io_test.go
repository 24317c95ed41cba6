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

package io

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWritev(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0]) //nolint:errcheck
	defer unix.Close(fds[1]) //nolint:errcheck

	n, err := Writev(fds[0], nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = Writev(fds[0], [][]byte{[]byte("hello "), []byte("world")})
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	buf := make([]byte, 64)
	n, err = unix.Read(fds[1], buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}
