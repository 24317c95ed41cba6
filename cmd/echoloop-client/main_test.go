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

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoloop/echoloop"
)

type bootNotifier struct {
	echoloop.BuiltinEventEngine

	booted chan echoloop.Engine
}

func (b *bootNotifier) OnBoot(eng echoloop.Engine) echoloop.Action {
	b.booted <- eng
	return echoloop.None
}

func TestGreet(t *testing.T) {
	h := &bootNotifier{booted: make(chan echoloop.Engine, 1)}
	done := make(chan error, 1)
	go func() {
		done <- echoloop.Run(h, "tcp4://127.0.0.1:0")
	}()

	var eng echoloop.Engine
	select {
	case eng = <-h.booted:
	case err := <-done:
		t.Fatalf("engine exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not boot")
	}
	defer func() {
		require.NoError(t, eng.Stop(context.Background()))
		assert.NoError(t, <-done)
	}()

	var out bytes.Buffer
	require.NoError(t, greet(eng.Addr().String(), "hello server!\r\n", 5*time.Second, &out))
	assert.Contains(t, out.String(), "hello server!\r\n")

	assert.Error(t, greet("127.0.0.1:1", "hello", time.Second, &out))
}
