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

package goroutine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	p, err := New(4, nil)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 4, p.Cap())

	var (
		wg  sync.WaitGroup
		sum int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&sum, 1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 4, atomic.LoadInt32(&sum))
}

func TestPoolOverload(t *testing.T) {
	p, err := New(1, nil)
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolOverload)
	close(block)
}

func TestPoolClosed(t *testing.T) {
	p, err := New(1, nil)
	require.NoError(t, err)
	p.Release()
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestPoolRecoversPanics(t *testing.T) {
	p, err := New(1, nil)
	require.NoError(t, err)
	defer p.Release()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		defer close(done)
		panic("worker failure")
	}))
	<-done
	assert.Eventually(t, func() bool { return p.Submit(func() {}) == nil }, time.Second, 10*time.Millisecond)
}

func TestDefaultPool(t *testing.T) {
	p := Default()
	require.NotNil(t, p)
	defer p.Release()
	assert.Equal(t, DefaultAntsPoolSize, p.Cap())
}
