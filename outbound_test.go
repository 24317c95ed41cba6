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

package echoloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoloop/echoloop/pkg/pool/bytebuffer"
)

func TestOutboundQueue(t *testing.T) {
	q := newOutboundQueue()
	assert.True(t, q.isEmpty())
	assert.Empty(t, q.peek(nil, iovMax))

	require.True(t, q.push(bytebuffer.From([]byte("hello "))))
	require.True(t, q.push(bytebuffer.From(nil)))
	require.True(t, q.push(bytebuffer.From([]byte("world"))))
	require.True(t, q.push(bytebuffer.From([]byte("!"))))
	assert.Equal(t, 12, q.buffered())

	iov := q.peek(nil, iovMax)
	require.Len(t, iov, 3, "empty buffers are not queued")
	assert.Equal(t, "hello ", string(iov[0]))
	assert.Equal(t, "world", string(iov[1]))

	assert.Len(t, q.peek(nil, 2), 2)

	// Discard a partially written head.
	q.discard(3)
	assert.Equal(t, 9, q.buffered())
	iov = q.peek(iov[:0], iovMax)
	assert.Equal(t, "lo ", string(iov[0]))

	// Discard across buffers.
	q.discard(5)
	assert.Equal(t, 4, q.buffered())
	iov = q.peek(iov[:0], iovMax)
	require.Len(t, iov, 2)
	assert.Equal(t, "rld", string(iov[0]))
	assert.Equal(t, "!", string(iov[1]))

	q.discard(4)
	assert.True(t, q.isEmpty())
	assert.Empty(t, q.peek(iov[:0], iovMax))
}

func TestOutboundQueueRelease(t *testing.T) {
	q := newOutboundQueue()
	require.True(t, q.push(bytebuffer.From([]byte("pending"))))
	q.discard(2)

	q.release()
	assert.True(t, q.isEmpty())
	assert.Zero(t, q.buffered())
	assert.False(t, q.push(bytebuffer.From([]byte("late"))), "a released queue takes no more buffers")
	assert.True(t, q.isEmpty())
}
