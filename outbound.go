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
	"github.com/eapache/queue"

	"github.com/echoloop/echoloop/pkg/pool/bytebuffer"
)

// outboundQueue is the FIFO of byte buffers waiting to be written to a connection,
// buffers are appended at the tail and written from the head, head is the number of
// bytes of the first buffer that have already been sent.
//
// outboundQueue is not safe for concurrent use.
type outboundQueue struct {
	bufs   *queue.Queue
	head   int
	size   int
	closed bool
}

func newOutboundQueue() outboundQueue {
	return outboundQueue{bufs: queue.New()}
}

// push appends b to the tail of the queue and takes the ownership of it,
// it reports false if the queue has been released, b is recycled in that case.
func (q *outboundQueue) push(b *bytebuffer.ByteBuffer) bool {
	if q.closed {
		bytebuffer.Put(b)
		return false
	}
	if b.Len() == 0 {
		bytebuffer.Put(b)
		return true
	}
	q.bufs.Add(b)
	q.size += b.Len()
	return true
}

// peek appends up to limit pending byte slices to iov in queue order without consuming them.
func (q *outboundQueue) peek(iov [][]byte, limit int) [][]byte {
	for i := 0; i < q.bufs.Length() && len(iov) < limit; i++ {
		p := q.bufs.Get(i).(*bytebuffer.ByteBuffer).B
		if i == 0 {
			p = p[q.head:]
		}
		iov = append(iov, p)
	}
	return iov
}

// discard consumes n bytes from the head of the queue and recycles every buffer that was fully sent.
func (q *outboundQueue) discard(n int) {
	if n > q.size {
		n = q.size
	}
	q.size -= n
	for n > 0 {
		b := q.bufs.Peek().(*bytebuffer.ByteBuffer)
		remaining := b.Len() - q.head
		if n < remaining {
			q.head += n
			return
		}
		n -= remaining
		q.bufs.Remove()
		q.head = 0
		bytebuffer.Put(b)
	}
}

func (q *outboundQueue) isEmpty() bool {
	return q.size == 0
}

func (q *outboundQueue) buffered() int {
	return q.size
}

// release recycles every pending buffer, the queue drops whatever is pushed afterwards.
func (q *outboundQueue) release() {
	q.closed = true
	for q.bufs.Length() > 0 {
		bytebuffer.Put(q.bufs.Remove().(*bytebuffer.ByteBuffer))
	}
	q.head, q.size = 0, 0
}
