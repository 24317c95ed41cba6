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

package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoloop/echoloop/internal/queue"
)

func TestLockFreeQueue(t *testing.T) {
	const taskNum = 10000
	q := queue.NewLockFreeQueue()
	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			for i := 0; i < taskNum; i++ {
				q.Enqueue(&queue.Task{})
			}
		}()
	}

	var counter int32
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			for {
				task := q.Dequeue()
				if task != nil {
					atomic.AddInt32(&counter, 1)
				}
				if task == nil && atomic.LoadInt32(&counter) == 2*taskNum {
					break
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2*taskNum, counter)
	assert.True(t, q.IsEmpty(), "queue should be drained")
	assert.Nil(t, q.Dequeue())
	t.Logf("sent and received all %d tasks", 2*taskNum)
}

func TestLockFreeQueueOrder(t *testing.T) {
	q := queue.NewLockFreeQueue()
	for i := 0; i < 100; i++ {
		q.Enqueue(&queue.Task{Arg: i})
	}
	require.EqualValues(t, 100, q.Len())
	for i := 0; i < 100; i++ {
		task := q.Dequeue()
		require.NotNil(t, task)
		assert.Equal(t, i, task.Arg, "tasks must come out in enqueue order")
	}
	assert.True(t, q.IsEmpty())
}

func TestTaskPool(t *testing.T) {
	task := queue.GetTask()
	task.Run = func(interface{}) error { return nil }
	task.Arg = 1
	queue.PutTask(task)
	assert.Nil(t, task.Run)
	assert.Nil(t, task.Arg)
}
