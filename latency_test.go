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

package echoloop

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoloop/echoloop/pkg/logging"
)

// servedLogger records the service time lines and passes everything else on.
type servedLogger struct {
	logging.Logger

	mu     sync.Mutex
	served []string
}

func (l *servedLogger) Debugf(format string, args ...interface{}) {
	if msg := fmt.Sprintf(format, args...); strings.Contains(msg, "served in") {
		l.mu.Lock()
		l.served = append(l.served, msg)
		l.mu.Unlock()
	}
}

func (l *servedLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.served)
}

func TestLatencyLog(t *testing.T) {
	oldLogger, oldFlusher := logging.GetDefaultLogger(), logging.GetDefaultFlusher()
	t.Cleanup(func() { logging.SetDefaultLoggerAndFlusher(oldLogger, oldFlusher) })

	logger := &servedLogger{Logger: oldLogger}
	s := newTestServer()
	s.react = func(packet []byte, _ Conn) ([]byte, Action) {
		if string(packet) == "quiet" {
			return nil, None
		}
		return packet, None
	}
	addr := serve(t, s, WithLatencyLog(true), WithLogger(logger))

	c := dial(t, addr)
	const rounds = 8
	for i := 1; i <= rounds; i++ {
		echo(t, c, []byte("timed"))
		require.Eventually(t, func() bool { return logger.count() == i }, 5*time.Second, time.Millisecond)
	}

	var target *conn
	onReactor(t, s, func(el *eventloop) {
		for _, c := range el.connections {
			target = c
		}
	})
	require.NotNil(t, target)

	var start time.Time
	onReactor(t, s, func(*eventloop) { start = target.serviceStart })
	assert.True(t, start.IsZero(), "service time is cleared once the reply is written")

	// A payload without reply keeps the connection in service until it is released.
	_, err := c.Write([]byte("quiet"))
	require.NoError(t, err)
	assert.Eventually(t, func() (inService bool) {
		onReactor(t, s, func(*eventloop) { inService = !target.serviceStart.IsZero() })
		return
	}, 5*time.Second, 10*time.Millisecond)

	onReactor(t, s, func(el *eventloop) {
		assert.NoError(t, el.close(target, nil))
		start = target.serviceStart
	})
	assert.True(t, start.IsZero(), "service time is cleared when the connection is released")
	assert.Equal(t, rounds, logger.count())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	for _, line := range logger.served {
		assert.Contains(t, line, c.LocalAddr().String())
	}
}
