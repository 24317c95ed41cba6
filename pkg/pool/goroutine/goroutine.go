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

// Package goroutine provides the worker pool which runs application logic
// away from the reactor goroutine, it is backed by github.com/panjf2000/ants/v2.
package goroutine

import (
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/echoloop/echoloop/pkg/logging"
)

const (
	// DefaultAntsPoolSize sets up the capacity of worker pool, 256 * 1024.
	DefaultAntsPoolSize = 1 << 18

	// ExpiryDuration is the interval time to clean up those expired workers.
	ExpiryDuration = 10 * time.Second

	// Nonblocking decides what to do when submitting a new task to a full worker pool: waiting for an available
	// worker or returning ants.ErrPoolOverload directly. The reactor must never wait, so it is always true.
	Nonblocking = true
)

func init() {
	// It releases the default pool from ants.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

var (
	// ErrPoolOverload is returned by Submit when the pool is full.
	ErrPoolOverload = ants.ErrPoolOverload
	// ErrPoolClosed is returned by Submit once the pool has been released.
	ErrPoolClosed = ants.ErrPoolClosed
)

type antsLogger struct {
	logging.Logger
}

// Printf implements the ants.Logger interface.
func (l antsLogger) Printf(format string, args ...interface{}) {
	l.Logger.Infof(format, args...)
}

// New instantiates a non-blocking worker pool of the given capacity, size <= 0 means DefaultAntsPoolSize.
// Tasks that panic are recovered and reported through logger.
func New(size int, logger logging.Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultAntsPoolSize
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	options := ants.Options{
		ExpiryDuration: ExpiryDuration,
		Nonblocking:    Nonblocking,
		Logger:         antsLogger{logger},
		PanicHandler: func(v interface{}) {
			logger.Errorf("worker exits from panic: %v", fmt.Sprint(v))
		},
	}
	return ants.NewPool(size, ants.WithOptions(options))
}

// Default instantiates a worker pool with the default settings, it reports panics through the default logger.
func Default() *Pool {
	defaultAntsPool, _ := New(DefaultAntsPoolSize, nil)
	return defaultAntsPool
}
