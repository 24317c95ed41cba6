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

//go:build !darwin && !dragonfly && !freebsd && !linux

package echoloop

import (
	"net"

	"github.com/echoloop/echoloop/pkg/errors"
)

type engine struct {
	inShutdown int32
}

func (eng *engine) isInShutdown() bool {
	return eng.inShutdown == 1
}

func (eng *engine) shutdown(_ error) {
}

func (eng *engine) countConnections() int {
	return 0
}

func (eng *engine) addr() net.Addr {
	return nil
}

type listener struct{}

func (ln *listener) close() {
}

func initListener(_, _ string, _ *Options) (*listener, error) {
	return nil, errors.ErrUnsupportedPlatform
}

func run(_ EventHandler, _ *listener, _ *Options, _ string) error {
	return errors.ErrUnsupportedPlatform
}
