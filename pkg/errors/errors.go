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

// Package errors defines common errors for echoloop.
package errors

import "errors"

var (
	// ErrEmptyEngine occurs when trying to do something with an empty engine.
	ErrEmptyEngine = errors.New("echoloop: the internal engine is empty")
	// ErrEngineShutdown occurs when the engine is closing.
	ErrEngineShutdown = errors.New("echoloop: engine is going to be shutdown")
	// ErrEngineInShutdown occurs when attempting to shut the engine down more than once.
	ErrEngineInShutdown = errors.New("echoloop: engine is already in shutdown")
	// ErrAcceptSocket occurs when the acceptor does not accept the new connection properly.
	ErrAcceptSocket = errors.New("echoloop: accept a new connection error")
	// ErrUnsupportedProtocol occurs when trying to use protocol that is not supported.
	ErrUnsupportedProtocol = errors.New("echoloop: only tcp/tcp4/tcp6 are supported")
	// ErrUnsupportedTCPProtocol occurs when trying to use an unsupported TCP protocol.
	ErrUnsupportedTCPProtocol = errors.New("echoloop: only tcp/tcp4/tcp6 are supported")
	// ErrUnsupportedPlatform occurs when running echoloop on an unsupported platform.
	ErrUnsupportedPlatform = errors.New("echoloop: unsupported platform in echoloop")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("echoloop: invalid network address")
	// ErrConnectionClosed occurs when operating on a connection that has already been released.
	ErrConnectionClosed = errors.New("echoloop: connection is closed")
	// ErrCancelledRegistration occurs when changing the interest of a registration that has been cancelled.
	ErrCancelledRegistration = errors.New("echoloop: registration has been cancelled")
)
