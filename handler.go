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

import "net"

// Action is an action that occurs after the completion of an event.
type Action int

const (
	// None indicates that no action should occur following an event.
	None Action = iota

	// Close closes the connection.
	Close

	// Shutdown shutdowns the engine.
	Shutdown
)

// Conn is the view of a client connection handed to an EventHandler.
//
// Conn is safe for concurrent use, but the connection may be released at any time by the reactor,
// after that Close is a no-op and OutboundBuffered reports zero.
type Conn interface {
	// Context returns a user-defined context, it's not concurrency-safe,
	// you must invoke it along with SetContext within the same goroutine.
	Context() (ctx interface{})

	// SetContext sets a user-defined context, it's not concurrency-safe,
	// you must invoke it along with Context within the same goroutine.
	SetContext(ctx interface{})

	// LocalAddr is the connection's local socket address.
	LocalAddr() (addr net.Addr)

	// RemoteAddr is the connection's remote peer address.
	RemoteAddr() (addr net.Addr)

	// OutboundBuffered returns the number of bytes queued for transmission.
	OutboundBuffered() (n int)

	// Close asks the reactor to release the connection, it returns immediately.
	Close() error
}

type (
	// EventHandler represents the engine events' callbacks for the Run call.
	// Each event has an Action return value that is used manage the state
	// of the connection and engine.
	EventHandler interface {
		// OnBoot fires once the engine is listening and its reactor is running, connections may
		// already be opened while it runs. The parameter engine has information and various utilities.
		OnBoot(eng Engine) (action Action)

		// OnShutdown fires when the engine is being shut down, it is called before the reactor
		// stops, the connections still open at that moment are closed right after it returns.
		OnShutdown(eng Engine)

		// OnOpen fires on the reactor goroutine when a new connection has been registered for reading.
		OnOpen(c Conn) (action Action)

		// OnClose fires on the reactor goroutine when a connection has been released.
		// The parameter err is the last known connection error, nil for a clean close by the peer.
		OnClose(c Conn, err error) (action Action)

		// React fires on a worker goroutine for each payload received by a connection,
		// payloads of the same connection are delivered one at a time in arrival order.
		// The returned out is queued for transmission to the peer, packet is only valid
		// until React returns.
		React(packet []byte, c Conn) (out []byte, action Action)
	}

	// BuiltinEventEngine is a built-in implementation of EventHandler which echoes
	// every payload back to its sender, you can compose it with your own implementation
	// of EventHandler, then you won't need to implement all methods in EventHandler.
	BuiltinEventEngine struct{}
)

// OnBoot fires when the engine is ready for accepting connections.
func (*BuiltinEventEngine) OnBoot(_ Engine) (action Action) {
	return
}

// OnShutdown fires when the engine is being shut down.
func (*BuiltinEventEngine) OnShutdown(_ Engine) {
}

// OnOpen fires when a new connection has been opened.
func (*BuiltinEventEngine) OnOpen(_ Conn) (action Action) {
	return
}

// OnClose fires when a connection has been closed.
func (*BuiltinEventEngine) OnClose(_ Conn, _ error) (action Action) {
	return
}

// React echoes packet back to the peer.
func (*BuiltinEventEngine) React(packet []byte, _ Conn) (out []byte, action Action) {
	out = packet
	return
}
