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

// Command echoloop-client sends a greeting to an echo server and prints the reply.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

func main() {
	var (
		addr    string
		message string
		timeout time.Duration
	)

	flag.StringVar(&addr, "addr", "127.0.0.1:8000", "address of the echo server")
	flag.StringVar(&message, "message", "hello server!\r\n", "greeting sent to the server")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "deadline of the exchange")
	flag.Parse()

	if err := greet(addr, message, timeout, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "echoloop-client: %v\n", err)
		os.Exit(1)
	}
}

func greet(addr, message string, timeout time.Duration, w io.Writer) error {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	if err = c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err = io.WriteString(c, message); err != nil {
		return err
	}
	reply := make([]byte, len(message))
	if _, err = io.ReadFull(c, reply); err != nil {
		return fmt.Errorf("reading the reply: %w", err)
	}
	_, err = fmt.Fprintf(w, "reply from %s: %s", c.RemoteAddr(), reply)
	return err
}
