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

//go:build darwin || dragonfly || freebsd

package io

import "golang.org/x/sys/unix"

// Writev simply calls write() multiple times because writev() on BSD-like OS's is not implemented by x/sys.
// It stops at the first short write, the caller learns how far it got from the returned count.
func Writev(fd int, iov [][]byte) (int, error) {
	var sum int
	for i := range iov {
		n, err := unix.Write(fd, iov[i])
		if err != nil {
			if sum == 0 {
				return 0, err
			}
			return sum, nil
		}
		sum += n
		if n < len(iov[i]) {
			break
		}
	}
	return sum, nil
}
