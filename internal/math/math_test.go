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

package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilToPowerOfTwo(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "zero", n: 0, want: 2},
		{name: "one", n: 1, want: 2},
		{name: "two", n: 2, want: 2},
		{name: "three", n: 3, want: 1 << 2},
		{name: "five", n: 5, want: 1 << 3},
		{name: "power_of_two_1024", n: 1 << 10, want: 1 << 10},
		{name: "near_power_1023", n: 1<<10 - 1, want: 1 << 10},
		{name: "near_power_1025", n: 1<<10 + 1, want: 1 << 11},
		{name: "medium_5000", n: 5000, want: 1 << 13},
		{name: "default_read_buffer", n: 8 * 1024, want: 8 * 1024},
		{name: "huge_1G_plus_1", n: 1<<30 + 1, want: 1 << 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CeilToPowerOfTwo(tt.n))
		})
	}
}

func TestFloorToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 2, FloorToPowerOfTwo(1))
	assert.Equal(t, 4, FloorToPowerOfTwo(7))
	assert.Equal(t, 1<<10, FloorToPowerOfTwo(1<<10))
	assert.Equal(t, 1<<10, FloorToPowerOfTwo(1<<11-1))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(1<<20))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(-4))
	assert.False(t, IsPowerOfTwo(6))
}
