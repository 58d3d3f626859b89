// Copyright 2024 The Cockroach Authors
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

package qf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotArray(t *testing.T) {
	for _, width := range []uint{1, 7, 18, 32, 33, 63, 64} {
		const n = 200
		s := makeSlotArray(n, width)
		rng := rand.New(rand.NewSource(int64(width)))
		want := make([]uint64, n)
		for i := range want {
			want[i] = rng.Uint64() & bitmask(width)
			s.set(uint64(i), want[i])
		}
		for i := range want {
			require.Equal(t, want[i], s.get(uint64(i)), "width=%d slot=%d", width, i)
		}
		// Overwriting one slot leaves its neighbours alone.
		s.set(100, math.MaxUint64)
		require.Equal(t, bitmask(width), s.get(100))
		require.Equal(t, want[99], s.get(99))
		require.Equal(t, want[101], s.get(101))
	}
}

func TestBitmask(t *testing.T) {
	require.EqualValues(t, 0, bitmask(0))
	require.EqualValues(t, 0x7f, bitmask(7))
	require.EqualValues(t, uint64(math.MaxUint64), bitmask(64))
	require.EqualValues(t, uint64(math.MaxUint64), bitmask(70))
}

func TestSelect64(t *testing.T) {
	x := uint64(0b1011_0100)
	require.EqualValues(t, 2, select64(x, 0))
	require.EqualValues(t, 4, select64(x, 1))
	require.EqualValues(t, 5, select64(x, 2))
	require.EqualValues(t, 7, select64(x, 3))
	require.EqualValues(t, 64, select64(x, 4))
	require.EqualValues(t, 63, select64(1<<63, 0))
}

func TestCounter(t *testing.T) {
	var c counter
	c.add(5)
	c.add(-2)
	require.EqualValues(t, 3, c.load())
	c.store(10)
	require.EqualValues(t, 10, c.load())
}

func TestRunLocator(t *testing.T) {
	f := newTestFilter(t)
	// Bucket 2 holds three elements at 2-4, bucket 3 one at 5, bucket 8 one
	// at 8.
	for _, k := range [][2]uint64{{2, 1}, {2, 2}, {2, 3}, {3, 1}, {8, 1}} {
		_, err := f.Insert(f.hashOf(k[0], k[1]), 0, KeyIsHash)
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, f.runStart(2))
	require.EqualValues(t, 4, f.runEnd(2))
	require.EqualValues(t, 5, f.runStart(3))
	require.EqualValues(t, 5, f.runEnd(3))
	// Bucket 4 has no run but lies inside the cluster.
	require.EqualValues(t, 6, f.runStart(4))
	require.EqualValues(t, 5, f.runEnd(4))
	require.False(t, f.isEmpty(4))
	require.True(t, f.isEmpty(6))
	require.True(t, f.isEmpty(1))

	require.EqualValues(t, 2, f.findNextOccupied(0))
	require.EqualValues(t, 8, f.findNextOccupied(4))
	require.EqualValues(t, f.xnslots, f.findNextOccupied(9))
	require.EqualValues(t, 8, f.findNextRun(4))
	require.EqualValues(t, f.xnslots, f.findNextRun(9))
	require.EqualValues(t, 6, f.findFirstEmpty(2))
	require.EqualValues(t, 9, f.findFirstEmpty(8))
	require.EqualValues(t, 6, f.findNextTombstone(3))

	p, ok := f.findPrevRunend(5)
	require.True(t, ok)
	require.EqualValues(t, 4, p)
	p, ok = f.findPrevRunend(100)
	require.True(t, ok)
	require.EqualValues(t, 8, p)
	_, ok = f.findPrevRunend(4)
	require.False(t, ok)
	_, ok = f.findPrevRunend(0)
	require.False(t, ok)
	p, ok = f.findPrevRunend(8)
	require.True(t, ok)
	require.EqualValues(t, 5, p)
	p, ok = f.findPrevRunend(f.xnslots - 1)
	require.True(t, ok)
	require.EqualValues(t, 8, p)

	require.EqualValues(t, 4, f.countCovered(0, 6))
	require.EqualValues(t, 5, f.countCovered(0, f.xnslots))
	require.EqualValues(t, 2, f.countCovered(5, 100))

	found, idx, start, end := f.find(2, 2)
	require.True(t, found)
	require.EqualValues(t, 3, idx)
	require.EqualValues(t, 2, start)
	require.EqualValues(t, 4, end)
	found, idx, _, _ = f.find(2, 9)
	require.False(t, found)
	require.EqualValues(t, 5, idx)
	found, idx, _, _ = f.find(2, 0)
	require.False(t, found)
	require.EqualValues(t, 2, idx)

	// A tombstone after the insertion point is the next reclaimable slot.
	_, err := f.Remove(f.hashOf(2, 2), KeyIsHash)
	require.NoError(t, err)
	require.EqualValues(t, 3, f.findNextTombstone(2))
	require.EqualValues(t, 3, f.findFirstTombstone(0))
}
