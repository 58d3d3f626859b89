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
	"math/bits"
	"sync/atomic"
)

const (
	slotsPerBlock = 64
	// maxOffset is the largest block offset stored directly. Larger offsets
	// are stored as maxOffset and recomputed from the preceding block when
	// read.
	maxOffset = math.MaxUint8
)

// slotArray is a packed array of fixed-width slots. A slot may straddle two
// words. The trailing word keeps the straddling access in bounds.
type slotArray struct {
	words []uint64
	width uint64
	mask  uint64
}

func makeSlotArray(n uint64, width uint) slotArray {
	return slotArray{
		words: make([]uint64, (n*uint64(width)+63)/64+1),
		width: uint64(width),
		mask:  bitmask(width),
	}
}

func (s *slotArray) get(i uint64) uint64 {
	bit := i * s.width
	w, off := bit/64, bit%64
	v := s.words[w] >> off
	if off+s.width > 64 {
		v |= s.words[w+1] << (64 - off)
	}
	return v & s.mask
}

func (s *slotArray) set(i, v uint64) {
	v &= s.mask
	bit := i * s.width
	w, off := bit/64, bit%64
	s.words[w] = s.words[w]&^(s.mask<<off) | v<<off
	if off+s.width > 64 {
		shift := 64 - off
		s.words[w+1] = s.words[w+1]&^(s.mask>>shift) | v>>shift
	}
}

// counter is an aggregate count owned by a Filter. Only the goroutine
// mutating the filter calls add and store. load may be called from any
// goroutine.
type counter struct {
	v atomic.Int64
}

func (c *counter) add(delta int64) { c.v.Add(delta) }

func (c *counter) store(v int64) { c.v.Store(v) }

func (c *counter) load() int64 { return c.v.Load() }

// bitmask returns a word with the low n bits set.
func bitmask(n uint) uint64 {
	if n >= 64 {
		return math.MaxUint64
	}
	return 1<<n - 1
}

// select64 returns the position of the rank'th (0-based) set bit of x, or
// 64 if x has no more than rank set bits.
func select64(x uint64, rank int) uint64 {
	for ; rank > 0 && x != 0; rank-- {
		x &= x - 1
	}
	return uint64(bits.TrailingZeros64(x))
}
