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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// hash maps key to a keyBits-wide hash.
func (f *Filter) hash(key uint64, flags Flags) uint64 {
	mask := bitmask(f.keyBits)
	if flags&KeyIsHash != 0 {
		return key & mask
	}
	switch f.cfg.hashMode {
	case HashInvertible:
		return invertibleHash(key, mask)
	default:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], key)
		return xxhash.Sum64(buf[:]) & mask
	}
}

// split returns the home bucket and remainder of hash. The remainder is the
// low remainderBits bits and the quotient the next quotientBits bits.
func (f *Filter) split(hash uint64) (home, rem uint64) {
	rem = hash & bitmask(f.remainderBits)
	home = (hash >> f.remainderBits) & bitmask(f.quotientBits)
	return home, rem
}

// invertibleHash is Thomas Wang's 64-bit integer mix, reduced modulo
// mask+1 after every step so that it is a bijection on [0, mask].
func invertibleHash(key, mask uint64) uint64 {
	key = (^key + (key << 21)) & mask
	key ^= key >> 24
	key = (key + (key << 3) + (key << 8)) & mask
	key ^= key >> 14
	key = (key + (key << 2) + (key << 4)) & mask
	key ^= key >> 28
	key = (key + (key << 31)) & mask
	return key
}
