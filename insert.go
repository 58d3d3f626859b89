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

import "fmt"

func (f *Filter) insert(home, rem, value uint64) (int, error) {
	entry := rem<<f.valueBits | value&f.valueMask
	if f.isEmpty(home) {
		f.slots.set(home, entry)
		f.runends.Set(uint(home))
		f.occupieds.Set(uint(home))
		f.tombstones.Clear(uint(home))
		f.noccupied.add(1)
		f.nelts.add(1)
		if debug {
			fmt.Printf("insert(%d/%d): empty home\n", home, rem)
		}
		return 0, nil
	}

	found, idx, _, end := f.find(home, rem)
	if found {
		return 0, ErrKeyExists
	}
	occupied := f.isOccupied(home)
	if f.cfg.runOrder == RunsUnordered && occupied && idx < end {
		// idx is a tombstone inside the run. Reuse it in place.
		f.tombstones.Clear(uint(idx))
		f.slots.set(idx, entry)
		f.nelts.add(1)
		return int(idx - home + 1), nil
	}

	avail := f.findNextTombstone(idx)
	if avail >= f.xnslots {
		return 0, ErrNoSpace
	}
	if f.isEmpty(avail) {
		f.noccupied.add(1)
	}
	if debug {
		fmt.Printf("insert(%d/%d): idx=%d end=%d avail=%d\n", home, rem, idx, end, avail)
	}

	if f.cfg.insertStrategy == InsertSwap {
		f.swapRemainders(idx, avail)
	} else {
		f.shiftRemainders(idx, avail)
	}
	switch {
	case !occupied:
		// A new run. Its only slot is idx.
		f.shiftRunendsTombstones(idx, avail)
		f.runends.Set(uint(idx))
	case idx > end:
		// Appending to the run moves its run end forward onto idx.
		f.shiftRunendsTombstones(idx-1, avail)
	default:
		f.shiftRunendsTombstones(idx, avail)
	}
	f.tombstones.Clear(uint(idx))
	f.slots.set(idx, entry)
	f.occupieds.Set(uint(home))
	f.nelts.add(1)
	f.updateOffsets(home, avail)
	return int(avail - home + 1), nil
}

// shiftRemainders moves the slots in [from, to) forward by one, overwriting
// slot to.
func (f *Filter) shiftRemainders(from, to uint64) {
	for i := to; i > from; i-- {
		f.slots.set(i, f.slots.get(i-1))
	}
}

// swapRemainders frees slot from by moving one element of each run segment
// in [from, to) forward. Walking back from the hole at to, the first element
// of the segment just before the hole moves into it, which opens a hole at
// the start of that segment. Element order inside runs changes, so this is
// only valid for unordered runs.
func (f *Filter) swapRemainders(from, to uint64) {
	for to > from {
		start := from
		if p, ok := f.findPrevRunend(to - 1); ok && p >= from {
			start = p + 1
		}
		f.slots.set(to, f.slots.get(start))
		to = start
	}
}

// shiftRunendsTombstones moves the RunEnd and Tombstone bits of the slots in
// [from, to) forward by one and clears both bits at from.
func (f *Filter) shiftRunendsTombstones(from, to uint64) {
	for i := to; i > from; i-- {
		f.runends.SetTo(uint(i), f.runends.Test(uint(i-1)))
		f.tombstones.SetTo(uint(i), f.tombstones.Test(uint(i-1)))
	}
	f.runends.Clear(uint(from))
	f.tombstones.Clear(uint(from))
}
