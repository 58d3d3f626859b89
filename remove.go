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

func (f *Filter) remove(home, rem uint64) (int, error) {
	if !f.isOccupied(home) {
		return 0, ErrDoesNotExist
	}
	found, cur, start, end := f.find(home, rem)
	if !found {
		return 0, ErrDoesNotExist
	}
	if debug {
		fmt.Printf("remove(%d/%d): slot=%d run=[%d,%d]\n", home, rem, cur, start, end)
	}
	if f.cfg.removeStrategy == RemovePush {
		f.removePush(home, cur, start, end)
	} else {
		f.removeLazy(home, cur, start, end)
	}
	return int(cur - home + 1), nil
}

// removeLazy tombstones slot cur of the run [start, end] of home bucket home
// and trims trailing tombstones off the run.
func (f *Filter) removeLazy(home, cur, start, end uint64) {
	f.tombstones.Set(uint(cur))
	f.nelts.add(-1)
	if cur != end {
		return
	}
	f.trimRun(home, start, end)
	f.updateOffsets(home, end)
	f.releaseSlots(start, end+1)
}

// trimRun moves the run end of home bucket home left past any tombstones
// ending the run [start, end], clearing the Occupied bit if the whole run is
// tombstones. It returns the new run end.
func (f *Filter) trimRun(home, start, end uint64) uint64 {
	i := end
	for f.isTombstone(i) {
		f.runends.Clear(uint(i))
		if i == start {
			f.occupieds.Clear(uint(home))
			return i
		}
		i--
		f.runends.Set(uint(i))
	}
	return i
}

// removePush tombstones slot cur of the run [start, end] of home bucket home
// and pushes the freed slot to the end of the run. The freed slot then
// continues into the following runs of the cluster, stopping at the first
// primitive tombstone boundary that does not already hold a tombstone.
func (f *Filter) removePush(home, cur, start, end uint64) {
	clusterEnd := f.findFirstEmpty(end + 1)
	f.tombstones.Set(uint(cur))
	f.nelts.add(-1)
	cur = f.pushToRunEnd(cur, end)
	f.trimRun(home, start, end)
	f.updateOffsets(home, end)

	space := f.cfg.tombstoneSpace
	boundary := f.nextBoundary(home)
	for prev := home; ; {
		q := f.findNextOccupied(prev + 1)
		if q >= f.nslots {
			break
		}
		rs := f.runStart(q)
		if cur < rs {
			// The freed slot is not part of q's run; the cluster ended.
			break
		}
		if rs >= boundary {
			if !f.isTombstone(cur + 1) {
				break
			}
			// A primitive tombstone follows. Leave the freed slot in its
			// place and push the primitive tombstone instead.
			cur++
			boundary += space
		}
		re := f.runEnd(q)
		cur = f.pushToRunEnd(cur, re)
		f.runends.Clear(uint(cur))
		f.runends.Set(uint(cur - 1))
		f.updateOffsets(q, cur)
		if debug {
			fmt.Printf("remove: pushed through run %d, freed slot now %d\n", q, cur)
		}
		prev = q
	}
	f.releaseSlots(start, clusterEnd)
}

// pushToRunEnd moves the tombstone at slot cur to slot end by shifting the
// slots in (cur, end] back by one, tombstone bits included. It returns end.
func (f *Filter) pushToRunEnd(cur, end uint64) uint64 {
	for i := cur; i < end; i++ {
		f.slots.set(i, f.slots.get(i+1))
		f.tombstones.SetTo(uint(i), f.tombstones.Test(uint(i+1)))
	}
	f.tombstones.Set(uint(end))
	return end
}

// nextBoundary returns the first primitive tombstone boundary after home
// bucket b. Boundaries are the home buckets congruent to space-1 modulo the
// tombstone space.
func (f *Filter) nextBoundary(b uint64) uint64 {
	space := f.cfg.tombstoneSpace
	return ((b+1)/space+1)*space - 1
}

// releaseSlots accounts for the slots in [lo, hi), all previously covered,
// that are no longer covered by any run.
func (f *Filter) releaseSlots(lo, hi uint64) {
	if freed := (hi - lo) - f.countCovered(lo, hi); freed > 0 {
		f.noccupied.add(-int64(freed))
	}
}
