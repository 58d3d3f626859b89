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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Validate checks the internal consistency of the filter: block offsets,
// run boundaries, remainder order and the element and occupancy counts. It
// is linear in the size of the table.
func (f *Filter) Validate() error {
	for blk := uint64(1); blk < uint64(len(f.offsets)); blk++ {
		want := uint8(min(f.computeBlockOffset(blk), maxOffset))
		if got := f.offsets[blk]; got != want {
			return errors.AssertionFailedf("block %d: offset %d, expected %d", blk, got, want)
		}
	}
	if o, r := f.occupieds.Count(), f.runends.Count(); o != r {
		return errors.AssertionFailedf("%d occupied bits but %d run ends", o, r)
	}
	if q, ok := f.occupieds.NextSet(uint(f.nslots)); ok {
		return errors.AssertionFailedf("occupied bit %d past the last home bucket", q)
	}

	var covered, live uint64
	for q := f.findNextOccupied(0); q < f.nslots; q = f.findNextOccupied(q + 1) {
		start, end := f.runStart(q), f.runEnd(q)
		if start < q || end < start || end >= f.xnslots {
			return errors.AssertionFailedf("bucket %d: bad run [%d, %d]", q, start, end)
		}
		if !f.isRunend(end) {
			return errors.AssertionFailedf("bucket %d: slot %d is not a run end", q, end)
		}
		if f.isTombstone(end) {
			return errors.AssertionFailedf("bucket %d: run ends in tombstone %d", q, end)
		}
		var prev uint64
		var havePrev bool
		for i := start; i <= end; i++ {
			if i < end && f.isRunend(i) {
				return errors.AssertionFailedf("bucket %d: run end %d inside run [%d, %d]", q, i, start, end)
			}
			if f.isTombstone(i) {
				continue
			}
			live++
			r := f.remainderAt(i)
			if f.cfg.runOrder == RunsSorted && havePrev && r <= prev {
				return errors.AssertionFailedf("bucket %d: remainder %d at slot %d follows %d", q, r, i, prev)
			}
			prev, havePrev = r, true
		}
		covered += end - start + 1
	}
	if n := uint64(f.nelts.load()); n != live {
		return errors.AssertionFailedf("found %d live elements, but element count is %d", live, n)
	}
	if n := uint64(f.noccupied.load()); n != covered {
		return errors.AssertionFailedf("found %d covered slots, but occupied count is %d", covered, n)
	}
	return nil
}

func (f *Filter) checkInvariants() {
	if invariants {
		if err := f.Validate(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, f.debugString()))
		}
	}
}

func (f *Filter) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slots=%d/%d  elements=%d  occupied=%d\n",
		f.nslots, f.xnslots, f.nelts.load(), f.noccupied.load())
	for blk := range f.offsets {
		fmt.Fprintf(&buf, "  block %d: offset=%d\n", blk, f.offsets[blk])
	}
	last := f.findFirstEmpty(0)
	for i := uint64(0); i < f.xnslots; i++ {
		if i == last {
			// Skip the empty stretch up to the next run.
			next := f.findNextRun(i)
			if next >= f.xnslots {
				break
			}
			if next > i {
				fmt.Fprintf(&buf, "  %4d..%d: empty\n", i, next-1)
			}
			i = next
			last = f.findFirstEmpty(i)
		}
		var flags [3]byte
		copy(flags[:], "---")
		if f.isOccupied(i) {
			flags[0] = 'O'
		}
		if f.isRunend(i) {
			flags[1] = 'R'
		}
		if f.isTombstone(i) {
			flags[2] = 'T'
		}
		fmt.Fprintf(&buf, "  %4d: %s rem=%d value=%d\n", i, flags[:], f.remainderAt(i), f.slots.get(i)&f.valueMask)
	}
	return buf.String()
}
