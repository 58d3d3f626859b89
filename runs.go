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

import "math/bits"

// blockOffset returns the number of leading slots of block blk that are
// covered by runs whose home bucket precedes the block.
func (f *Filter) blockOffset(blk uint64) uint64 {
	if blk == 0 {
		return 0
	}
	if o := f.offsets[blk]; o < maxOffset {
		return uint64(o)
	}
	return f.computeBlockOffset(blk)
}

// computeBlockOffset derives the offset of block blk from the runs of the
// preceding blocks, ignoring the stored offset of blk itself.
func (f *Filter) computeBlockOffset(blk uint64) uint64 {
	if blk == 0 {
		return 0
	}
	last := blk*slotsPerBlock - 1
	end, covered := f.runEndFor(last)
	if !covered || end <= last {
		return 0
	}
	return end - last
}

// runEndFor returns the end of the run with the largest home bucket <= i,
// and whether that run (or the cluster it belongs to) covers slot i. When no
// run covers i it returns (i, false).
func (f *Filter) runEndFor(i uint64) (uint64, bool) {
	blk := i / slotsPerBlock
	off := uint(i % slotsPerBlock)
	bo := f.blockOffset(blk)
	rank := bits.OnesCount64(f.occupieds.Words()[blk] & bitmask(off+1))
	if rank == 0 {
		if bo <= uint64(off) {
			return i, false
		}
		return blk*slotsPerBlock + bo - 1, true
	}
	end := f.selectRunend(blk*slotsPerBlock+bo, rank-1)
	return end, end >= i
}

// selectRunend returns the index of the rank'th (0-based) RunEnd bit at or
// after from.
func (f *Filter) selectRunend(from uint64, rank int) uint64 {
	words := f.runends.Words()
	w := from / 64
	if w >= uint64(len(words)) {
		return uint64(len(words)) * 64
	}
	word := words[w] &^ bitmask(uint(from%64))
	for {
		n := bits.OnesCount64(word)
		if rank < n {
			return w*64 + select64(word, rank)
		}
		rank -= n
		w++
		if w >= uint64(len(words)) {
			return uint64(len(words)) * 64
		}
		word = words[w]
	}
}

// isEmpty reports whether slot i is covered by no run.
func (f *Filter) isEmpty(i uint64) bool {
	_, covered := f.runEndFor(i)
	return !covered
}

// runEnd returns the last slot of the run whose home bucket is i, or the
// last slot of the cluster covering i if i has no run. It returns i when i
// is empty.
func (f *Filter) runEnd(i uint64) uint64 {
	end, covered := f.runEndFor(i)
	if !covered {
		return i
	}
	return end
}

// runStart returns the slot at which the run for home bucket b starts, or
// would start if b had a run.
func (f *Filter) runStart(b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return f.runEnd(b-1) + 1
}

// find locates remainder rem in the run of home bucket b. It returns whether
// rem was found, the slot holding it or the slot it should be inserted at,
// and the bounds of the run. If b has no run, all three slots are the slot
// where the run would start.
//
// In sorted runs the insertion slot follows the last live remainder smaller
// than rem. In unordered runs it is the first tombstone of the run, or the
// slot after the run end.
func (f *Filter) find(b, rem uint64) (found bool, idx, start, end uint64) {
	start = f.runStart(b)
	if !f.isOccupied(b) {
		return false, start, start, start
	}
	end = f.runEnd(b)
	if f.cfg.runOrder == RunsUnordered {
		idx = end + 1
		for i := start; i <= end; i++ {
			if f.isTombstone(i) {
				if idx > end {
					idx = i
				}
				continue
			}
			if f.remainderAt(i) == rem {
				return true, i, start, end
			}
		}
		return false, idx, start, end
	}
	idx = start
	for i := start; i <= end; i++ {
		if f.isTombstone(i) {
			continue
		}
		r := f.remainderAt(i)
		if r == rem {
			return true, i, start, end
		}
		if r > rem {
			break
		}
		idx = i + 1
	}
	return false, idx, start, end
}

// findNextOccupied returns the first home bucket >= from that has a run, or
// xnslots if there is none.
func (f *Filter) findNextOccupied(from uint64) uint64 {
	i, ok := f.occupieds.NextSet(uint(from))
	if !ok {
		return f.xnslots
	}
	return uint64(i)
}

// findNextRun returns the start of the first run whose home bucket is >=
// from, or xnslots if there is none.
func (f *Filter) findNextRun(from uint64) uint64 {
	q := f.findNextOccupied(from)
	if q >= f.nslots {
		return f.xnslots
	}
	return f.runStart(q)
}

// findPrevRunend returns the largest RunEnd slot < x, and false if there is
// none.
func (f *Filter) findPrevRunend(x uint64) (uint64, bool) {
	if x == 0 {
		return 0, false
	}
	i, ok := f.runends.PreviousSet(uint(x - 1))
	return uint64(i), ok
}

// findFirstEmpty returns the first empty slot >= from, or xnslots.
func (f *Filter) findFirstEmpty(from uint64) uint64 {
	for from < f.xnslots {
		end, covered := f.runEndFor(from)
		if !covered {
			return from
		}
		from = end + 1
	}
	return f.xnslots
}

// findFirstTombstone returns the first slot >= from whose Tombstone bit is
// set, or xnslots. The slot may be empty.
func (f *Filter) findFirstTombstone(from uint64) uint64 {
	i, ok := f.tombstones.NextSet(uint(from))
	if !ok || uint64(i) >= f.xnslots {
		return f.xnslots
	}
	return uint64(i)
}

// findNextTombstone returns the first slot >= from that is either a
// tombstone or empty, or xnslots if every usable slot from there on is live.
func (f *Filter) findNextTombstone(from uint64) uint64 {
	if from >= f.xnslots {
		return f.xnslots
	}
	return min(f.findFirstTombstone(from), f.findFirstEmpty(from))
}

// countCovered returns the number of slots in [lo, hi) covered by a run.
func (f *Filter) countCovered(lo, hi uint64) uint64 {
	var n uint64
	for i := lo; i < hi; {
		end, covered := f.runEndFor(i)
		if !covered {
			// Nothing between i and the next home bucket can be covered.
			i = f.findNextOccupied(i + 1)
			continue
		}
		n += min(end+1, hi) - i
		i = end + 1
	}
	return n
}

// updateOffsets restores the block offsets after the run boundaries of
// slots in [from, through] changed. Every block after the one containing
// from is recomputed through the block containing through; past that the
// update stops at the first block whose offset is unchanged.
func (f *Filter) updateOffsets(from, through uint64) {
	last := through / slotsPerBlock
	for blk := from/slotsPerBlock + 1; blk < uint64(len(f.offsets)); blk++ {
		o := uint8(min(f.computeBlockOffset(blk), maxOffset))
		if blk > last && f.offsets[blk] == o && o < maxOffset {
			return
		}
		f.offsets[blk] = o
	}
}
