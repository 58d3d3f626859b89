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
	"time"

	"github.com/sirupsen/logrus"
)

// afterInsert advances the rebuild countdown after a successful insert into
// home bucket home and runs the rebuild policy when it expires.
func (f *Filter) afterInsert(home uint64) {
	if f.cfg.rebuildPolicy == RebuildNone || f.cfg.rebuildTrigger == TriggerManual {
		return
	}
	f.countdown--
	if f.countdown > 0 {
		return
	}
	f.countdown = f.cfg.rebuildPeriod
	if f.cfg.rebuildTrigger == TriggerAtInsert {
		f.rebuild(home)
	} else {
		f.rebuild(uint64(f.cursor.load()))
	}
}

// rebuild runs the configured policy. Deamortized steps start at home
// bucket from; the other policies cover the whole table.
func (f *Filter) rebuild(from uint64) {
	if f.cfg.rebuildPolicy == RebuildNone {
		return
	}
	start := time.Now()
	until := f.nslots
	switch f.cfg.rebuildPolicy {
	case RebuildClear, RebuildAmortized:
		from = 0
		f.cursor.store(0)
	case RebuildDeamortized:
		until = from + f.cfg.rebuildInterval
		if until >= f.nslots {
			until = f.nslots
			f.cursor.store(0)
		} else {
			f.cursor.store(int64(until))
		}
	}
	freed := f.compact(from, until)
	var placeholders int
	if f.cfg.placeholders == PlaceholdersReinsert {
		placeholders = f.insertPlaceholders(from, until)
	}
	f.rebuilds.add(1)
	d := time.Since(start)
	f.metrics.RecordRebuild(f.cfg.rebuildPolicy, freed, placeholders, d)
	f.logger.WithFields(logrus.Fields{
		"policy":       f.cfg.rebuildPolicy,
		"from":         from,
		"until":        until,
		"freed":        freed,
		"placeholders": placeholders,
		"tombstones":   f.noccupied.load() - f.nelts.load(),
		"duration":     d,
	}).Debug("qf: rebuild")
}

// compact squeezes the tombstones out of the runs of the home buckets in
// [from, until). Each run's live elements move to the front of the run and
// the tombstones left at its tail become the leading tombstones of the next
// run of the cluster, which is compacted in turn. Slots that end up outside
// every run are released. It returns the number of released slots.
func (f *Filter) compact(from, until uint64) int {
	q := f.findNextOccupied(from)
	if q >= until {
		return 0
	}
	lo := f.runStart(q)
	hi := lo
	var before uint64
	for ; q < until; q = f.findNextOccupied(q + 1) {
		end := f.runEnd(q)
		// Coverage past the previous run's old end is not affected by
		// compacting the runs before q.
		before += f.countCovered(hi, end+1)
		f.compactRun(q, end)
		f.updateOffsets(q, end)
		hi = end + 1
	}
	freed := before - f.countCovered(lo, hi)
	f.noccupied.add(-int64(freed))
	return int(freed)
}

// compactRun moves the live elements of the run of home bucket q, which
// ends at end, to the front of the run and marks the remaining slots as
// tombstones. It returns the new run end.
func (f *Filter) compactRun(q, end uint64) uint64 {
	start := f.runStart(q)
	w := start
	for i := start; i <= end; i++ {
		if f.isTombstone(i) {
			continue
		}
		if w != i {
			f.slots.set(w, f.slots.get(i))
			f.tombstones.Clear(uint(w))
		}
		w++
	}
	if w > end {
		return end
	}
	for i := w; i <= end; i++ {
		f.tombstones.Set(uint(i))
	}
	f.runends.Clear(uint(end))
	f.runends.Set(uint(w - 1))
	return w - 1
}

// insertPlaceholders inserts a primitive tombstone at the front of the run
// starting at each boundary home bucket in [from, until) that lies inside a
// cluster. It returns the number of tombstones inserted.
func (f *Filter) insertPlaceholders(from, until uint64) int {
	space := f.cfg.tombstoneSpace
	var n int
	for q := (from/space)*space + space - 1; q < until; q += space {
		if f.isEmpty(q) {
			continue
		}
		idx := f.runStart(q)
		if idx >= f.xnslots || f.isEmpty(idx) || f.isTombstone(idx) {
			continue
		}
		if f.insertTombstoneAt(q, idx) {
			n++
		}
	}
	return n
}

// insertTombstoneAt shifts the cluster from slot idx forward by one and
// marks idx as a tombstone. idx must be the start of a run. It reports false
// if there is no room.
func (f *Filter) insertTombstoneAt(q, idx uint64) bool {
	avail := f.findNextTombstone(idx)
	if avail >= f.xnslots {
		return false
	}
	if f.isEmpty(avail) {
		f.noccupied.add(1)
	}
	f.shiftRemainders(idx, avail)
	f.shiftRunendsTombstones(idx, avail)
	f.tombstones.Set(uint(idx))
	f.updateOffsets(q, avail)
	return true
}
