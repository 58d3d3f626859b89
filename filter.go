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

// Package qf implements a fixed-capacity quotient filter that supports
// deletion through tombstones and several policies for reclaiming them.
//
// # Quotient filters
//
// A quotient filter is an approximate set. The hash of a key is split into a
// quotient, which names the key's home bucket, and a remainder, which is
// stored in a slot. Slots are kept in a single open-addressed array. All of
// the remainders that share a home bucket are stored contiguously in a run,
// and runs are stored in home bucket order, so a run may be displaced to the
// right of its home bucket by the runs before it. A maximal sequence of
// touching runs is a cluster. Two distinct keys whose hashes share both
// quotient and remainder are indistinguishable.
//
// Three bits of metadata are kept per slot:
//
//   - Occupied is set at a home bucket that has a run, regardless of where
//     the run physically starts.
//   - RunEnd is set at the last slot of each run.
//   - Tombstone is set at a slot inside a run whose contents were deleted
//     and may be reused.
//
// The i'th Occupied bit and the i'th RunEnd bit (counting from the left)
// belong to the same run, so the end of the run for home bucket b is found by
// counting the Occupied bits up to b and selecting the RunEnd bit with the
// same rank. Slots are grouped in blocks of 64 and each block stores the
// number of its leading slots covered by runs from earlier blocks. The
// offset bounds rank and select to a block or two.
//
// A slot is empty when no run covers it. Empty slots carry no metadata;
// their Tombstone bits are ignored.
//
// # Deletion
//
// Remove marks a slot as a tombstone instead of shifting the cluster left.
// Two strategies are available. The lazy strategy only trims tombstones off
// the end of the run, leaving interior tombstones for Insert to reuse. The
// push strategy moves the freed slot to the end of its run and then across
// the following runs of the cluster until it reaches a primitive tombstone
// boundary, which bounds the length a cluster can reach through churn.
//
// Insert reuses the nearest tombstone or empty slot at or after the
// insertion point, so a tombstone shortens the shift an insert needs.
//
// # Rebuilds
//
// Tombstones lengthen probes, so they are periodically compacted away. The
// clear policy compacts the whole table and discards every tombstone. The
// amortized policy does the same on a countdown and can re-insert primitive
// tombstones every TombstoneSpace home buckets. The deamortized policy
// compacts RebuildInterval home buckets per step, advancing a cursor that
// wraps at the end of the table.
//
// A Filter is NOT goroutine-safe. Stats may be called concurrently with a
// single mutating goroutine.
package qf

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

const (
	debug = false

	// minSlots keeps at least one full block of home buckets.
	minSlots = slotsPerBlock
	// maxSlots bounds the number of home buckets, and with it the storage a
	// snapshot header can request.
	maxSlots = 1 << 32
)

// Flags modify a single Insert, Query or Remove call.
type Flags uint8

const (
	// KeyIsHash indicates the key is already a hash. It is masked to the
	// filter's key bits and used directly.
	KeyIsHash Flags = 1 << iota
)

// Filter is a quotient filter with tombstone deletion. Elements are keys,
// each carrying a small value.
type Filter struct {
	slots      slotArray
	occupieds  *bitset.BitSet
	runends    *bitset.BitSet
	tombstones *bitset.BitSet
	// offsets[j] is the number of leading slots of block j covered by runs
	// whose home bucket precedes the block, saturated at maxOffset.
	offsets []uint8

	keyBits       uint
	valueBits     uint
	quotientBits  uint
	remainderBits uint
	valueMask     uint64
	maxLoadFactor float64

	// nslots is the number of home buckets. xnslots adds the guard slots
	// that displaced runs may spill into.
	nslots  uint64
	xnslots uint64

	nelts     counter
	noccupied counter
	cursor    counter
	rebuilds  counter
	countdown uint64

	cfg     config
	logger  logrus.FieldLogger
	metrics MetricsCollector
}

// New constructs a Filter able to hold capacity elements at no more than
// maxLoadFactor of its home buckets. Keys are hashed to keyBits bits and
// each element stores a value of valueBits bits.
func New(
	capacity uint64, keyBits, valueBits uint, maxLoadFactor float64, options ...Option,
) (*Filter, error) {
	if !(maxLoadFactor > 0 && maxLoadFactor < 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "max load factor %v not in (0, 1)", maxLoadFactor)
	}
	want := uint64(math.Ceil(float64(capacity) / maxLoadFactor))
	nslots := uint64(minSlots)
	if want > nslots {
		if want > maxSlots {
			return nil, errors.Wrapf(ErrInvalidConfig, "capacity %d too large", capacity)
		}
		nslots = 1 << bits.Len64(want-1)
	}
	var cfg config
	for _, op := range options {
		op.apply(&cfg)
	}
	return newFilter(cfg, nslots, keyBits, valueBits, maxLoadFactor)
}

func newFilter(
	cfg config, nslots uint64, keyBits, valueBits uint, maxLoadFactor float64,
) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if nslots < minSlots || nslots&(nslots-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "slot count %d is not a power of two >= %d", nslots, minSlots)
	}
	if nslots > maxSlots {
		return nil, errors.Wrapf(ErrInvalidConfig, "slot count %d exceeds %d", nslots, uint64(maxSlots))
	}
	quotientBits := uint(bits.TrailingZeros64(nslots))
	if keyBits > 64 || keyBits <= quotientBits {
		return nil, errors.Wrapf(ErrInvalidConfig,
			"key bits %d must be in (%d, 64] for %d slots", keyBits, quotientBits, nslots)
	}
	remainderBits := keyBits - quotientBits
	if remainderBits+valueBits > 64 {
		return nil, errors.Wrapf(ErrInvalidConfig,
			"remainder bits %d plus value bits %d exceed 64", remainderBits, valueBits)
	}
	cfg.resolve(nslots, maxLoadFactor)

	xnslots := nslots + uint64(math.Ceil(10*math.Sqrt(float64(nslots))))
	nblocks := (xnslots + slotsPerBlock - 1) / slotsPerBlock
	nbits := uint(nblocks * slotsPerBlock)
	f := &Filter{
		slots:         makeSlotArray(nblocks*slotsPerBlock, remainderBits+valueBits),
		occupieds:     bitset.New(nbits),
		runends:       bitset.New(nbits),
		tombstones:    bitset.New(nbits),
		offsets:       make([]uint8, nblocks),
		keyBits:       keyBits,
		valueBits:     valueBits,
		quotientBits:  quotientBits,
		remainderBits: remainderBits,
		valueMask:     bitmask(valueBits),
		maxLoadFactor: maxLoadFactor,
		nslots:        nslots,
		xnslots:       xnslots,
		countdown:     cfg.rebuildPeriod,
		cfg:           cfg,
		logger:        cfg.logger,
		metrics:       cfg.metrics,
	}
	return f, nil
}

// Close releases the storage of the filter. The filter must not be used
// afterwards.
func (f *Filter) Close() {
	f.slots = slotArray{}
	f.occupieds = nil
	f.runends = nil
	f.tombstones = nil
	f.offsets = nil
	f.nelts.store(0)
	f.noccupied.store(0)
}

// Insert adds key with the associated value. It returns the probe distance,
// which is zero when the element was placed directly in an empty home
// bucket and otherwise the distance from the home bucket to the slot that
// was reclaimed, plus one.
func (f *Filter) Insert(key, value uint64, flags Flags) (int, error) {
	home, rem := f.split(f.hash(key, flags))
	probe, err := f.insert(home, rem, value)
	f.metrics.RecordInsert(probe, err)
	if err != nil {
		if errors.Is(err, ErrNoSpace) {
			f.logger.WithFields(logrus.Fields{
				"bucket":     home,
				"elements":   f.nelts.load(),
				"occupied":   f.noccupied.load(),
				"tombstones": f.noccupied.load() - f.nelts.load(),
			}).Warn("qf: insert found no free slot")
		}
		return 0, err
	}
	f.afterInsert(home)
	f.checkInvariants()
	return probe, nil
}

// Query returns the value stored with key.
func (f *Filter) Query(key uint64, flags Flags) (uint64, error) {
	home, rem := f.split(f.hash(key, flags))
	v, err := f.query(home, rem)
	f.metrics.RecordQuery(err)
	return v, err
}

func (f *Filter) query(home, rem uint64) (uint64, error) {
	if !f.isOccupied(home) {
		return 0, ErrDoesNotExist
	}
	found, idx, _, _ := f.find(home, rem)
	if !found {
		return 0, ErrDoesNotExist
	}
	return f.slots.get(idx) & f.valueMask, nil
}

// Remove deletes key from the filter. It returns the distance from the home
// bucket to the slot the key occupied, plus one.
func (f *Filter) Remove(key uint64, flags Flags) (int, error) {
	home, rem := f.split(f.hash(key, flags))
	probe, err := f.remove(home, rem)
	f.metrics.RecordRemove(probe, err)
	if err != nil {
		return 0, err
	}
	f.checkInvariants()
	return probe, nil
}

// Rebuild runs the configured rebuild policy once, regardless of the
// trigger. For RebuildDeamortized this is one step starting at the rebuild
// cursor. It is a no-op for RebuildNone.
func (f *Filter) Rebuild() {
	f.rebuild(uint64(f.cursor.load()))
	f.checkInvariants()
}

// Stats is a point-in-time summary of a Filter.
type Stats struct {
	// Slots is the number of home buckets.
	Slots uint64
	// UsableSlots includes the guard slots past the last home bucket.
	UsableSlots uint64
	// Elements is the number of live elements.
	Elements uint64
	// Occupied is the number of slots covered by a run, live or tombstone.
	Occupied uint64
	// Tombstones is Occupied - Elements.
	Tombstones uint64
	// LoadFactor is Occupied / Slots.
	LoadFactor      float64
	RebuildCursor   uint64
	RebuildInterval uint64
	TombstoneSpace  uint64
	// Rebuilds counts completed rebuild passes and steps.
	Rebuilds uint64
}

// Stats returns a snapshot of the filter's counters.
func (f *Filter) Stats() Stats {
	nelts := uint64(f.nelts.load())
	noccupied := uint64(f.noccupied.load())
	// The counters are loaded separately. A concurrent Remove may have
	// released slots after nelts was read.
	if noccupied < nelts {
		noccupied = nelts
	}
	return Stats{
		Slots:           f.nslots,
		UsableSlots:     f.xnslots,
		Elements:        nelts,
		Occupied:        noccupied,
		Tombstones:      noccupied - nelts,
		LoadFactor:      float64(noccupied) / float64(f.nslots),
		RebuildCursor:   uint64(f.cursor.load()),
		RebuildInterval: f.cfg.rebuildInterval,
		TombstoneSpace:  f.cfg.tombstoneSpace,
		Rebuilds:        uint64(f.rebuilds.load()),
	}
}

// Len returns the number of live elements.
func (f *Filter) Len() int {
	return int(f.nelts.load())
}

func (f *Filter) String() string {
	s := f.Stats()
	return fmt.Sprintf("qf(slots=%d elements=%d occupied=%d tombstones=%d policy=%s)",
		s.Slots, s.Elements, s.Occupied, s.Tombstones, f.cfg.rebuildPolicy)
}

func (f *Filter) isOccupied(i uint64) bool { return f.occupieds.Test(uint(i)) }

func (f *Filter) isRunend(i uint64) bool { return f.runends.Test(uint(i)) }

func (f *Filter) isTombstone(i uint64) bool { return f.tombstones.Test(uint(i)) }

func (f *Filter) remainderAt(i uint64) uint64 { return f.slots.get(i) >> f.valueBits }
