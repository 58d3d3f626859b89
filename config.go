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
	"math"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// RemoveStrategy selects how Remove disposes of the slot it frees.
type RemoveStrategy uint8

const (
	// RemoveLazy marks the slot as a tombstone and only trims tombstones
	// from the tail of the run.
	RemoveLazy RemoveStrategy = iota
	// RemovePush moves the freed slot to the end of its run and then
	// across the following runs of the cluster, leaving at most one
	// tombstone per primitive tombstone boundary.
	RemovePush
)

func (s RemoveStrategy) String() string {
	switch s {
	case RemoveLazy:
		return "lazy"
	case RemovePush:
		return "push"
	}
	return fmt.Sprintf("RemoveStrategy(%d)", uint8(s))
}

// InsertStrategy selects how Insert opens a hole at the insertion point.
type InsertStrategy uint8

const (
	// InsertShift moves every slot between the insertion point and the
	// reclaimed slot forward by one.
	InsertShift InsertStrategy = iota
	// InsertSwap moves one element per intervening run, from the front of
	// the run to just past its end. Requires RunsUnordered.
	InsertSwap
)

func (s InsertStrategy) String() string {
	switch s {
	case InsertShift:
		return "shift"
	case InsertSwap:
		return "swap"
	}
	return fmt.Sprintf("InsertStrategy(%d)", uint8(s))
}

// RunOrder selects whether the elements of a run are kept sorted by
// remainder.
type RunOrder uint8

const (
	RunsSorted RunOrder = iota
	RunsUnordered
)

func (o RunOrder) String() string {
	switch o {
	case RunsSorted:
		return "sorted"
	case RunsUnordered:
		return "unordered"
	}
	return fmt.Sprintf("RunOrder(%d)", uint8(o))
}

// RebuildPolicy selects how tombstones are reclaimed.
type RebuildPolicy uint8

const (
	// RebuildNone never compacts. Tombstones are only reused by inserts.
	RebuildNone RebuildPolicy = iota
	// RebuildClear compacts the whole table and discards every tombstone.
	RebuildClear
	// RebuildAmortized compacts the whole table in one round, optionally
	// re-inserting primitive tombstones.
	RebuildAmortized
	// RebuildDeamortized compacts RebuildInterval home buckets per step,
	// advancing a cursor that wraps at the end of the table.
	RebuildDeamortized
)

func (p RebuildPolicy) String() string {
	switch p {
	case RebuildNone:
		return "none"
	case RebuildClear:
		return "clear"
	case RebuildAmortized:
		return "amortized"
	case RebuildDeamortized:
		return "deamortized"
	}
	return fmt.Sprintf("RebuildPolicy(%d)", uint8(p))
}

// RebuildTrigger selects when the rebuild policy runs.
type RebuildTrigger uint8

const (
	// TriggerScheduled runs the policy every RebuildPeriod successful
	// inserts. Deamortized steps start at the rebuild cursor.
	TriggerScheduled RebuildTrigger = iota
	// TriggerManual runs the policy only from Filter.Rebuild.
	TriggerManual
	// TriggerAtInsert runs a deamortized step starting at the home bucket of
	// the key just inserted. Requires RebuildDeamortized.
	TriggerAtInsert
)

func (t RebuildTrigger) String() string {
	switch t {
	case TriggerScheduled:
		return "scheduled"
	case TriggerManual:
		return "manual"
	case TriggerAtInsert:
		return "at-insert"
	}
	return fmt.Sprintf("RebuildTrigger(%d)", uint8(t))
}

// Placeholders selects whether a compaction re-inserts primitive
// tombstones at every TombstoneSpace home buckets.
type Placeholders uint8

const (
	// PlaceholdersAuto re-inserts for the amortized and deamortized policies
	// and discards for RebuildClear.
	PlaceholdersAuto Placeholders = iota
	PlaceholdersDiscard
	PlaceholdersReinsert
)

func (p Placeholders) String() string {
	switch p {
	case PlaceholdersAuto:
		return "auto"
	case PlaceholdersDiscard:
		return "discard"
	case PlaceholdersReinsert:
		return "reinsert"
	}
	return fmt.Sprintf("Placeholders(%d)", uint8(p))
}

// HashMode selects how keys are mapped to hashes.
type HashMode uint8

const (
	// HashDefault hashes the little-endian key bytes with xxhash64.
	HashDefault HashMode = iota
	// HashInvertible applies an invertible integer mix restricted to the
	// filter's key bits, so distinct keys never collide.
	HashInvertible
)

func (m HashMode) String() string {
	switch m {
	case HashDefault:
		return "default"
	case HashInvertible:
		return "invertible"
	}
	return fmt.Sprintf("HashMode(%d)", uint8(m))
}

type config struct {
	removeStrategy  RemoveStrategy
	insertStrategy  InsertStrategy
	runOrder        RunOrder
	rebuildPolicy   RebuildPolicy
	rebuildTrigger  RebuildTrigger
	placeholders    Placeholders
	hashMode        HashMode
	tombstoneSpace  uint64
	rebuildInterval uint64
	rebuildPeriod   uint64
	logger          logrus.FieldLogger
	metrics         MetricsCollector
}

// resolve fills in the defaults that depend on the table geometry.
func (c *config) resolve(nslots uint64, maxLoadFactor float64) {
	x := 1 / (1 - maxLoadFactor)
	if c.tombstoneSpace == 0 {
		c.tombstoneSpace = max(2, ceil(2*x))
	}
	if c.rebuildInterval == 0 {
		c.rebuildInterval = ceil(1.5 * float64(c.tombstoneSpace))
	}
	if c.rebuildPeriod == 0 {
		if c.rebuildPolicy == RebuildDeamortized {
			c.rebuildPeriod = 1
		} else {
			c.rebuildPeriod = uint64(max(1, float64(nslots)/(4*x)))
		}
	}
	if c.placeholders == PlaceholdersAuto {
		if c.rebuildPolicy == RebuildClear {
			c.placeholders = PlaceholdersDiscard
		} else {
			c.placeholders = PlaceholdersReinsert
		}
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
}

func (c *config) validate() error {
	switch {
	case c.removeStrategy > RemovePush:
		return errors.Wrapf(ErrInvalidConfig, "unknown remove strategy %s", c.removeStrategy)
	case c.insertStrategy > InsertSwap:
		return errors.Wrapf(ErrInvalidConfig, "unknown insert strategy %s", c.insertStrategy)
	case c.runOrder > RunsUnordered:
		return errors.Wrapf(ErrInvalidConfig, "unknown run order %s", c.runOrder)
	case c.rebuildPolicy > RebuildDeamortized:
		return errors.Wrapf(ErrInvalidConfig, "unknown rebuild policy %s", c.rebuildPolicy)
	case c.rebuildTrigger > TriggerAtInsert:
		return errors.Wrapf(ErrInvalidConfig, "unknown rebuild trigger %s", c.rebuildTrigger)
	case c.placeholders > PlaceholdersReinsert:
		return errors.Wrapf(ErrInvalidConfig, "unknown placeholder mode %s", c.placeholders)
	case c.hashMode > HashInvertible:
		return errors.Wrapf(ErrInvalidConfig, "unknown hash mode %s", c.hashMode)
	case c.insertStrategy == InsertSwap && c.runOrder != RunsUnordered:
		return errors.Wrapf(ErrInvalidConfig, "insert strategy %s requires %s runs", c.insertStrategy, RunsUnordered)
	case c.rebuildTrigger == TriggerAtInsert && c.rebuildPolicy != RebuildDeamortized:
		return errors.Wrapf(ErrInvalidConfig, "rebuild trigger %s requires the %s policy", c.rebuildTrigger, RebuildDeamortized)
	case c.placeholders == PlaceholdersReinsert && c.rebuildPolicy == RebuildClear:
		return errors.Wrapf(ErrInvalidConfig, "the %s policy cannot re-insert placeholders", c.rebuildPolicy)
	case c.tombstoneSpace == 1:
		return errors.Wrapf(ErrInvalidConfig, "tombstone space must be at least 2")
	}
	return nil
}

// ceil rounds v up, ignoring the rounding error of 1/(1-maxLoadFactor).
func ceil(v float64) uint64 {
	return uint64(math.Ceil(v - 1e-9))
}
