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
	"io"

	"github.com/sirupsen/logrus"
)

// Option configures a Filter while it is being created.
type Option interface {
	apply(c *config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// WithRemoveStrategy sets the strategy used by Remove. The default is
// RemoveLazy.
func WithRemoveStrategy(s RemoveStrategy) Option {
	return optionFunc(func(c *config) { c.removeStrategy = s })
}

// WithInsertStrategy sets the tactic Insert uses to reclaim a slot. The
// default is InsertShift.
func WithInsertStrategy(s InsertStrategy) Option {
	return optionFunc(func(c *config) { c.insertStrategy = s })
}

// WithRunOrder sets whether runs are kept sorted by remainder. The default
// is RunsSorted.
func WithRunOrder(o RunOrder) Option {
	return optionFunc(func(c *config) { c.runOrder = o })
}

// WithRebuildPolicy sets the compaction policy. The default is
// RebuildNone.
func WithRebuildPolicy(p RebuildPolicy) Option {
	return optionFunc(func(c *config) { c.rebuildPolicy = p })
}

// WithRebuildTrigger sets when the rebuild policy runs. The default is
// TriggerScheduled.
func WithRebuildTrigger(t RebuildTrigger) Option {
	return optionFunc(func(c *config) { c.rebuildTrigger = t })
}

// WithPlaceholders sets whether compaction re-inserts primitive tombstones.
func WithPlaceholders(p Placeholders) Option {
	return optionFunc(func(c *config) { c.placeholders = p })
}

// WithTombstoneSpace sets the distance, in home buckets, between primitive
// tombstones. Zero selects the default of max(2, ceil(2x)) where
// x = 1/(1-maxLoadFactor).
func WithTombstoneSpace(n uint64) Option {
	return optionFunc(func(c *config) { c.tombstoneSpace = n })
}

// WithRebuildInterval sets the number of home buckets compacted by one
// deamortized step. Zero selects 1.5 times the tombstone space.
func WithRebuildInterval(n uint64) Option {
	return optionFunc(func(c *config) { c.rebuildInterval = n })
}

// WithRebuildPeriod sets the number of successful inserts between
// scheduled rebuilds. Zero selects a default derived from the policy.
func WithRebuildPeriod(n uint64) Option {
	return optionFunc(func(c *config) { c.rebuildPeriod = n })
}

// WithHashMode sets how keys are hashed. The default is HashDefault.
func WithHashMode(m HashMode) Option {
	return optionFunc(func(c *config) { c.hashMode = m })
}

// WithLogger sets the logger used for rebuild and capacity events. By
// default nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return optionFunc(func(c *config) { c.logger = l })
}

// WithMetrics sets the collector notified after every operation.
func WithMetrics(m MetricsCollector) Option {
	return optionFunc(func(c *config) { c.metrics = m })
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
