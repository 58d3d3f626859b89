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

// Package qfmetrics exports quotient filter metrics to Prometheus.
//
// A Collector receives per-operation events through qf.WithMetrics. Gauges
// for a filter's occupancy are registered separately with RegisterStats,
// which reads qf.Filter.Stats on every scrape.
package qfmetrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qf"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements qf.MetricsCollector with Prometheus metrics.
type Collector struct {
	ops                 *prometheus.CounterVec
	probes              *prometheus.HistogramVec
	rebuilds            *prometheus.CounterVec
	rebuildFreed        *prometheus.CounterVec
	rebuildPlaceholders *prometheus.CounterVec
	rebuildLatency      *prometheus.HistogramVec
}

var _ qf.MetricsCollector = (*Collector)(nil)
var _ prometheus.Collector = (*Collector)(nil)

// New returns a Collector whose metric names are prefixed with namespace.
// The collector must be registered before its metrics are scraped.
func New(namespace string) *Collector {
	return &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Filter operations by kind and result.",
		}, []string{"op", "result"}),
		probes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_distance_slots",
			Help:      "Distance from the home bucket of successful inserts and removes.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"op"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Completed rebuild passes and steps.",
		}, []string{"policy"}),
		rebuildFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_freed_slots_total",
			Help:      "Slots released by rebuilds.",
		}, []string{"policy"}),
		rebuildPlaceholders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_placeholders_total",
			Help:      "Primitive tombstones inserted by rebuilds.",
		}, []string{"policy"}),
		rebuildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of rebuild passes and steps.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"policy"}),
	}
}

func (c *Collector) metrics() []prometheus.Collector {
	return []prometheus.Collector{
		c.ops, c.probes, c.rebuilds, c.rebuildFreed, c.rebuildPlaceholders, c.rebuildLatency,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics() {
		m.Collect(ch)
	}
}

// RecordInsert implements qf.MetricsCollector.
func (c *Collector) RecordInsert(probe int, err error) {
	c.ops.WithLabelValues("insert", result(err)).Inc()
	if err == nil {
		c.probes.WithLabelValues("insert").Observe(float64(probe))
	}
}

// RecordQuery implements qf.MetricsCollector.
func (c *Collector) RecordQuery(err error) {
	c.ops.WithLabelValues("query", result(err)).Inc()
}

// RecordRemove implements qf.MetricsCollector.
func (c *Collector) RecordRemove(probe int, err error) {
	c.ops.WithLabelValues("remove", result(err)).Inc()
	if err == nil {
		c.probes.WithLabelValues("remove").Observe(float64(probe))
	}
}

// RecordRebuild implements qf.MetricsCollector.
func (c *Collector) RecordRebuild(policy qf.RebuildPolicy, freed, placeholders int, d time.Duration) {
	p := policy.String()
	c.rebuilds.WithLabelValues(p).Inc()
	c.rebuildFreed.WithLabelValues(p).Add(float64(freed))
	c.rebuildPlaceholders.WithLabelValues(p).Add(float64(placeholders))
	c.rebuildLatency.WithLabelValues(p).Observe(d.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, qf.ErrKeyExists):
		return "exists"
	case errors.Is(err, qf.ErrDoesNotExist):
		return "missing"
	case errors.Is(err, qf.ErrNoSpace):
		return "full"
	default:
		return "error"
	}
}

// Stater is implemented by *qf.Filter.
type Stater interface {
	Stats() qf.Stats
}

// RegisterStats registers gauges that report the occupancy of f on every
// scrape. constLabels distinguish filters registered with the same
// registerer.
func RegisterStats(
	reg prometheus.Registerer, namespace string, f Stater, constLabels prometheus.Labels,
) error {
	gauges := []struct {
		name, help string
		value      func(qf.Stats) float64
	}{
		{"slots", "Home buckets.", func(s qf.Stats) float64 { return float64(s.Slots) }},
		{"elements", "Live elements.", func(s qf.Stats) float64 { return float64(s.Elements) }},
		{"occupied_slots", "Slots covered by a run.", func(s qf.Stats) float64 { return float64(s.Occupied) }},
		{"tombstones", "Occupied slots without a live element.", func(s qf.Stats) float64 { return float64(s.Tombstones) }},
		{"load_factor", "Occupied slots over home buckets.", func(s qf.Stats) float64 { return s.LoadFactor }},
		{"rebuild_cursor", "Next home bucket of the deamortized rebuild.", func(s qf.Stats) float64 { return float64(s.RebuildCursor) }},
	}
	for _, g := range gauges {
		value := g.value
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: constLabels,
		}, func() float64 { return value(f.Stats()) })
		if err := reg.Register(gf); err != nil {
			return errors.Wrapf(err, "registering %s", g.name)
		}
	}
	return nil
}
