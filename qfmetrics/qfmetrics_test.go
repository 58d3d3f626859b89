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

package qfmetrics

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New("qf")
	f, err := qf.New(100, 20, 8, 0.9,
		qf.WithHashMode(qf.HashInvertible),
		qf.WithRebuildPolicy(qf.RebuildAmortized),
		qf.WithRebuildTrigger(qf.TriggerManual),
		qf.WithMetrics(c))
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		_, err := f.Insert(i, i, 0)
		require.NoError(t, err)
	}
	_, err = f.Insert(0, 0, 0)
	require.ErrorIs(t, err, qf.ErrKeyExists)
	_, err = f.Query(1, 0)
	require.NoError(t, err)
	_, err = f.Query(999, 0)
	require.ErrorIs(t, err, qf.ErrDoesNotExist)
	_, err = f.Remove(2, 0)
	require.NoError(t, err)
	_, err = f.Remove(2, 0)
	require.ErrorIs(t, err, qf.ErrDoesNotExist)
	f.Rebuild()

	ops := func(op, result string) float64 {
		return testutil.ToFloat64(c.ops.WithLabelValues(op, result))
	}
	require.EqualValues(t, 10, ops("insert", "ok"))
	require.EqualValues(t, 1, ops("insert", "exists"))
	require.EqualValues(t, 1, ops("query", "ok"))
	require.EqualValues(t, 1, ops("query", "missing"))
	require.EqualValues(t, 1, ops("remove", "ok"))
	require.EqualValues(t, 1, ops("remove", "missing"))

	require.Equal(t, 2, testutil.CollectAndCount(c.probes))
	require.EqualValues(t, 1, testutil.ToFloat64(c.rebuilds.WithLabelValues("amortized")))
	require.Equal(t, 1, testutil.CollectAndCount(c.rebuildLatency))
	require.EqualValues(t, f.Stats().Tombstones,
		testutil.ToFloat64(c.rebuildPlaceholders.WithLabelValues("amortized")))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 6+2+1+1+1+1, n)
}

func TestResult(t *testing.T) {
	testCases := []struct {
		err      error
		expected string
	}{
		{nil, "ok"},
		{qf.ErrKeyExists, "exists"},
		{errors.Wrap(qf.ErrDoesNotExist, "remove"), "missing"},
		{errors.Wrapf(qf.ErrNoSpace, "bucket %d", 7), "full"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, result(tc.err))
	}
}

func TestRegisterStats(t *testing.T) {
	f, err := qf.New(100, 20, 8, 0.9, qf.WithHashMode(qf.HashInvertible))
	require.NoError(t, err)
	for i := uint64(0); i < 5; i++ {
		_, err := f.Insert(i, 0, 0)
		require.NoError(t, err)
	}

	reg := prometheus.NewPedanticRegistry()
	labels := prometheus.Labels{"filter": "a"}
	require.NoError(t, RegisterStats(reg, "qf", f, labels))

	const expected = `
# HELP qf_elements Live elements.
# TYPE qf_elements gauge
qf_elements{filter="a"} 5
# HELP qf_slots Home buckets.
# TYPE qf_slots gauge
qf_slots{filter="a"} 128
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"qf_elements", "qf_slots"))

	// Gauges read the filter on every scrape.
	_, err = f.Remove(0, 0)
	require.NoError(t, err)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP qf_elements Live elements.
# TYPE qf_elements gauge
qf_elements{filter="a"} 4
`), "qf_elements"))

	require.Error(t, RegisterStats(reg, "qf", f, labels))
	require.NoError(t, RegisterStats(reg, "qf", f, prometheus.Labels{"filter": "b"}))
}
