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

import "time"

// MetricsCollector is notified after every Filter operation. Implementations
// are called from the goroutine mutating the filter and must not call back
// into it.
type MetricsCollector interface {
	// RecordInsert is called after Insert with the probe distance and error
	// it returned.
	RecordInsert(probe int, err error)
	// RecordQuery is called after Query with the error it returned.
	RecordQuery(err error)
	// RecordRemove is called after Remove with the probe distance and error
	// it returned.
	RecordRemove(probe int, err error)
	// RecordRebuild is called after every rebuild pass or step with the
	// number of slots it released and the number of primitive tombstones it
	// inserted.
	RecordRebuild(policy RebuildPolicy, freed, placeholders int, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordInsert(int, error) {}
func (noopMetrics) RecordQuery(error) {}
func (noopMetrics) RecordRemove(int, error) {}
func (noopMetrics) RecordRebuild(RebuildPolicy, int, int, time.Duration) {}
