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

import "github.com/cockroachdb/errors"

var (
	// ErrKeyExists is returned by Insert when the key's remainder is already
	// present in its home run. The filter is not modified.
	ErrKeyExists = errors.New("qf: key exists")
	// ErrDoesNotExist is returned by Query and Remove when the key's
	// remainder is absent from its home run.
	ErrDoesNotExist = errors.New("qf: key does not exist")
	// ErrNoSpace is returned by Insert when no empty or tombstoned slot exists
	// between the insertion point and the end of the usable slots. The
	// filter is not modified.
	ErrNoSpace = errors.New("qf: no space")
	// ErrInvalidConfig is returned by New and Load for unsupported sizes or
	// option combinations.
	ErrInvalidConfig = errors.New("qf: invalid config")
	// ErrCorruptSnapshot is returned by Load when a snapshot cannot be
	// decoded or fails validation.
	ErrCorruptSnapshot = errors.New("qf: corrupt snapshot")
)
