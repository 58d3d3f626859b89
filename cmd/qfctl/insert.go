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

package main

import (
	"github.com/cockroachdb/qf"
	"github.com/spf13/cobra"
)

var insertValue uint64

func init() {
	cmd := newInsertCmd()
	cmd.Flags().Uint64Var(&insertValue, "value", 0, "Value stored with every key")
	rootCmd.AddCommand(cmd)
}

func newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <snapshot> <key>...",
		Short: "Insert keys",
		Long: `The insert command adds keys to the filter and prints the probe
distance of each insert. Keys that are already present are reported as
"exists" and keys that do not fit as "full".

Example:
  qfctl insert f.qf 1 2 0x1f --value 7`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd, args[0], args[1:])
		},
	}
}

func runInsert(cmd *cobra.Command, path string, args []string) error {
	keys, err := parseKeys(args)
	if err != nil {
		return err
	}
	return withFilter(cmd, path, true, func(f *qf.Filter) error {
		results := make([]opResult, 0, len(keys))
		for _, k := range keys {
			probe, err := f.Insert(k, insertValue, keyFlags())
			results = append(results, opResult{Key: k, Probe: probe, Result: resultOf(err)})
		}
		return printResults(cmd.OutOrStdout(), results, false)
	})
}
