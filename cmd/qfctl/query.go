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

func init() {
	rootCmd.AddCommand(newQueryCmd())
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <snapshot> <key>...",
		Short: "Look up keys",
		Long: `The query command prints the value stored with each key, or
"missing" when the filter does not contain it.

Example:
  qfctl query f.qf 1 2 3 --json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], args[1:])
		},
	}
}

func runQuery(cmd *cobra.Command, path string, args []string) error {
	keys, err := parseKeys(args)
	if err != nil {
		return err
	}
	return withFilter(cmd, path, false, func(f *qf.Filter) error {
		results := make([]opResult, 0, len(keys))
		for _, k := range keys {
			v, err := f.Query(k, keyFlags())
			results = append(results, opResult{Key: k, Value: v, Result: resultOf(err)})
		}
		return printResults(cmd.OutOrStdout(), results, true)
	})
}
