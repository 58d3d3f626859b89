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
	rootCmd.AddCommand(newRemoveCmd())
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <snapshot> <key>...",
		Aliases: []string{"rm"},
		Short:   "Remove keys",
		Long: `The remove command deletes keys using the remove strategy the filter
was created with and prints the probe distance of each removal.

Example:
  qfctl remove f.qf 1 2`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0], args[1:])
		},
	}
}

func runRemove(cmd *cobra.Command, path string, args []string) error {
	keys, err := parseKeys(args)
	if err != nil {
		return err
	}
	return withFilter(cmd, path, true, func(f *qf.Filter) error {
		results := make([]opResult, 0, len(keys))
		for _, k := range keys {
			probe, err := f.Remove(k, keyFlags())
			results = append(results, opResult{Key: k, Probe: probe, Result: resultOf(err)})
		}
		return printResults(cmd.OutOrStdout(), results, false)
	})
}
