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
	"fmt"

	"github.com/cockroachdb/qf"
	"github.com/spf13/cobra"
)

var rebuildSteps int

func init() {
	cmd := newRebuildCmd()
	cmd.Flags().IntVarP(&rebuildSteps, "steps", "n", 1,
		"Number of times to run the rebuild policy")
	rootCmd.AddCommand(cmd)
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <snapshot>",
		Short: "Run the rebuild policy",
		Long: `The rebuild command runs the filter's rebuild policy regardless of its
trigger. A deamortized filter advances one step per run.

Example:
  qfctl rebuild f.qf --steps 16`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, args[0])
		},
	}
}

func runRebuild(cmd *cobra.Command, path string) error {
	return withFilter(cmd, path, true, func(f *qf.Filter) error {
		before := f.Stats()
		for i := 0; i < rebuildSteps; i++ {
			f.Rebuild()
		}
		after := f.Stats()
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), after)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tombstones %d -> %d, cursor %d\n",
			before.Tombstones, after.Tombstones, after.RebuildCursor)
		return nil
	})
}
