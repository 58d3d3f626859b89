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
	"text/tabwriter"

	"github.com/cockroachdb/qf"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <snapshot>",
		Short: "Show filter statistics",
		Long: `The stats command shows the geometry, occupancy and rebuild state of a
filter.

Example:
  qfctl stats f.qf
  qfctl stats f.qf --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, args[0])
		},
	}
}

func runStats(cmd *cobra.Command, path string) error {
	return withFilter(cmd, path, false, func(f *qf.Filter) error {
		return printStats(cmd, f.Stats())
	})
}

func printStats(cmd *cobra.Command, s qf.Stats) error {
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), s)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "slots:\t%d\n", s.Slots)
	fmt.Fprintf(w, "usable slots:\t%d\n", s.UsableSlots)
	fmt.Fprintf(w, "elements:\t%d\n", s.Elements)
	fmt.Fprintf(w, "occupied:\t%d\n", s.Occupied)
	fmt.Fprintf(w, "tombstones:\t%d\n", s.Tombstones)
	fmt.Fprintf(w, "load factor:\t%.4f\n", s.LoadFactor)
	fmt.Fprintf(w, "tombstone space:\t%d\n", s.TombstoneSpace)
	fmt.Fprintf(w, "rebuild interval:\t%d\n", s.RebuildInterval)
	fmt.Fprintf(w, "rebuild cursor:\t%d\n", s.RebuildCursor)
	fmt.Fprintf(w, "rebuilds:\t%d\n", s.Rebuilds)
	return w.Flush()
}
