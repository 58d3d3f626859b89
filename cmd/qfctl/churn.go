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
	"math/rand/v2"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qf"
	"github.com/cockroachdb/qf/qfmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var churnOpts struct {
	fill        float64
	cycles      int
	ops         int
	seed        uint64
	save        bool
	metricsFile string
}

func init() {
	cmd := newChurnCmd()
	fl := cmd.Flags()
	fl.Float64Var(&churnOpts.fill, "fill", 0.85, "Fraction of home buckets to fill before churning")
	fl.IntVar(&churnOpts.cycles, "cycles", 10, "Number of churn cycles")
	fl.IntVar(&churnOpts.ops, "ops", 0,
		"Remove and insert pairs per cycle (0 uses a tenth of the home buckets)")
	fl.Uint64Var(&churnOpts.seed, "seed", 1, "Seed of the key generator")
	fl.BoolVar(&churnOpts.save, "save", false, "Write the churned filter back to the snapshot")
	fl.StringVar(&churnOpts.metricsFile, "metrics-file", "",
		"Write Prometheus metrics in text format to this file when done")
	rootCmd.AddCommand(cmd)
}

func newChurnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "churn <snapshot>",
		Short: "Fill a filter and run remove/insert cycles",
		Long: `The churn command fills a filter with random keys to the given fraction
of its home buckets and then runs cycles that each remove a random key and
insert a fresh one. Statistics are printed after the fill and after every
cycle, showing how tombstones accumulate and how the rebuild policy clears
them.

Example:
  qfctl churn f.qf --fill 0.9 --cycles 20
  qfctl churn f.qf --metrics-file churn.prom`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn(cmd, args[0])
		},
	}
}

// churnRow summarizes the filter after a phase of the churn.
type churnRow struct {
	Cycle       int     `json:"cycle"`
	Elements    uint64  `json:"elements"`
	Occupied    uint64  `json:"occupied"`
	Tombstones  uint64  `json:"tombstones"`
	LoadFactor  float64 `json:"load_factor"`
	Rebuilds    uint64  `json:"rebuilds"`
	InsertProbe float64 `json:"mean_insert_probe"`
	RemoveProbe float64 `json:"mean_remove_probe"`
	Full        int     `json:"full"`
}

type churner struct {
	f     *qf.Filter
	rng   *rand.Rand
	live  []uint64
	flags qf.Flags

	inserts, insertProbes int
	removes, removeProbes int
	full                  int
}

func (c *churner) insert() error {
	for {
		k := c.rng.Uint64()
		probe, err := c.f.Insert(k, k, c.flags)
		switch {
		case err == nil:
			c.live = append(c.live, k)
			c.inserts++
			c.insertProbes += probe
			return nil
		case errors.Is(err, qf.ErrKeyExists):
			continue
		default:
			return err
		}
	}
}

func (c *churner) remove() error {
	i := c.rng.IntN(len(c.live))
	k := c.live[i]
	probe, err := c.f.Remove(k, c.flags)
	if err != nil {
		return errors.Wrapf(err, "removing inserted key %d", k)
	}
	c.live[i] = c.live[len(c.live)-1]
	c.live = c.live[:len(c.live)-1]
	c.removes++
	c.removeProbes += probe
	return nil
}

func (c *churner) row(cycle int) churnRow {
	s := c.f.Stats()
	r := churnRow{
		Cycle:      cycle,
		Elements:   s.Elements,
		Occupied:   s.Occupied,
		Tombstones: s.Tombstones,
		LoadFactor: s.LoadFactor,
		Rebuilds:   s.Rebuilds,
		Full:       c.full,
	}
	if c.inserts > 0 {
		r.InsertProbe = float64(c.insertProbes) / float64(c.inserts)
	}
	if c.removes > 0 {
		r.RemoveProbe = float64(c.removeProbes) / float64(c.removes)
	}
	c.inserts, c.insertProbes, c.removes, c.removeProbes, c.full = 0, 0, 0, 0, 0
	return r
}

func runChurn(cmd *cobra.Command, path string) error {
	if !(churnOpts.fill > 0 && churnOpts.fill < 1) {
		return errors.Newf("invalid --fill %v", churnOpts.fill)
	}
	collector := qfmetrics.New("qf")
	return withFilter(cmd, path, churnOpts.save, func(f *qf.Filter) error {
		c := &churner{
			f:     f,
			rng:   rand.New(rand.NewPCG(churnOpts.seed, churnOpts.seed)),
			flags: keyFlags(),
		}
		s := f.Stats()
		target := uint64(churnOpts.fill * float64(s.Slots))
		ops := churnOpts.ops
		if ops == 0 {
			ops = max(1, int(s.Slots/10))
		}

		var rows []churnRow
		for f.Stats().Elements < target {
			if err := c.insert(); err != nil {
				if errors.Is(err, qf.ErrNoSpace) {
					c.full++
					break
				}
				return err
			}
		}
		rows = append(rows, c.row(0))
		for cycle := 1; cycle <= churnOpts.cycles && len(c.live) > 0; cycle++ {
			for i := 0; i < ops && len(c.live) > 0; i++ {
				if err := c.remove(); err != nil {
					return err
				}
				if err := c.insert(); err != nil {
					if !errors.Is(err, qf.ErrNoSpace) {
						return err
					}
					c.full++
				}
			}
			rows = append(rows, c.row(cycle))
		}
		if err := f.Validate(); err != nil {
			return err
		}

		if churnOpts.metricsFile != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collector)
			if err := qfmetrics.RegisterStats(reg, "qf", f, nil); err != nil {
				return err
			}
			if err := prometheus.WriteToTextfile(churnOpts.metricsFile, reg); err != nil {
				return errors.Wrap(err, "writing metrics")
			}
		}
		return printChurn(cmd, rows)
	}, qf.WithMetrics(collector))
}

func printChurn(cmd *cobra.Command, rows []churnRow) error {
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), rows)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "cycle\telements\toccupied\ttombstones\tload\trebuilds\tins probe\trm probe\tfull\t")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.3f\t%d\t%.2f\t%.2f\t%d\t\n",
			r.Cycle, r.Elements, r.Occupied, r.Tombstones, r.LoadFactor, r.Rebuilds,
			r.InsertProbe, r.RemoveProbe, r.Full)
	}
	return w.Flush()
}
