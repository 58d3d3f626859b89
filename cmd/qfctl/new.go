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
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qf"
	"github.com/spf13/cobra"
)

var newOpts struct {
	capacity       uint64
	keyBits        uint
	valueBits      uint
	loadFactor     float64
	remove         string
	insert         string
	order          string
	rebuild        string
	trigger        string
	placeholders   string
	hash           string
	tombstoneSpace uint64
	interval       uint64
	period         uint64
	force          bool
}

func init() {
	cmd := newNewCmd()
	fl := cmd.Flags()
	fl.Uint64Var(&newOpts.capacity, "capacity", 1<<16, "Number of elements the filter must hold")
	fl.UintVar(&newOpts.keyBits, "key-bits", 32, "Bits of each hashed key")
	fl.UintVar(&newOpts.valueBits, "value-bits", 0, "Bits of the value stored with each key")
	fl.Float64Var(&newOpts.loadFactor, "load-factor", 0.9, "Maximum fraction of occupied home buckets")
	fl.StringVar(&newOpts.remove, "remove", "lazy", "Remove strategy: lazy or push")
	fl.StringVar(&newOpts.insert, "insert", "shift", "Insert strategy: shift or swap")
	fl.StringVar(&newOpts.order, "order", "sorted", "Run order: sorted or unordered")
	fl.StringVar(&newOpts.rebuild, "rebuild", "none",
		"Rebuild policy: none, clear, amortized or deamortized")
	fl.StringVar(&newOpts.trigger, "trigger", "scheduled",
		"Rebuild trigger: scheduled, manual or at-insert")
	fl.StringVar(&newOpts.placeholders, "placeholders", "auto",
		"Primitive tombstones after a rebuild: auto, discard or reinsert")
	fl.StringVar(&newOpts.hash, "hash", "default", "Hash mode: default or invertible")
	fl.Uint64Var(&newOpts.tombstoneSpace, "tombstone-space", 0,
		"Slots between primitive tombstones (0 derives it from the load factor)")
	fl.Uint64Var(&newOpts.interval, "interval", 0,
		"Home buckets per deamortized rebuild step (0 derives it)")
	fl.Uint64Var(&newOpts.period, "period", 0, "Inserts between scheduled rebuilds (0 derives it)")
	fl.BoolVarP(&newOpts.force, "force", "f", false, "Overwrite an existing snapshot")
	rootCmd.AddCommand(cmd)
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <snapshot>",
		Short: "Create an empty filter snapshot",
		Long: `The new command creates an empty filter with the given geometry and
policies and writes it to a snapshot file.

Example:
  qfctl new f.qf --capacity 1000000 --key-bits 40 --load-factor 0.95
  qfctl new f.qf --remove push --rebuild deamortized --trigger at-insert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd, args[0])
		},
	}
}

func newFilterOptions() ([]qf.Option, error) {
	var err error
	var options []qf.Option
	add := func(o qf.Option, e error) {
		if err == nil {
			err = e
		}
		options = append(options, o)
	}
	rs, e := parseEnum("remove", newOpts.remove, qf.RemoveLazy, qf.RemovePush)
	add(qf.WithRemoveStrategy(rs), e)
	is, e := parseEnum("insert", newOpts.insert, qf.InsertShift, qf.InsertSwap)
	add(qf.WithInsertStrategy(is), e)
	ro, e := parseEnum("order", newOpts.order, qf.RunsSorted, qf.RunsUnordered)
	add(qf.WithRunOrder(ro), e)
	rp, e := parseEnum("rebuild", newOpts.rebuild,
		qf.RebuildNone, qf.RebuildClear, qf.RebuildAmortized, qf.RebuildDeamortized)
	add(qf.WithRebuildPolicy(rp), e)
	rt, e := parseEnum("trigger", newOpts.trigger,
		qf.TriggerScheduled, qf.TriggerManual, qf.TriggerAtInsert)
	add(qf.WithRebuildTrigger(rt), e)
	ph, e := parseEnum("placeholders", newOpts.placeholders,
		qf.PlaceholdersAuto, qf.PlaceholdersDiscard, qf.PlaceholdersReinsert)
	add(qf.WithPlaceholders(ph), e)
	hm, e := parseEnum("hash", newOpts.hash, qf.HashDefault, qf.HashInvertible)
	add(qf.WithHashMode(hm), e)
	if err != nil {
		return nil, err
	}
	if newOpts.tombstoneSpace != 0 {
		options = append(options, qf.WithTombstoneSpace(newOpts.tombstoneSpace))
	}
	if newOpts.interval != 0 {
		options = append(options, qf.WithRebuildInterval(newOpts.interval))
	}
	if newOpts.period != 0 {
		options = append(options, qf.WithRebuildPeriod(newOpts.period))
	}
	return options, nil
}

func runNew(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err == nil && !newOpts.force {
		return errors.Newf("%s already exists (use --force to overwrite)", path)
	}
	options, err := newFilterOptions()
	if err != nil {
		return err
	}
	options = append(options, qf.WithLogger(newLogger(cmd)))
	f, err := qf.New(newOpts.capacity, newOpts.keyBits, newOpts.valueBits, newOpts.loadFactor,
		options...)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := saveFilter(f, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s: %s\n", path, f)
	return nil
}
