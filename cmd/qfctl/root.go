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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qf"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	jsonOut   bool
	keyIsHash bool
)

var rootCmd = &cobra.Command{
	Use:   "qfctl",
	Short: "Create, query and churn tombstone quotient filter snapshots",
	Long: `qfctl operates on quotient filter snapshot files. Every command that
changes the filter loads the snapshot, applies the operation and writes the
snapshot back in place.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		BoolVar(&keyIsHash, "key-is-hash", false, "Use keys as hashes instead of hashing them")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func keyFlags() qf.Flags {
	if keyIsHash {
		return qf.KeyIsHash
	}
	return 0
}

// loadFilter opens the snapshot at path.
func loadFilter(cmd *cobra.Command, path string, options ...qf.Option) (*qf.Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer file.Close()
	options = append([]qf.Option{qf.WithLogger(newLogger(cmd))}, options...)
	f, err := qf.Load(file, options...)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return f, nil
}

// saveFilter replaces the snapshot at path with the contents of f. The
// snapshot is written to a temporary file in the same directory and renamed
// over path.
func saveFilter(f *qf.Filter, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating snapshot")
	}
	defer os.Remove(tmp.Name())
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replacing snapshot")
}

// withFilter loads the snapshot at path, runs fn and, when fn succeeds and
// save is set, writes the snapshot back.
func withFilter(
	cmd *cobra.Command, path string, save bool, fn func(f *qf.Filter) error, options ...qf.Option,
) error {
	f, err := loadFilter(cmd, path, options...)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return saveFilter(f, path)
}

func parseKeys(args []string) ([]uint64, error) {
	keys := make([]uint64, len(args))
	for i, arg := range args {
		k, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing key %q", arg)
		}
		keys[i] = k
	}
	return keys, nil
}

// parseEnum returns the value among values whose name is s.
func parseEnum[T fmt.Stringer](flag, s string, values ...T) (T, error) {
	for _, v := range values {
		if v.String() == s {
			return v, nil
		}
	}
	var zero T
	return zero, errors.Newf("invalid --%s %q", flag, s)
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// opResult is one line of insert, query and remove output.
type opResult struct {
	Key    uint64 `json:"key"`
	Value  uint64 `json:"value,omitempty"`
	Probe  int    `json:"probe,omitempty"`
	Result string `json:"result"`
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, qf.ErrKeyExists):
		return "exists"
	case errors.Is(err, qf.ErrDoesNotExist):
		return "missing"
	case errors.Is(err, qf.ErrNoSpace):
		return "full"
	default:
		return err.Error()
	}
}

func printResults(w io.Writer, results []opResult, showValue bool) error {
	if jsonOut {
		return printJSON(w, results)
	}
	for _, r := range results {
		switch {
		case r.Result != "ok":
			fmt.Fprintf(w, "%d\t%s\n", r.Key, r.Result)
		case showValue:
			fmt.Fprintf(w, "%d\tok\tvalue=%d\n", r.Key, r.Value)
		default:
			fmt.Fprintf(w, "%d\tok\tprobe=%d\n", r.Key, r.Probe)
		}
	}
	return nil
}
