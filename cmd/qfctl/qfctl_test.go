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
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/qf"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// run executes qfctl with args and returns its standard output. Flags are
// reset to their defaults afterwards since the commands are package-level.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.qf")

	out, err := run(t, "new", path,
		"--capacity", "100", "--key-bits", "20", "--value-bits", "8", "--hash", "invertible")
	require.NoError(t, err)
	require.Contains(t, out, "created "+path)

	_, err = run(t, "new", path)
	require.ErrorContains(t, err, "already exists")

	out, err = run(t, "insert", path, "1", "2", "0x3", "--value", "7")
	require.NoError(t, err)
	require.Contains(t, out, "1\tok\tprobe=")
	require.Contains(t, out, "3\tok\tprobe=")

	out, err = run(t, "insert", path, "1")
	require.NoError(t, err)
	require.Equal(t, "1\texists\n", out)

	out, err = run(t, "query", path, "1", "4")
	require.NoError(t, err)
	require.Equal(t, "1\tok\tvalue=7\n4\tmissing\n", out)

	out, err = run(t, "rm", path, "2")
	require.NoError(t, err)
	require.Contains(t, out, "2\tok\tprobe=")

	out, err = run(t, "query", path, "2", "--json")
	require.NoError(t, err)
	var results []opResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Equal(t, []opResult{{Key: 2, Result: "missing"}}, results)

	out, err = run(t, "stats", path, "--json")
	require.NoError(t, err)
	var s qf.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.EqualValues(t, 128, s.Slots)
	require.EqualValues(t, 2, s.Elements)

	out, err = run(t, "stats", path)
	require.NoError(t, err)
	require.Contains(t, out, "elements:")

	out, err = run(t, "rebuild", path, "--steps", "2")
	require.NoError(t, err)
	require.Contains(t, out, "tombstones")

	out, err = run(t, "check", path)
	require.NoError(t, err)
	require.Equal(t, path+": ok\n", out)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.qf")

	_, err := run(t, "new", path, "--remove", "eager")
	require.ErrorContains(t, err, `invalid --remove "eager"`)

	_, err = run(t, "new", path, "--insert", "swap")
	require.ErrorIs(t, err, qf.ErrInvalidConfig)

	_, err = run(t, "query", filepath.Join(dir, "missing.qf"), "1")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not a filter"), 0o644))
	_, err = run(t, "check", path)
	require.ErrorIs(t, err, qf.ErrCorruptSnapshot)

	_, err = run(t, "new", path, "--force", "--key-bits", "24")
	require.NoError(t, err)
	_, err = run(t, "insert", path, "banana")
	require.ErrorContains(t, err, `parsing key "banana"`)
}

func TestChurn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.qf")
	metrics := filepath.Join(dir, "churn.prom")

	_, err := run(t, "new", path, "--capacity", "1000", "--remove", "push",
		"--rebuild", "deamortized", "--trigger", "at-insert")
	require.NoError(t, err)

	out, err := run(t, "churn", path, "--cycles", "3", "--json", "--metrics-file", metrics)
	require.NoError(t, err)
	var rows []churnRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 4)
	// 2048 home buckets filled to 0.85.
	require.EqualValues(t, 1740, rows[0].Elements)
	for _, r := range rows[1:] {
		require.Greater(t, r.RemoveProbe, 0.0)
	}

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	require.Contains(t, string(prom), `qf_operations_total{op="insert",result="ok"}`)
	require.Contains(t, string(prom), "qf_tombstones")

	// Without --save the snapshot is unchanged.
	out, err = run(t, "stats", path, "--json")
	require.NoError(t, err)
	var s qf.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.EqualValues(t, 0, s.Elements)

	out, err = run(t, "churn", path, "--cycles", "1", "--save")
	require.NoError(t, err)
	require.Contains(t, out, "tombstones")
	_, err = run(t, "check", path)
	require.NoError(t, err)
}
