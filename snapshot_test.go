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

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	f, err := New(1000, 32, 8, 0.9,
		WithHashMode(HashInvertible), WithRemoveStrategy(RemovePush),
		WithRebuildPolicy(RebuildDeamortized), WithRebuildInterval(100), WithRebuildPeriod(7))
	require.NoError(t, err)
	keys := churn(t, f, 900)

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.EqualValues(t, buf.Len(), n)

	m := &recordingMetrics{}
	g, err := Load(bytes.NewReader(buf.Bytes()), WithMetrics(m), WithLogger(logrus.New()))
	require.NoError(t, err)
	require.Equal(t, f.Stats(), g.Stats())
	require.Equal(t, f.cfg.removeStrategy, g.cfg.removeStrategy)
	require.Equal(t, f.cfg.rebuildPeriod, g.cfg.rebuildPeriod)
	require.Equal(t, f.countdown, g.countdown)
	require.Equal(t, f.offsets, g.offsets)
	require.Equal(t, f.slots.words, g.slots.words)
	requireKeys(t, g, keys)
	require.Equal(t, len(keys), m.queries)

	// Both filters evolve identically from here.
	for k := uint64(1000); k < 1100; k++ {
		p1, err1 := f.Insert(k, 1, 0)
		p2, err2 := g.Insert(k, 1, 0)
		require.Equal(t, err1, err2)
		require.Equal(t, p1, p2)
	}
	require.Equal(t, f.Stats(), g.Stats())
	require.NoError(t, g.Validate())
}

func TestSnapshotCorrupt(t *testing.T) {
	f := newTestFilter(t)
	for rem := uint64(0); rem < 10; rem++ {
		_, err := f.Insert(f.hashOf(7, rem), rem, KeyIsHash)
		require.NoError(t, err)
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	data := buf.Bytes()

	_, err = Load(bytes.NewReader([]byte("QFT")))
	require.True(t, errors.Is(err, ErrCorruptSnapshot), "%v", err)

	bad := append([]byte("XXXX"), data[4:]...)
	_, err = Load(bytes.NewReader(bad))
	require.True(t, errors.Is(err, ErrCorruptSnapshot), "%v", err)

	_, err = Load(bytes.NewReader(data[:len(data)/2]))
	require.True(t, errors.Is(err, ErrCorruptSnapshot), "%v", err)

	g, err := Load(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, f.Stats(), g.Stats())

	// Headers whose geometry cannot be allocated are rejected before any
	// storage is created.
	for _, h := range []snapshotHeader{
		{KeyBits: 64, Slots: 1 << 50, MaxLoadFactor: 0.5},
		{KeyBits: 64, Slots: 2 * maxSlots, MaxLoadFactor: 0.5},
		{KeyBits: 64, Slots: 1000, MaxLoadFactor: 0.5},
		{KeyBits: 8, Slots: 1 << 10, MaxLoadFactor: 0.5},
		{KeyBits: 64, Slots: 1 << 10, MaxLoadFactor: 1.5},
	} {
		_, err := Load(bytes.NewReader(headerOnlySnapshot(t, h)))
		require.True(t, errors.Is(err, ErrCorruptSnapshot), "%+v: %v", h, err)
	}
}

// headerOnlySnapshot returns a well-framed snapshot holding h and nothing
// after it.
func headerOnlySnapshot(t *testing.T, h snapshotHeader) []byte {
	t.Helper()
	hdr, err := cbor.Marshal(h)
	require.NoError(t, err)
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, binary.Write(zw, binary.LittleEndian, uint32(len(hdr))))
	_, err = zw.Write(hdr)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
