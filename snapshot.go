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
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// snapshotMagic prefixes every snapshot. The rest of the snapshot is a
// single zstd frame holding, in order: the CBOR header length (uint32
// little-endian), the CBOR header, the block offsets, the Occupied, RunEnd
// and Tombstone bitsets, and the packed slot words (little-endian).
const snapshotMagic = "QFT1"

const maxHeaderLen = 1 << 16

type snapshotHeader struct {
	KeyBits         uint           `cbor:"1,keyasint"`
	ValueBits       uint           `cbor:"2,keyasint"`
	Slots           uint64         `cbor:"3,keyasint"`
	MaxLoadFactor   float64        `cbor:"4,keyasint"`
	RemoveStrategy  RemoveStrategy `cbor:"5,keyasint"`
	InsertStrategy  InsertStrategy `cbor:"6,keyasint"`
	RunOrder        RunOrder       `cbor:"7,keyasint"`
	RebuildPolicy   RebuildPolicy  `cbor:"8,keyasint"`
	RebuildTrigger  RebuildTrigger `cbor:"9,keyasint"`
	Placeholders    Placeholders   `cbor:"10,keyasint"`
	HashMode        HashMode       `cbor:"11,keyasint"`
	TombstoneSpace  uint64         `cbor:"12,keyasint"`
	RebuildInterval uint64         `cbor:"13,keyasint"`
	RebuildPeriod   uint64         `cbor:"14,keyasint"`
	Elements        int64          `cbor:"15,keyasint"`
	Occupied        int64          `cbor:"16,keyasint"`
	Cursor          int64          `cbor:"17,keyasint"`
	Countdown       uint64         `cbor:"18,keyasint"`
	Rebuilds        int64          `cbor:"19,keyasint"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes a snapshot of the filter to w. The logger and metrics
// collector are not part of the snapshot.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := io.WriteString(cw, snapshotMagic); err != nil {
		return cw.n, errors.Wrap(err, "writing snapshot magic")
	}
	zw, err := zstd.NewWriter(cw, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return cw.n, errors.Wrap(err, "creating snapshot encoder")
	}
	err = f.writeSnapshot(zw)
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return cw.n, errors.Wrap(err, "writing snapshot")
	}
	return cw.n, nil
}

func (f *Filter) writeSnapshot(w io.Writer) error {
	hdr, err := cbor.Marshal(snapshotHeader{
		KeyBits:         f.keyBits,
		ValueBits:       f.valueBits,
		Slots:           f.nslots,
		MaxLoadFactor:   f.maxLoadFactor,
		RemoveStrategy:  f.cfg.removeStrategy,
		InsertStrategy:  f.cfg.insertStrategy,
		RunOrder:        f.cfg.runOrder,
		RebuildPolicy:   f.cfg.rebuildPolicy,
		RebuildTrigger:  f.cfg.rebuildTrigger,
		Placeholders:    f.cfg.placeholders,
		HashMode:        f.cfg.hashMode,
		TombstoneSpace:  f.cfg.tombstoneSpace,
		RebuildInterval: f.cfg.rebuildInterval,
		RebuildPeriod:   f.cfg.rebuildPeriod,
		Elements:        f.nelts.load(),
		Occupied:        f.noccupied.load(),
		Cursor:          f.cursor.load(),
		Countdown:       f.countdown,
		Rebuilds:        f.rebuilds.load(),
	})
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	for _, b := range [][]byte{lenBuf[:], hdr, f.offsets} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	for _, b := range []*bitset.BitSet{f.occupieds, f.runends, f.tombstones} {
		if _, err := b.WriteTo(w); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, f.slots.words)
}

// Load reads a snapshot written by WriteTo. The geometry and policies are
// taken from the snapshot; only WithLogger and WithMetrics among the
// options have an effect. The loaded filter is validated before it is
// returned.
func Load(r io.Reader, options ...Option) (*Filter, error) {
	var magic [len(snapshotMagic)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "reading snapshot magic"), ErrCorruptSnapshot)
	}
	if string(magic[:]) != snapshotMagic {
		return nil, errors.Wrapf(ErrCorruptSnapshot, "bad magic %q", magic[:])
	}
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating snapshot decoder"), ErrCorruptSnapshot)
	}
	defer zr.Close()

	f, err := readSnapshot(zr, options)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "reading snapshot"), ErrCorruptSnapshot)
	}
	return f, nil
}

func readSnapshot(r io.Reader, options []Option) (*Filter, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxHeaderLen {
		return nil, errors.Newf("header length %d exceeds %d", n, maxHeaderLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var h snapshotHeader
	if err := cbor.Unmarshal(buf, &h); err != nil {
		return nil, errors.Wrap(err, "decoding header")
	}

	var cfg config
	for _, op := range options {
		op.apply(&cfg)
	}
	cfg.removeStrategy = h.RemoveStrategy
	cfg.insertStrategy = h.InsertStrategy
	cfg.runOrder = h.RunOrder
	cfg.rebuildPolicy = h.RebuildPolicy
	cfg.rebuildTrigger = h.RebuildTrigger
	cfg.placeholders = h.Placeholders
	cfg.hashMode = h.HashMode
	cfg.tombstoneSpace = h.TombstoneSpace
	cfg.rebuildInterval = h.RebuildInterval
	cfg.rebuildPeriod = h.RebuildPeriod
	if !(h.MaxLoadFactor > 0 && h.MaxLoadFactor < 1) {
		return nil, errors.Newf("max load factor %v not in (0, 1)", h.MaxLoadFactor)
	}
	f, err := newFilter(cfg, h.Slots, h.KeyBits, h.ValueBits, h.MaxLoadFactor)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, f.offsets); err != nil {
		return nil, err
	}
	for _, b := range []*bitset.BitSet{f.occupieds, f.runends, f.tombstones} {
		want := b.Len()
		if _, err := b.ReadFrom(r); err != nil {
			return nil, err
		}
		if b.Len() != want {
			return nil, errors.Newf("bitset length %d, expected %d", b.Len(), want)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, f.slots.words); err != nil {
		return nil, err
	}
	if h.Cursor < 0 || uint64(h.Cursor) >= f.nslots {
		return nil, errors.Newf("rebuild cursor %d out of range", h.Cursor)
	}
	f.nelts.store(h.Elements)
	f.noccupied.store(h.Occupied)
	f.cursor.store(h.Cursor)
	f.rebuilds.store(h.Rebuilds)
	if h.Countdown > 0 && h.Countdown <= f.cfg.rebuildPeriod {
		f.countdown = h.Countdown
	}
	if err := f.validateSnapshot(); err != nil {
		return nil, err
	}
	return f, nil
}

// validateSnapshot runs Validate, converting the panics that inconsistent
// bitsets can cause into errors.
func (f *Filter) validateSnapshot() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("inconsistent snapshot: %v", r)
		}
	}()
	return f.Validate()
}
