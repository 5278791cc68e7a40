// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kvfile implements the type-agnostic key-value segment file of
// §4.1: a sorted, immutable array of variable-length byte records, built
// once and thereafter opened read-only via mmap for O(1) random access
// and O(log n) binary search. Grounded in the proglog family's
// store+index-file pattern (append returns an offset; a fixed-size index
// translates position to byte range) adapted from gommap.MMap plus
// madvise, the way those repos wrap github.com/tysonmote/gommap.
package kvfile

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"

	"github.com/tysonmote/gommap"

	"github.com/nidxlabs/nidx/pkg/errs"
)

const (
	magicVersion uint32 = 1

	headerSize = 4 + 8 // version u32 + count u64
)

// AccessPattern selects the madvise hint given when a file is opened,
// per §4.1 "WILL_NEED / RANDOM advice is given depending on expected
// access pattern".
type AccessPattern int

const (
	// AccessRandom is for point lookups (reader serving binary_search).
	AccessRandom AccessPattern = iota
	// AccessSequential is for full scans (iteration, merge input).
	AccessSequential
)

// Build writes a new key-value segment file at path from records, which
// must already be sorted by whatever key the caller's KeyOf function
// would extract — the file format itself carries no notion of key.
func Build(path string, records [][]byte) (count uint64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errs.Wrap(errs.KindFatal, err, "creating kv file %s", path)
	}
	defer f.Close()

	n := uint64(len(records))
	offsets := make([]uint64, n)

	payloadStart := headerSize + int(n)*8
	pos := uint64(payloadStart)
	for i, rec := range records {
		offsets[i] = pos
		pos += 4 + uint64(len(rec))
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], magicVersion)
	binary.LittleEndian.PutUint64(header[4:12], n)
	if _, err := f.Write(header); err != nil {
		return 0, errs.Wrap(errs.KindFatal, err, "writing kv header")
	}

	offBuf := make([]byte, 8*n)
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(offBuf[i*8:i*8+8], o)
	}
	if _, err := f.Write(offBuf); err != nil {
		return 0, errs.Wrap(errs.KindFatal, err, "writing kv offset index")
	}

	lenBuf := make([]byte, 4)
	for _, rec := range records {
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(rec)))
		if _, err := f.Write(lenBuf); err != nil {
			return 0, errs.Wrap(errs.KindFatal, err, "writing kv record length")
		}
		if _, err := f.Write(rec); err != nil {
			return 0, errs.Wrap(errs.KindFatal, err, "writing kv record payload")
		}
	}
	if err := f.Sync(); err != nil {
		return 0, errs.Wrap(errs.KindFatal, err, "fsyncing kv file %s", path)
	}
	return n, nil
}

// File is a read-only, mmapped view of a key-value segment file.
type File struct {
	f     *os.File
	mm    gommap.MMap
	count uint64
}

// Open mmaps path and validates its header, applying the madvise hint
// matching the expected access pattern.
func Open(path string, pattern AccessPattern) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "opening kv file %s", path)
	}
	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindFatal, err, "mmapping kv file %s", path)
	}
	advice := gommap.MADV_RANDOM
	if pattern == AccessSequential {
		advice = gommap.MADV_WILLNEED
	}
	_ = mm.Advise(advice)

	if len(mm) < headerSize {
		mm.UnsafeUnmap()
		f.Close()
		return nil, errs.Corruptionf("kv file %s shorter than header", path)
	}
	version := binary.LittleEndian.Uint32(mm[0:4])
	if version != magicVersion {
		mm.UnsafeUnmap()
		f.Close()
		return nil, errs.Corruptionf("kv file %s has unsupported version %d", path, version)
	}
	count := binary.LittleEndian.Uint64(mm[4:12])
	expectedIndexEnd := headerSize + int(count)*8
	if len(mm) < expectedIndexEnd {
		mm.UnsafeUnmap()
		f.Close()
		return nil, errs.Corruptionf("kv file %s truncated offset index", path)
	}
	return &File{f: f, mm: mm, count: count}, nil
}

// Close unmaps and closes the underlying file.
func (kv *File) Close() error {
	err := kv.mm.UnsafeUnmap()
	if cerr := kv.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Len returns the number of records.
func (kv *File) Len() int { return int(kv.count) }

func (kv *File) offset(i int) uint64 {
	base := headerSize + i*8
	return binary.LittleEndian.Uint64(kv.mm[base : base+8])
}

// Get returns the raw bytes of record i in O(1).
func (kv *File) Get(i int) []byte {
	off := kv.offset(i)
	length := binary.LittleEndian.Uint32(kv.mm[off : off+4])
	start := off + 4
	return kv.mm[start : start+uint64(length)]
}

// KeyOf extracts the sort key from a raw record; every caller of
// BinarySearch and Merge supplies one, since the file itself does not
// know the record's internal layout.
type KeyOf func(record []byte) []byte

// BinarySearch returns the index of the record whose key equals key, and
// true, or (0, false) if absent. Records must be sorted by keyOf.
func (kv *File) BinarySearch(key []byte, keyOf KeyOf) (int, bool) {
	lo, hi := 0, kv.Len()
	for lo < hi {
		mid := (lo + hi) / 2
		k := keyOf(kv.Get(mid))
		switch bytes.Compare(k, key) {
		case 0:
			return mid, true
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// ForEach visits every record in order.
func (kv *File) ForEach(fn func(i int, record []byte)) {
	for i := 0; i < kv.Len(); i++ {
		fn(i, kv.Get(i))
	}
}

// DeletionPredicate reports whether a record's key is tombstoned.
type DeletionPredicate func(key []byte) bool

// MergeInput pairs a source file with its per-segment delete log and key
// extractor, the (deletion_predicate, segment) pairs of §4.1's merge
// operation contract.
type MergeInput struct {
	File    *File
	Deleted DeletionPredicate
	KeyOf   KeyOf
}

// Merge produces a new key-value file at outPath containing every record
// from inputs not matched by its paired deletion predicate, sorted by key
// across all inputs. The sort is stable, so records with equal keys keep
// their input order.
func Merge(outPath string, inputs []MergeInput) (count uint64, err error) {
	type kept struct{ key, rec []byte }
	var surviving []kept
	for _, in := range inputs {
		for i := 0; i < in.File.Len(); i++ {
			rec := in.File.Get(i)
			key := in.KeyOf(rec)
			if in.Deleted(key) {
				continue
			}
			surviving = append(surviving, kept{key: key, rec: rec})
		}
	}
	sort.SliceStable(surviving, func(i, j int) bool { return bytes.Compare(surviving[i].key, surviving[j].key) < 0 })
	records := make([][]byte, len(surviving))
	for i, s := range surviving {
		records[i] = s.rec
	}
	return Build(outPath, records)
}
