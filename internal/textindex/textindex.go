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

// Package textindex is a minimal implementation of the storage-engine
// contract (§4.1) for non-vector index kinds (text/paragraph/relation).
// It is not a full-text engine: no scoring, no tokenizer. It exists to
// exercise the shared segment-file contract for an IndexKind other than
// vector; spec.md explicitly scopes the bodies of these indices to a
// third-party inverted-index library and does not re-specify them.
package textindex

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/pkg/errs"
)

const DataFile = "terms.kv"

// Document is one record: a key and the set of terms (labels) it
// carries, analogous to a tokenized document's posting list without
// any actual scoring.
type Document struct {
	Key   []byte
	Terms []string
}

func encode(d Document) []byte {
	var buf bytes.Buffer
	var keyLen [4]byte
	binary.LittleEndian.PutUint32(keyLen[:], uint32(len(d.Key)))
	buf.Write(keyLen[:])
	buf.Write(d.Key)

	terms := append([]string(nil), d.Terms...)
	sort.Strings(terms)
	var termCount [4]byte
	binary.LittleEndian.PutUint32(termCount[:], uint32(len(terms)))
	buf.Write(termCount[:])
	for _, term := range terms {
		var tLen [4]byte
		binary.LittleEndian.PutUint32(tLen[:], uint32(len(term)))
		buf.Write(tLen[:])
		buf.WriteString(term)
	}
	return buf.Bytes()
}

func decodeKey(record []byte) []byte {
	if len(record) < 4 {
		return nil
	}
	keyLen := binary.LittleEndian.Uint32(record[0:4])
	if uint32(len(record)) < 4+keyLen {
		return nil
	}
	return record[4 : 4+keyLen]
}

func decodeTerms(record []byte) ([]string, error) {
	keyLen := binary.LittleEndian.Uint32(record[0:4])
	off := 4 + int(keyLen)
	if off+4 > len(record) {
		return nil, errs.Corruptionf("textindex: truncated term count")
	}
	count := int(binary.LittleEndian.Uint32(record[off : off+4]))
	off += 4
	terms := make([]string, count)
	for i := 0; i < count; i++ {
		if off+4 > len(record) {
			return nil, errs.Corruptionf("textindex: truncated term %d", i)
		}
		tLen := int(binary.LittleEndian.Uint32(record[off : off+4]))
		off += 4
		if off+tLen > len(record) {
			return nil, errs.Corruptionf("textindex: truncated term %d body", i)
		}
		terms[i] = string(record[off : off+tLen])
		off += tLen
	}
	return terms, nil
}

// Build writes a sorted-by-key terms.kv file under dir.
func Build(dir string, docs []Document) (uint64, error) {
	sorted := append([]Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i].Key) < string(sorted[j].Key) })
	encoded := make([][]byte, len(sorted))
	for i, d := range sorted {
		encoded[i] = encode(d)
	}
	return kvfile.Build(filepath.Join(dir, DataFile), encoded)
}

// Reader opens a built terms.kv for lookup.
type Reader struct {
	f *kvfile.File
}

// Open mmaps dir's terms.kv for random-access lookup.
func Open(dir string) (*Reader, error) {
	f, err := kvfile.Open(filepath.Join(dir, DataFile), kvfile.AccessRandom)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f}, nil
}

// Close releases the mmap.
func (r *Reader) Close() error { return r.f.Close() }

// HasTerm reports whether the document at key carries term, the
// trivial query the stub supports (§4.11).
func (r *Reader) HasTerm(key []byte, term string) (bool, error) {
	idx, ok := r.f.BinarySearch(key, decodeKey)
	if !ok {
		return false, nil
	}
	terms, err := decodeTerms(r.f.Get(idx))
	if err != nil {
		return false, err
	}
	for _, t := range terms {
		if t == term {
			return true, nil
		}
	}
	return false, nil
}
