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

// Package segment assembles the on-disk vector segment directory of
// §4.7 (nodes.kv + index.hnsw + journal.json) and implements the
// index_resource/merge writer pipeline of §4.9, grounded in
// original_source/nidx/nidx_vector/src/writer.rs.
package segment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/node"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/internal/vectorindex/trie"
	"github.com/nidxlabs/nidx/pkg/errs"
)

const (
	NodesFile   = "nodes.kv"
	IndexFile   = "index.hnsw"
	JournalFile = "journal.json"
)

// Journal is the segment metadata sidecar written alongside nodes.kv
// and index.hnsw, recording everything a reader needs to reopen the
// segment without recomputing anything (§4.7).
type Journal struct {
	RecordCount int            `json:"record_count"`
	Dimension   int            `json:"dimension"`
	Similarity  simfunc.Kind   `json:"similarity"`
	Params      hnsw.Params    `json:"hnsw_params"`
	Seed        int64          `json:"seed"`
}

// Record is one unit of input to the writer pipeline: a key, its dense
// (or flattened multi-) vector, the labels it should be filterable by,
// and opaque metadata carried through to search results.
type Record struct {
	Key    []byte
	Vector []float32
	Labels []string
	Meta   []byte
}

// Meta describes a persisted segment directory, returned by
// IndexResource/Merge on success.
type Meta struct {
	Dir         string
	RecordCount int
	SizeBytes   int64
}

func encodeRecords(dir string, records []Record, dimension int) ([][]byte, error) {
	encoded := make([][]byte, len(records))
	for i, r := range records {
		if len(r.Vector) != dimension {
			return nil, errs.InvalidRequestf("INCONSISTENT_DIMENSIONS: record %x has %d dims, expected %d", r.Key, len(r.Vector), dimension)
		}
		b := trie.NewBuilder()
		for _, l := range r.Labels {
			b.Insert(l)
		}
		rec := node.Record{
			Key:           r.Key,
			EncodedVector: simfunc.EncodeF32(r.Vector),
			Trie:          b.Build(),
			Meta:          r.Meta,
		}
		encoded[i] = node.Encode(rec, node.Alignment)
	}
	return encoded, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

func writeJournal(dir string, j Journal) error {
	buf, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindFatal, err, "segment: marshal journal")
	}
	path := filepath.Join(dir, JournalFile)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errs.Wrap(errs.KindTransient, err, "segment: write journal %s", path)
	}
	return nil
}

// sortByKey sorts records by key, the canonical record order that makes
// both the kv file and the HNSW node-index assignment deterministic
// given the same input set (§8 Property 6).
func sortByKey(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return string(records[i].Key) < string(records[j].Key)
	})
}
