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

package segment

import (
	"os"
	"path/filepath"

	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/node"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// encodedVectors adapts a slice of already-encoded node.Record byte
// strings as an hnsw.VectorSource during construction, decoding each
// record's vector on demand rather than holding a second copy.
type encodedVectors struct {
	encoded   [][]byte
	dimension int
}

func (e encodedVectors) Len() int { return len(e.encoded) }
func (e encodedVectors) Vector(idx uint32) []float32 {
	rec, err := node.Decode(e.encoded[idx], e.dimension, node.Alignment)
	if err != nil {
		return nil
	}
	return simfunc.DecodeF32(rec.EncodedVector)
}

// IndexResource runs the index_resource pipeline of §4.9: normalize
// (callers are expected to have already normalized if the similarity
// function requires it; see simfunc.Normalize), sort by key, build the
// kv file, build the HNSW graph over it, and write the journal. An
// empty record set is never persisted: IndexResource returns a nil
// Meta and no error, matching the writer.rs "build(..) -> Option<Meta>"
// contract for an empty resource.
func IndexResource(dir string, records []Record, dimension int, sim simfunc.Kind, params hnsw.Params, seed int64) (*Meta, error) {
	if len(records) == 0 {
		return nil, nil
	}
	sortByKey(records)

	encoded, err := encodeRecords(dir, records, dimension)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "segment: mkdir %s", dir)
	}

	nodesPath := filepath.Join(dir, NodesFile)
	if _, err := kvfile.Build(nodesPath, encoded); err != nil {
		return nil, err
	}

	vectors := encodedVectors{encoded: encoded, dimension: dimension}
	graph := hnsw.New(params, simfunc.Get(sim), vectors, seed)
	for i := range encoded {
		if err := graph.Insert(uint32(i)); err != nil {
			return nil, err
		}
	}

	indexPath := filepath.Join(dir, IndexFile)
	if err := graph.Save(indexPath); err != nil {
		return nil, err
	}

	if err := writeJournal(dir, Journal{
		RecordCount: len(records),
		Dimension:   dimension,
		Similarity:  sim,
		Params:      params,
		Seed:        seed,
	}); err != nil {
		return nil, err
	}

	size, err := dirSize(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "segment: stat %s", dir)
	}
	return &Meta{Dir: dir, RecordCount: len(records), SizeBytes: size}, nil
}
