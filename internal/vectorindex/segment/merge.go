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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/node"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// Input is one segment directory participating in a merge, along with
// the predicate that reports whether a key was deleted as of the
// merge's snapshot.
type Input struct {
	Dir     string
	Deleted kvfile.DeletionPredicate
}

// ErrEmptyMerge is returned by Merge when every input record was
// dropped as deleted, matching writer.rs's EMPTY_MERGE failure.
var ErrEmptyMerge = errs.New(errs.KindInvalidRequest, "EMPTY_MERGE: no records survived merge")

// Merge streams the surviving (non-deleted) records out of every input
// segment's nodes.kv, in key order, into a fresh segment at dir, then
// rebuilds a fresh HNSW graph over the merged records (§4.9). It fails
// with ErrEmptyMerge if nothing survives.
func Merge(dir string, inputs []Input) (*Meta, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyMerge
	}

	var journal Journal
	opened := make([]*kvfile.File, 0, len(inputs))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	mergeInputs := make([]kvfile.MergeInput, 0, len(inputs))
	for i, in := range inputs {
		jPath := filepath.Join(in.Dir, JournalFile)
		buf, err := os.ReadFile(jPath)
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, err, "segment: read journal %s", jPath)
		}
		var j Journal
		if err := json.Unmarshal(buf, &j); err != nil {
			return nil, errs.Wrap(errs.KindCorruption, err, "segment: decode journal %s", jPath)
		}
		if i == 0 {
			journal = j
		} else if j.Dimension != journal.Dimension || j.Similarity != journal.Similarity {
			return nil, errs.InvalidRequestf("segment: cannot merge incompatible segments %s and %s", inputs[0].Dir, in.Dir)
		}

		f, err := kvfile.Open(filepath.Join(in.Dir, NodesFile), kvfile.AccessSequential)
		if err != nil {
			return nil, err
		}
		opened = append(opened, f)
		mergeInputs = append(mergeInputs, kvfile.MergeInput{
			File:    f,
			Deleted: in.Deleted,
			KeyOf:   node.Key,
		})
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "segment: mkdir %s", dir)
	}

	nodesPath := filepath.Join(dir, NodesFile)
	count, err := kvfile.Merge(nodesPath, mergeInputs)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		os.RemoveAll(dir)
		return nil, ErrEmptyMerge
	}

	merged, err := kvfile.Open(nodesPath, kvfile.AccessSequential)
	if err != nil {
		return nil, err
	}
	defer merged.Close()

	vectors := kvVectorSource{f: merged, dimension: journal.Dimension}
	graph := hnsw.New(journal.Params, simfunc.Get(journal.Similarity), vectors, journal.Seed)
	for i := uint64(0); i < count; i++ {
		if err := graph.Insert(uint32(i)); err != nil {
			return nil, err
		}
	}

	if err := graph.Save(filepath.Join(dir, IndexFile)); err != nil {
		return nil, err
	}

	journal.RecordCount = int(count)
	if err := writeJournal(dir, journal); err != nil {
		return nil, err
	}

	size, err := dirSize(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "segment: stat %s", dir)
	}
	return &Meta{Dir: dir, RecordCount: int(count), SizeBytes: size}, nil
}

// kvVectorSource adapts an open kvfile.File as an hnsw.VectorSource by
// decoding each node record on demand.
type kvVectorSource struct {
	f         *kvfile.File
	dimension int
}

func (s kvVectorSource) Len() int { return s.f.Len() }
func (s kvVectorSource) Vector(idx uint32) []float32 {
	rec, err := node.Decode(s.f.Get(int(idx)), s.dimension, node.Alignment)
	if err != nil {
		return nil
	}
	return simfunc.DecodeF32(rec.EncodedVector)
}
