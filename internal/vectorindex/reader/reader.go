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

// Package reader implements §4.8: opening a vector segment directory at
// a snapshot, per-segment filtered KNN search with deletion-aware
// overfetch, and cross-segment merge/truncate. Grounded in
// original_source/nidx/nidx_vector/src/reader.rs.
package reader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/formula"
	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/node"
	"github.com/nidxlabs/nidx/internal/vectorindex/segment"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/internal/vectorindex/trie"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// Segment is one opened, mmap'd vector segment, ready to be searched.
// It owns the kv file's mmap for its lifetime; Close releases it.
type Segment struct {
	dir     string
	kv      *kvfile.File
	graph   *hnsw.Graph
	journal segment.Journal
}

type kvVectorSource struct {
	kv        *kvfile.File
	dimension int
}

func (s kvVectorSource) Len() int { return s.kv.Len() }
func (s kvVectorSource) Vector(idx uint32) []float32 {
	rec, err := node.Decode(s.kv.Get(int(idx)), s.dimension, node.Alignment)
	if err != nil {
		return nil
	}
	return simfunc.DecodeF32(rec.EncodedVector)
}

// Open mmaps a segment's nodes.kv (random access, since search jumps
// around the graph) and loads its index.hnsw into memory.
func Open(dir string) (*Segment, error) {
	jPath := filepath.Join(dir, segment.JournalFile)
	buf, err := os.ReadFile(jPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "reader: read journal %s", jPath)
	}
	var j segment.Journal
	if err := json.Unmarshal(buf, &j); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, err, "reader: decode journal %s", jPath)
	}

	kv, err := kvfile.Open(filepath.Join(dir, segment.NodesFile), kvfile.AccessRandom)
	if err != nil {
		return nil, err
	}

	indexBuf, err := os.ReadFile(filepath.Join(dir, segment.IndexFile))
	if err != nil {
		kv.Close()
		return nil, errs.Wrap(errs.KindTransient, err, "reader: read index %s", dir)
	}
	graph, err := hnsw.Load(indexBuf, j.Params, simfunc.Get(j.Similarity), kvVectorSource{kv: kv, dimension: j.Dimension})
	if err != nil {
		kv.Close()
		return nil, err
	}

	return &Segment{dir: dir, kv: kv, graph: graph, journal: j}, nil
}

// Close releases the segment's mmap.
func (s *Segment) Close() error { return s.kv.Close() }

// Hit is one result of a segment search: the record key, its score, and
// its raw metadata bytes.
type Hit struct {
	Key   []byte
	Score float32
	Meta  []byte
}

func (s *Segment) candidateOf(idx uint32) formula.Candidate {
	buf := s.kv.Get(int(idx))
	key := node.Key(buf)
	rec, err := node.Decode(buf, s.journal.Dimension, node.Alignment)
	if err != nil {
		return formula.Candidate{Key: key}
	}
	tr, err := trie.Open(rec.Trie)
	if err != nil {
		return formula.Candidate{Key: key}
	}
	return formula.Candidate{Key: key, Trie: tr}
}

// Search runs a filtered KNN search against this segment. deleted, when
// non-nil, is consulted per candidate key and dead hits are dropped;
// since the HNSW beam can't know in advance how many live candidates it
// will find among deleted ones, Search overfetches by requesting
// ef*overfetchFactor from the graph before filtering and truncating to
// k (§4.8 "deletion-aware overfetch").
func (s *Segment) Search(query []float32, k, ef int, filter formula.Formula, minScore float32, hasMinScore bool, deleted kvfile.DeletionPredicate, cancel func() bool) ([]Hit, error) {
	const overfetchFactor = 3
	requestK := k * overfetchFactor
	requestEf := ef * overfetchFactor
	if requestEf < requestK {
		requestEf = requestK
	}

	results, err := s.graph.Search(query, hnsw.SearchOptions{
		K:           requestK,
		Ef:          requestEf,
		Filter:      filter,
		CandidateOf: s.candidateOf,
		MinScore:    minScore,
		HasMinScore: hasMinScore,
		Cancel:      cancel,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, k)
	for _, r := range results {
		buf := s.kv.Get(int(r.Node))
		key := node.Key(buf)
		if deleted != nil && deleted(key) {
			continue
		}
		rec, err := node.Decode(buf, s.journal.Dimension, node.Alignment)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Key: append([]byte(nil), key...), Score: r.Score, Meta: rec.Meta})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// Iterate visits every live (non-deleted) record in the segment in key
// order, used for export/re-index tooling (§4.8 "iterator(filter)").
func (s *Segment) Iterate(filter formula.Formula, deleted kvfile.DeletionPredicate, fn func(Hit) bool) {
	s.kv.ForEach(func(i int, buf []byte) {
		key := node.Key(buf)
		if deleted != nil && deleted(key) {
			return
		}
		cand := s.candidateOf(uint32(i))
		if !filter.Eval(cand) {
			return
		}
		rec, err := node.Decode(buf, s.journal.Dimension, node.Alignment)
		if err != nil {
			return
		}
		fn(Hit{Key: append([]byte(nil), key...), Meta: rec.Meta})
	})
}

// Merge combines per-segment hits into a single globally ranked,
// truncated result list, the cross-segment fan-in step of §4.8.
func Merge(perSegment [][]Hit, k int) []Hit {
	var all []Hit
	for _, hits := range perSegment {
		all = append(all, hits...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return string(all[i].Key) < string(all[j].Key)
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}
