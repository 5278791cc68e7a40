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

// Package model defines the rows persisted by the catalog: segments,
// deletions, and merge jobs. These are plain structs with json tags, the
// way internal/metastore/model/collection.go defines Milvus's persisted
// collection/partition/field rows, generalized from protobuf-backed
// values to JSON since this system has no generated wire schema.
package model

import "time"

// IndexKind distinguishes the four co-located indices a shard carries.
// Only Vector has a full body in this design; Text/Paragraph/Relation
// share the segment-file contract but not the HNSW data plane.
type IndexKind string

const (
	IndexKindVector    IndexKind = "vector"
	IndexKindText      IndexKind = "text"
	IndexKindParagraph IndexKind = "paragraph"
	IndexKindRelation  IndexKind = "relation"
)

// VectorType names the supported on-disk vector encodings (§4.2/§9).
type VectorType string

const (
	VectorTypeDenseF32           VectorType = "DenseF32"
	VectorTypeDenseF32Unaligned  VectorType = "DenseF32Unaligned"
)

// SimilarityKind names the supported similarity functions (§4.5).
type SimilarityKind string

const (
	SimilarityCosine SimilarityKind = "Cosine"
	SimilarityDot    SimilarityKind = "Dot"
)

// VectorMeta is the vector-index-specific portion of SegmentMeta (§3).
type VectorMeta struct {
	Tags          []string       `json:"tags"`
	OpenTimestamp time.Time      `json:"open_timestamp"`
	VectorType    VectorType     `json:"vector_type"`
	Dimension     uint32         `json:"dimension,omitempty"`
	Similarity    SimilarityKind `json:"similarity"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// catalog's stored value.
func (m VectorMeta) Clone() VectorMeta {
	cp := m
	if m.Tags != nil {
		cp.Tags = append([]string(nil), m.Tags...)
	}
	return cp
}

// TextMeta is the index-specific meta for non-vector index kinds (§3).
type TextMeta struct {
	SegmentUUID string `json:"segment_uuid"`
}

// SegmentMeta is a catalog row describing one immutable on-disk segment.
// Created by a writer, never mutated in place, destroyed only after a
// successful merge replaces it.
type SegmentMeta struct {
	ID          string      `json:"id"`
	IndexID     string      `json:"index_id"`
	Kind        IndexKind   `json:"kind"`
	Seq         int64       `json:"seq"`
	RecordCount uint64      `json:"record_count"`
	SizeBytes   uint64      `json:"size_bytes"`
	Path        string      `json:"path"`
	Ready       bool        `json:"ready"`
	Quarantined bool        `json:"quarantined"`
	MergeJobID  string      `json:"merge_job_id,omitempty"`
	Vector      *VectorMeta `json:"vector,omitempty"`
	Text        *TextMeta   `json:"text,omitempty"`
}

// Clone returns a deep copy.
func (s SegmentMeta) Clone() SegmentMeta {
	cp := s
	if s.Vector != nil {
		v := s.Vector.Clone()
		cp.Vector = &v
	}
	if s.Text != nil {
		t := *s.Text
		cp.Text = &t
	}
	return cp
}

// Equal compares ID, IndexID, Kind, Seq, RecordCount and Path only, so
// callers can compare "is this the same logical segment" across a claim
// transaction; MergeJobID, Ready, SizeBytes and the meta fields are ignored.
func (s SegmentMeta) Equal(o SegmentMeta) bool {
	return s.ID == o.ID && s.IndexID == o.IndexID && s.Kind == o.Kind &&
		s.Seq == o.Seq && s.RecordCount == o.RecordCount && s.Path == o.Path
}

// Deletion is a catalog row declaring that any entity whose identity
// starts with KeyPrefix is logically removed as of Seq (§3).
type Deletion struct {
	IndexID   string `json:"index_id"`
	Seq       int64  `json:"seq"`
	KeyPrefix string `json:"key_prefix"`
}

// MergeJob is the catalog row tracking one in-flight compaction (§3, §4.10).
type MergeJob struct {
	ID         string    `json:"id"`
	IndexID    string    `json:"index_id"`
	SegmentIDs []string  `json:"segment_ids"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	RunningAt  time.Time `json:"running_at,omitempty"`
	Retries    int       `json:"retries"`
}

// Clone returns a deep copy.
func (j MergeJob) Clone() MergeJob {
	cp := j
	if j.SegmentIDs != nil {
		cp.SegmentIDs = append([]string(nil), j.SegmentIDs...)
	}
	return cp
}

// IsStarted reports whether a worker has taken this job.
func (j MergeJob) IsStarted() bool { return !j.StartedAt.IsZero() }

// IsStale reports whether the job's last heartbeat is older than maxAge,
// making it eligible for reclaim (§4.10 "Heartbeat").
func (j MergeJob) IsStale(now time.Time, maxAge time.Duration) bool {
	if !j.IsStarted() {
		return false
	}
	return now.Sub(j.RunningAt) > maxAge
}

// IndexRequest is a pending (seq) row awaiting processing, per §6.1
// create_index_request/delete_index_request/last_ack_seq.
type IndexRequest struct {
	Seq        int64     `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
}
