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

// Package catalog defines the metadata-store contract (§6.1) the core
// consumes without caring about its implementation. Two backings exist:
// internal/catalog/etcdcatalog (remote, multi-process) and
// internal/catalog/boltcatalog (embedded, single-process/tests).
package catalog

import (
	"context"
	"sort"

	"github.com/nidxlabs/nidx/internal/catalog/model"
)

// Store is the full metadata-store contract. Every operation here maps
// 1:1 to a bullet in spec §6.1; segment/deletion/merge-job semantics are
// defined in §3 and §4.10.
type Store interface {
	// CreateIndexRequest allocates a fresh sequence number for an
	// in-flight index/delete request.
	CreateIndexRequest(ctx context.Context) (int64, error)
	// DeleteIndexRequest frees a previously allocated seq once processed.
	DeleteIndexRequest(ctx context.Context, seq int64) error
	// DeleteStaleIndexRequests garbage-collects request rows older than
	// one minute (§6.1), returning how many were removed.
	DeleteStaleIndexRequests(ctx context.Context) (int, error)
	// LastAckSeq returns the largest seq such that every seq at or below
	// it has been fully processed; the snapshot boundary for readers.
	LastAckSeq(ctx context.Context) (int64, error)

	// CreateSegment records a new (not-yet-visible) segment row.
	CreateSegment(ctx context.Context, seg model.SegmentMeta) (string, error)
	// MarkSegmentReady flips the visibility bit once the artifact is
	// durably uploaded, recording its final size.
	MarkSegmentReady(ctx context.Context, segmentID string, sizeBytes uint64) error
	// ListSegments returns every ready segment of indexID with
	// seq <= upToSeq.
	ListSegments(ctx context.Context, indexID string, upToSeq int64) ([]model.SegmentMeta, error)

	// CreateDeletion records a tombstone.
	CreateDeletion(ctx context.Context, d model.Deletion) error
	// ListDeletions returns every deletion of indexID with seq <= upToSeq.
	ListDeletions(ctx context.Context, indexID string, upToSeq int64) ([]model.Deletion, error)

	// MergeJobs exposes the create/take/keep_alive/finish lifecycle.
	MergeJobs() MergeJobStore

	// Close releases the store's underlying connection/handle.
	Close() error
}

// MergeJobStore is the merge-job sub-contract of §4.10.
type MergeJobStore interface {
	// Create claims segmentIDs and inserts a job row in one transaction.
	// It fails (without partially applying) if any segment is already
	// claimed by another job.
	Create(ctx context.Context, indexID string, segmentIDs []string) (model.MergeJob, error)
	// Take assigns the oldest unstarted job to the caller, setting
	// started_at/running_at.
	Take(ctx context.Context) (*model.MergeJob, error)
	// KeepAlive refreshes running_at for jobID.
	KeepAlive(ctx context.Context, jobID string) error
	// Finish atomically deletes the input segments, inserts newSegment,
	// and deletes the job row.
	Finish(ctx context.Context, jobID string, newSegment model.SegmentMeta) (model.SegmentMeta, error)
	// ReclaimStale frees the segments of, and deletes, any job whose
	// running_at is more than five minutes old, returning how many were
	// reclaimed.
	ReclaimStale(ctx context.Context) (int, error)
	// Get returns a single job by id, for tests and diagnostics.
	Get(ctx context.Context, jobID string) (*model.MergeJob, error)
}

// Snapshot is the consistent (segments, deletions) view of §3/§5 that a
// searcher refreshes periodically and a reader opens.
type Snapshot struct {
	UpToSeq   int64
	Segments  []model.SegmentMeta
	Deletions []model.Deletion
}

// BuildSnapshot assembles a Snapshot for indexID from the catalog at the
// given boundary sequence, the query a searcher issues on each periodic
// refresh (§5 "Refresh is periodic").
func BuildSnapshot(ctx context.Context, store Store, indexID string, upToSeq int64) (Snapshot, error) {
	segs, err := store.ListSegments(ctx, indexID, upToSeq)
	if err != nil {
		return Snapshot{}, err
	}
	dels, err := store.ListDeletions(ctx, indexID, upToSeq)
	if err != nil {
		return Snapshot{}, err
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	sort.Slice(dels, func(i, j int) bool { return dels[i].Seq < dels[j].Seq })
	return Snapshot{UpToSeq: upToSeq, Segments: segs, Deletions: dels}, nil
}

// GCableDeletions returns the subset of deletions whose seq is at or
// below the oldest live segment's seq — garbage-collectable per the
// Snapshot invariant in §3. Callers periodically compact these away from
// the catalog; this package only identifies them.
func (s Snapshot) GCableDeletions() []model.Deletion {
	if len(s.Segments) == 0 {
		return nil
	}
	minSeq := s.Segments[0].Seq
	for _, seg := range s.Segments[1:] {
		if seg.Seq < minSeq {
			minSeq = seg.Seq
		}
	}
	var out []model.Deletion
	for _, d := range s.Deletions {
		if d.Seq <= minSeq {
			out = append(out, d)
		}
	}
	return out
}

// DeletionsFor returns the deletions that apply to a segment with the
// given seq: every deletion newer than the segment's seq (§4.8 "Open").
func (s Snapshot) DeletionsFor(segSeq int64) []model.Deletion {
	var out []model.Deletion
	for _, d := range s.Deletions {
		if d.Seq > segSeq {
			out = append(out, d)
		}
	}
	return out
}
