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

// Package scheduler implements the merge selection policy of §4.10:
// bucket segments per index by power-of-two size class on record
// count, and within a bucket over merge_threshold, pick the oldest
// merge_fanout segments subject to max_records_per_merge. The atomic
// claim/heartbeat/commit mechanics live in the catalog package
// (MergeJobStore); this package only decides what to claim.
package scheduler

import (
	"context"
	"math/bits"
	"sort"

	"go.uber.org/zap"

	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/pkg/log"
	"github.com/nidxlabs/nidx/pkg/metrics"
	"github.com/nidxlabs/nidx/pkg/paramtable"
)

// Policy holds the tunable selection-policy knobs of §4.10.
type Policy struct {
	MergeThreshold     int
	MergeFanout        int
	MaxRecordsPerMerge uint64
	MaxMergeSize       uint64
}

// FromConfig translates the merge section of paramtable.MergeConfig
// into a Policy.
func FromConfig(cfg paramtable.MergeConfig) Policy {
	return Policy{
		MergeThreshold:     cfg.MinSegmentsPerBucket,
		MergeFanout:        cfg.MaxSegmentsPerMerge,
		MaxRecordsPerMerge: 1 << 30,
		MaxMergeSize:       1 << 40,
	}
}

// sizeClass buckets a record count into its power-of-two class: 0 maps
// to 0, otherwise the bit-length of the count.
func sizeClass(recordCount uint64) int {
	if recordCount == 0 {
		return 0
	}
	return bits.Len64(recordCount)
}

// Candidate is one merge the scheduler decided to claim: the input
// segment IDs, in oldest-first order, for a single index.
type Candidate struct {
	IndexID    string
	SegmentIDs []string
	TotalSize  uint64
}

// SelectCandidates groups ready, unclaimed segments per index by size
// class and returns one merge Candidate per qualifying bucket, per
// §4.10's selection policy.
func SelectCandidates(segments []model.SegmentMeta, policy Policy) []Candidate {
	type bucketKey struct {
		indexID string
		class   int
	}
	buckets := map[bucketKey][]model.SegmentMeta{}
	for _, s := range segments {
		if !s.Ready || s.Quarantined || s.MergeJobID != "" {
			continue
		}
		k := bucketKey{indexID: s.IndexID, class: sizeClass(s.RecordCount)}
		buckets[k] = append(buckets[k], s)
	}

	var out []Candidate
	for k, segs := range buckets {
		if len(segs) < policy.MergeThreshold {
			continue
		}
		sort.Slice(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })

		fanout := policy.MergeFanout
		if fanout <= 0 || fanout > len(segs) {
			fanout = len(segs)
		}

		var chosen []model.SegmentMeta
		var totalRecords, totalSize uint64
		for _, s := range segs {
			if len(chosen) >= fanout {
				break
			}
			if totalRecords+s.RecordCount > policy.MaxRecordsPerMerge && len(chosen) > 0 {
				break
			}
			if totalSize+s.SizeBytes > policy.MaxMergeSize && len(chosen) > 0 {
				break
			}
			chosen = append(chosen, s)
			totalRecords += s.RecordCount
			totalSize += s.SizeBytes
		}
		if len(chosen) < 2 {
			// the records/size cap trimmed the fanout below a useful
			// merge; nothing worth claiming from this bucket this tick.
			continue
		}

		ids := make([]string, len(chosen))
		for i, s := range chosen {
			ids[i] = s.ID
		}
		out = append(out, Candidate{IndexID: k.indexID, SegmentIDs: ids, TotalSize: totalSize})
	}
	return out
}

// Tick runs one scheduling pass over indexIDs: list each index's ready
// segments as of upToSeq, select merge candidates, and attempt to claim
// each via the catalog's atomic create-job-and-claim-segments
// transaction (§4.10 "Claiming"). A claim failing because another
// scheduler won the race is logged and skipped, not treated as an
// error. Returns the number of jobs this call successfully claimed.
func Tick(ctx context.Context, store catalog.Store, indexIDs []string, upToSeq int64, policy Policy) (int, error) {
	var segments []model.SegmentMeta
	for _, id := range indexIDs {
		segs, err := store.ListSegments(ctx, id, upToSeq)
		if err != nil {
			return 0, err
		}
		segments = append(segments, segs...)
	}

	candidates := SelectCandidates(segments, policy)
	for _, c := range candidates {
		metrics.SegmentsPerBucket.WithLabelValues(c.IndexID, "claimed").Set(float64(len(c.SegmentIDs)))
	}

	claimed := 0
	for _, c := range candidates {
		if _, err := store.MergeJobs().Create(ctx, c.IndexID, c.SegmentIDs); err != nil {
			log.Ctx(ctx).Debug("merge claim lost to another scheduler", zap.String("index_id", c.IndexID))
			continue
		}
		claimed++
		metrics.MergeJobsQueued.Inc()
	}
	return claimed, nil
}
