package boltcatalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// mergeJobStore implements catalog.MergeJobStore over the same bbolt
// database as Store, giving it transactional atomicity with segment
// rows for claim/finish (§4.10).
type mergeJobStore struct {
	s *Store
}

// Create claims segmentIDs and inserts a job row in one bbolt
// transaction, the Go transliteration of nidx's merge_job.rs::create
// (INSERT ... RETURNING then UPDATE segments SET merge_job_id = $1
// WHERE id = ANY($2) AND merge_job_id IS NULL, rolled back if the
// updated-row count doesn't match).
func (m *mergeJobStore) Create(ctx context.Context, indexID string, segmentIDs []string) (model.MergeJob, error) {
	var job model.MergeJob
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		segs := tx.Bucket(bucketSegments)
		claimed := make([]model.SegmentMeta, 0, len(segmentIDs))
		for _, id := range segmentIDs {
			raw := segs.Get([]byte(id))
			if raw == nil {
				return errs.NotFoundf("segment %s", id)
			}
			var seg model.SegmentMeta
			if err := json.Unmarshal(raw, &seg); err != nil {
				return err
			}
			if seg.MergeJobID != "" {
				return errs.Transientf("segment %s already claimed by job %s", id, seg.MergeJobID)
			}
			claimed = append(claimed, seg)
		}
		// all segments are claimable: commit the claim, matching the
		// "updated-row count == |set|" all-or-nothing check.
		job = model.MergeJob{
			ID:         uuid.NewString(),
			IndexID:    indexID,
			SegmentIDs: append([]string(nil), segmentIDs...),
			EnqueuedAt: time.Now(),
		}
		for _, seg := range claimed {
			seg.MergeJobID = job.ID
			buf, err := json.Marshal(seg)
			if err != nil {
				return err
			}
			if err := segs.Put([]byte(seg.ID), buf); err != nil {
				return err
			}
		}
		buf, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMergeJobs).Put([]byte(job.ID), buf)
	})
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return model.MergeJob{}, err
		}
		return model.MergeJob{}, errs.Wrap(errs.KindTransient, err, "claiming merge job for index %s", indexID)
	}
	return job, nil
}

// Take assigns the oldest unstarted job to the caller.
func (m *mergeJobStore) Take(ctx context.Context) (*model.MergeJob, error) {
	var out *model.MergeJob
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMergeJobs)
		var best *model.MergeJob
		var bestKey []byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j model.MergeJob
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.IsStarted() {
				continue
			}
			if best == nil || j.EnqueuedAt.Before(best.EnqueuedAt) {
				jc := j
				best = &jc
				bestKey = append([]byte(nil), k...)
			}
		}
		if best == nil {
			return nil
		}
		now := time.Now()
		best.StartedAt = now
		best.RunningAt = now
		buf, err := json.Marshal(best)
		if err != nil {
			return err
		}
		if err := b.Put(bestKey, buf); err != nil {
			return err
		}
		out = best
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "taking merge job")
	}
	return out, nil
}

// KeepAlive refreshes running_at for jobID.
func (m *mergeJobStore) KeepAlive(ctx context.Context, jobID string) error {
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMergeJobs)
		raw := b.Get([]byte(jobID))
		if raw == nil {
			return errs.NotFoundf("merge job %s", jobID)
		}
		var j model.MergeJob
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		j.RunningAt = time.Now()
		buf, err := json.Marshal(j)
		if err != nil {
			return err
		}
		return b.Put([]byte(jobID), buf)
	})
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return err
		}
		return errs.Wrap(errs.KindTransient, err, "heartbeating merge job %s", jobID)
	}
	return nil
}

// Finish atomically deletes the input segments, inserts newSegment with
// seq = max(input_seqs), and deletes the job row (§4.10 "Commit").
func (m *mergeJobStore) Finish(ctx context.Context, jobID string, newSegment model.SegmentMeta) (model.SegmentMeta, error) {
	var result model.SegmentMeta
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketMergeJobs)
		raw := jobs.Get([]byte(jobID))
		if raw == nil {
			return errs.NotFoundf("merge job %s", jobID)
		}
		var job model.MergeJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return err
		}
		segs := tx.Bucket(bucketSegments)
		var maxSeq int64
		for _, id := range job.SegmentIDs {
			sraw := segs.Get([]byte(id))
			if sraw == nil {
				continue
			}
			var seg model.SegmentMeta
			if err := json.Unmarshal(sraw, &seg); err == nil && seg.Seq > maxSeq {
				maxSeq = seg.Seq
			}
			if err := segs.Delete([]byte(id)); err != nil {
				return err
			}
		}
		newSegment.Seq = maxSeq
		if newSegment.ID == "" {
			newSegment.ID = uuid.NewString()
		}
		newSegment.Ready = true
		newSegment.MergeJobID = ""
		buf, err := json.Marshal(newSegment)
		if err != nil {
			return err
		}
		if err := segs.Put([]byte(newSegment.ID), buf); err != nil {
			return err
		}
		result = newSegment
		return jobs.Delete([]byte(jobID))
	})
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return model.SegmentMeta{}, err
		}
		return model.SegmentMeta{}, errs.Wrap(errs.KindTransient, err, "finishing merge job %s", jobID)
	}
	return result, nil
}

// ReclaimStale frees the segments of, and deletes, every job whose
// running_at predates staleAfter, the crash-recovery path of §4.10.
func (m *mergeJobStore) ReclaimStale(ctx context.Context) (int, error) {
	const staleAfter = 5 * time.Minute
	reclaimed := 0
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketMergeJobs)
		segs := tx.Bucket(bucketSegments)
		now := time.Now()
		var staleIDs [][]byte
		c := jobs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var j model.MergeJob
			if err := json.Unmarshal(v, &j); err != nil {
				continue
			}
			if j.IsStale(now, staleAfter) {
				staleIDs = append(staleIDs, append([]byte(nil), k...))
				for _, segID := range j.SegmentIDs {
					sraw := segs.Get([]byte(segID))
					if sraw == nil {
						continue
					}
					var seg model.SegmentMeta
					if err := json.Unmarshal(sraw, &seg); err != nil {
						continue
					}
					seg.MergeJobID = ""
					buf, err := json.Marshal(seg)
					if err != nil {
						return err
					}
					if err := segs.Put([]byte(segID), buf); err != nil {
						return err
					}
				}
			}
		}
		for _, k := range staleIDs {
			if err := jobs.Delete(k); err != nil {
				return err
			}
		}
		reclaimed = len(staleIDs)
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "reclaiming stale merge jobs")
	}
	return reclaimed, nil
}

// Get returns a single job by id.
func (m *mergeJobStore) Get(ctx context.Context, jobID string) (*model.MergeJob, error) {
	var out *model.MergeJob
	err := m.s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMergeJobs).Get([]byte(jobID))
		if raw == nil {
			return errs.NotFoundf("merge job %s", jobID)
		}
		var j model.MergeJob
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		out = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
