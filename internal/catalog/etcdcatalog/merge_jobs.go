package etcdcatalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/pkg/errs"
)

type mergeJobStore struct {
	s *Store
}

// Create claims segmentIDs and inserts a job row in one etcd
// transaction, comparing every targeted segment's current ModRevision
// so a concurrent claim by another scheduler aborts the whole txn
// instead of partially applying (§4.10 "Claiming").
func (m *mergeJobStore) Create(ctx context.Context, indexID string, segmentIDs []string) (model.MergeJob, error) {
	s := m.s
	segKeys := make([]string, len(segmentIDs))
	for i, id := range segmentIDs {
		segKeys[i] = s.key("segments", id)
	}

	getResp, err := s.cli.Txn(ctx).Then(opsGet(segKeys)...).Commit()
	if err != nil {
		return model.MergeJob{}, errs.Wrap(errs.KindTransient, err, "reading segments to claim")
	}

	segs := make([]model.SegmentMeta, len(segmentIDs))
	cmps := make([]clientv3.Cmp, 0, len(segmentIDs))
	for i, resp := range getResp.Responses {
		rr := resp.GetResponseRange()
		if len(rr.Kvs) == 0 {
			return model.MergeJob{}, errs.NotFoundf("segment %s", segmentIDs[i])
		}
		var seg model.SegmentMeta
		if err := json.Unmarshal(rr.Kvs[0].Value, &seg); err != nil {
			return model.MergeJob{}, errs.Wrap(errs.KindCorruption, err, "parsing segment %s", segmentIDs[i])
		}
		if seg.MergeJobID != "" {
			return model.MergeJob{}, errs.Transientf("segment %s already claimed by job %s", segmentIDs[i], seg.MergeJobID)
		}
		segs[i] = seg
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(segKeys[i]), "=", rr.Kvs[0].ModRevision))
	}

	job := model.MergeJob{
		ID:         uuid.NewString(),
		IndexID:    indexID,
		SegmentIDs: append([]string(nil), segmentIDs...),
		EnqueuedAt: time.Now(),
	}
	jobBuf, err := json.Marshal(job)
	if err != nil {
		return model.MergeJob{}, err
	}

	ops := make([]clientv3.Op, 0, len(segs)+1)
	for i, seg := range segs {
		seg.MergeJobID = job.ID
		buf, err := json.Marshal(seg)
		if err != nil {
			return model.MergeJob{}, err
		}
		ops = append(ops, clientv3.OpPut(segKeys[i], string(buf)))
	}
	ops = append(ops, clientv3.OpPut(s.key("merge_jobs", job.ID), string(jobBuf)))

	txnResp, err := s.cli.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return model.MergeJob{}, errs.Wrap(errs.KindTransient, err, "committing merge job claim")
	}
	if !txnResp.Succeeded {
		return model.MergeJob{}, errs.Transientf("lost race claiming segments for index %s", indexID)
	}
	return job, nil
}

func opsGet(keys []string) []clientv3.Op {
	ops := make([]clientv3.Op, len(keys))
	for i, k := range keys {
		ops[i] = clientv3.OpGet(k)
	}
	return ops
}

// Take assigns the oldest unstarted job to the caller.
func (m *mergeJobStore) Take(ctx context.Context) (*model.MergeJob, error) {
	s := m.s
	resp, err := s.cli.Get(ctx, s.key("merge_jobs")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "listing merge jobs")
	}
	var best *model.MergeJob
	var bestKey string
	var bestRev int64
	for _, kv := range resp.Kvs {
		var j model.MergeJob
		if err := json.Unmarshal(kv.Value, &j); err != nil {
			continue
		}
		if j.IsStarted() {
			continue
		}
		if best == nil || j.EnqueuedAt.Before(best.EnqueuedAt) {
			jc := j
			best = &jc
			bestKey = string(kv.Key)
			bestRev = kv.ModRevision
		}
	}
	if best == nil {
		return nil, nil
	}
	now := time.Now()
	best.StartedAt = now
	best.RunningAt = now
	buf, err := json.Marshal(best)
	if err != nil {
		return nil, err
	}
	txnResp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(bestKey), "=", bestRev)).
		Then(clientv3.OpPut(bestKey, string(buf))).
		Commit()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "taking merge job")
	}
	if !txnResp.Succeeded {
		// another worker took it first; caller retries on its own cadence
		return nil, nil
	}
	return best, nil
}

// KeepAlive refreshes running_at for jobID.
func (m *mergeJobStore) KeepAlive(ctx context.Context, jobID string) error {
	s := m.s
	key := s.key("merge_jobs", jobID)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "reading merge job %s", jobID)
	}
	if len(resp.Kvs) == 0 {
		return errs.NotFoundf("merge job %s", jobID)
	}
	var j model.MergeJob
	if err := json.Unmarshal(resp.Kvs[0].Value, &j); err != nil {
		return errs.Wrap(errs.KindCorruption, err, "parsing merge job %s", jobID)
	}
	j.RunningAt = time.Now()
	buf, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.cli.Put(ctx, key, string(buf))
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "heartbeating merge job %s", jobID)
	}
	return nil
}

// Finish atomically deletes the input segments, inserts newSegment with
// seq = max(input_seqs), and deletes the job row.
func (m *mergeJobStore) Finish(ctx context.Context, jobID string, newSegment model.SegmentMeta) (model.SegmentMeta, error) {
	s := m.s
	jobKey := s.key("merge_jobs", jobID)
	jobResp, err := s.cli.Get(ctx, jobKey)
	if err != nil {
		return model.SegmentMeta{}, errs.Wrap(errs.KindTransient, err, "reading merge job %s", jobID)
	}
	if len(jobResp.Kvs) == 0 {
		return model.SegmentMeta{}, errs.NotFoundf("merge job %s", jobID)
	}
	var job model.MergeJob
	if err := json.Unmarshal(jobResp.Kvs[0].Value, &job); err != nil {
		return model.SegmentMeta{}, errs.Wrap(errs.KindCorruption, err, "parsing merge job %s", jobID)
	}

	var maxSeq int64
	ops := make([]clientv3.Op, 0, len(job.SegmentIDs)+2)
	for _, id := range job.SegmentIDs {
		segKey := s.key("segments", id)
		segResp, err := s.cli.Get(ctx, segKey)
		if err == nil && len(segResp.Kvs) > 0 {
			var seg model.SegmentMeta
			if json.Unmarshal(segResp.Kvs[0].Value, &seg) == nil && seg.Seq > maxSeq {
				maxSeq = seg.Seq
			}
		}
		ops = append(ops, clientv3.OpDelete(segKey))
	}

	newSegment.Seq = maxSeq
	if newSegment.ID == "" {
		newSegment.ID = uuid.NewString()
	}
	newSegment.Ready = true
	newSegment.MergeJobID = ""
	buf, err := json.Marshal(newSegment)
	if err != nil {
		return model.SegmentMeta{}, err
	}
	ops = append(ops, clientv3.OpPut(s.key("segments", newSegment.ID), string(buf)))
	ops = append(ops, clientv3.OpDelete(jobKey))

	_, err = s.cli.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return model.SegmentMeta{}, errs.Wrap(errs.KindTransient, err, "committing merge job finish")
	}
	return newSegment, nil
}

// ReclaimStale frees the segments of, and deletes, every job whose
// running_at predates the staleness window.
func (m *mergeJobStore) ReclaimStale(ctx context.Context) (int, error) {
	const staleAfter = 5 * time.Minute
	s := m.s
	resp, err := s.cli.Get(ctx, s.key("merge_jobs")+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "listing merge jobs")
	}
	now := time.Now()
	reclaimed := 0
	for _, kv := range resp.Kvs {
		var j model.MergeJob
		if err := json.Unmarshal(kv.Value, &j); err != nil {
			continue
		}
		if !j.IsStale(now, staleAfter) {
			continue
		}
		ops := make([]clientv3.Op, 0, len(j.SegmentIDs)+1)
		for _, segID := range j.SegmentIDs {
			segKey := s.key("segments", segID)
			segResp, err := s.cli.Get(ctx, segKey)
			if err != nil || len(segResp.Kvs) == 0 {
				continue
			}
			var seg model.SegmentMeta
			if err := json.Unmarshal(segResp.Kvs[0].Value, &seg); err != nil {
				continue
			}
			seg.MergeJobID = ""
			buf, err := json.Marshal(seg)
			if err != nil {
				continue
			}
			ops = append(ops, clientv3.OpPut(segKey, string(buf)))
		}
		ops = append(ops, clientv3.OpDelete(string(kv.Key)))
		if _, err := s.cli.Txn(ctx).Then(ops...).Commit(); err != nil {
			return reclaimed, errs.Wrap(errs.KindTransient, err, "reclaiming stale job")
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Get returns a single job by id.
func (m *mergeJobStore) Get(ctx context.Context, jobID string) (*model.MergeJob, error) {
	s := m.s
	resp, err := s.cli.Get(ctx, s.key("merge_jobs", jobID))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "reading merge job %s", jobID)
	}
	if len(resp.Kvs) == 0 {
		return nil, errs.NotFoundf("merge job %s", jobID)
	}
	var j model.MergeJob
	if err := json.Unmarshal(resp.Kvs[0].Value, &j); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, err, "parsing merge job %s", jobID)
	}
	return &j, nil
}
