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

// Package boltcatalog implements catalog.Store over an embedded
// go.etcd.io/bbolt database: one process, one file, every mutation
// inside a db.Update transaction. This is the backing for the nidx
// single-binary dev mode and for every catalog/scheduler/reader test.
package boltcatalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/pkg/errs"
)

var (
	bucketIndexRequests = []byte("index_requests")
	bucketSegments       = []byte("segments")
	bucketDeletions      = []byte("deletions")
	bucketMergeJobs      = []byte("merge_jobs")
	bucketSeq            = []byte("seq")

	seqKeyGlobal = []byte("global")
)

// Store is an embedded catalog.Store backed by a bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt file at path and ensures every bucket
// this store needs exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "opening bolt catalog at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIndexRequests, bucketSegments, bucketDeletions, bucketMergeJobs, bucketSeq} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.KindFatal, err, "initializing bolt catalog buckets")
	}
	return &Store{db: db}, nil
}

// Close implements catalog.Store.
func (s *Store) Close() error { return s.db.Close() }

// MergeJobs implements catalog.Store.
func (s *Store) MergeJobs() catalog.MergeJobStore { return &mergeJobStore{s: s} }

func nextSeq(tx *bolt.Tx) (int64, error) {
	b := tx.Bucket(bucketSeq)
	n, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// CreateIndexRequest implements catalog.Store.
func (s *Store) CreateIndexRequest(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		seq, err = nextSeq(tx)
		if err != nil {
			return err
		}
		req := model.IndexRequest{Seq: seq, ReceivedAt: time.Now()}
		buf, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndexRequests).Put(itob(seq), buf)
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "creating index request")
	}
	return seq, nil
}

// DeleteIndexRequest implements catalog.Store.
func (s *Store) DeleteIndexRequest(ctx context.Context, seq int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexRequests).Delete(itob(seq))
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "deleting index request %d", seq)
	}
	return nil
}

// DeleteStaleIndexRequests implements catalog.Store.
func (s *Store) DeleteStaleIndexRequests(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Minute)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIndexRequests)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var req model.IndexRequest
			if err := json.Unmarshal(v, &req); err != nil {
				continue
			}
			if req.ReceivedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(toDelete)
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "gc'ing stale index requests")
	}
	return removed, nil
}

// LastAckSeq implements catalog.Store: the largest seq such that every
// seq at or below it has been processed, i.e. one less than the smallest
// still-pending index request's seq, or the global counter's current
// value if nothing is pending.
func (s *Store) LastAckSeq(ctx context.Context) (int64, error) {
	var result int64
	err := s.db.View(func(tx *bolt.Tx) error {
		reqs := tx.Bucket(bucketIndexRequests)
		c := reqs.Cursor()
		if k, _ := c.First(); k != nil {
			var req model.IndexRequest
			if err := json.Unmarshal(reqs.Get(k), &req); err != nil {
				return err
			}
			result = req.Seq - 1
			return nil
		}
		seqB := tx.Bucket(bucketSeq)
		result = int64(seqB.Sequence())
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "computing last_ack_seq")
	}
	return result, nil
}

// CreateSegment implements catalog.Store.
func (s *Store) CreateSegment(ctx context.Context, seg model.SegmentMeta) (string, error) {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf, err := json.Marshal(seg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSegments).Put([]byte(seg.ID), buf)
	})
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "creating segment")
	}
	return seg.ID, nil
}

// MarkSegmentReady implements catalog.Store.
func (s *Store) MarkSegmentReady(ctx context.Context, segmentID string, sizeBytes uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		raw := b.Get([]byte(segmentID))
		if raw == nil {
			return errs.NotFoundf("segment %s", segmentID)
		}
		var seg model.SegmentMeta
		if err := json.Unmarshal(raw, &seg); err != nil {
			return err
		}
		seg.Ready = true
		seg.SizeBytes = sizeBytes
		buf, err := json.Marshal(seg)
		if err != nil {
			return err
		}
		return b.Put([]byte(segmentID), buf)
	})
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return errs.Wrap(errs.KindTransient, err, "marking segment %s ready", segmentID)
	}
	return err
}

// ListSegments implements catalog.Store.
func (s *Store) ListSegments(ctx context.Context, indexID string, upToSeq int64) ([]model.SegmentMeta, error) {
	var out []model.SegmentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		return b.ForEach(func(k, v []byte) error {
			var seg model.SegmentMeta
			if err := json.Unmarshal(v, &seg); err != nil {
				return err
			}
			if seg.IndexID == indexID && seg.Ready && seg.Seq <= upToSeq {
				out = append(out, seg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "listing segments for index %s", indexID)
	}
	return out, nil
}

// CreateDeletion implements catalog.Store.
func (s *Store) CreateDeletion(ctx context.Context, d model.Deletion) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf, err := json.Marshal(d)
		if err != nil {
			return err
		}
		key := append(itob(d.Seq), []byte("/"+d.IndexID+"/"+d.KeyPrefix)...)
		return tx.Bucket(bucketDeletions).Put(key, buf)
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "creating deletion")
	}
	return nil
}

// ListDeletions implements catalog.Store.
func (s *Store) ListDeletions(ctx context.Context, indexID string, upToSeq int64) ([]model.Deletion, error) {
	var out []model.Deletion
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeletions)
		return b.ForEach(func(k, v []byte) error {
			var d model.Deletion
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.IndexID == indexID && d.Seq <= upToSeq {
				out = append(out, d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "listing deletions for index %s", indexID)
	}
	return out, nil
}
