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

// Package etcdcatalog implements catalog.Store over etcd, the production
// backing for a multi-process deployment. Every compare-and-swap claim
// (merge-job creation, segment readiness) goes through clientv3.Txn,
// generalized from Milvus's proto-marshaled kv-catalog pattern
// (internal/metastore/kv/streamingcoord) to JSON-marshaled rows since
// this system carries no generated protobuf schema.
package etcdcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// Store is a catalog.Store backed by an etcd cluster.
type Store struct {
	cli      *clientv3.Client
	rootPath string
}

// New builds a Store using an already-constructed etcd client, rooted at
// rootPath (mirrors Milvus's per-deployment etcd root-path convention).
func New(cli *clientv3.Client, rootPath string) *Store {
	return &Store{cli: cli, rootPath: rootPath}
}

// Dial constructs the etcd client and wraps it in a Store, the
// transliteration of internal/util/etcd.GetRemoteEtcdClient.
func Dial(endpoints []string, dialTimeout time.Duration, rootPath string) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "dialing etcd at %v", endpoints)
	}
	return New(cli, rootPath), nil
}

func (s *Store) key(parts ...string) string {
	k := s.rootPath
	for _, p := range parts {
		k += "/" + p
	}
	return k
}

// Close implements catalog.Store.
func (s *Store) Close() error { return s.cli.Close() }

// MergeJobs implements catalog.Store.
func (s *Store) MergeJobs() catalog.MergeJobStore { return &mergeJobStore{s: s} }

// CreateIndexRequest implements catalog.Store using etcd's global
// revision-ordered counter key with an optimistic compare-and-swap loop.
func (s *Store) CreateIndexRequest(ctx context.Context) (int64, error) {
	counterKey := s.key("seq", "counter")
	for {
		resp, err := s.cli.Get(ctx, counterKey)
		if err != nil {
			return 0, errs.Wrap(errs.KindTransient, err, "reading seq counter")
		}
		var cur int64
		var modRev int64
		if len(resp.Kvs) > 0 {
			if err := json.Unmarshal(resp.Kvs[0].Value, &cur); err != nil {
				return 0, errs.Wrap(errs.KindCorruption, err, "parsing seq counter")
			}
			modRev = resp.Kvs[0].ModRevision
		}
		next := cur + 1
		buf, _ := json.Marshal(next)

		req := model.IndexRequest{Seq: next, ReceivedAt: time.Now()}
		reqBuf, err := json.Marshal(req)
		if err != nil {
			return 0, err
		}

		var cmp clientv3.Cmp
		if modRev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(counterKey), "=", 0)
		} else {
			cmp = clientv3.Compare(clientv3.ModRevision(counterKey), "=", modRev)
		}
		txnResp, err := s.cli.Txn(ctx).
			If(cmp).
			Then(
				clientv3.OpPut(counterKey, string(buf)),
				clientv3.OpPut(s.key("index_requests", fmt.Sprintf("%020d", next)), string(reqBuf)),
			).
			Commit()
		if err != nil {
			return 0, errs.Wrap(errs.KindTransient, err, "committing seq allocation")
		}
		if txnResp.Succeeded {
			return next, nil
		}
		// lost the race; retry
	}
}

// DeleteIndexRequest implements catalog.Store.
func (s *Store) DeleteIndexRequest(ctx context.Context, seq int64) error {
	_, err := s.cli.Delete(ctx, s.key("index_requests", fmt.Sprintf("%020d", seq)))
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "deleting index request %d", seq)
	}
	return nil
}

// DeleteStaleIndexRequests implements catalog.Store.
func (s *Store) DeleteStaleIndexRequests(ctx context.Context) (int, error) {
	resp, err := s.cli.Get(ctx, s.key("index_requests")+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "listing index requests")
	}
	cutoff := time.Now().Add(-time.Minute)
	removed := 0
	for _, kv := range resp.Kvs {
		var req model.IndexRequest
		if err := json.Unmarshal(kv.Value, &req); err != nil {
			continue
		}
		if req.ReceivedAt.Before(cutoff) {
			if _, err := s.cli.Delete(ctx, string(kv.Key)); err != nil {
				return removed, errs.Wrap(errs.KindTransient, err, "gc'ing index request")
			}
			removed++
		}
	}
	return removed, nil
}

// LastAckSeq implements catalog.Store.
func (s *Store) LastAckSeq(ctx context.Context) (int64, error) {
	resp, err := s.cli.Get(ctx, s.key("index_requests")+"/", clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend), clientv3.WithLimit(1))
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "reading oldest index request")
	}
	if len(resp.Kvs) > 0 {
		var req model.IndexRequest
		if err := json.Unmarshal(resp.Kvs[0].Value, &req); err != nil {
			return 0, errs.Wrap(errs.KindCorruption, err, "parsing index request")
		}
		return req.Seq - 1, nil
	}
	counterResp, err := s.cli.Get(ctx, s.key("seq", "counter"))
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "reading seq counter")
	}
	if len(counterResp.Kvs) == 0 {
		return 0, nil
	}
	var cur int64
	if err := json.Unmarshal(counterResp.Kvs[0].Value, &cur); err != nil {
		return 0, errs.Wrap(errs.KindCorruption, err, "parsing seq counter")
	}
	return cur, nil
}

// CreateSegment implements catalog.Store.
func (s *Store) CreateSegment(ctx context.Context, seg model.SegmentMeta) (string, error) {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	buf, err := json.Marshal(seg)
	if err != nil {
		return "", err
	}
	_, err = s.cli.Put(ctx, s.key("segments", seg.ID), string(buf))
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "creating segment")
	}
	return seg.ID, nil
}

// MarkSegmentReady implements catalog.Store.
func (s *Store) MarkSegmentReady(ctx context.Context, segmentID string, sizeBytes uint64) error {
	segKey := s.key("segments", segmentID)
	resp, err := s.cli.Get(ctx, segKey)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "reading segment %s", segmentID)
	}
	if len(resp.Kvs) == 0 {
		return errs.NotFoundf("segment %s", segmentID)
	}
	var seg model.SegmentMeta
	if err := json.Unmarshal(resp.Kvs[0].Value, &seg); err != nil {
		return errs.Wrap(errs.KindCorruption, err, "parsing segment %s", segmentID)
	}
	seg.Ready = true
	seg.SizeBytes = sizeBytes
	buf, err := json.Marshal(seg)
	if err != nil {
		return err
	}
	txnResp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(segKey), "=", resp.Kvs[0].ModRevision)).
		Then(clientv3.OpPut(segKey, string(buf))).
		Commit()
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "committing segment ready flip")
	}
	if !txnResp.Succeeded {
		return errs.Transientf("segment %s was concurrently modified", segmentID)
	}
	return nil
}

// ListSegments implements catalog.Store.
func (s *Store) ListSegments(ctx context.Context, indexID string, upToSeq int64) ([]model.SegmentMeta, error) {
	resp, err := s.cli.Get(ctx, s.key("segments")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "listing segments")
	}
	var out []model.SegmentMeta
	for _, kv := range resp.Kvs {
		var seg model.SegmentMeta
		if err := json.Unmarshal(kv.Value, &seg); err != nil {
			continue
		}
		if seg.IndexID == indexID && seg.Ready && seg.Seq <= upToSeq {
			out = append(out, seg)
		}
	}
	return out, nil
}

// CreateDeletion implements catalog.Store.
func (s *Store) CreateDeletion(ctx context.Context, d model.Deletion) error {
	buf, err := json.Marshal(d)
	if err != nil {
		return err
	}
	key := s.key("deletions", fmt.Sprintf("%020d", d.Seq), d.IndexID, d.KeyPrefix)
	_, err = s.cli.Put(ctx, key, string(buf))
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "creating deletion")
	}
	return nil
}

// ListDeletions implements catalog.Store.
func (s *Store) ListDeletions(ctx context.Context, indexID string, upToSeq int64) ([]model.Deletion, error) {
	resp, err := s.cli.Get(ctx, s.key("deletions")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "listing deletions")
	}
	var out []model.Deletion
	for _, kv := range resp.Kvs {
		var d model.Deletion
		if err := json.Unmarshal(kv.Value, &d); err != nil {
			continue
		}
		if d.IndexID == indexID && d.Seq <= upToSeq {
			out = append(out, d)
		}
	}
	return out, nil
}
