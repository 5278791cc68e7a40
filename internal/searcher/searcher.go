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

// Package searcher implements the §4.8/§5 read path: a per-index
// snapshot cache refreshed periodically from the catalog, opening newly
// visible segments and releasing ones no longer referenced once the
// last search holding them completes, and a fan-out search across a
// snapshot's segments merged into one ranked page (§6.3). Grounded in
// original_source/nidx/src/searcher and Milvus's querynode segment
// manager (open-on-load, refcount-until-release, periodic reconcile).
package searcher

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidxlabs/nidx/internal/blobstore"
	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/reader"
	"github.com/nidxlabs/nidx/pkg/errs"
	"github.com/nidxlabs/nidx/pkg/log"
	"github.com/nidxlabs/nidx/pkg/metrics"
)

// DefaultRefreshInterval is §5's "Refresh is periodic (default 1 s)".
const DefaultRefreshInterval = time.Second

// cachedSegment is one mmapped segment plus the bookkeeping needed to
// close it exactly once, after the last in-flight search holding it
// returns (§5 "its segments are kept mmapped until the view's reference
// count drops to zero").
type cachedSegment struct {
	meta    model.SegmentMeta
	seg     *reader.Segment
	refs    atomic.Int32
	retired atomic.Bool
	closed  atomic.Bool
}

func (c *cachedSegment) acquire() { c.refs.Inc() }

func (c *cachedSegment) release() {
	if c.refs.Dec() == 0 && c.retired.Load() {
		c.tryClose()
	}
}

func (c *cachedSegment) retire() {
	c.retired.Store(true)
	if c.refs.Load() == 0 {
		c.tryClose()
	}
}

func (c *cachedSegment) tryClose() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.seg.Close()
	}
}

// indexView is the live snapshot state for one index: the currently
// open segments and the deletion log used to build each segment's
// is_deleted predicate (§4.8 "Open").
type indexView struct {
	mu        sync.RWMutex
	upToSeq   int64
	segments  map[string]*cachedSegment
	deletions []model.Deletion
}

// Searcher owns the per-index snapshot caches and runs their periodic
// refresh.
type Searcher struct {
	Catalog         catalog.Store
	Blob            blobstore.Store
	CacheDir        string
	RefreshInterval time.Duration

	mu     sync.RWMutex
	views  map[string]*indexView
}

// New builds a Searcher. cacheDir holds downloaded-and-unpacked segment
// directories, one subdirectory per segment ID.
func New(store catalog.Store, blob blobstore.Store, cacheDir string) *Searcher {
	return &Searcher{
		Catalog:         store,
		Blob:            blob,
		CacheDir:        cacheDir,
		RefreshInterval: DefaultRefreshInterval,
		views:           map[string]*indexView{},
	}
}

func (s *Searcher) viewFor(indexID string) *indexView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[indexID]
	if !ok {
		v = &indexView{segments: map[string]*cachedSegment{}}
		s.views[indexID] = v
	}
	return v
}

// Refresh pulls the current catalog snapshot for indexID, opens any
// newly-visible segment, and retires any segment no longer present
// (§5 "diffs against its view, opens newly-visible segments, and
// releases segments no longer referenced").
func (s *Searcher) Refresh(ctx context.Context, indexID string) error {
	upToSeq, err := s.Catalog.LastAckSeq(ctx)
	if err != nil {
		return err
	}
	snap, err := catalog.BuildSnapshot(ctx, s.Catalog, indexID, upToSeq)
	if err != nil {
		return err
	}

	v := s.viewFor(indexID)
	want := make(map[string]model.SegmentMeta, len(snap.Segments))
	for _, seg := range snap.Segments {
		want[seg.ID] = seg
	}

	v.mu.Lock()
	var toRetire []*cachedSegment
	for id, cs := range v.segments {
		if _, ok := want[id]; !ok {
			toRetire = append(toRetire, cs)
			delete(v.segments, id)
		}
	}
	var toOpen []model.SegmentMeta
	for id, seg := range want {
		if _, ok := v.segments[id]; !ok {
			toOpen = append(toOpen, seg)
		}
	}
	v.mu.Unlock()

	for _, cs := range toRetire {
		cs.retire()
		metrics.OpenSnapshots.Dec()
	}

	opened := 0
	for _, seg := range toOpen {
		cs, err := s.open(ctx, seg)
		if err != nil {
			log.Ctx(ctx).Warn("searcher: failed to open segment, skipping this refresh",
				zap.String("index_id", indexID), zap.String("segment_id", seg.ID), zap.Error(err))
			continue
		}
		v.mu.Lock()
		v.segments[seg.ID] = cs
		v.mu.Unlock()
		metrics.OpenSnapshots.Inc()
		opened++
	}

	changed := "false"
	if opened > 0 || len(toRetire) > 0 {
		changed = "true"
	}
	metrics.SnapshotRefreshTotal.WithLabelValues(changed).Inc()

	v.mu.Lock()
	v.upToSeq = upToSeq
	v.deletions = snap.Deletions
	v.mu.Unlock()
	return nil
}

func (s *Searcher) open(ctx context.Context, meta model.SegmentMeta) (*cachedSegment, error) {
	dir := filepath.Join(s.CacheDir, meta.ID)
	if err := s.Blob.DownloadAndUnpack(ctx, meta.Path, dir); err != nil {
		return nil, err
	}
	seg, err := reader.Open(dir)
	if err != nil {
		return nil, err
	}
	return &cachedSegment{meta: meta, seg: seg}, nil
}

// RunRefreshLoop refreshes every indexID in indexIDs on RefreshInterval
// until ctx is cancelled.
func (s *Searcher) RunRefreshLoop(ctx context.Context, indexIDs []string) {
	interval := s.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range indexIDs {
				if err := s.Refresh(ctx, id); err != nil {
					log.Ctx(ctx).Warn("searcher: snapshot refresh failed", zap.String("index_id", id), zap.Error(err))
				}
			}
		}
	}
}

// deletedPredicate builds is_deleted(key) for a segment at segSeq from
// the view's deletion log: a deletion applies to a segment if its seq
// is greater than the segment's own seq (§4.8 "Open").
func deletedPredicate(deletions []model.Deletion, segSeq int64) kvfile.DeletionPredicate {
	var prefixes []string
	for _, d := range deletions {
		if d.Seq > segSeq {
			prefixes = append(prefixes, d.KeyPrefix)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.Strings(prefixes)
	return func(key []byte) bool {
		k := string(key)
		i := sort.SearchStrings(prefixes, k)
		if i < len(prefixes) && len(prefixes[i]) <= len(k) && k[:len(prefixes[i])] == prefixes[i] {
			return true
		}
		for j := i - 1; j >= 0; j-- {
			p := prefixes[j]
			if len(p) <= len(k) && k[:len(p)] == p {
				return true
			}
		}
		return false
	}
}

// Search runs req against indexID's current snapshot: fan out across
// every open segment concurrently (§4.8 "Search" step 1), merge and
// truncate (step 2-3), honoring ctx cancellation or deadline (§5
// "Cancellation").
func (s *Searcher) Search(ctx context.Context, indexID string, req Request) (Response, error) {
	start := time.Now()
	defer func() { metrics.SearchLatencySeconds.WithLabelValues("vector").Observe(time.Since(start).Seconds()) }()

	v := s.viewFor(indexID)
	v.mu.RLock()
	segs := make([]*cachedSegment, 0, len(v.segments))
	for _, cs := range v.segments {
		cs.acquire()
		segs = append(segs, cs)
	}
	deletions := v.deletions
	v.mu.RUnlock()
	defer func() {
		for _, cs := range segs {
			cs.release()
		}
	}()

	requestK := req.effectiveK()
	if requestK <= 0 {
		requestK = req.K
	}
	ef := requestK * 2
	if ef < 16 {
		ef = 16
	}

	var cancelled atomic.Bool
	cancel := func() bool {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return true
		default:
			return false
		}
	}

	perSegment := make([][]reader.Hit, len(segs))
	g, _ := errgroup.WithContext(ctx)
	for i, cs := range segs {
		i, cs := i, cs
		g.Go(func() error {
			deleted := deletedPredicate(deletions, cs.meta.Seq)
			hits, err := cs.seg.Search(req.QueryVector, requestK, ef, req.FilterFormula, req.MinScore, req.HasMinScore, deleted, cancel)
			if err != nil {
				if cancelled.Load() && errs.Is(err, errs.KindTransient) {
					// cut short by ctx: this segment contributes no hits
					// and the response is flagged Truncated.
					return nil
				}
				return err
			}
			perSegment[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	merged := reader.Merge(perSegment, requestK)
	if !req.WithDuplicates {
		merged = dedupeByKey(merged)
	}

	pageStart := req.PageNumber * req.ResultPerPage
	pageEnd := pageStart + req.ResultPerPage
	if req.ResultPerPage <= 0 {
		pageStart, pageEnd = 0, len(merged)
	}
	if pageStart > len(merged) {
		pageStart = len(merged)
	}
	if pageEnd > len(merged) {
		pageEnd = len(merged)
	}

	page := merged[pageStart:pageEnd]
	results := make([]Result, len(page))
	for i, h := range page {
		results[i] = Result{Key: string(h.Key), Score: h.Score, Metadata: h.Meta}
	}
	return Response{Results: results, Truncated: cancelled.Load() || pageEnd < len(merged)}, nil
}

func dedupeByKey(hits []reader.Hit) []reader.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		k := string(h.Key)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, h)
	}
	return out
}
