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

// Package worker orchestrates the writer (index_resource) and merger
// process roles of §4.9/§4.10: pulling work, running the
// internal/vectorindex/segment pipeline, uploading via
// internal/blobstore, and committing via internal/catalog. Grounded in
// original_source/nidx/src/worker.rs's job loop and Milvus's
// indexnode/task.go task lifecycle (build → upload → ack).
package worker

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nidxlabs/nidx/internal/blobstore"
	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/model"
	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/segment"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/pkg/errs"
	"github.com/nidxlabs/nidx/pkg/log"
	"github.com/nidxlabs/nidx/pkg/metrics"
)

// Worker bundles the dependencies the writer and merger loops share.
type Worker struct {
	Catalog   catalog.Store
	Blob      blobstore.Store
	ScratchDir string
}

// IndexJob runs index_resource (§4.9) over records for indexID at seq,
// uploads the resulting segment, and registers + marks it ready in the
// catalog. An empty record set is a success no-op (§7 policy): no
// segment row is created and ("", nil) is returned.
func (w *Worker) IndexJob(ctx context.Context, indexID string, seq int64, records []segment.Record, dimension int, sim simfunc.Kind, params hnsw.Params, seed int64) (string, error) {
	start := time.Now()
	defer func() { metrics.IndexDurationSeconds.Observe(time.Since(start).Seconds()) }()

	localDir := filepath.Join(w.ScratchDir, "build-"+randSuffix())
	defer os.RemoveAll(localDir)

	meta, err := segment.IndexResource(localDir, records, dimension, sim, params, seed)
	if err != nil {
		return "", err
	}
	if meta == nil {
		log.Ctx(ctx).Info("index_resource produced zero records, no-op", zap.String("index_id", indexID), zap.Int64("seq", seq))
		return "", nil
	}

	objectKey := filepath.ToSlash(filepath.Join(indexID, "segments", randSuffix()+".tar"))
	size, err := w.Blob.PackAndUpload(ctx, localDir, objectKey)
	if err != nil {
		return "", err
	}

	segID, err := w.Catalog.CreateSegment(ctx, model.SegmentMeta{
		IndexID:     indexID,
		Kind:        model.IndexKindVector,
		Seq:         seq,
		RecordCount: uint64(meta.RecordCount),
		Path:        objectKey,
		Vector: &model.VectorMeta{
			OpenTimestamp: time.Now(),
			VectorType:    model.VectorTypeDenseF32,
			Dimension:     uint32(dimension),
			Similarity:    model.SimilarityKind(sim),
		},
	})
	if err != nil {
		return "", err
	}
	if err := w.Catalog.MarkSegmentReady(ctx, segID, uint64(size)); err != nil {
		return "", err
	}
	return segID, nil
}

// MergeJob runs one merge: take a claimed job, download its input
// segments, merge them dropping deleted records, upload the result,
// and commit via Finish. heartbeat fires KeepAlive on interval until
// the job completes or ctx is cancelled (§4.10 "Heartbeat").
func (w *Worker) MergeJob(ctx context.Context, job model.MergeJob, heartbeatInterval time.Duration, deletionsFor func(segID string) kvfile.DeletionPredicate) (model.SegmentMeta, error) {
	start := time.Now()
	defer func() { metrics.MergeDurationSeconds.Observe(time.Since(start).Seconds()) }()
	metrics.MergeJobsRunning.Inc()
	defer metrics.MergeJobsRunning.Dec()

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(hbCtx, job.ID, heartbeatInterval)

	localDir := filepath.Join(w.ScratchDir, "merge-"+job.ID)
	defer os.RemoveAll(localDir)

	inputs := make([]segment.Input, 0, len(job.SegmentIDs))
	for _, segID := range job.SegmentIDs {
		segs, err := w.Catalog.ListSegments(ctx, job.IndexID, 1<<62)
		if err != nil {
			return model.SegmentMeta{}, err
		}
		var meta *model.SegmentMeta
		for i := range segs {
			if segs[i].ID == segID {
				meta = &segs[i]
				break
			}
		}
		if meta == nil {
			return model.SegmentMeta{}, errs.NotFoundf("merge job %s: segment %s no longer in catalog", job.ID, segID)
		}

		inputDir := filepath.Join(localDir, segID)
		if err := w.Blob.DownloadAndUnpack(ctx, meta.Path, inputDir); err != nil {
			return model.SegmentMeta{}, err
		}
		inputs = append(inputs, segment.Input{Dir: inputDir, Deleted: deletionsFor(segID)})
	}

	outDir := filepath.Join(localDir, "out")
	merged, err := segment.Merge(outDir, inputs)
	if err != nil {
		return model.SegmentMeta{}, err
	}

	objectKey := filepath.ToSlash(filepath.Join(job.IndexID, "segments", randSuffix()+".tar"))
	size, err := w.Blob.PackAndUpload(ctx, outDir, objectKey)
	if err != nil {
		return model.SegmentMeta{}, err
	}

	newSeg := model.SegmentMeta{
		IndexID:     job.IndexID,
		Kind:        model.IndexKindVector,
		RecordCount: uint64(merged.RecordCount),
		SizeBytes:   uint64(size),
		Path:        objectKey,
		Ready:       true,
	}
	return w.Catalog.MergeJobs().Finish(ctx, job.ID, newSeg)
}

func (w *Worker) heartbeat(ctx context.Context, jobID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Catalog.MergeJobs().KeepAlive(ctx, jobID); err != nil {
				log.Ctx(ctx).Warn("merge job heartbeat failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}
	}
}

func randSuffix() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}
