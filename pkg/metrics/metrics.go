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

// Package metrics registers the Prometheus series every process role
// exports: merge-job queue depth, search latency, merge duration, and
// segment counts per size bucket, the way Milvus's internal/metrics
// package and nidx's metrics.rs register theirs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "nidx"

var (
	// MergeJobsQueued counts catalog merge_job rows with started_at unset.
	MergeJobsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "merge_jobs_queued",
		Help:      "Number of merge jobs waiting to be claimed by a worker.",
	})

	// MergeJobsRunning counts merge_job rows with started_at set and not finished.
	MergeJobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "merge_jobs_running",
		Help:      "Number of merge jobs currently claimed and running.",
	})

	// SegmentsPerBucket reports how many segments fall in each size-class
	// bucket, at merge-selection time.
	SegmentsPerBucket = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "segments_per_bucket",
		Help:      "Segment count observed per size-class bucket during merge selection.",
	}, []string{"index_id", "bucket"})

	// MergeDurationSeconds observes wall-clock merge execution time.
	MergeDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "merge_duration_seconds",
		Help:      "Time spent executing one merge job, from claim to commit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	// IndexDurationSeconds observes wall-clock time to index one resource
	// into a fresh segment.
	IndexDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "index_duration_seconds",
		Help:      "Time spent indexing one resource into a new segment.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	// SearchLatencySeconds observes per-request search latency, fan-out
	// across segments included.
	SearchLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "searcher",
		Name:      "search_latency_seconds",
		Help:      "End-to-end latency of a single search request.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"index_kind"})

	// OpenSnapshots gauges the number of live (refcounted) snapshots held
	// by a searcher process.
	OpenSnapshots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "searcher",
		Name:      "open_snapshots",
		Help:      "Number of snapshots currently referenced by in-flight searches.",
	})

	// SnapshotRefreshTotal counts catalog snapshot refresh cycles, labeled
	// by whether the refresh changed the visible segment set.
	SnapshotRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "searcher",
		Name:      "snapshot_refresh_total",
		Help:      "Number of periodic snapshot refresh cycles.",
	}, []string{"changed"})
)

func init() {
	prometheus.MustRegister(
		MergeJobsQueued,
		MergeJobsRunning,
		SegmentsPerBucket,
		MergeDurationSeconds,
		IndexDurationSeconds,
		SearchLatencySeconds,
		OpenSnapshots,
		SnapshotRefreshTotal,
	)
}
