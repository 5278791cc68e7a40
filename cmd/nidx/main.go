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

// Command nidx is a single binary exposing the worker, scheduler, and
// searcher process roles as subcommands (§5.1), mirroring
// original_source/nidx/src/main.rs's JoinSet of component tasks and
// Milvus's cmd/components+cmd/roles split. There is no gRPC front-end:
// this binary talks to the catalog and blob store directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidxlabs/nidx/internal/blobstore"
	"github.com/nidxlabs/nidx/internal/catalog"
	"github.com/nidxlabs/nidx/internal/catalog/boltcatalog"
	"github.com/nidxlabs/nidx/internal/catalog/etcdcatalog"
	"github.com/nidxlabs/nidx/internal/scheduler"
	"github.com/nidxlabs/nidx/internal/searcher"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/worker"
	"github.com/nidxlabs/nidx/pkg/log"
	"github.com/nidxlabs/nidx/pkg/paramtable"
)

func main() {
	configDir := flag.String("config", "", "directory containing nidx.yaml")
	catalogKind := flag.String("catalog", "bolt", "catalog backend: bolt or etcd")
	metricsAddr := flag.String("metrics-addr", ":10010", "address for the /metrics endpoint")
	flag.Parse()

	roles := flag.Args()
	if len(roles) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nidx [flags] <role...>  (worker, scheduler, searcher)")
		os.Exit(2)
	}

	var table paramtable.Table
	if err := table.Init(*configDir); err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := openCatalog(*catalogKind, &table)
	if err != nil {
		log.Fatal("failed to open catalog", zap.Error(err))
	}
	defer store.Close()

	blob, err := blobstore.NewMinioStore(table.Minio)
	if err != nil {
		log.Fatal("failed to connect to blob store", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	for _, role := range roles {
		role := role
		switch role {
		case "worker":
			g.Go(func() error { return runWorker(gCtx, store, blob, &table) })
		case "scheduler":
			g.Go(func() error { return runScheduler(gCtx, store, &table) })
		case "searcher":
			g.Go(func() error { return runSearcher(gCtx, store, blob, &table) })
		default:
			log.Fatal("unknown role", zap.String("role", role))
		}
	}
	g.Go(func() error { return runMetricsServer(gCtx, *metricsAddr) })

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		log.Fatal("a component task finished with an error, stopping", zap.Error(err))
	}
}

func openCatalog(kind string, table *paramtable.Table) (catalog.Store, error) {
	switch kind {
	case "bolt":
		return boltcatalog.Open(table.Bolt.Path)
	case "etcd":
		return etcdcatalog.Dial(table.Etcd.Endpoints, table.Etcd.DialTimeout, table.Etcd.RootPath)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", kind)
	}
}

// runWorker polls the catalog for claimable merge jobs and runs them
// until ctx is cancelled. Index jobs are driven by whatever upstream
// process extracts (key, vector, labels) tuples from resources; this
// loop only owns the merge side of §4.9/§4.10, the half the catalog can
// self-schedule without an external trigger.
func runWorker(ctx context.Context, store catalog.Store, blob blobstore.Store, table *paramtable.Table) error {
	w := &worker.Worker{Catalog: store, Blob: blob, ScratchDir: os.TempDir()}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			job, err := store.MergeJobs().Take(ctx)
			if err != nil {
				log.Ctx(ctx).Warn("failed to take merge job", zap.Error(err))
				continue
			}
			if job == nil {
				continue
			}
			_, err = w.MergeJob(ctx, *job, table.Merge.HeartbeatInterval, func(segID string) kvfile.DeletionPredicate {
				return nil
			})
			if err != nil {
				log.Ctx(ctx).Error("merge job failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}

// runScheduler runs the merge-selection tick (§4.10) on a fixed cadence
// and periodically reclaims stale jobs.
func runScheduler(ctx context.Context, store catalog.Store, table *paramtable.Table) error {
	policy := scheduler.FromConfig(table.Merge)
	tickTicker := time.NewTicker(5 * time.Second)
	defer tickTicker.Stop()
	reclaimTicker := time.NewTicker(table.Merge.StaleAfter)
	defer reclaimTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tickTicker.C:
			indexIDs, err := listIndexIDs(ctx, store)
			if err != nil {
				log.Ctx(ctx).Warn("failed to list indices for scheduling", zap.Error(err))
				continue
			}
			upToSeq, err := store.LastAckSeq(ctx)
			if err != nil {
				log.Ctx(ctx).Warn("failed to read last_ack_seq", zap.Error(err))
				continue
			}
			if _, err := scheduler.Tick(ctx, store, indexIDs, upToSeq, policy); err != nil {
				log.Ctx(ctx).Warn("scheduler tick failed", zap.Error(err))
			}
		case <-reclaimTicker.C:
			if n, err := store.MergeJobs().ReclaimStale(ctx); err != nil {
				log.Ctx(ctx).Warn("reclaim stale jobs failed", zap.Error(err))
			} else if n > 0 {
				log.Ctx(ctx).Info("reclaimed stale merge jobs", zap.Int("count", n))
			}
		}
	}
}

// runSearcher runs the snapshot refresh loop (§5) for every known index.
func runSearcher(ctx context.Context, store catalog.Store, blob blobstore.Store, table *paramtable.Table) error {
	s := searcher.New(store, blob, os.TempDir())
	if table.Searcher.RefreshInterval > 0 {
		s.RefreshInterval = table.Searcher.RefreshInterval
	}
	for {
		indexIDs, err := listIndexIDs(ctx, store)
		if err != nil {
			log.Ctx(ctx).Warn("failed to list indices for refresh", zap.Error(err))
		} else {
			s.RunRefreshLoop(ctx, indexIDs)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// listIndexIDs has no dedicated catalog call in §6.1 (the contract is
// scoped per index_id by the caller). It returns an empty list and reads
// no configuration, so the scheduler and searcher loops act on no index.
func listIndexIDs(ctx context.Context, store catalog.Store) ([]string, error) {
	return []string{}, nil
}

func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
