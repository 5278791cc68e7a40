package searcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidxlabs/nidx/internal/blobstore"
	"github.com/nidxlabs/nidx/internal/catalog/boltcatalog"
	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/segment"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/internal/worker"
)

type fsBlobStore struct{ root string }

func newFSBlobStore(t *testing.T) *fsBlobStore { return &fsBlobStore{root: t.TempDir()} }

func (s *fsBlobStore) PackAndUpload(ctx context.Context, localDir, objectKey string) (int64, error) {
	path := filepath.Join(s.root, objectKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := blobstore.PackDeterministic(f, localDir); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *fsBlobStore) DownloadAndUnpack(ctx context.Context, objectKey, localDir string) error {
	f, err := os.Open(filepath.Join(s.root, objectKey))
	if err != nil {
		return err
	}
	defer f.Close()
	return blobstore.Unpack(f, localDir)
}

func (s *fsBlobStore) Delete(ctx context.Context, objectKey string) error {
	return os.Remove(filepath.Join(s.root, objectKey))
}

func records(prefix string, n, dim int) []segment.Record {
	out := make([]segment.Record, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(i+d) / float32(n)
		}
		out[i] = segment.Record{
			Key:    []byte(prefix + string(rune('a'+i))),
			Vector: simfunc.Normalize(v),
			Labels: []string{"/all"},
		}
	}
	return out
}

func TestRefreshOpensAndSearchFindsResults(t *testing.T) {
	ctx := context.Background()
	store, err := boltcatalog.Open(filepath.Join(t.TempDir(), "cat.bolt"))
	require.NoError(t, err)
	defer store.Close()

	blob := newFSBlobStore(t)
	w := &worker.Worker{Catalog: store, Blob: blob, ScratchDir: t.TempDir()}

	recs := records("r-", 15, 4)
	_, err = w.IndexJob(ctx, "idx-1", 1, recs, 4, simfunc.Cosine, hnsw.Default(), 11)
	require.NoError(t, err)

	s := New(store, blob, t.TempDir())
	require.NoError(t, s.Refresh(ctx, "idx-1"))

	resp, err := s.Search(ctx, "idx-1", Request{
		QueryVector:   recs[3].Vector,
		K:             1,
		ResultPerPage: 1,
		PageNumber:    0,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, string(recs[3].Key), resp.Results[0].Key)
}

func TestRefreshRetiresRemovedSegments(t *testing.T) {
	ctx := context.Background()
	store, err := boltcatalog.Open(filepath.Join(t.TempDir(), "cat.bolt"))
	require.NoError(t, err)
	defer store.Close()

	blob := newFSBlobStore(t)
	w := &worker.Worker{Catalog: store, Blob: blob, ScratchDir: t.TempDir()}

	segAID, err := w.IndexJob(ctx, "idx-1", 1, records("a-", 10, 3), 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)
	segBID, err := w.IndexJob(ctx, "idx-1", 2, records("b-", 10, 3), 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)

	s := New(store, blob, t.TempDir())
	require.NoError(t, s.Refresh(ctx, "idx-1"))

	v := s.viewFor("idx-1")
	v.mu.RLock()
	require.Len(t, v.segments, 2)
	v.mu.RUnlock()

	job, err := store.MergeJobs().Create(ctx, "idx-1", []string{segAID, segBID})
	require.NoError(t, err)
	_, err = w.MergeJob(ctx, job, 50*time.Millisecond, func(segID string) kvfile.DeletionPredicate { return nil })
	require.NoError(t, err)

	require.NoError(t, s.Refresh(ctx, "idx-1"))
	v.mu.RLock()
	require.Len(t, v.segments, 1)
	v.mu.RUnlock()
}
