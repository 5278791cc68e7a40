package worker

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
	"github.com/nidxlabs/nidx/internal/vectorindex/formula"
	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/reader"
	"github.com/nidxlabs/nidx/internal/vectorindex/segment"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
)

// fsBlobStore is a filesystem-backed blobstore.Store used in tests in
// place of a real S3-compatible endpoint: it still exercises the real
// PackDeterministic/Unpack codepaths, only the object transport is a
// local directory instead of minio-go.
type fsBlobStore struct {
	root string
}

func newFSBlobStore(t *testing.T) *fsBlobStore {
	return &fsBlobStore{root: t.TempDir()}
}

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

var _ blobstore.Store = (*fsBlobStore)(nil)

func testRecords(prefix string, n, dim int) []segment.Record {
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

func TestIndexJobEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := boltcatalog.Open(filepath.Join(t.TempDir(), "cat.bolt"))
	require.NoError(t, err)
	defer store.Close()

	w := &Worker{Catalog: store, Blob: newFSBlobStore(t), ScratchDir: t.TempDir()}

	records := testRecords("r-", 20, 4)
	segID, err := w.IndexJob(ctx, "idx-1", 1, records, 4, simfunc.Cosine, hnsw.Default(), 7)
	require.NoError(t, err)
	require.NotEmpty(t, segID)

	segs, err := store.ListSegments(ctx, "idx-1", 100)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Ready)
	assert.Equal(t, uint64(20), segs[0].RecordCount)

	downloadDir := filepath.Join(t.TempDir(), "opened")
	require.NoError(t, w.Blob.DownloadAndUnpack(ctx, segs[0].Path, downloadDir))

	r, err := reader.Open(downloadDir)
	require.NoError(t, err)
	defer r.Close()

	hits, err := r.Search(records[3].Vector, 1, 16, formula.Formula{}, 0, false, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, records[3].Key, hits[0].Key)
}

func TestIndexJobEmptyRecordsIsNoOp(t *testing.T) {
	ctx := context.Background()
	store, err := boltcatalog.Open(filepath.Join(t.TempDir(), "cat.bolt"))
	require.NoError(t, err)
	defer store.Close()

	w := &Worker{Catalog: store, Blob: newFSBlobStore(t), ScratchDir: t.TempDir()}
	segID, err := w.IndexJob(ctx, "idx-1", 1, nil, 4, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)
	assert.Empty(t, segID)

	segs, err := store.ListSegments(ctx, "idx-1", 100)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestMergeJobEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := boltcatalog.Open(filepath.Join(t.TempDir(), "cat.bolt"))
	require.NoError(t, err)
	defer store.Close()

	w := &Worker{Catalog: store, Blob: newFSBlobStore(t), ScratchDir: t.TempDir()}

	segAID, err := w.IndexJob(ctx, "idx-1", 1, testRecords("a-", 10, 3), 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)
	segBID, err := w.IndexJob(ctx, "idx-1", 2, testRecords("b-", 10, 3), 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)

	job, err := store.MergeJobs().Create(ctx, "idx-1", []string{segAID, segBID})
	require.NoError(t, err)

	noDeletions := func(segID string) kvfile.DeletionPredicate {
		return func(k []byte) bool { return false }
	}
	newSeg, err := w.MergeJob(ctx, job, 50*time.Millisecond, noDeletions)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), newSeg.RecordCount)

	segs, err := store.ListSegments(ctx, "idx-1", 100)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, newSeg.ID, segs[0].ID)
}
