package segment

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/kvfile"
	"github.com/nidxlabs/nidx/internal/vectorindex/node"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
)

func randomRecords(n, dim int, prefix string, seed int64) []Record {
	r := rand.New(rand.NewSource(seed))
	out := make([]Record, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()
		}
		out[i] = Record{
			Key:    []byte(prefix + string(rune('a'+i))),
			Vector: simfunc.Normalize(v),
			Labels: []string{"/all"},
		}
	}
	return out
}

func TestIndexResourceEmptyReturnsNil(t *testing.T) {
	meta, err := IndexResource(t.TempDir(), nil, 4, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestIndexResourceBuildsSearchableSegment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg1")
	records := randomRecords(30, 4, "r-", 5)

	meta, err := IndexResource(dir, records, 4, simfunc.Cosine, hnsw.Default(), 42)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 30, meta.RecordCount)
	assert.Greater(t, meta.SizeBytes, int64(0))

	kv, err := kvfile.Open(filepath.Join(dir, NodesFile), kvfile.AccessRandom)
	require.NoError(t, err)
	defer kv.Close()
	assert.Equal(t, 30, kv.Len())

	idx, ok := kv.BinarySearch(records[3].Key, node.Key)
	require.True(t, ok)
	rec, err := node.Decode(kv.Get(idx), 4, node.Alignment)
	require.NoError(t, err)
	assert.Equal(t, records[3].Key, rec.Key)
}

func TestMergeDropsDeletedAndRebuildsIndex(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")

	recA := randomRecords(10, 3, "a-", 1)
	recB := randomRecords(10, 3, "b-", 2)

	_, err := IndexResource(dirA, recA, 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)
	_, err = IndexResource(dirB, recB, 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)

	deletedKey := string(recA[2].Key)
	mergedDir := filepath.Join(base, "merged")
	meta, err := Merge(mergedDir, []Input{
		{Dir: dirA, Deleted: func(k []byte) bool { return string(k) == deletedKey }},
		{Dir: dirB, Deleted: func(k []byte) bool { return false }},
	})
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 19, meta.RecordCount)

	kv, err := kvfile.Open(filepath.Join(mergedDir, NodesFile), kvfile.AccessRandom)
	require.NoError(t, err)
	defer kv.Close()
	_, ok := kv.BinarySearch([]byte(deletedKey), node.Key)
	assert.False(t, ok)
}

func TestMergeAllDeletedFailsEmptyMerge(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	recA := randomRecords(5, 3, "a-", 1)
	_, err := IndexResource(dirA, recA, 3, simfunc.Cosine, hnsw.Default(), 1)
	require.NoError(t, err)

	_, err = Merge(filepath.Join(base, "merged"), []Input{
		{Dir: dirA, Deleted: func(k []byte) bool { return true }},
	})
	assert.ErrorIs(t, err, ErrEmptyMerge)
}
