package reader

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidxlabs/nidx/internal/vectorindex/formula"
	"github.com/nidxlabs/nidx/internal/vectorindex/hnsw"
	"github.com/nidxlabs/nidx/internal/vectorindex/segment"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
)

func buildTestSegment(t *testing.T, dir string, n, dim int, seed int64) []segment.Record {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	records := make([]segment.Record, n)
	for i := range records {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()
		}
		labels := []string{"/all"}
		if i%2 == 0 {
			labels = append(labels, "/even")
		}
		records[i] = segment.Record{
			Key:    []byte{byte('a' + i)},
			Vector: simfunc.Normalize(v),
			Labels: labels,
			Meta:   []byte{byte(i)},
		}
	}
	_, err := segment.IndexResource(dir, append([]segment.Record(nil), records...), dim, simfunc.Cosine, hnsw.Default(), 7)
	require.NoError(t, err)
	return records
}

func TestOpenAndSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	records := buildTestSegment(t, dir, 40, 4, 1)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.Search(records[5].Vector, 1, 32, formula.Formula{}, 0, false, nil, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, records[5].Key, hits[0].Key)
}

func TestSearchSkipsDeleted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	records := buildTestSegment(t, dir, 40, 4, 2)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	target := records[10].Key
	deleted := func(k []byte) bool { return string(k) == string(target) }

	hits, err := s.Search(records[10].Vector, 1, 32, formula.Formula{}, 0, false, deleted, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, target, h.Key)
	}
}

func TestSearchAppliesFilter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	records := buildTestSegment(t, dir, 60, 4, 3)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	f := formula.Formula{Operator: formula.And, Clauses: []formula.Clause{formula.Label{L: "/even"}}}
	hits, err := s.Search(records[0].Vector, 30, 120, f, 0, false, nil, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, 0, int(h.Key[0]-'a')%2)
	}
}

func TestIterateVisitsLiveRecordsOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	records := buildTestSegment(t, dir, 10, 3, 4)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	deletedKey := records[3].Key
	deleted := func(k []byte) bool { return string(k) == string(deletedKey) }

	var seen int
	s.Iterate(formula.Formula{}, deleted, func(h Hit) bool {
		seen++
		assert.NotEqual(t, deletedKey, h.Key)
		return true
	})
	assert.Equal(t, 9, seen)
}

func TestMergeCrossSegmentRanking(t *testing.T) {
	a := []Hit{{Key: []byte("a"), Score: 0.9}, {Key: []byte("b"), Score: 0.5}}
	b := []Hit{{Key: []byte("c"), Score: 0.95}, {Key: []byte("d"), Score: 0.1}}
	merged := Merge([][]Hit{a, b}, 2)
	require.Len(t, merged, 2)
	assert.Equal(t, []byte("c"), merged[0].Key)
	assert.Equal(t, []byte("a"), merged[1].Key)
}
