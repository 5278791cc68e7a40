package hnsw

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidxlabs/nidx/internal/vectorindex/formula"
	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
)

type sliceVectors [][]float32

func (s sliceVectors) Len() int                    { return len(s) }
func (s sliceVectors) Vector(node uint32) []float32 { return s[node] }

func randomVectors(n, dim int, seed int64) sliceVectors {
	r := rand.New(rand.NewSource(seed))
	out := make(sliceVectors, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()
		}
		out[i] = simfunc.Normalize(v)
	}
	return out
}

func buildGraph(t *testing.T, vectors sliceVectors, seed int64) *Graph {
	t.Helper()
	g := New(Default(), simfunc.CosineSimilarity, vectors, seed)
	for i := 0; i < vectors.Len(); i++ {
		require.NoError(t, g.Insert(uint32(i)))
	}
	return g
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	vectors := randomVectors(200, 8, 42)
	g := buildGraph(t, vectors, 7)

	query := vectors[17]
	results, err := g.Search(query, SearchOptions{K: 1, Ef: 64})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(17), results[0].Node)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

// TestReachability is Property 5: every inserted node must be
// discoverable via some search with a large enough ef, i.e. the graph
// never leaves a node unreachable from the entry point.
func TestReachability(t *testing.T) {
	vectors := randomVectors(150, 6, 11)
	g := buildGraph(t, vectors, 3)

	reachable := map[uint32]bool{}
	for i := 0; i < vectors.Len(); i++ {
		results, err := g.Search(vectors[i], SearchOptions{K: vectors.Len(), Ef: vectors.Len() * 2})
		require.NoError(t, err)
		for _, r := range results {
			reachable[r.Node] = true
		}
	}
	assert.Equal(t, vectors.Len(), len(reachable))
}

// TestDeterministicConstruction is Property 6: a fixed PRNG seed and
// input order must produce byte-identical serialized graphs.
func TestDeterministicConstruction(t *testing.T) {
	vectors := randomVectors(80, 5, 99)

	g1 := buildGraph(t, vectors, 1234)
	g2 := buildGraph(t, vectors, 1234)

	var b1, b2 bytes.Buffer
	_, err := g1.WriteTo(&b1)
	require.NoError(t, err)
	_, err = g2.WriteTo(&b2)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(b1.Bytes(), b2.Bytes()))
}

func TestSerializeRoundTrip(t *testing.T) {
	vectors := randomVectors(60, 4, 5)
	g := buildGraph(t, vectors, 2)

	var buf bytes.Buffer
	_, err := g.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := Load(buf.Bytes(), g.Params, simfunc.CosineSimilarity, vectors)
	require.NoError(t, err)

	query := vectors[9]
	want, err := g.Search(query, SearchOptions{K: 5, Ef: 32})
	require.NoError(t, err)
	got, err := loaded.Search(query, SearchOptions{K: 5, Ef: 32})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFilteredSearchAcceptTraverseSplit(t *testing.T) {
	vectors := randomVectors(100, 4, 21)
	g := buildGraph(t, vectors, 17)

	// The filter should still be able to reach even-indexed nodes even
	// when odd nodes sit between them and the entry point in the graph.
	candOf := func(node uint32) formula.Candidate {
		return formula.Candidate{Key: []byte{byte(node)}}
	}
	evenFilter := formula.Formula{Operator: formula.Or, Clauses: []formula.Clause{
		evenLabel{},
	}}

	results, err := g.Search(vectors[3], SearchOptions{
		K: 10, Ef: 80,
		Filter:      evenFilter,
		CandidateOf: candOf,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, uint32(0), r.Node%2)
	}
}

// evenLabel is a tiny Clause stub used only to validate that the
// accept/traverse split is driven purely through formula.Clause, using
// the candidate's Key (its node index encoded as a single byte) as the
// even/odd signal instead of the label trie.
type evenLabel struct{}

func (evenLabel) Eval(c formula.Candidate) bool {
	if len(c.Key) == 0 {
		return false
	}
	return c.Key[0]%2 == 0
}

func TestMinScoreTruncation(t *testing.T) {
	vectors := randomVectors(50, 4, 3)
	g := buildGraph(t, vectors, 4)

	results, err := g.Search(vectors[0], SearchOptions{K: 50, Ef: 50, HasMinScore: true, MinScore: 1.1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCancellationStopsSearch(t *testing.T) {
	vectors := randomVectors(200, 4, 6)
	g := buildGraph(t, vectors, 9)

	_, err := g.Search(vectors[0], SearchOptions{K: 5, Ef: 50, Cancel: func() bool { return true }})
	assert.Error(t, err)
}
