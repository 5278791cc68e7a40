package simfunc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineIdenticalVectors(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-6)
}

func TestCosineOrthogonalVectors(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-6)
}

func TestCosineS1Scores(t *testing.T) {
	// S1: query [1,0,0] vs node [1,1,0] (not normalized) should score ~0.707
	s, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.70710678, s, 1e-6)
}

func TestDotSimilarity(t *testing.T) {
	s, err := DotSimilarity([]float32{1, 2, 3}, []float32{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, 32.0, s, 1e-6)
}

func TestDimensionMismatchErrors(t *testing.T) {
	_, err := DotSimilarity([]float32{1, 2}, []float32{1})
	assert.Error(t, err)
	_, err = CosineSimilarity([]float32{1, 2}, []float32{1})
	assert.Error(t, err)
}

func TestEncodeDecodeF32RoundTrip(t *testing.T) {
	vals := []float32{1.5, -2.25, 0, 99999.25}
	buf := EncodeF32(vals)
	got := DecodeF32(buf)
	assert.Equal(t, vals, got)
}

func TestNormalizeProducesUnitNorm(t *testing.T) {
	out := Normalize([]float32{3, 4, 0})
	s, err := DotSimilarity(out, out)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-5)
}

func TestExtractSubVectorsRejectsMismatch(t *testing.T) {
	_, err := ExtractSubVectors([]float32{1, 2, 3}, 2)
	assert.Error(t, err)
}

func TestExtractSubVectorsSplitsEvenly(t *testing.T) {
	subs, err := ExtractSubVectors([]float32{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, []float32{1, 2}, subs[0])
	assert.Equal(t, []float32{3, 4}, subs[1])
}

func TestMaxSimSumsBestMatches(t *testing.T) {
	query := [][]float32{{1, 0}, {0, 1}}
	document := [][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}
	score, err := MaxSim(DotSimilarity, query, document)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, score, 1e-6)
}

func TestMaxSimEmptyDocumentIsZero(t *testing.T) {
	score, err := MaxSim(DotSimilarity, [][]float32{{1, 0}}, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(0), score)
}
