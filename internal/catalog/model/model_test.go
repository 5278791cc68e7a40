package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentMetaCloneIsDeep(t *testing.T) {
	s := SegmentMeta{
		ID:  "seg1",
		Vector: &VectorMeta{
			Tags:       []string{"a", "b"},
			Similarity: SimilarityCosine,
		},
	}
	cp := s.Clone()
	cp.Vector.Tags[0] = "mutated"
	assert.Equal(t, "a", s.Vector.Tags[0])
	assert.Equal(t, "mutated", cp.Vector.Tags[0])
}

func TestSegmentMetaEqualIgnoresMergeJobID(t *testing.T) {
	a := SegmentMeta{ID: "s1", IndexID: "i1", Seq: 1, RecordCount: 10, Path: "/p"}
	b := a
	b.MergeJobID = "job-1"
	assert.True(t, a.Equal(b))

	c := a
	c.Seq = 2
	assert.False(t, a.Equal(c))
}

func TestMergeJobIsStale(t *testing.T) {
	now := time.Now()
	j := MergeJob{RunningAt: now.Add(-10 * time.Minute)}
	assert.False(t, j.IsStarted())
	assert.False(t, j.IsStale(now, 5*time.Minute))

	j.StartedAt = now.Add(-10 * time.Minute)
	assert.True(t, j.IsStarted())
	assert.True(t, j.IsStale(now, 5*time.Minute))
	assert.False(t, j.IsStale(now, 20*time.Minute))
}

func TestMergeJobCloneIndependentSlice(t *testing.T) {
	j := MergeJob{SegmentIDs: []string{"s1", "s2"}}
	cp := j.Clone()
	cp.SegmentIDs[0] = "changed"
	assert.Equal(t, "s1", j.SegmentIDs[0])
}
