package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndHasTerm(t *testing.T) {
	dir := t.TempDir()
	docs := []Document{
		{Key: []byte("doc-1"), Terms: []string{"go", "database"}},
		{Key: []byte("doc-2"), Terms: []string{"rust"}},
	}
	n, err := Build(dir, docs)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	ok, err := r.HasTerm([]byte("doc-1"), "go")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasTerm([]byte("doc-1"), "rust")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.HasTerm([]byte("doc-missing"), "go")
	require.NoError(t, err)
	assert.False(t, ok)
}
