package blobstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes.kv"), []byte("kv-data"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "index.hnsw"), []byte("graph-data"), 0o644))
	return dir
}

func TestPackUnpackRoundTrip(t *testing.T) {
	dir := writeTestDir(t)
	var buf bytes.Buffer
	require.NoError(t, PackDeterministic(&buf, dir))

	outDir := t.TempDir()
	require.NoError(t, Unpack(bytes.NewReader(buf.Bytes()), outDir))

	got, err := os.ReadFile(filepath.Join(outDir, "nodes.kv"))
	require.NoError(t, err)
	assert.Equal(t, "kv-data", string(got))

	got, err = os.ReadFile(filepath.Join(outDir, "sub", "index.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, "graph-data", string(got))
}

func TestPackIsDeterministic(t *testing.T) {
	dir := writeTestDir(t)
	var b1, b2 bytes.Buffer
	require.NoError(t, PackDeterministic(&b1, dir))
	require.NoError(t, PackDeterministic(&b2, dir))
	assert.True(t, bytes.Equal(b1.Bytes(), b2.Bytes()))
}
