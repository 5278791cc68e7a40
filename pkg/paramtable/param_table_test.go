package paramtable

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDefaults(t *testing.T) {
	var tbl Table
	require.NoError(t, tbl.Init(""))
	assert.Equal(t, 30, tbl.HNSW.M)
	assert.Equal(t, 30, tbl.HNSW.MMax)
	assert.Equal(t, 60, tbl.HNSW.MMax0)
	assert.Equal(t, 100, tbl.HNSW.EfConstruction)
	assert.Equal(t, 2, tbl.Searcher.NumReplicas)
	assert.Equal(t, "nidx", tbl.Minio.BucketName)
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("NIDX_MINIO_BUCKETNAME", "overridden")
	defer os.Unsetenv("NIDX_MINIO_BUCKETNAME")

	var tbl Table
	require.NoError(t, tbl.Init(""))
	assert.Equal(t, "overridden", tbl.Minio.BucketName)
}

func TestInitIsOnce(t *testing.T) {
	var tbl Table
	require.NoError(t, tbl.Init(""))
	require.NoError(t, tbl.Init("/some/other/dir"))
	assert.Equal(t, 30, tbl.HNSW.M)
}
