package kvfile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode builds a trivial record: [key_len u32][key][value_len u32][value]
func encode(key, value string) []byte {
	buf := make([]byte, 0, 8+len(key)+len(value))
	kl := make([]byte, 4)
	binary.LittleEndian.PutUint32(kl, uint32(len(key)))
	buf = append(buf, kl...)
	buf = append(buf, key...)
	vl := make([]byte, 4)
	binary.LittleEndian.PutUint32(vl, uint32(len(value)))
	buf = append(buf, vl...)
	buf = append(buf, value...)
	return buf
}

func decodeKey(rec []byte) []byte {
	kl := binary.LittleEndian.Uint32(rec[0:4])
	return rec[4 : 4+kl]
}

func decodeValue(rec []byte) []byte {
	kl := binary.LittleEndian.Uint32(rec[0:4])
	rest := rec[4+kl:]
	vl := binary.LittleEndian.Uint32(rest[0:4])
	return rest[4 : 4+vl]
}

func buildSorted(t *testing.T, path string, kvs map[string]string) *File {
	t.Helper()
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([][]byte, 0, len(keys))
	for _, k := range keys {
		records = append(records, encode(k, kvs[k]))
	}
	_, err := Build(path, records)
	require.NoError(t, err)
	f, err := Open(path, AccessRandom)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestRoundTripAndOrdering(t *testing.T) {
	dir := t.TempDir()
	kvs := map[string]string{
		"r1/f/p/0": "v0",
		"r1/f/p/1": "v1",
		"r2/f/p/0": "v2",
	}
	f := buildSorted(t, filepath.Join(dir, "nodes.kv"), kvs)
	require.Equal(t, 3, f.Len())

	for k, v := range kvs {
		idx, ok := f.BinarySearch([]byte(k), decodeKey)
		require.True(t, ok, "key %s must be found", k)
		assert.Equal(t, v, string(decodeValue(f.Get(idx))))
	}

	_, ok := f.BinarySearch([]byte("missing"), decodeKey)
	assert.False(t, ok)
}

func TestBinarySearchRandomKeySets(t *testing.T) {
	dir := t.TempDir()
	kvs := map[string]string{}
	for i := 0; i < 200; i++ {
		k := string(rune('a'+i%26)) + string(rune('A'+(i*7)%26)) + string(rune('0'+i%10))
		kvs[k+string(rune(i))] = "v"
	}
	f := buildSorted(t, filepath.Join(dir, "nodes.kv"), kvs)
	for k := range kvs {
		idx, ok := f.BinarySearch([]byte(k), decodeKey)
		require.True(t, ok)
		assert.Equal(t, k, string(decodeKey(f.Get(idx))))
	}
}

func TestMergeDropsDeleted(t *testing.T) {
	dir := t.TempDir()
	f1 := buildSorted(t, filepath.Join(dir, "a.kv"), map[string]string{
		"r1/f/p/0": "a0", "r2/f/p/0": "a1",
	})
	f2 := buildSorted(t, filepath.Join(dir, "b.kv"), map[string]string{
		"r1/f/p/1": "b0", "r3/f/p/0": "b1",
	})

	inputs := []MergeInput{
		{File: f1, KeyOf: decodeKey, Deleted: func(k []byte) bool { return bytes.HasPrefix(k, []byte("r1")) }},
		{File: f2, KeyOf: decodeKey, Deleted: func(k []byte) bool { return bytes.HasPrefix(k, []byte("r1")) }},
	}
	outPath := filepath.Join(dir, "merged.kv")
	n, err := Merge(outPath, inputs)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	merged, err := Open(outPath, AccessSequential)
	require.NoError(t, err)
	defer merged.Close()

	var keys []string
	merged.ForEach(func(i int, rec []byte) {
		keys = append(keys, string(decodeKey(rec)))
	})
	assert.ElementsMatch(t, []string{"r2/f/p/0", "r3/f/p/0"}, keys)
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.kv")
	// header claims one record but no offset/payload bytes follow
	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], 1)
	binary.LittleEndian.PutUint64(header[4:12], 1)
	require.NoError(t, os.WriteFile(path, header, 0o600))
	_, err := Open(path, AccessRandom)
	assert.Error(t, err)
}
