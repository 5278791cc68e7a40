package shardselect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodesForShardIsDeterministicAndBounded(t *testing.T) {
	nodes := []string{"n1", "n2", "n3", "n4", "n5"}
	s := New("n1", nodes, 2)

	first := s.NodesForShard("shard-a")
	second := s.NodesForShard("shard-a")
	require.Len(t, first, 2)
	assert.Equal(t, first, second)

	seen := map[string]bool{}
	for _, n := range first {
		assert.False(t, seen[n], "duplicate node in replica set")
		seen[n] = true
	}
}

func TestNodesForShardSpreadsAcrossShards(t *testing.T) {
	nodes := []string{"n1", "n2", "n3", "n4"}
	s := New("n1", nodes, 1)

	owners := map[string]bool{}
	for i := 0; i < 50; i++ {
		shard := string(rune('a' + i%26))
		for _, n := range s.NodesForShard(shard) {
			owners[n] = true
		}
	}
	assert.Greater(t, len(owners), 1, "expected shards to distribute across more than one node")
}

func TestSelectShardsOnlyReturnsOwnedShards(t *testing.T) {
	nodes := []string{"n1", "n2", "n3"}
	selectors := map[string]*Selector{
		"n1": New("n1", nodes, 1),
		"n2": New("n2", nodes, 1),
		"n3": New("n3", nodes, 1),
	}

	allShards := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}
	owned := map[string]int{}
	for _, shard := range allShards {
		var owners []string
		for node, sel := range selectors {
			if sel.OwnsShard(shard) {
				owners = append(owners, node)
			}
		}
		require.Len(t, owners, 1, "shard %s should have exactly one owner at replica factor 1", shard)
		owned[owners[0]]++
	}

	for node, sel := range selectors {
		got := sel.SelectShards(allShards)
		assert.Len(t, got, owned[node])
	}
}

func TestNodesForShardReplicaFactorExceedsClusterSize(t *testing.T) {
	nodes := []string{"n1", "n2"}
	s := New("n1", nodes, 5)
	assert.Len(t, s.NodesForShard("shard-a"), 2)
}
