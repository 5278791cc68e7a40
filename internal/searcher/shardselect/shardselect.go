// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shardselect assigns shards to searcher replicas by consistent
// hashing over (shard_id, node_id), grounded in
// original_source/nidx/src/searcher/shard_selector.rs's
// ShardSelector::_nodes_for_shard: score every candidate node with a
// hash of (shard, node) and keep the num_replicas lowest-scoring nodes.
//
// The original scores with Rust's DefaultHasher, which (unlike Go's
// hash/maphash) uses a fixed algorithm with no per-process random seed,
// so every node in the cluster computes the same ranking independently.
// hash/maphash deliberately randomizes its seed per process to prevent
// hash-flooding, which would make two searcher processes disagree on
// shard ownership; fnv.New64a (stdlib, deterministic, seedless) is used
// instead to preserve that cross-process agreement.
package shardselect

import (
	"hash/fnv"
	"sort"
)

// Selector decides, for a given shard, which nodes in the cluster own
// it and whether the local node is one of them.
type Selector struct {
	thisNode    string
	nodes       []string
	numReplicas int
}

// New builds a Selector over the given node list. thisNode must be a
// member of nodes.
func New(thisNode string, nodes []string, numReplicas int) *Selector {
	return &Selector{thisNode: thisNode, nodes: append([]string(nil), nodes...), numReplicas: numReplicas}
}

func score(shardID, node string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(shardID))
	h.Write([]byte{0})
	h.Write([]byte(node))
	return h.Sum64()
}

// NodesForShard returns the nodes that own shardID, lowest-score first,
// truncated to numReplicas.
func (s *Selector) NodesForShard(shardID string) []string {
	ranked := append([]string(nil), s.nodes...)
	sort.Slice(ranked, func(i, j int) bool {
		return score(shardID, ranked[i]) < score(shardID, ranked[j])
	})
	n := s.numReplicas
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// OwnsShard reports whether this node is one of shardID's replicas.
func (s *Selector) OwnsShard(shardID string) bool {
	for _, n := range s.NodesForShard(shardID) {
		if n == s.thisNode {
			return true
		}
	}
	return false
}

// SelectShards filters allShards down to the ones this node owns,
// mirroring ShardSelector::select_shards.
func (s *Selector) SelectShards(allShards []string) []string {
	var out []string
	for _, shard := range allShards {
		if s.OwnsShard(shard) {
			out = append(out, shard)
		}
	}
	return out
}
