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

package hnsw

import "container/heap"

// candidate pairs a node with its similarity score to the query. Higher
// score is always better (§4.5 convention).
type candidate struct {
	node  uint32
	score float32
}

// less provides the deterministic tie-break of §4.4: higher score wins,
// and on an exact tie the smaller node index wins so that search and
// insertion are reproducible given a fixed PRNG seed and input order.
func less(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.node < b.node
}

// maxHeap is a best-first (largest score at the root) priority queue of
// candidates, used to drive the greedy beam search of searchLayer.
type maxHeap []candidate

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	// less() already orders better-first, so the heap root is the best candidate.
	return less(h[i], h[j])
}
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap is the inverse ordering, used to hold the current working set
// so the worst element can be evicted in O(log n) once it is full.
type minHeap []candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	return less(h[j], h[i])
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var (
	_ heap.Interface = (*maxHeap)(nil)
	_ heap.Interface = (*minHeap)(nil)
)
