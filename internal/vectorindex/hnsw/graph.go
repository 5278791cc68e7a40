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

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// VectorSource resolves a node index to its embedding. Segment writers
// back this with the in-memory extracted vectors during construction;
// readers back it with the mmap'd kvfile.
type VectorSource interface {
	Len() int
	Vector(node uint32) []float32
}

// Graph is the layered proximity graph of §4.4. It holds, per layer, an
// adjacency list keyed by node index; layer 0 is dense (every inserted
// node participates), upper layers sparse.
type Graph struct {
	Params  Params
	Sim     simfunc.Func
	Vectors VectorSource

	layers     []map[uint32][]uint32
	entryNode  uint32
	entryLayer int
	hasEntry   bool

	rng *rand.Rand
}

// New constructs an empty graph. seed fixes the level-sampling PRNG so
// that, combined with a deterministic insertion order, two builds over
// the same input produce byte-identical graphs (§8 Property 6).
func New(params Params, sim simfunc.Func, vectors VectorSource, seed int64) *Graph {
	return &Graph{
		Params:  params,
		Sim:     sim,
		Vectors: vectors,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (g *Graph) vector(node uint32) ([]float32, error) {
	v := g.Vectors.Vector(node)
	if v == nil {
		return nil, errs.Corruptionf("hnsw: missing vector for node %d", node)
	}
	return v, nil
}

func (g *Graph) score(a, b []float32) float32 {
	s, err := g.Sim(a, b)
	if err != nil {
		return float32(math.Inf(-1))
	}
	return s
}

func (g *Graph) ensureLayers(level int) {
	for len(g.layers) <= level {
		g.layers = append(g.layers, map[uint32][]uint32{})
	}
}

// sampleLevel draws the insertion level from the exponential
// distribution with parameter LevelFactor, the standard HNSW scheme.
func (g *Graph) sampleLevel() int {
	lf := g.Params.LevelFactor()
	return int(-math.Log(g.rng.Float64()) * lf)
}

// EntryPoint reports the current top-layer entry node and its layer.
func (g *Graph) EntryPoint() (node uint32, layer int, ok bool) {
	return g.entryNode, g.entryLayer, g.hasEntry
}

// Insert adds node (already present in Vectors) to the graph, running
// the standard HNSW construction algorithm: sample a level, descend
// greedily through layers above it, then at and below the insertion
// level run a beam search to find neighbors, connect bidirectionally,
// and re-prune any neighbor whose degree now exceeds its layer budget.
func (g *Graph) Insert(node uint32) error {
	vec, err := g.vector(node)
	if err != nil {
		return err
	}

	level := g.sampleLevel()
	g.ensureLayers(level)

	if !g.hasEntry {
		for l := 0; l <= level; l++ {
			g.layers[l][node] = nil
		}
		g.entryNode = node
		g.entryLayer = level
		g.hasEntry = true
		return nil
	}

	cur := g.entryNode
	for l := g.entryLayer; l > level; l-- {
		cur = g.greedyClosest(vec, cur, l)
	}

	top := level
	if g.entryLayer < top {
		top = g.entryLayer
	}
	for l := top; l >= 0; l-- {
		cands, err := g.searchLayer(vec, []uint32{cur}, g.Params.EfConstruction, l, nil, nil)
		if err != nil {
			return err
		}
		neighbors := g.selectNeighborsHeuristic(vec, cands, g.Params.M)
		if g.layers[l] == nil {
			g.layers[l] = map[uint32][]uint32{}
		}
		g.layers[l][node] = neighbors
		for _, nb := range neighbors {
			g.addEdge(l, nb, node)
			g.repruneIfNeeded(l, nb)
		}
		if len(cands) > 0 {
			cur = cands[0].node
		}
	}

	if level > g.entryLayer {
		g.entryNode = node
		g.entryLayer = level
	}
	return nil
}

func (g *Graph) addEdge(layer int, from, to uint32) {
	g.layers[layer][from] = append(g.layers[layer][from], to)
}

// repruneIfNeeded enforces the per-layer fan-out budget on nb after a
// new edge was added to it, re-running the select-neighbors heuristic
// over its current neighbor set if it now exceeds the budget.
func (g *Graph) repruneIfNeeded(layer int, nb uint32) {
	max := g.Params.MaxForLayer(layer)
	edges := g.layers[layer][nb]
	if len(edges) <= max {
		return
	}
	nbVec, err := g.vector(nb)
	if err != nil {
		return
	}
	cands := make([]candidate, 0, len(edges))
	for _, e := range edges {
		eVec, err := g.vector(e)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{node: e, score: g.score(nbVec, eVec)})
	}
	pruned := g.selectNeighborsHeuristic(nbVec, cands, PruneM(g.Params.M))
	g.layers[layer][nb] = pruned
}

// greedyClosest performs a single best-first hill climb (effectively
// ef=1) at layer, used while descending through layers above the
// insertion/query level where only the single best entry point matters.
func (g *Graph) greedyClosest(query []float32, entry uint32, layer int) uint32 {
	cur := entry
	curVec, err := g.vector(cur)
	if err != nil {
		return entry
	}
	curScore := g.score(query, curVec)
	for {
		improved := false
		for _, nb := range g.layers[layer][cur] {
			nbVec, err := g.vector(nb)
			if err != nil {
				continue
			}
			s := g.score(query, nbVec)
			if s > curScore {
				curScore = s
				cur = nb
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// selectNeighborsHeuristic implements the "simple" variant of the HNSW
// neighbor-selection heuristic (§4.4): sort candidates best-first, then
// greedily keep a candidate only if it is closer to the query than to
// every neighbor already selected, which discourages selecting a
// clustered set of near-duplicates. If fewer than m survive the
// heuristic, the remaining budget is filled with the next-best
// candidates regardless, so a sparse-neighborhood node still gets
// M edges when the graph has that many candidates available.
func (g *Graph) selectNeighborsHeuristic(query []float32, cands []candidate, m int) []uint32 {
	sorted := append([]candidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	selected := make([]candidate, 0, m)
	selectedSet := map[uint32]bool{}
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		cVec, err := g.vector(c.node)
		if err != nil {
			continue
		}
		keep := true
		for _, s := range selected {
			sVec, err := g.vector(s.node)
			if err != nil {
				continue
			}
			if g.score(cVec, sVec) > c.score {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
			selectedSet[c.node] = true
		}
	}
	if len(selected) < m {
		for _, c := range sorted {
			if len(selected) >= m {
				break
			}
			if !selectedSet[c.node] {
				selected = append(selected, c)
				selectedSet[c.node] = true
			}
		}
	}

	out := make([]uint32, len(selected))
	for i, s := range selected {
		out[i] = s.node
	}
	return out
}

// searchLayer runs the best-first beam search of §4.4 over a single
// layer, returning up to ef candidates sorted best-first. accept, when
// non-nil, gates which nodes may enter the result set without blocking
// traversal through rejected nodes (the "accept/traverse split" that
// lets a filtered query still reach matching nodes on the far side of
// non-matching ones). cancel, when non-nil, is checked once per
// expanded node and aborts the search cooperatively (§5 Cancellation).
func (g *Graph) searchLayer(query []float32, entryPoints []uint32, ef, layer int, accept func(uint32) bool, cancel func() bool) ([]candidate, error) {
	visited := map[uint32]bool{}
	candidates := &maxHeap{}
	results := &minHeap{}

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		vec, err := g.vector(ep)
		if err != nil {
			continue
		}
		c := candidate{node: ep, score: g.score(query, vec)}
		heap.Push(candidates, c)
		if accept == nil || accept(ep) {
			heap.Push(results, c)
		}
	}

	for candidates.Len() > 0 {
		if cancel != nil && cancel() {
			return nil, errs.New(errs.KindTransient, "hnsw search cancelled")
		}
		top := heap.Pop(candidates).(candidate)
		if results.Len() >= ef {
			worst := (*results)[0]
			if top.score < worst.score {
				break
			}
		}
		neighbors := g.layers[layer][top.node]
		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbVec, err := g.vector(nb)
			if err != nil {
				continue
			}
			s := g.score(query, nbVec)
			worstOK := results.Len() < ef
			if !worstOK {
				worstOK = s > (*results)[0].score
			}
			if !worstOK {
				continue
			}
			c := candidate{node: nb, score: s}
			heap.Push(candidates, c)
			if accept == nil || accept(nb) {
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
