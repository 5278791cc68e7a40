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
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/formula"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// Result is one hit from Search: the node index and its similarity
// score to the query.
type Result struct {
	Node  uint32
	Score float32
}

// CandidateOf resolves a node index to the formula.Candidate a filter
// clause evaluates against (its key and label trie).
type CandidateOf func(node uint32) formula.Candidate

// SearchOptions configures a query-time search (§4.8).
type SearchOptions struct {
	K           int
	Ef          int
	Filter      formula.Formula
	CandidateOf CandidateOf
	MinScore    float32
	HasMinScore bool
	Cancel      func() bool
}

// Search runs the filtered best-first search of §4.4/§4.8: greedy
// descent with beam 1 down to layer 1, then a beam=ef best-first search
// at layer 0 with the accept/traverse split so a filter can reject a
// node from the result set without blocking traversal through it.
// Results are sorted best-first, deterministically tie-broken by node
// index, and truncated to K after an optional MinScore cutoff.
func (g *Graph) Search(query []float32, opts SearchOptions) ([]Result, error) {
	if !g.hasEntry {
		return nil, nil
	}
	ef := opts.Ef
	if ef < opts.K {
		ef = opts.K
	}

	cur := g.entryNode
	for l := g.entryLayer; l > 0; l-- {
		cur = g.greedyClosest(query, cur, l)
		if opts.Cancel != nil && opts.Cancel() {
			return nil, errs.New(errs.KindTransient, "hnsw search cancelled")
		}
	}

	var accept func(uint32) bool
	if len(opts.Filter.Clauses) > 0 && opts.CandidateOf != nil {
		accept = func(node uint32) bool {
			return opts.Filter.Eval(opts.CandidateOf(node))
		}
	}

	cands, err := g.searchLayer(query, []uint32{cur}, ef, 0, accept, opts.Cancel)
	if err != nil {
		return nil, err
	}

	sort.Slice(cands, func(i, j int) bool { return less(cands[i], cands[j]) })

	out := make([]Result, 0, opts.K)
	for _, c := range cands {
		if opts.HasMinScore && c.score < opts.MinScore {
			continue
		}
		out = append(out, Result{Node: c.node, Score: c.score})
		if len(out) >= opts.K {
			break
		}
	}
	return out, nil
}
