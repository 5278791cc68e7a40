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

// Package formula implements the query-time filter AST of §4.6: boolean
// expressions over label and key-prefix atoms, evaluated with
// short-circuiting. Grounded directly in
// original_source/nidx/nidx_vector/src/formula.rs's
// Clause/CompoundClause/BooleanOperator shape, translated to a Go
// interface with an Eval method instead of a Rust enum match.
package formula

import (
	"bytes"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/trie"
)

// Candidate is whatever a clause needs to evaluate against: the node's
// key and its label trie.
type Candidate struct {
	Key  []byte
	Trie *trie.Trie
}

// Clause is one node of the filter AST.
type Clause interface {
	Eval(c Candidate) bool
}

// Label matches when the candidate's trie contains exactly l.
type Label struct {
	L string
}

// Eval implements Clause.
func (a Label) Eval(c Candidate) bool {
	if c.Trie == nil {
		return false
	}
	return c.Trie.Contains(a.L)
}

// KeyPrefixSet matches when the candidate's key starts with any of a
// sorted set of prefixes, tested via binary search (§4.6).
type KeyPrefixSet struct {
	sorted []string
}

// NewKeyPrefixSet builds a KeyPrefixSet from an arbitrary prefix list,
// sorting once up front so Eval can binary-search.
func NewKeyPrefixSet(prefixes []string) KeyPrefixSet {
	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	return KeyPrefixSet{sorted: sorted}
}

// Eval implements Clause. Binary search finds the boundary past which no
// sorted entry can lexicographically precede key; every entry at or
// before that boundary is a candidate prefix, checked with HasPrefix.
func (s KeyPrefixSet) Eval(c Candidate) bool {
	key := string(c.Key)
	i := sort.Search(len(s.sorted), func(i int) bool {
		return s.sorted[i] > key
	})
	for j := i - 1; j >= 0; j-- {
		if bytes.HasPrefix(c.Key, []byte(s.sorted[j])) {
			return true
		}
	}
	return false
}

// BooleanOperator is the connective of a CompoundClause.
type BooleanOperator int

const (
	And BooleanOperator = iota
	Or
	Not
)

// Compound is an And/Or/Not over nested clauses, short-circuiting as
// soon as the outcome is determined.
type Compound struct {
	Operator BooleanOperator
	Operands []Clause
}

// Eval implements Clause.
func (c Compound) Eval(cand Candidate) bool {
	switch c.Operator {
	case And:
		for _, op := range c.Operands {
			if !op.Eval(cand) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range c.Operands {
			if op.Eval(cand) {
				return true
			}
		}
		return false
	case Not:
		if len(c.Operands) == 0 {
			return true
		}
		return !c.Operands[0].Eval(cand)
	default:
		return false
	}
}

// Formula is the top-level filter: a list of clauses combined by one
// operator, default And, matching formula.rs's Formula{clauses, operator}.
type Formula struct {
	Operator BooleanOperator
	Clauses  []Clause
}

// Eval implements the top-level match; an empty Formula matches
// everything (no filter applied).
func (f Formula) Eval(c Candidate) bool {
	if len(f.Clauses) == 0 {
		return true
	}
	return Compound{Operator: f.Operator, Operands: f.Clauses}.Eval(c)
}

// AndFormula is a convenience constructor for a top-level And-formula.
func AndFormula(clauses ...Clause) Formula { return Formula{Operator: And, Clauses: clauses} }

// OrFormula is a convenience constructor for a top-level Or-formula.
func OrFormula(clauses ...Clause) Formula { return Formula{Operator: Or, Clauses: clauses} }
