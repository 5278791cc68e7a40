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

package searcher

import "github.com/nidxlabs/nidx/internal/vectorindex/formula"

// Request is the vector search request of §6.3.
type Request struct {
	ShardID             string
	VectorsetName       string
	QueryVector         []float32
	K                    int
	MinScore            float32
	HasMinScore         bool
	FilterFormula       formula.Formula
	HasFilterFormula    bool
	SegmentFilterFormula formula.Formula
	HasSegmentFilter    bool
	WithDuplicates      bool
	PageNumber          int
	ResultPerPage       int
}

// effectiveK folds paging into a single overall result count: page 0
// returns the first ResultPerPage, page 1 the next, and so on, which
// this reader-layer implements by fetching (page+1)*ResultPerPage
// results and slicing off the requested page (§6.3 has no cursor, so
// each page recomputes from scratch).
func (r Request) effectiveK() int {
	if r.ResultPerPage <= 0 {
		return r.K
	}
	n := (r.PageNumber + 1) * r.ResultPerPage
	if r.K > 0 && r.K < n {
		return r.K
	}
	return n
}

// Result is one ranked hit.
type Result struct {
	Key      string
	Score    float32
	Metadata []byte
}

// Response is the ordered result page plus the §5 "Cancellation"
// truncation flag.
type Response struct {
	Results   []Result
	Truncated bool
}
