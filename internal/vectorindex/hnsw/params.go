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

// Package hnsw implements the Hierarchical Navigable Small World graph
// of §4.4: layered proximity graph construction and filtered best-first
// search. Parameter values and pruning/level-sampling formulas are
// carried verbatim from
// original_source/nidx/nidx_vector/src/hnsw/params.rs, which this spec
// distills from.
package hnsw

import "math"

// Params holds the fixed construction parameters of §4.4. These are
// algorithm constants, not meant to vary per deployment; Default()
// returns the exact values the design specifies.
type Params struct {
	M              int
	MMax           int
	MMax0          int
	EfConstruction int
}

// Default returns the parameter set fixed by §4.4: M=30, M_max=30,
// M_max0=60, ef_construction=100.
func Default() Params {
	return Params{M: 30, MMax: 30, MMax0: 60, EfConstruction: 100}
}

// PruneM returns ⌊0.95·m⌋, the neighbor count kept on overflow pruning.
func PruneM(m int) int {
	return int(0.95 * float64(m))
}

// LevelFactor returns 1/ln(M), the parameter of the exponential
// distribution level sampling draws from.
func (p Params) LevelFactor() float64 {
	return 1.0 / math.Log(float64(p.M))
}

// MaxForLayer returns the fan-out budget for a given layer: M_max0 at
// layer 0, M_max everywhere else.
func (p Params) MaxForLayer(layer int) int {
	if layer == 0 {
		return p.MMax0
	}
	return p.MMax
}
