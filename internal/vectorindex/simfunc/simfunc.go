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

// Package simfunc implements the similarity functions of §4.5 over
// encoded byte-vectors, dispatched through a small interface so
// additional encodings can plug in (§9 "Polymorphic vector encodings"),
// grounded in the cosine/dot formulas of
// original_source/nidx/nidx_vector/src/vector_types/dense_f32.rs and the
// MaxSim late-interaction formula of .../multivector.rs.
package simfunc

import (
	"encoding/binary"
	"math"

	"github.com/nidxlabs/nidx/pkg/errs"
)

// Kind names a similarity function, matching model.SimilarityKind.
type Kind string

const (
	Cosine Kind = "Cosine"
	Dot    Kind = "Dot"
)

// Func computes a similarity score between two equal-length f32 slices;
// higher is always better, matching §4.5's "score = 1 - distance"
// convention for Cosine.
type Func func(a, b []float32) (float32, error)

// Get returns the Func for kind.
func Get(kind Kind) Func {
	switch kind {
	case Dot:
		return DotSimilarity
	default:
		return CosineSimilarity
	}
}

func checkDims(a, b []float32) error {
	if len(a) != len(b) {
		return errs.InvalidRequestf("INCONSISTENT_DIMENSIONS: %d vs %d", len(a), len(b))
	}
	return nil
}

// DotSimilarity is the raw dot product.
func DotSimilarity(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// CosineSimilarity computes 1 - (1 - dot/(|a|*|b|)) == dot/(|a|*|b|),
// matching §4.5's "score = 1 - distance" formulation, which reduces to
// the raw dot product for pre-normalized vectors.
func CosineSimilarity(a, b []float32) (float32, error) {
	dot, err := DotSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	var normA, normB float64
	for i := range a {
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	distance := 1 - float64(dot)/denom
	return float32(1 - distance), nil
}

// DecodeF32 decodes a little-endian raw float32 byte slice, the
// DenseF32/DenseF32Unaligned on-disk encoding of §4.2.
func DecodeF32(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// EncodeF32 encodes values as little-endian raw float32 bytes.
func EncodeF32(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

// Normalize returns values scaled to unit L2 norm, the "normalize
// vectors if the config requires it" step of §4.9's indexing pipeline.
func Normalize(values []float32) []float32 {
	var sumSq float64
	for _, v := range values {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return append([]float32(nil), values...)
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// ExtractSubVectors splits a flat multi-vector into dimension-sized
// chunks for late-interaction (MaxSim) similarity, erroring if the flat
// vector's length is not a multiple of dimension (§4.5 "Multi-vector").
func ExtractSubVectors(flat []float32, dimension int) ([][]float32, error) {
	if dimension <= 0 || len(flat)%dimension != 0 {
		return nil, errs.InvalidRequestf("INCONSISTENT_DIMENSIONS: flat length %d not a multiple of dimension %d", len(flat), dimension)
	}
	n := len(flat) / dimension
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = flat[i*dimension : (i+1)*dimension]
	}
	return out, nil
}

// MaxSim computes the late-interaction similarity between query
// sub-vectors and document sub-vectors: for every query sub-vector, find
// its best match among the document's sub-vectors, then sum (§4.5).
func MaxSim(fn Func, query, document [][]float32) (float32, error) {
	var total float32
	for _, q := range query {
		best := float32(math.Inf(-1))
		for _, d := range document {
			s, err := fn(q, d)
			if err != nil {
				return 0, err
			}
			if s > best {
				best = s
			}
		}
		if len(document) == 0 {
			best = 0
		}
		total += best
	}
	return total, nil
}
