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
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/nidxlabs/nidx/internal/vectorindex/simfunc"
	"github.com/nidxlabs/nidx/pkg/errs"
)

// Layer-adjacency on-disk format (§4.4):
//
//	[entry_node u32][entry_layer u8][layer_count u8]
//	per layer: [node_count u32] per node: [node_index u32][edge_count u8][neighbor u32]*edge_count
//
// Layer 0 is dense (one entry per graph node); upper layers list only
// the nodes present at that layer, in ascending node-index order so
// that two builds over the same input and seed serialize identically
// (§8 Property 6).

// WriteTo serializes the graph to w in the format above.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:4], g.entryNode)
	hdr[4] = byte(g.entryLayer)
	hdr[5] = byte(len(g.layers))
	buf.Write(hdr[:])

	for _, layer := range g.layers {
		nodes := make([]uint32, 0, len(layer))
		for n := range layer {
			nodes = append(nodes, n)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(nodes)))
		buf.Write(countBuf[:])

		for _, n := range nodes {
			edges := layer[n]
			if len(edges) > 255 {
				return 0, errs.Corruptionf("hnsw: layer edge count %d exceeds u8 range for node %d", len(edges), n)
			}
			var nodeHdr [5]byte
			binary.LittleEndian.PutUint32(nodeHdr[0:4], n)
			nodeHdr[4] = byte(len(edges))
			buf.Write(nodeHdr[:])
			for _, e := range edges {
				var eb [4]byte
				binary.LittleEndian.PutUint32(eb[:], e)
				buf.Write(eb[:])
			}
		}
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Save writes the graph to path, replacing it atomically via a temp
// file + rename.
func (g *Graph) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "hnsw: create %s", tmp)
	}
	if _, err := g.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindTransient, err, "hnsw: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindTransient, err, "hnsw: rename %s", tmp)
	}
	return nil
}

// Load reads a graph previously written by WriteTo/Save, wiring it
// against the given vector source for subsequent search.
func Load(data []byte, params Params, sim simfunc.Func, vectors VectorSource) (*Graph, error) {
	if len(data) < 6 {
		return nil, errs.Corruptionf("hnsw: file too short: %d bytes", len(data))
	}
	g := &Graph{Params: params, Sim: sim, Vectors: vectors}
	g.entryNode = binary.LittleEndian.Uint32(data[0:4])
	g.entryLayer = int(data[4])
	layerCount := int(data[5])
	g.hasEntry = true

	off := 6
	g.layers = make([]map[uint32][]uint32, layerCount)
	for l := 0; l < layerCount; l++ {
		if off+4 > len(data) {
			return nil, errs.Corruptionf("hnsw: truncated layer %d header", l)
		}
		nodeCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		layer := make(map[uint32][]uint32, nodeCount)
		for i := 0; i < nodeCount; i++ {
			if off+5 > len(data) {
				return nil, errs.Corruptionf("hnsw: truncated node header in layer %d", l)
			}
			node := binary.LittleEndian.Uint32(data[off : off+4])
			edgeCount := int(data[off+4])
			off += 5
			if off+4*edgeCount > len(data) {
				return nil, errs.Corruptionf("hnsw: truncated edge list for node %d in layer %d", node, l)
			}
			edges := make([]uint32, edgeCount)
			for e := 0; e < edgeCount; e++ {
				edges[e] = binary.LittleEndian.Uint32(data[off : off+4])
				off += 4
			}
			layer[node] = edges
		}
		g.layers[l] = layer
	}
	return g, nil
}
