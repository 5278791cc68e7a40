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

// Package trie implements the compact prefix trie of §4.3 that stores a
// node's labels: one trie node is
// [flags u8][edge_count u8][edges...] with edges sorted by byte so a
// membership query is a byte-wise walk from the root.
package trie

import (
	"encoding/binary"
	"sort"

	"github.com/nidxlabs/nidx/pkg/errs"
)

const flagTerminal = 0x1

// node is the in-memory (build-time) representation; edges map a byte to
// a child, built up incrementally as labels are inserted.
type node struct {
	terminal bool
	edges    map[byte]*node
}

func newNode() *node { return &node{edges: make(map[byte]*node)} }

// Builder accumulates labels before serializing them into the compact
// on-disk form.
type Builder struct {
	root *node
}

// NewBuilder returns an empty trie builder.
func NewBuilder() *Builder {
	return &Builder{root: newNode()}
}

// Insert adds label to the trie.
func (b *Builder) Insert(label string) {
	cur := b.root
	for i := 0; i < len(label); i++ {
		c := label[i]
		child, ok := cur.edges[c]
		if !ok {
			child = newNode()
			cur.edges[c] = child
		}
		cur = child
	}
	cur.terminal = true
}

// Build serializes the trie depth-first, byte-sorted edges, into the
// compact on-disk layout described in §4.3.
func (b *Builder) Build() []byte {
	var out []byte
	out = appendNode(out, b.root)
	return out
}

func appendNode(out []byte, n *node) []byte {
	flags := byte(0)
	if n.terminal {
		flags |= flagTerminal
	}
	keys := make([]byte, 0, len(n.edges))
	for k := range n.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out = append(out, flags, byte(len(keys)))
	// reserve space for each edge's (byte, child_offset); child_offset is
	// a 4-byte little-endian absolute offset into the serialized buffer,
	// patched in after each child is recursively appended.
	patchAt := make([]int, len(keys))
	for i, k := range keys {
		out = append(out, k)
		patchAt[i] = len(out)
		out = append(out, 0, 0, 0, 0)
	}

	for i, k := range keys {
		childOffset := uint32(len(out))
		binary.LittleEndian.PutUint32(out[patchAt[i]:patchAt[i]+4], childOffset)
		out = appendNode(out, n.edges[k])
	}
	return out
}

// Trie is a read-only view over a serialized buffer.
type Trie struct {
	buf []byte
}

// Open wraps a previously serialized trie buffer for querying.
func Open(buf []byte) (*Trie, error) {
	if len(buf) < 2 {
		return nil, errs.Corruptionf("trie buffer too short: %d bytes", len(buf))
	}
	return &Trie{buf: buf}, nil
}

// Contains reports whether label is present in the trie as a complete,
// terminal-marked entry.
func (t *Trie) Contains(label string) bool {
	offset := 0
	for i := 0; i < len(label); i++ {
		if offset+2 > len(t.buf) {
			return false
		}
		edgeCount := int(t.buf[offset+1])
		target := label[i]
		pos := offset + 2
		found := false
		for e := 0; e < edgeCount; e++ {
			if pos+5 > len(t.buf) {
				return false
			}
			b := t.buf[pos]
			childOffset := binary.LittleEndian.Uint32(t.buf[pos+1 : pos+5])
			if b == target {
				offset = int(childOffset)
				found = true
				break
			}
			pos += 5
		}
		if !found {
			return false
		}
	}
	if offset+1 >= len(t.buf) {
		return false
	}
	return t.buf[offset]&flagTerminal != 0
}
