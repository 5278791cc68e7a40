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

// Package node encodes and decodes the vector node record of §4.2: the
// payload stored inside one kvfile record for the vector index.
package node

import (
	"encoding/binary"

	"github.com/nidxlabs/nidx/pkg/errs"
)

// Alignment is the byte alignment DenseF32 vectors are padded to before
// the encoded vector bytes begin.
const Alignment = 4

// Record is the decoded form of one vector node.
type Record struct {
	Key           string
	EncodedVector []byte
	Trie          []byte
	Meta          []byte
}

// Encode serializes r as:
//
//	[key_len u32][key bytes]
//	[padding to `align`]
//	[encoded_vector bytes]
//	[trie_len u32][trie bytes]
//	[meta_len u32][meta bytes]
//
// align is Alignment for DenseF32, 1 for DenseF32Unaligned (§4.2).
func Encode(r Record, align int) []byte {
	if align <= 0 {
		align = 1
	}
	keyHeaderLen := 4 + len(r.Key)
	pad := (align - keyHeaderLen%align) % align

	size := keyHeaderLen + pad + len(r.EncodedVector) + 4 + len(r.Trie) + 4 + len(r.Meta)
	out := make([]byte, 0, size)

	kl := make([]byte, 4)
	binary.LittleEndian.PutUint32(kl, uint32(len(r.Key)))
	out = append(out, kl...)
	out = append(out, r.Key...)
	out = append(out, make([]byte, pad)...)
	out = append(out, r.EncodedVector...)

	tl := make([]byte, 4)
	binary.LittleEndian.PutUint32(tl, uint32(len(r.Trie)))
	out = append(out, tl...)
	out = append(out, r.Trie...)

	ml := make([]byte, 4)
	binary.LittleEndian.PutUint32(ml, uint32(len(r.Meta)))
	out = append(out, ml...)
	out = append(out, r.Meta...)

	return out
}

// Decode parses a record previously produced by Encode. dimension is the
// number of f32 elements in the encoded vector, known from segment
// configuration since the record does not repeat it; the vector spans
// dimension*4 bytes.
func Decode(buf []byte, dimension int, align int) (Record, error) {
	if align <= 0 {
		align = 1
	}
	if len(buf) < 4 {
		return Record{}, errs.Corruptionf("node record shorter than key length prefix")
	}
	keyLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	if 4+keyLen > len(buf) {
		return Record{}, errs.Corruptionf("node record key length %d exceeds buffer", keyLen)
	}
	key := string(buf[4 : 4+keyLen])

	keyHeaderLen := 4 + keyLen
	pad := (align - keyHeaderLen%align) % align
	vecStart := keyHeaderLen + pad
	vectorLen := dimension * 4
	vecEnd := vecStart + vectorLen
	if vecEnd > len(buf) {
		return Record{}, errs.Corruptionf("node record vector of length %d exceeds buffer", vectorLen)
	}
	vector := buf[vecStart:vecEnd]

	pos := vecEnd
	if pos+4 > len(buf) {
		return Record{}, errs.Corruptionf("node record missing trie length")
	}
	trieLen := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if pos+trieLen > len(buf) {
		return Record{}, errs.Corruptionf("node record trie of length %d exceeds buffer", trieLen)
	}
	trieBuf := buf[pos : pos+trieLen]
	pos += trieLen

	if pos+4 > len(buf) {
		return Record{}, errs.Corruptionf("node record missing meta length")
	}
	metaLen := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if pos+metaLen > len(buf) {
		return Record{}, errs.Corruptionf("node record meta of length %d exceeds buffer", metaLen)
	}
	meta := buf[pos : pos+metaLen]

	return Record{Key: key, EncodedVector: vector, Trie: trieBuf, Meta: meta}, nil
}

// Key extracts just the key from a raw encoded record, the fast path
// kvfile.BinarySearch and Merge's KeyOf callback use so they don't pay
// for a full decode on every comparison.
func Key(buf []byte) []byte {
	if len(buf) < 4 {
		return nil
	}
	keyLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	if 4+keyLen > len(buf) {
		return nil
	}
	return buf[4 : 4+keyLen]
}
