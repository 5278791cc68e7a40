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

// Package blobstore packs a segment directory into a deterministic tar
// archive and uploads/downloads it to an S3-compatible object store
// (§6.2), grounded in
// original_source/nidx/src/upload.rs's pack_and_upload (tar with
// HeaderMode::Deterministic) translated to Go's archive/tar, and
// Milvus's use of minio-go/v7 for its object storage client.
package blobstore

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nidxlabs/nidx/pkg/errs"
)

// PackDeterministic tars every regular file under dir into w, sorted by
// relative path, with mode bits and mtimes zeroed so that packing the
// same directory contents twice produces byte-identical archives.
func PackDeterministic(w io.Writer, dir string) error {
	tw := tar.NewWriter(w)

	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "blobstore: walk %s", dir)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		full := filepath.Join(dir, rel)
		info, err := os.Stat(full)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: stat %s", full)
		}
		hdr := &tar.Header{
			Name:     filepath.ToSlash(rel),
			Mode:     0,
			Size:     info.Size(),
			Typeflag: tar.TypeReg,
			// ModTime zeroed per §6.2 "deterministic tar archive
			// (mode bits zeroed, mtime zeroed)".
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: write header for %s", rel)
		}
		f, err := os.Open(full)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: open %s", full)
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: copy %s", full)
		}
	}
	return tw.Close()
}

// Unpack extracts a tar archive read from r into dir, verbatim (§6.2
// "unpacked verbatim on download").
func Unpack(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.KindCorruption, err, "blobstore: read tar entry")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: mkdir for %s", target)
		}
		f, err := os.Create(target)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: create %s", target)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return errs.Wrap(errs.KindCorruption, err, "blobstore: extract %s", target)
		}
		if err := f.Close(); err != nil {
			return errs.Wrap(errs.KindTransient, err, "blobstore: close %s", target)
		}
	}
}
