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

package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nidxlabs/nidx/pkg/errs"
	"github.com/nidxlabs/nidx/pkg/paramtable"
)

// Store is the blob-storage interface the worker and searcher depend
// on; PackAndUpload/DownloadAndUnpack operate on whole segment
// directories, not individual objects, matching the worker's only two
// real use cases (§6.2).
type Store interface {
	PackAndUpload(ctx context.Context, localDir, objectKey string) (size int64, err error)
	DownloadAndUnpack(ctx context.Context, objectKey, localDir string) error
	Delete(ctx context.Context, objectKey string) error
}

// MinioStore implements Store against any S3-compatible endpoint via
// minio-go/v7, the object storage client Milvus itself depends on.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore dials an S3-compatible endpoint per cfg.
func NewMinioStore(cfg paramtable.MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Address, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "blobstore: dial minio at %s", cfg.Address)
	}
	return &MinioStore{client: cli, bucket: cfg.BucketName}, nil
}

// EnsureBucket creates the store's bucket if it does not already exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "blobstore: check bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errs.Wrap(errs.KindTransient, err, "blobstore: create bucket %s", s.bucket)
	}
	return nil
}

// PackAndUpload tars localDir deterministically and uploads it as
// objectKey, mirroring upload.rs's pack_and_upload.
func (s *MinioStore) PackAndUpload(ctx context.Context, localDir, objectKey string) (int64, error) {
	var buf bytes.Buffer
	if err := PackDeterministic(&buf, localDir); err != nil {
		return 0, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectKey, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-tar",
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "blobstore: upload %s", objectKey)
	}
	return info.Size, nil
}

// DownloadAndUnpack fetches objectKey and extracts it verbatim into
// localDir.
func (s *MinioStore) DownloadAndUnpack(ctx context.Context, objectKey, localDir string) error {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return errs.Wrap(errs.KindTransient, err, "blobstore: get %s", objectKey)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return errs.Wrap(errs.KindNotFound, err, "blobstore: stat %s", objectKey)
	}
	return Unpack(io.Reader(obj), localDir)
}

// Delete removes objectKey from the store.
func (s *MinioStore) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return errs.Wrap(errs.KindTransient, err, "blobstore: delete %s", objectKey)
	}
	return nil
}

var _ Store = (*MinioStore)(nil)
