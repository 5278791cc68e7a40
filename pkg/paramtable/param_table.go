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

// Package paramtable is the single source of typed configuration for every
// nidx process role, loaded from YAML with environment overrides, the way
// Milvus's BaseTable loads milvus.yaml plus MILVUS_*-prefixed env vars.
package paramtable

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvPrefix is prepended (upper-cased, dot-to-underscore) to
	// every config key when reading from the environment, e.g.
	// "catalog.etcd.endpoints" -> NIDX_CATALOG_ETCD_ENDPOINTS.
	DefaultEnvPrefix = "nidx"

	DefaultConfigName = "nidx"
	DefaultConfigType = "yaml"
)

// HNSWConfig carries the fixed construction parameters of the vector index.
// These are algorithm constants, not meant to be tuned per deployment, but
// are exposed here the way the teacher exposes every numeric knob through
// paramtable rather than as unconfigurable literals scattered in code.
type HNSWConfig struct {
	M             int
	MMax          int
	MMax0         int
	EfConstruction int
}

// MergeConfig controls the scheduler's bucket selection and job lifecycle.
type MergeConfig struct {
	MinSegmentsPerBucket int
	MaxSegmentsPerMerge  int
	SizeClassRatio       float64
	HeartbeatInterval    time.Duration
	StaleAfter           time.Duration
	MaxRetries           int
}

// SearcherConfig controls snapshot refresh cadence and search fan-out.
type SearcherConfig struct {
	RefreshInterval time.Duration
	NumReplicas     int
}

// EtcdConfig addresses the etcd-backed catalog implementation.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	RootPath    string
}

// BoltConfig addresses the embedded bbolt-backed catalog implementation.
type BoltConfig struct {
	Path string
}

// MinioConfig addresses the blob store backing segment/index uploads.
type MinioConfig struct {
	Address         string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// Table is the process-wide configuration surface. One Table is created
// per process and shared read-only across goroutines after Init.
type Table struct {
	once  sync.Once
	v     *viper.Viper
	inits sync.Once

	HNSW     HNSWConfig
	Merge    MergeConfig
	Searcher SearcherConfig
	Etcd     EtcdConfig
	Bolt     BoltConfig
	Minio    MinioConfig
}

// Init loads configDir/nidx.yaml (if present) then overlays NIDX_*
// environment variables, and populates the typed fields above. configDir
// may be empty, in which case only defaults and env vars apply.
func (t *Table) Init(configDir string) error {
	var err error
	t.once.Do(func() {
		t.v = viper.New()
		t.v.SetConfigName(DefaultConfigName)
		t.v.SetConfigType(DefaultConfigType)
		if configDir != "" {
			t.v.AddConfigPath(configDir)
		}
		t.setDefaults()
		t.v.SetEnvPrefix(DefaultEnvPrefix)
		t.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		t.v.AutomaticEnv()

		if rerr := t.v.ReadInConfig(); rerr != nil {
			if _, notFound := rerr.(viper.ConfigFileNotFoundError); !notFound {
				err = rerr
				return
			}
		}
		t.populate()
	})
	return err
}

func (t *Table) setDefaults() {
	t.v.SetDefault("hnsw.m", 30)
	t.v.SetDefault("hnsw.mMax", 30)
	t.v.SetDefault("hnsw.mMax0", 60)
	t.v.SetDefault("hnsw.efConstruction", 100)

	t.v.SetDefault("merge.minSegmentsPerBucket", 4)
	t.v.SetDefault("merge.maxSegmentsPerMerge", 32)
	t.v.SetDefault("merge.sizeClassRatio", 2.0)
	t.v.SetDefault("merge.heartbeatInterval", "10s")
	t.v.SetDefault("merge.staleAfter", "60s")
	t.v.SetDefault("merge.maxRetries", 5)

	t.v.SetDefault("searcher.refreshInterval", "1s")
	t.v.SetDefault("searcher.numReplicas", 2)

	t.v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	t.v.SetDefault("etcd.dialTimeout", "5s")
	t.v.SetDefault("etcd.rootPath", "by-dev")

	t.v.SetDefault("bolt.path", "nidx.bolt")

	t.v.SetDefault("minio.address", "localhost:9000")
	t.v.SetDefault("minio.accessKeyID", "minioadmin")
	t.v.SetDefault("minio.secretAccessKey", "minioadmin")
	t.v.SetDefault("minio.useSSL", false)
	t.v.SetDefault("minio.bucketName", "nidx")
}

func (t *Table) populate() {
	t.HNSW = HNSWConfig{
		M:              t.v.GetInt("hnsw.m"),
		MMax:           t.v.GetInt("hnsw.mMax"),
		MMax0:          t.v.GetInt("hnsw.mMax0"),
		EfConstruction: t.v.GetInt("hnsw.efConstruction"),
	}
	t.Merge = MergeConfig{
		MinSegmentsPerBucket: t.v.GetInt("merge.minSegmentsPerBucket"),
		MaxSegmentsPerMerge:  t.v.GetInt("merge.maxSegmentsPerMerge"),
		SizeClassRatio:       t.v.GetFloat64("merge.sizeClassRatio"),
		HeartbeatInterval:    t.v.GetDuration("merge.heartbeatInterval"),
		StaleAfter:           t.v.GetDuration("merge.staleAfter"),
		MaxRetries:           t.v.GetInt("merge.maxRetries"),
	}
	t.Searcher = SearcherConfig{
		RefreshInterval: t.v.GetDuration("searcher.refreshInterval"),
		NumReplicas:     t.v.GetInt("searcher.numReplicas"),
	}
	t.Etcd = EtcdConfig{
		Endpoints:   cast.ToStringSlice(t.v.Get("etcd.endpoints")),
		DialTimeout: t.v.GetDuration("etcd.dialTimeout"),
		RootPath:    t.v.GetString("etcd.rootPath"),
	}
	t.Bolt = BoltConfig{
		Path: t.v.GetString("bolt.path"),
	}
	t.Minio = MinioConfig{
		Address:         t.v.GetString("minio.address"),
		AccessKeyID:     t.v.GetString("minio.accessKeyID"),
		SecretAccessKey: t.v.GetString("minio.secretAccessKey"),
		UseSSL:          t.v.GetBool("minio.useSSL"),
		BucketName:      t.v.GetString("minio.bucketName"),
	}
}

// Get returns a raw config value by dotted key, for call sites that need
// a knob not promoted to a typed field above.
func (t *Table) Get(key string) string {
	return t.v.GetString(key)
}
