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

// Package log wraps zap so every process role (worker, scheduler, searcher)
// produces structured, leveled logs in the same shape.
package log

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the global logger. Mirrors the handful of knobs every
// nidx process needs: level, encoding, and output path.
type Config struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // "console" or "json"
	Filename string `mapstructure:"filename"`
}

var (
	globalLogger atomic.Pointer[zap.Logger]
	globalSugar  atomic.Pointer[zap.SugaredLogger]
	initOnce     sync.Once
)

func init() {
	// usable before Init() is called, e.g. in package init or early flag parsing
	l, _ := zap.NewProduction()
	globalLogger.Store(l)
	globalSugar.Store(l.Sugar())
}

// Init replaces the global logger according to cfg. Safe to call once per
// process; later calls are no-ops, matching BaseTable.Init()'s sync.Once use.
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		var zcfg zap.Config
		if cfg.Format == "console" {
			zcfg = zap.NewDevelopmentConfig()
		} else {
			zcfg = zap.NewProductionConfig()
		}
		lvl := zapcore.InfoLevel
		if cfg.Level != "" {
			err = lvl.UnmarshalText([]byte(cfg.Level))
			if err != nil {
				return
			}
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		if cfg.Filename != "" {
			zcfg.OutputPaths = []string{cfg.Filename}
		} else {
			zcfg.OutputPaths = []string{"stderr"}
		}
		var logger *zap.Logger
		logger, err = zcfg.Build()
		if err != nil {
			return
		}
		globalLogger.Store(logger)
		globalSugar.Store(logger.Sugar())
	})
	return err
}

// L returns the global structured logger.
func L() *zap.Logger {
	return globalLogger.Load()
}

// S returns the global sugared logger, for printf-style call sites.
func S() *zap.SugaredLogger {
	return globalSugar.Load()
}

type ctxKey struct{}

// WithFields returns a context carrying a logger pre-populated with fields,
// the way request-scoped loggers attach shard/index identifiers.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := Ctx(ctx).With(fields...)
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx returns the logger attached to ctx, or the global logger if none.
func Ctx(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// Sync flushes any buffered log entries; call on process shutdown.
func Sync() {
	_ = L().Sync()
	if f, ok := interface{}(os.Stderr).(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}
