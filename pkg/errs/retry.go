package errs

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig bounds a capped exponential backoff loop, the shape
// Milvus's funcutil retry helper uses for transient RPC/etcd errors.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
}

// DefaultBackoff matches the interval/multiplier used for catalog and
// blob-store retries elsewhere in this module.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry calls fn until it succeeds, returns a non-Transient error, the
// context is cancelled, or cfg.MaxElapsedTime elapses. Only KindTransient
// errors are retried; anything else returns immediately.
func Retry(ctx context.Context, cfg BackoffConfig, fn func(ctx context.Context) error) error {
	start := time.Now()
	interval := cfg.InitialInterval
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Is(err, KindTransient) {
			return err
		}
		if time.Since(start) >= cfg.MaxElapsedTime {
			return err
		}
		jittered := time.Duration(float64(interval) * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}
