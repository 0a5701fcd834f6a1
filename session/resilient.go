package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMinTTL is the smallest expiry Resilient passes to the backing store.
const DefaultMinTTL = time.Second

// Resilient wraps a Store whose writes may be rejected, such as a hosted KV
// with a coarse minimum expiry.
//
// Non-zero TTLs are rounded up to whole seconds and to at least MinTTL. A Set
// that fails with a TTL is retried once without one; if that fails too the
// error is logged and returned. SetNX is never retried without a TTL, since a
// lock without expiry would outlive a crashed holder.
type Resilient struct {
	Store
	minTTL time.Duration
	logger *slog.Logger
}

// NewResilient wraps store. A zero minTTL uses DefaultMinTTL and a nil logger
// uses slog.Default().
func NewResilient(store Store, minTTL time.Duration, logger *slog.Logger) *Resilient {
	if minTTL <= 0 {
		minTTL = DefaultMinTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{Store: store, minTTL: minTTL, logger: logger}
}

// TTL returns the expiry actually sent to the backing store for ttl.
func (r *Resilient) TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}
	if ttl < r.minTTL {
		return r.minTTL
	}
	return ttl
}

// Set implements Store.
func (r *Resilient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ttl = r.TTL(ttl)
	err := r.Store.Set(ctx, key, value, ttl)
	if err == nil || ttl == 0 {
		if err != nil {
			r.logger.ErrorContext(ctx, "kv write failed", "key", key, "error", err)
		}
		return err
	}

	r.logger.WarnContext(ctx, "kv write with ttl failed, retrying without ttl",
		"key", key, "ttl", ttl, "error", err)
	if err := r.Store.Set(ctx, key, value, 0); err != nil {
		r.logger.ErrorContext(ctx, "kv write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// SetNX implements Store.
func (r *Resilient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.Store.SetNX(ctx, key, value, r.TTL(ttl))
	if err != nil {
		r.logger.ErrorContext(ctx, "kv conditional write failed", "key", key, "error", err)
	}
	return ok, err
}
