package windowcache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/pkg/metrics"
)

// Layer is one level of the schedule cache.
type Layer interface {
	Get(ctx context.Context, key string) (timeline.DaySchedule, bool, error)
	Set(ctx context.Context, key string, schedule timeline.DaySchedule) error
	Delete(ctx context.Context, keys ...string) error
}

// Tiered reads the local layer first and falls back to the shared layer,
// backfilling local on a shared hit. The shared layer is optional. With
// evictions, every write or delete also drops the key from the local layer
// of the other instances.
type Tiered struct {
	local     Layer
	shared    Layer
	evictions Evictions
	metrics   *metrics.Engine
	logger    *slog.Logger
}

// NewTiered composes the layers. shared and evictions may be nil.
func NewTiered(local, shared Layer, evictions Evictions, m *metrics.Engine, logger *slog.Logger) *Tiered {
	t := &Tiered{
		local:     local,
		shared:    shared,
		evictions: evictions,
		metrics:   m,
		logger:    logger.With("component", "windowcache.tiered"),
	}
	if evictions != nil {
		evictions.Listen(t.evictLocal)
	}
	return t
}

// Get implements precompute.Cache.
func (t *Tiered) Get(ctx context.Context, key string) (timeline.DaySchedule, bool, error) {
	schedule, ok, err := t.local.Get(ctx, key)
	if err == nil && ok {
		t.metrics.RecordCacheLookup("l1", true)
		return schedule, true, nil
	}
	t.metrics.RecordCacheLookup("l1", false)
	if t.shared == nil {
		return timeline.DaySchedule{}, false, err
	}

	schedule, ok, err = t.shared.Get(ctx, key)
	if err != nil {
		t.logger.Warn("shared cache read failed", "key", key, "error", err)
		t.metrics.RecordCacheLookup("l2", false)
		return timeline.DaySchedule{}, false, nil
	}
	t.metrics.RecordCacheLookup("l2", ok)
	if ok {
		if setErr := t.local.Set(ctx, key, schedule); setErr != nil {
			t.logger.Warn("local cache backfill failed", "key", key, "error", setErr)
		}
	}
	return schedule, ok, nil
}

// Set writes the shared layer first so other instances see the value no
// later than this one.
func (t *Tiered) Set(ctx context.Context, key string, schedule timeline.DaySchedule) error {
	if t.shared != nil {
		if err := t.shared.Set(ctx, key, schedule); err != nil {
			return err
		}
	}
	if err := t.local.Set(ctx, key, schedule); err != nil {
		return err
	}
	t.announce(ctx, key)
	return nil
}

// Delete drops keys from both layers.
func (t *Tiered) Delete(ctx context.Context, keys ...string) error {
	err := t.local.Delete(ctx, keys...)
	if t.shared != nil {
		err = errors.Join(err, t.shared.Delete(ctx, keys...))
	}
	t.announce(ctx, keys...)
	return err
}

// Close stops listening for evictions.
func (t *Tiered) Close() {
	if t.evictions != nil {
		t.evictions.Close()
	}
}

func (t *Tiered) announce(ctx context.Context, keys ...string) {
	if t.evictions == nil || len(keys) == 0 {
		return
	}
	if err := t.evictions.Publish(ctx, keys); err != nil {
		t.logger.Warn("eviction publish failed", "keys", len(keys), "error", err)
	}
}

// evictLocal drops keys another instance changed; nil drops everything.
func (t *Tiered) evictLocal(keys []string) {
	if keys == nil {
		if f, ok := t.local.(interface{ Flush() }); ok {
			f.Flush()
		}
		return
	}
	if err := t.local.Delete(context.Background(), keys...); err != nil {
		t.logger.Warn("local eviction failed", "keys", len(keys), "error", err)
	}
}

var (
	_ precompute.Cache        = (*Tiered)(nil)
	_ timeline.ScheduleReader = (*Tiered)(nil)
	_ Layer                   = (*MemoryCache)(nil)
	_ Layer                   = (*ValkeyCache)(nil)
)
