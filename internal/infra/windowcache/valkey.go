package windowcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/sunspot/internal/domain/timeline"
)

// ValkeyCache shares day schedules across instances. Values are JSON.
type ValkeyCache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyCache constructs the shared layer.
func NewValkeyCache(client valkey.Client, prefix string, ttl time.Duration) *ValkeyCache {
	if prefix == "" {
		prefix = "sunspot"
	}
	return &ValkeyCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the schedule stored under key.
func (c *ValkeyCache) Get(ctx context.Context, key string) (timeline.DaySchedule, bool, error) {
	payload, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return timeline.DaySchedule{}, false, nil
		}
		return timeline.DaySchedule{}, false, err
	}
	var schedule timeline.DaySchedule
	if err := json.Unmarshal([]byte(payload), &schedule); err != nil {
		return timeline.DaySchedule{}, false, err
	}
	return schedule, true, nil
}

// Set replaces the schedule under key in a single SET so readers never see a partial value.
func (c *ValkeyCache) Set(ctx context.Context, key string, schedule timeline.DaySchedule) error {
	payload, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	builder := c.client.B().Set().Key(c.key(key)).Value(string(payload))
	var cmd valkey.Completed
	if c.ttl > 0 {
		ttl := c.ttl
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

// Delete drops keys.
func (c *ValkeyCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.key(key)
	}
	return c.client.Do(ctx, c.client.B().Del().Key(full...).Build()).Error()
}

func (c *ValkeyCache) key(key string) string {
	return c.prefix + ":schedule:" + key
}
