package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diagnosis/tutoring-appointments/pkg/logger"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LoadFunc reads the booked times of a date from the store.
type LoadFunc func(ctx context.Context) ([]string, error)

// SlotCache memoizes booked times per date. Concurrent misses for the same
// date share one load. Redis faults fall through to the loader; the cache
// never decides whether a slot can be booked.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSlotCache accepts a nil client, in which case only request coalescing
// is performed.
func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{client: client, ttl: ttl}
}

func key(date time.Time) string {
	return "slots:booked:" + date.Format(domain.DateLayout)
}

func (c *SlotCache) BookedTimes(ctx context.Context, date time.Time, load LoadFunc) ([]string, error) {
	k := key(date)

	if c.client != nil {
		raw, err := c.client.Get(ctx, k).Result()
		switch {
		case err == nil:
			var times []string
			if json.Unmarshal([]byte(raw), &times) == nil {
				return times, nil
			}
		case !errors.Is(err, redis.Nil):
			logger.WarnContext(ctx, "Slot cache read failed", "key", k, "error", err)
		}
	}

	v, err, _ := c.group.Do(k, func() (any, error) {
		times, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if times == nil {
			times = []string{}
		}
		c.store(ctx, k, times)
		return times, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]string)
	out := make([]string, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *SlotCache) store(ctx context.Context, k string, times []string) {
	if c.client == nil {
		return
	}
	body, err := json.Marshal(times)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, k, body, c.ttl).Err(); err != nil {
		logger.WarnContext(ctx, "Slot cache write failed", "key", k, "error", err)
	}
}

// Invalidate drops the cached entry for date and any in-flight load so the
// next read goes to the store.
func (c *SlotCache) Invalidate(ctx context.Context, date time.Time) {
	k := key(date)
	c.group.Forget(k)
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, k).Err(); err != nil {
		logger.WarnContext(ctx, "Slot cache invalidate failed", "key", k, "error", err)
	}
}
