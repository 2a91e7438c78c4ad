package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotCache keeps the computed availability list for a day under a short
// TTL. It exists purely to cheapen repeated availability reads; the
// reservation path never consults it.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotCache creates a cache over the given redis client.
func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

func slotKey(date time.Time) string {
	return "slots:" + date.Format("2006-01-02")
}

// Get returns the cached slot list for the date, or (nil, false) on a miss.
func (c *SlotCache) Get(ctx context.Context, date time.Time) ([]time.Time, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, slotKey(date)).Bytes()
	if err != nil {
		return nil, false
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, false
	}
	slots := make([]time.Time, 0, len(encoded))
	for _, s := range encoded {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, false
		}
		slots = append(slots, t)
	}
	return slots, true
}

// Set stores the slot list for the date.
func (c *SlotCache) Set(ctx context.Context, date time.Time, slots []time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	encoded := make([]string, 0, len(slots))
	for _, s := range slots {
		encoded = append(encoded, s.Format(time.RFC3339))
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("scheduling: encode slot cache: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(date), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("scheduling: write slot cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached list for the date. Missing keys are fine.
func (c *SlotCache) Invalidate(ctx context.Context, date time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, slotKey(date)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("scheduling: invalidate slot cache: %w", err)
	}
	return nil
}
