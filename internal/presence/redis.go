package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const lastSeenKey = "portal:presence:last_seen"

// RedisTracker keeps last-seen times in a single Redis hash of unix millis,
// so every replica reads the same presence.
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

// Touch only moves the stored value forward.
func (t *RedisTracker) Touch(ctx context.Context, userID string, at time.Time) error {
	ms := at.UnixMilli()
	current, err := t.client.HGet(ctx, lastSeenKey, userID).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	if err == nil && current >= ms {
		return nil
	}
	return t.client.HSet(ctx, lastSeenKey, userID, ms).Err()
}

func (t *RedisTracker) LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	vals, err := t.client.HMGet(ctx, lastSeenKey, userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence last seen: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		result[userIDs[i]] = time.UnixMilli(ms).UTC()
	}
	return result, nil
}

func (t *RedisTracker) Forget(ctx context.Context, userID string) error {
	return t.client.HDel(ctx, lastSeenKey, userID).Err()
}
