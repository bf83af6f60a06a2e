package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"

	appLog "orgcal/internal/log"
	"orgcal/internal/model"
)

const defaultCachePrefix = "orgcal:events:"

// RedisConfig describes the cache connection.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// Cache is a read-through Redis cache in front of another EventSource.
// Redis failures fall back to the wrapped source; source errors are never
// cached.
type Cache struct {
	next   EventSource
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCache wraps next. A non-positive ttl defaults to five minutes.
func NewCache(next EventSource, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{next: next, rdb: rdb, ttl: ttl, prefix: defaultCachePrefix}
}

// calendarKey query-escapes calendarID, so the result holds no glob
// metacharacters and no "|" separator.
func (c *Cache) calendarKey(calendarID string) string {
	return c.prefix + url.QueryEscape(calendarID)
}

func (c *Cache) key(calendarID string, timeMin, timeMax time.Time) string {
	return c.calendarKey(calendarID) + "|" + timeMin.UTC().Format(time.RFC3339) + "|" + timeMax.UTC().Format(time.RFC3339)
}

func (c *Cache) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	key := c.key(calendarID, timeMin, timeMax)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var events []model.CalendarEvent
		uerr := json.Unmarshal(data, &events)
		if uerr == nil {
			appLog.Debug("event cache hit", "calendar_id", calendarID, "count", len(events))
			return events, nil
		}
		appLog.Error("event cache entry unreadable; refetching", uerr, "calendar_id", calendarID)
	case errors.Is(err, redis.Nil):
	default:
		appLog.Error("event cache read failed; fetching directly", err, "calendar_id", calendarID)
	}

	events, err := c.next.ListEvents(ctx, calendarID, timeMin, timeMax)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(events)
	if err != nil {
		appLog.Error("event cache encode failed", err, "calendar_id", calendarID)
		return events, nil
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		appLog.Error("event cache write failed", err, "calendar_id", calendarID)
	}
	return events, nil
}

// Invalidate drops every cached window of calendarID.
func (c *Cache) Invalidate(ctx context.Context, calendarID string) (int, error) {
	pattern := c.calendarKey(calendarID) + "|*"
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
