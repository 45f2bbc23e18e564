package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/redis/go-redis/v9"
)

// Client is a Redis client wrapper that publishes gift events to a
// per-room stream
type Client struct {
	rdb    *redis.Client
	prefix string
	maxLen int64

	stream     string
	sessionID  string
	timeLayout string
}

// NewClient creates a new Redis client for one room
func NewClient(cfg *config.RedisConfig, roomID, sessionID, timeLayout string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	c := &Client{
		rdb:        rdb,
		prefix:     cfg.KeyPrefix,
		maxLen:     cfg.StreamMaxLen,
		sessionID:  sessionID,
		timeLayout: timeLayout,
	}
	c.stream = c.key("gifts:" + roomID)
	return c
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// key generates full key with prefix
func (c *Client) key(suffix string) string {
	return c.prefix + suffix
}

// Stream returns the stream key events are appended to
func (c *Client) Stream() string {
	return c.stream
}

// Name implements export.Sink
func (c *Client) Name() string { return "redis" }

// WriteEvent appends the event to the room stream
func (c *Client) WriteEvent(ctx context.Context, ev *gift.Event) error {
	args := &redis.XAddArgs{
		Stream: c.stream,
		Values: eventValues(ev, c.sessionID, c.timeLayout),
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}
	if err := c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append gift event: %w", err)
	}
	return nil
}

// Recent returns up to count of the newest events in the stream, newest first
func (c *Client) Recent(ctx context.Context, count int64) ([]map[string]interface{}, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read gift events: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Values)
	}
	return out, nil
}

// eventValues flattens an event into stream field/value pairs
func eventValues(ev *gift.Event, sessionID, timeLayout string) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionID,
		"kind":       string(ev.Kind),
		"sender":     ev.Sender,
		"name":       ev.Name,
		"count":      strconv.FormatUint(ev.Count, 10),
		"price":      ev.Price,
		"time":       ev.Timestamp.Format(timeLayout),
		"unix_ms":    strconv.FormatInt(ev.Timestamp.UnixNano()/int64(time.Millisecond), 10),
		"offset":     strconv.FormatInt(ev.Offset, 10),
	}
}
