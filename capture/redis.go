package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arloliu/go-astm/e1381"
)

// StreamAdder is the subset of a Redis client used by RedisSink.
// *redis.Client and *redis.ClusterClient implement it.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink adds one entry per capture to a Redis stream.
//
// Entry fields: session, peer, ts (RFC 3339, nanoseconds) and data.
type RedisSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

var _ e1381.CaptureSink = (*RedisSink)(nil)

// NewRedisSink creates a sink writing to stream. maxLen > 0 trims the stream
// approximately to that many entries on each add.
func NewRedisSink(client StreamAdder, stream string, maxLen int64) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// DialRedis creates a client from a redis:// URL and checks connectivity.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("capture: redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("capture: redis ping: %w", err)
	}

	return client, nil
}

// Append adds the capture to the stream.
func (s *RedisSink) Append(ctx context.Context, c e1381.Capture) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: []any{
			"session", c.SessionID,
			"peer", c.Peer,
			"ts", c.Received.UTC().Format(time.RFC3339Nano),
			"data", c.Data,
		},
	}

	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("capture: xadd %s: %w", s.stream, err)
	}

	return nil
}
