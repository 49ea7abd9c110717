package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// DefaultStream is the Redis stream written when none is configured.
const DefaultStream = "uxai:telemetry"

// Redis appends one entry per item to a Redis stream. Entries carry the
// item type, the session ID and the JSON payload, so consumers can filter
// without decoding.
type Redis struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	owned  bool
}

// NewRedis writes to stream through client. maxLen > 0 trims the stream
// approximately to that many entries. The client stays owned by the caller.
func NewRedis(client redis.UniversalClient, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = DefaultStream
	}
	return &Redis{client: client, stream: stream, maxLen: maxLen}
}

// DialRedis connects to a redis:// URL. Close closes the connection.
func DialRedis(url, stream string, maxLen int64) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("sink: redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(opts), stream, maxLen)
	r.owned = true
	return r, nil
}

func (r *Redis) SendSnapshot(ctx context.Context, c snapshot.Closed) error {
	return r.add(ctx, typeSnapshot, c.SessionID, c)
}

func (r *Redis) SendClassification(ctx context.Context, c snapshot.Classification) error {
	return r.add(ctx, typeClassification, c.SessionID, c)
}

func (r *Redis) add(ctx context.Context, typ, sessionID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sink: redis: marshal %s: %w", typ, err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"type":       typ,
			"session_id": sessionID,
			"data":       string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("sink: redis: xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
