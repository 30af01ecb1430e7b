package scheduler

import (
	"context"
	"encoding/json"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventCache mirrors the last N broadcast snapshots of each job into a
// Redis stream (job:<jid>), so a listener that attaches to the Master after
// a restart can replay recent history before falling back to whatever is
// on disk. It is pure enrichment: every Master operation works the same
// with EventCache nil, exactly the way the collaborator Redis stack treats
// an empty RedisAddr as "run in-memory only".
type EventCache struct {
	client *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewEventCache connects to addr and returns an EventCache, or nil if addr
// is empty (replay caching disabled).
func NewEventCache(addr, password string, db, replayLen int, logger *zap.Logger) *EventCache {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if replayLen <= 0 {
		replayLen = defaultEventCacheReplayLen
	}
	return &EventCache{client: client, maxLen: int64(replayLen), logger: logger}
}

const defaultEventCacheReplayLen = 200

func streamKey(jid string) string {
	return "job:" + jid
}

// Ping verifies the Redis connection, mirroring the collaborator client's
// own startup check.
func (e *EventCache) Ping(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.client.Ping(ctx).Err()
}

// Mirror appends a snapshot of m to its job's stream, trimming the stream
// to roughly the configured replay length with XADD's approximate MAXLEN.
func (e *EventCache) Mirror(m *model.Job) {
	if e == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	ctx := context.Background()
	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(m.JID),
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil && e.logger != nil {
		e.logger.Warn("event cache mirror failed", zap.String("jid", m.JID), zap.Error(err))
	}
}

// Replay returns every cached snapshot for jid in the order it was
// mirrored, oldest first. An empty/nil result (including when e is nil or
// Redis is unreachable) is not an error worth surfacing to the caller: the
// listener just starts from the live snapshot instead.
func (e *EventCache) Replay(jid string) []*model.Job {
	if e == nil {
		return nil
	}
	ctx := context.Background()
	msgs, err := e.client.XRange(ctx, streamKey(jid), "-", "+").Result()
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("event cache replay failed", zap.String("jid", jid), zap.Error(err))
		}
		return nil
	}
	out := make([]*model.Job, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var m model.Job
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out
}

// Close releases the underlying Redis client.
func (e *EventCache) Close() error {
	if e == nil {
		return nil
	}
	return e.client.Close()
}

// Client exposes the underlying Redis client so other Master components
// (the submit rate limiter) can share one connection pool instead of
// opening a second one.
func (e *EventCache) Client() *redis.Client {
	if e == nil {
		return nil
	}
	return e.client
}
