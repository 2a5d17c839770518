package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"

	"github.com/ashureev/nanostyle/internal/domain"
)

const redisKeyPrefix = "nanostyle:session:"

// RedisStore implements Store on Redis. Each session is a JSON string whose
// key expiry is refreshed on every write, so idle sessions are evicted by
// Redis itself.
type RedisStore struct {
	client rueidis.Client
	ttl    time.Duration
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	// TTL is applied to every write. Zero keeps keys forever.
	TTL time.Duration
}

// NewRedis connects to Redis.
func NewRedis(opts RedisOptions) (*RedisStore, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Create inserts a new session.
func (r *RedisStore) Create(ctx context.Context, session *domain.Session) error {
	return r.Upsert(ctx, session)
}

// Get retrieves a session by id.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(redisKey(sessionID)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var session domain.Session
	if err := sonic.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Upsert creates or replaces a session and refreshes its expiry.
func (r *RedisStore) Upsert(ctx context.Context, session *domain.Session) error {
	payload, err := sonic.MarshalString(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionID, err)
	}

	key := redisKey(session.SessionID)
	if r.ttl > 0 {
		err = r.client.Do(ctx, r.client.B().Set().Key(key).Value(payload).Ex(r.ttl).Build()).Error()
	} else {
		err = r.client.Do(ctx, r.client.B().Set().Key(key).Value(payload).Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("set session %s: %w", session.SessionID, err)
	}
	return nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(redisKey(sessionID)).Build()).Error(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteIdle scans session keys and removes the ones idle since before
// cutoff. Keys written with a TTL normally expire on their own; this covers
// keys written without one or after a TTL change.
func (r *RedisStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		resp := r.client.Do(ctx, r.client.B().Scan().Cursor(cursor).Match(redisKeyPrefix+"*").Count(100).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("scan sessions: %w", err)
		}

		for _, key := range entry.Elements {
			sessionID := key[len(redisKeyPrefix):]
			session, err := r.Get(ctx, sessionID)
			if err != nil {
				continue
			}
			if session.LastUpdatedAt.Before(cutoff) {
				if err := r.Delete(ctx, sessionID); err != nil {
					return removed, err
				}
				removed++
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}
