package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisSessionStore keeps dialogue sessions and the per-sender processing
// lock in Redis.
type redisSessionStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewSessionStore(rdb *redis.Client, logger *slog.Logger) *redisSessionStore {
	return &redisSessionStore{rdb: rdb, logger: logger}
}

// sessionKey sanitizes sender ids like "whatsapp:+573001234567" into safe
// Redis key parts.
func sessionKey(sender string) string {
	safe := strings.NewReplacer("+", "", ":", "_").Replace(sender)
	return "session:" + safe
}

func lockKey(sender string) string {
	safe := strings.NewReplacer("+", "", ":", "_").Replace(sender)
	return "processing_lock:" + safe
}

// Get returns the sender's session, or a fresh one when the key is missing
// or holds something undecodable. Dialogue state is disposable by design;
// losing it costs the user one extra turn, not the order.
func (s *redisSessionStore) Get(ctx context.Context, sender string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sender)).Result()
	if err == redis.Nil {
		return NewSession(), nil
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		s.logger.Warn("corrupt session, starting fresh",
			slog.String("sender", sender),
			slog.Any("error", err))
		return NewSession(), nil
	}
	if session.CurrentOrderData == nil {
		session.CurrentOrderData = map[string]string{}
	}
	return &session, nil
}

func (s *redisSessionStore) Save(ctx context.Context, sender string, session *Session) error {
	session.LastSeen = time.Now().UTC()
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sender), raw, sessionTTL).Err()
}

func (s *redisSessionStore) Clear(ctx context.Context, sender string) error {
	return s.rdb.Del(ctx, sessionKey(sender)).Err()
}

// TryAcquireProcessing is the serialization point for dialogue turns. The
// TTL caps how long a crashed worker can block its sender.
func (s *redisSessionStore) TryAcquireProcessing(ctx context.Context, sender string) bool {
	ok, err := s.rdb.SetNX(ctx, lockKey(sender), "1", processingTTL).Result()
	if err != nil {
		// Fail closed: better to reply "please wait" than to run the same
		// turn twice.
		s.logger.Warn("processing lock check failed, treating as held",
			slog.String("sender", sender),
			slog.Any("error", err))
		return false
	}
	return ok
}

func (s *redisSessionStore) ReleaseProcessing(ctx context.Context, sender string) {
	if err := s.rdb.Del(ctx, lockKey(sender)).Err(); err != nil {
		s.logger.Warn("failed to release processing lock",
			slog.String("sender", sender),
			slog.Any("error", err))
	}
}

func (s *redisSessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

var _ SessionStore = (*redisSessionStore)(nil)
