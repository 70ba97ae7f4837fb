package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

const defaultSessionTTL = 24 * time.Hour

type Storage struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing client. A non-positive ttl uses 24h.
func New(client *redis.Client, ttl time.Duration) *Storage {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Storage{client: client, ttl: ttl}
}

// SaveSession writes the snapshot and refreshes its TTL.
func (s *Storage) SaveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, buildSessionKey(session.ID), data, s.ttl).Err()
}

func (s *Storage) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, buildSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal failure: %w", err)
	}
	return &session, nil
}

func (s *Storage) DropSession(ctx context.Context, id string) error {
	return s.client.Del(ctx, buildSessionKey(id)).Err()
}

func buildSessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
