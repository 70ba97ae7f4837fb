package session

import (
	"context"

	"quote-engine/internal/storage/redis"
)

type SnapshotStorage interface {
	GetSession(ctx context.Context, id string) (*redis.Session, error)
	SaveSession(ctx context.Context, session *redis.Session) error
	DropSession(ctx context.Context, id string) error
}

var _ SnapshotStorage = (*redis.Storage)(nil)
