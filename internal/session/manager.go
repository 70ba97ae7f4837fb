// Package session keys configuration stores by session id and persists their
// configurations between requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quote-engine/internal/pricing"
	"quote-engine/internal/quote"
	"quote-engine/internal/storage/redis"
	"quote-engine/internal/tier"
)

var ErrInvalidID = errors.New("invalid session id")

type entry struct {
	store *quote.Store
	// mu serializes read-modify-write access through Acquire.
	mu sync.Mutex

	// guarded by Manager.mu
	lastUsed time.Time
	holders  int
	dropped  bool
}

type Manager struct {
	storage   SnapshotStorage
	table     pricing.RateTable
	evaluator *tier.Evaluator
	idle      time.Duration
	logger    *zap.Logger
	now       func() time.Time

	restores singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a manager. storage may be nil, in which case sessions live in
// memory only. Stores unused for longer than idle are evicted from memory.
func New(storage SnapshotStorage, table pricing.RateTable, evaluator *tier.Evaluator, idle time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		storage:   storage,
		table:     table,
		evaluator: evaluator,
		idle:      idle,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
}

func (m *Manager) NewID() string {
	return uuid.NewString()
}

// Open returns the store for id, restoring its configuration from storage
// when it is not in memory. Unknown ids get an empty store.
func (m *Manager) Open(ctx context.Context, id string) (*quote.Store, error) {
	e, err := m.open(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

// Acquire opens the store for id and holds its lock until release is called.
// A held store is never evicted. When the session is dropped while the caller
// waits for the lock, Acquire starts over with a fresh store.
func (m *Manager) Acquire(ctx context.Context, id string) (*quote.Store, func(), error) {
	for {
		e, err := m.open(ctx, id, true)
		if err != nil {
			return nil, nil, err
		}
		e.mu.Lock()

		m.mu.Lock()
		dropped := e.dropped
		m.mu.Unlock()
		if !dropped {
			return e.store, func() { m.release(e) }, nil
		}
		m.release(e)
	}
}

func (m *Manager) release(e *entry) {
	e.mu.Unlock()
	m.mu.Lock()
	e.holders--
	e.lastUsed = m.now()
	m.mu.Unlock()
}

// open finds or restores the entry for id. Storage is read without m.mu
// held; concurrent restores of one id share a single read.
func (m *Manager) open(ctx context.Context, id string, hold bool) (*entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session.Open: %w %q: %v", ErrInvalidID, id, err)
	}

	for {
		m.mu.Lock()
		m.evictLocked()
		if e, ok := m.entries[id]; ok {
			e.lastUsed = m.now()
			if hold {
				e.holders++
			}
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		_, err, _ := m.restores.Do(id, func() (any, error) {
			m.mu.Lock()
			_, ok := m.entries[id]
			m.mu.Unlock()
			if ok {
				return nil, nil
			}

			store := quote.NewStore(m.table, m.evaluator, m.logger.With(zap.String("session_id", id)))
			if err := m.restore(ctx, id, store); err != nil {
				return nil, err
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.entries[id]; !ok {
				m.entries[id] = &entry{store: store, lastUsed: m.now()}
			}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
}

func (m *Manager) restore(ctx context.Context, id string, store *quote.Store) error {
	if m.storage == nil {
		return nil
	}

	snap, err := m.storage.GetSession(ctx, id)
	if errors.Is(err, redis.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session.Open: %w", err)
	}

	if snap.Scheme != m.table.Scheme() {
		m.logger.Warn("Discarding session priced under another scheme",
			zap.String("session_id", id),
			zap.String("scheme", string(snap.Scheme)))
		return nil
	}
	if err := store.Restore(snap.Configuration); err != nil {
		m.logger.Warn("Discarding unrestorable session",
			zap.String("session_id", id),
			zap.String("rate_version", snap.RateVersion),
			zap.Error(err))
		return nil
	}
	return nil
}

// Save persists the store's configuration. A store without a configuration
// has nothing to save.
func (m *Manager) Save(ctx context.Context, id string, store *quote.Store) error {
	if m.storage == nil {
		return nil
	}
	snap, ok := store.Snapshot()
	if !ok {
		return nil
	}
	err := m.storage.SaveSession(ctx, &redis.Session{
		ID:            id,
		Scheme:        m.table.Scheme(),
		RateVersion:   m.table.Version(),
		Configuration: snap.Configuration,
		UpdatedAt:     m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("session.Save: %w", err)
	}
	return nil
}

// Drop forgets the session in memory and in storage.
func (m *Manager) Drop(ctx context.Context, id string) error {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.dropped = true
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if m.storage == nil {
		return nil
	}
	if err := m.storage.DropSession(ctx, id); err != nil {
		return fmt.Errorf("session.Drop: %w", err)
	}
	return nil
}

func (m *Manager) evictLocked() {
	if m.idle <= 0 {
		return
	}
	cutoff := m.now().Add(-m.idle)
	for id, e := range m.entries {
		if e.holders == 0 && e.lastUsed.Before(cutoff) {
			delete(m.entries, id)
		}
	}
}
