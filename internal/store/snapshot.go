package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/engine"
)

const (
	statusKeyPrefix = "engine:status"
	statusTTL       = 24 * time.Hour
)

// SnapshotStore keeps the latest engine status in Redis so the control API
// can read it without touching the engine. When Redis is down it falls
// back to an in-memory copy; trading never blocks on persistence.
type SnapshotStore struct {
	client    *redis.Client
	available atomic.Bool
	logger    zerolog.Logger

	mu     sync.RWMutex
	memory map[string]engine.Status
}

// NewSnapshotStore creates a store. client may be nil, which leaves the
// store fully in-memory.
func NewSnapshotStore(client *redis.Client, logger zerolog.Logger) *SnapshotStore {
	s := &SnapshotStore{
		client: client,
		logger: logger.With().Str("component", "snapshot").Logger(),
		memory: make(map[string]engine.Status),
	}
	s.available.Store(client != nil)
	return s
}

// SaveStatus stores the status in memory and then best-effort in Redis
func (s *SnapshotStore) SaveStatus(ctx context.Context, status engine.Status) error {
	s.mu.Lock()
	s.memory[status.Symbol] = status
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	key := fmt.Sprintf("%s:%s", statusKeyPrefix, status.Symbol)
	if err := s.client.Set(ctx, key, data, statusTTL).Err(); err != nil {
		if s.available.Swap(false) {
			s.logger.Warn().Err(err).Msg("redis unavailable, using in-memory status only")
		}
		return nil
	}
	if !s.available.Swap(true) {
		s.logger.Info().Msg("redis recovered")
	}
	return nil
}

// Status returns the latest status for a symbol. Redis is preferred so a
// fresh process sees state written before a restart; the in-memory copy
// covers Redis outages.
func (s *SnapshotStore) Status(ctx context.Context, symbol string) (engine.Status, bool) {
	if s.client != nil && s.available.Load() {
		key := fmt.Sprintf("%s:%s", statusKeyPrefix, symbol)
		data, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			var status engine.Status
			if err := json.Unmarshal(data, &status); err == nil {
				return status, true
			}
		} else if !errors.Is(err, redis.Nil) {
			s.available.Store(false)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.memory[symbol]
	return status, ok
}

// Available reports whether the Redis side of the store is reachable
func (s *SnapshotStore) Available() bool {
	return s.client != nil && s.available.Load()
}
