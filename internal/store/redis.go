package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/auction-engine/internal/model"
)

const snapshotKey = "auction:snapshot"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of the whole auction image. Writes go to the primary store and
// invalidate the cache; Load checks Redis first then falls back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey, data, s.ttl)
	}
	return snap, nil
}

func (s *CachedStore) RecordSale(ctx context.Context, rec *model.SaleRecord) error {
	if err := s.primary.RecordSale(ctx, rec); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) RecordUnsold(ctx context.Context, playerID string, nextIndex int) error {
	if err := s.primary.RecordUnsold(ctx, playerID, nextIndex); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) Reset(ctx context.Context, teams []model.Team) error {
	if err := s.primary.Reset(ctx, teams); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.primary.Clear(ctx); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) Import(ctx context.Context, players []model.Player, teams []model.Team, mode ImportMode) error {
	if err := s.primary.Import(ctx, players, teams, mode); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// invalidate drops the cached image. The primary write has already
// committed, so a failure here is logged and the TTL bounds staleness.
func (s *CachedStore) invalidate(ctx context.Context) {
	if err := s.rdb.Del(ctx, snapshotKey).Err(); err != nil {
		slog.Warn("snapshot cache invalidation failed", "key", snapshotKey, "error", err)
	}
}
