package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the round lookups the status endpoint hammers. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary. Bet scans and counters pass through uncached — they
// are mutated on every command and caching them buys nothing.
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

// --- Round slots (read-through, write-invalidate) ---

func (s *CachedStore) GetBiddingRound(ctx context.Context) (*model.BiddingRound, error) {
	var r model.BiddingRound
	if s.cacheGet(ctx, biddingKey(), &r) {
		return &r, nil
	}
	got, err := s.primary.GetBiddingRound(ctx)
	if err != nil || got == nil {
		return got, err
	}
	s.cacheSet(ctx, biddingKey(), got)
	return got, nil
}

func (s *CachedStore) PutBiddingRound(ctx context.Context, r *model.BiddingRound) error {
	if err := s.primary.PutBiddingRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, biddingKey())
	return nil
}

func (s *CachedStore) DeleteBiddingRound(ctx context.Context) error {
	if err := s.primary.DeleteBiddingRound(ctx); err != nil {
		return err
	}
	s.rdb.Del(ctx, biddingKey())
	return nil
}

func (s *CachedStore) GetLiveRound(ctx context.Context) (*model.LiveRound, error) {
	var r model.LiveRound
	if s.cacheGet(ctx, liveKey(), &r) {
		return &r, nil
	}
	got, err := s.primary.GetLiveRound(ctx)
	if err != nil || got == nil {
		return got, err
	}
	s.cacheSet(ctx, liveKey(), got)
	return got, nil
}

func (s *CachedStore) PutLiveRound(ctx context.Context, r *model.LiveRound) error {
	if err := s.primary.PutLiveRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, liveKey())
	return nil
}

func (s *CachedStore) DeleteLiveRound(ctx context.Context) error {
	if err := s.primary.DeleteLiveRound(ctx); err != nil {
		return err
	}
	s.rdb.Del(ctx, liveKey())
	return nil
}

func (s *CachedStore) GetFinishedRound(ctx context.Context, id uint64) (*model.FinishedRound, error) {
	var r model.FinishedRound
	if s.cacheGet(ctx, finishedKey(id), &r) {
		return &r, nil
	}
	got, err := s.primary.GetFinishedRound(ctx, id)
	if err != nil || got == nil {
		return got, err
	}
	// Finished rounds are immutable, so the only reason for the TTL is
	// bounding Redis memory.
	s.cacheSet(ctx, finishedKey(id), got)
	return got, nil
}

func (s *CachedStore) PutFinishedRound(ctx context.Context, r *model.FinishedRound) error {
	if err := s.primary.PutFinishedRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, finishedKey(r.ID))
	return nil
}

// --- Config (read-through, write-invalidate) ---

func (s *CachedStore) GetConfig(ctx context.Context) (model.Config, error) {
	var cfg model.Config
	if s.cacheGet(ctx, configKey(), &cfg) {
		return cfg, nil
	}
	cfg, err := s.primary.GetConfig(ctx)
	if err != nil {
		return cfg, err
	}
	s.cacheSet(ctx, configKey(), cfg)
	return cfg, nil
}

func (s *CachedStore) SetConfig(ctx context.Context, cfg model.Config) error {
	if err := s.primary.SetConfig(ctx, cfg); err != nil {
		return err
	}
	s.rdb.Del(ctx, configKey())
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) IsPaused(ctx context.Context) (bool, error) {
	return s.primary.IsPaused(ctx)
}

func (s *CachedStore) SetPaused(ctx context.Context, paused bool) error {
	return s.primary.SetPaused(ctx, paused)
}

func (s *CachedStore) NextRoundID(ctx context.Context) (uint64, error) {
	return s.primary.NextRoundID(ctx)
}

func (s *CachedStore) SetNextRoundID(ctx context.Context, id uint64) error {
	return s.primary.SetNextRoundID(ctx, id)
}

func (s *CachedStore) GetBet(ctx context.Context, roundID uint64, player string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, roundID, player)
}

func (s *CachedStore) PutBet(ctx context.Context, b *model.Bet) error {
	return s.primary.PutBet(ctx, b)
}

func (s *CachedStore) DeleteBet(ctx context.Context, roundID uint64, player string) error {
	return s.primary.DeleteBet(ctx, roundID, player)
}

func (s *CachedStore) ListBetsByPlayer(ctx context.Context, player string, startAfter *uint64, limit int, descending bool) ([]model.Bet, error) {
	return s.primary.ListBetsByPlayer(ctx, player, startAfter, limit, descending)
}

func (s *CachedStore) AddAccumulatedFee(ctx context.Context, amount decimal.Decimal) error {
	return s.primary.AddAccumulatedFee(ctx, amount)
}

func (s *CachedStore) AccumulatedFee(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.AccumulatedFee(ctx)
}

func (s *CachedStore) AddTotalVolume(ctx context.Context, amount decimal.Decimal) error {
	return s.primary.AddTotalVolume(ctx, amount)
}

func (s *CachedStore) TotalVolume(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.TotalVolume(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func biddingKey() string { return "round:bidding" }

func liveKey() string { return "round:live" }

func configKey() string { return "engine:config" }

func finishedKey(id uint64) string { return fmt.Sprintf("round:finished:%d", id) }
