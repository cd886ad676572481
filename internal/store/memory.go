package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
)

type betKey struct {
	roundID uint64
	player  string
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	hasConfig   bool
	config      model.Config
	paused      bool
	nextRoundID uint64
	bidding     *model.BiddingRound
	live        *model.LiveRound
	finished    map[uint64]*model.FinishedRound
	bets        map[betKey]*model.Bet
	byPlayer    map[string]map[uint64]struct{} // player -> round ids
	accFee      decimal.Decimal
	totalVolume decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		finished: make(map[uint64]*model.FinishedRound),
		bets:     make(map[betKey]*model.Bet),
		byPlayer: make(map[string]map[uint64]struct{}),
	}
}

func (s *MemoryStore) GetConfig(_ context.Context) (model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasConfig {
		return model.Config{}, model.ErrNotFound
	}
	return s.config, nil
}

func (s *MemoryStore) SetConfig(_ context.Context, cfg model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.hasConfig = true
	return nil
}

func (s *MemoryStore) IsPaused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func (s *MemoryStore) NextRoundID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRoundID, nil
}

func (s *MemoryStore) SetNextRoundID(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRoundID = id
	return nil
}

func (s *MemoryStore) GetBiddingRound(_ context.Context) (*model.BiddingRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bidding == nil {
		return nil, nil
	}
	cp := *s.bidding
	return &cp, nil
}

func (s *MemoryStore) PutBiddingRound(_ context.Context, r *model.BiddingRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.bidding = &cp
	return nil
}

func (s *MemoryStore) DeleteBiddingRound(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bidding = nil
	return nil
}

func (s *MemoryStore) GetLiveRound(_ context.Context) (*model.LiveRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.live == nil {
		return nil, nil
	}
	cp := *s.live
	return &cp, nil
}

func (s *MemoryStore) PutLiveRound(_ context.Context, r *model.LiveRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.live = &cp
	return nil
}

func (s *MemoryStore) DeleteLiveRound(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = nil
	return nil
}

func (s *MemoryStore) GetFinishedRound(_ context.Context, id uint64) (*model.FinishedRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.finished[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutFinishedRound(_ context.Context, r *model.FinishedRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.finished[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, roundID uint64, player string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[betKey{roundID, player}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) PutBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bets[betKey{b.RoundID, b.Player}] = &cp
	rounds, ok := s.byPlayer[b.Player]
	if !ok {
		rounds = make(map[uint64]struct{})
		s.byPlayer[b.Player] = rounds
	}
	rounds[b.RoundID] = struct{}{}
	return nil
}

func (s *MemoryStore) DeleteBet(_ context.Context, roundID uint64, player string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bets, betKey{roundID, player})
	if rounds, ok := s.byPlayer[player]; ok {
		delete(rounds, roundID)
		if len(rounds) == 0 {
			delete(s.byPlayer, player)
		}
	}
	return nil
}

func (s *MemoryStore) ListBetsByPlayer(_ context.Context, player string, startAfter *uint64, limit int, descending bool) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.byPlayer[player]))
	for id := range s.byPlayer[player] {
		if startAfter != nil {
			if !descending && id <= *startAfter {
				continue
			}
			if descending && id >= *startAfter {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if descending {
			return ids[i] > ids[j]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	bets := make([]model.Bet, 0, len(ids))
	for _, id := range ids {
		bets = append(bets, *s.bets[betKey{id, player}])
	}
	return bets, nil
}

func (s *MemoryStore) AddAccumulatedFee(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accFee = s.accFee.Add(amount)
	return nil
}

func (s *MemoryStore) AccumulatedFee(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accFee, nil
}

func (s *MemoryStore) AddTotalVolume(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalVolume = s.totalVolume.Add(amount)
	return nil
}

func (s *MemoryStore) TotalVolume(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalVolume, nil
}
