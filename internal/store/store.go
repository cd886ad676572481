// Package store defines the persistence interface for the prediction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// The store owns every piece of mutable state: the round slots and finished
// history, the bet ledger with its player index, the fee and volume counters,
// the market config, and the paused flag. Callers mutate it only through the
// engine components, one serialized operation at a time.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
)

// Store is the persistence interface.
//
// The bidding and live round slots hold at most one round each; Get on an
// empty slot returns (nil, nil). GetConfig on an uninitialized store returns
// model.ErrNotFound.
type Store interface {
	// --- Config and control ---

	GetConfig(ctx context.Context) (model.Config, error)
	SetConfig(ctx context.Context, cfg model.Config) error
	IsPaused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error

	// --- Round slots and history ---

	// NextRoundID returns the id the next bidding round will take.
	// Ids form a strictly increasing counter starting at 0.
	NextRoundID(ctx context.Context) (uint64, error)
	SetNextRoundID(ctx context.Context, id uint64) error

	GetBiddingRound(ctx context.Context) (*model.BiddingRound, error)
	PutBiddingRound(ctx context.Context, r *model.BiddingRound) error
	DeleteBiddingRound(ctx context.Context) error

	GetLiveRound(ctx context.Context) (*model.LiveRound, error)
	PutLiveRound(ctx context.Context, r *model.LiveRound) error
	DeleteLiveRound(ctx context.Context) error

	// GetFinishedRound returns (nil, nil) for an unknown id.
	GetFinishedRound(ctx context.Context, id uint64) (*model.FinishedRound, error)
	PutFinishedRound(ctx context.Context, r *model.FinishedRound) error

	// --- Bet ledger ---

	// GetBet returns (nil, nil) when no bet exists for (roundID, player).
	GetBet(ctx context.Context, roundID uint64, player string) (*model.Bet, error)
	PutBet(ctx context.Context, b *model.Bet) error
	DeleteBet(ctx context.Context, roundID uint64, player string) error

	// ListBetsByPlayer scans the player index ordered by round id. The scan
	// starts strictly after startAfter when given. limit <= 0 means no limit.
	ListBetsByPlayer(ctx context.Context, player string, startAfter *uint64, limit int, descending bool) ([]model.Bet, error)

	// --- Counters ---

	AddAccumulatedFee(ctx context.Context, amount decimal.Decimal) error
	AccumulatedFee(ctx context.Context) (decimal.Decimal, error)
	AddTotalVolume(ctx context.Context, amount decimal.Decimal) error
	TotalVolume(ctx context.Context) (decimal.Decimal, error)
}
