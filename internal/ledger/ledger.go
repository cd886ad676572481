// Package ledger owns wager records: placement with its full validation
// chain, and paginated lookup by player.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/fee"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/store"
)

// Pagination bounds for bet listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 30
)

var (
	// ErrWrongRound is returned when the submitted round id is not the
	// current bidding round — late, stale, or targeted submissions alike.
	ErrWrongRound = errors.New("ledger: not the current bidding round")

	// ErrBelowMinimum is returned for a gross wager under the configured
	// minimum.
	ErrBelowMinimum = errors.New("ledger: bet below minimum")

	// ErrBettingClosed is returned when the bidding round's open time has
	// been reached. The cutoff is strict: a bet landing in the same instant
	// the round is promoted is rejected.
	ErrBettingClosed = errors.New("ledger: round no longer accepting bets")

	// ErrDuplicateBet is returned when the player already holds a bet in
	// this round. One bet per player per round; no averaging or top-up.
	ErrDuplicateBet = errors.New("ledger: already bet in this round")

	// ErrPageTooLarge is returned for a listing limit over MaxPageSize.
	ErrPageTooLarge = fmt.Errorf("ledger: page size exceeds %d", MaxPageSize)
)

// Ledger validates and records wagers through the store, taking the protocol
// fee and pulling the gross stake into custody.
type Ledger struct {
	store store.Store
	fees  *fee.Accumulator
	bank  bank.Bank
}

// NewLedger creates a ledger over the given store, fee accumulator, and bank.
func NewLedger(st store.Store, fees *fee.Accumulator, bk bank.Bank) *Ledger {
	return &Ledger{store: st, fees: fees, bank: bk}
}

// PlaceBet validates a wager against the current bidding round and records
// it. The stored amount and the pool credit are net of fee; the gross amount
// is pulled from the player. The bank transfer runs before any state write
// so its failure aborts the operation cleanly.
func (l *Ledger) PlaceBet(ctx context.Context, roundID uint64, player string, gross decimal.Decimal, dir model.Direction, now time.Time) (*model.Bet, error) {
	cfg, err := l.store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load config: %w", err)
	}

	bidding, err := l.store.GetBiddingRound(ctx)
	if err != nil {
		return nil, err
	}
	if bidding == nil || bidding.ID != roundID {
		current := "none"
		if bidding != nil {
			current = fmt.Sprintf("%d", bidding.ID)
		}
		return nil, fmt.Errorf("%w: submitted %d, current %s", ErrWrongRound, roundID, current)
	}

	if gross.LessThan(cfg.MinimumBet) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, gross, cfg.MinimumBet)
	}

	if !now.Before(bidding.OpenTime) {
		return nil, fmt.Errorf("%w: round %d opened %s ago", ErrBettingClosed,
			roundID, now.Sub(bidding.OpenTime))
	}

	existing, err := l.store.GetBet(ctx, roundID, player)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s for %s", ErrDuplicateBet,
			existing.Amount, existing.Direction)
	}

	// Pull the gross stake into custody first; the fee is retained out of
	// what was transferred, not charged on top.
	if err := l.bank.Debit(ctx, player, gross); err != nil {
		return nil, err
	}

	feeTaken, net, err := l.fees.Take(ctx, gross, cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	if err := l.store.AddTotalVolume(ctx, net); err != nil {
		return nil, err
	}

	bet := &model.Bet{
		ID:        uuid.New().String(),
		Player:    player,
		RoundID:   roundID,
		Amount:    net,
		Direction: dir,
		PlacedAt:  now,
	}
	if err := l.store.PutBet(ctx, bet); err != nil {
		return nil, err
	}

	switch dir {
	case model.DirectionBull:
		bidding.BullAmount = bidding.BullAmount.Add(net)
	case model.DirectionBear:
		bidding.BearAmount = bidding.BearAmount.Add(net)
	}
	if err := l.store.PutBiddingRound(ctx, bidding); err != nil {
		return nil, err
	}

	slog.Info("bet placed",
		"round", roundID,
		"player", player,
		"direction", dir,
		"gross", gross.String(),
		"net", net.String(),
		"fee", feeTaken.String(),
	)
	return bet, nil
}

// ListBets returns one page of the player's bets ordered by round id,
// starting strictly after the cursor when given. The second return reports
// whether more records exist past the page; one extra record is fetched and
// trimmed to answer it exactly.
func (l *Ledger) ListBets(ctx context.Context, player string, startAfter *uint64, limit int, descending bool) ([]model.Bet, bool, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		return nil, false, ErrPageTooLarge
	}
	bets, err := l.store.ListBetsByPlayer(ctx, player, startAfter, limit+1, descending)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(bets) > limit
	if hasMore {
		bets = bets[:limit]
	}
	return bets, hasMore, nil
}
