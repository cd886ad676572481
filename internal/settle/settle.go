// Package settle computes pari-mutuel payouts for finished rounds and drives
// the claim flow. Payout math is exact fixed-point: the winning side splits
// the entire pool pro rata, with floored integer division — the remainder is
// forfeited, never redistributed.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/store"
)

// ErrNothingToClaim is returned when a collect scan finds no winnings —
// including the case where every eligible bet lost.
var ErrNothingToClaim = errors.New("settle: nothing to claim")

// PayoutFor computes a single bet's payout from its finished round.
//
// A one-sided round (nobody took the other side) refunds the stake, whatever
// the outcome. Otherwise a winning bet takes its pro-rata share of the whole
// pool, a push refunds the stake, and a losing bet pays zero.
func PayoutFor(round *model.FinishedRound, bet *model.Bet) decimal.Decimal {
	pool := round.BullAmount.Add(round.BearAmount)

	if round.BullAmount.IsZero() || round.BearAmount.IsZero() {
		return bet.Amount
	}

	if round.Winner != nil {
		if *round.Winner != bet.Direction {
			return decimal.Zero
		}
		side := round.BullAmount
		if *round.Winner == model.DirectionBear {
			side = round.BearAmount
		}
		q, _ := bet.Amount.Mul(pool).QuoRem(side, 0)
		return q
	}

	// Push: open price equalled close price, everyone gets their stake back.
	return bet.Amount
}

// Engine settles finished rounds for players.
type Engine struct {
	store store.Store
	bank  bank.Bank
}

// NewEngine creates a settlement engine over the given store and bank.
func NewEngine(st store.Store, bk bank.Bank) *Engine {
	return &Engine{store: st, bank: bk}
}

// Collect pays out every eligible settled bet for the player and removes the
// claimed records, guaranteeing at-most-once collection. Eligible means the
// bet's round has fully finished: strictly older than the current bidding
// round's predecessor (the live round).
//
// The scan is two-phase: winnings are summed first, and only when the total
// is nonzero do funds move — a zero total returns ErrNothingToClaim with the
// store untouched. The transfer runs before any record is deleted, so a
// failed credit aborts with every bet still claimable.
func (e *Engine) Collect(ctx context.Context, player string) (decimal.Decimal, error) {
	eligible, err := e.eligibleBets(ctx, player)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range eligible {
		round, err := e.store.GetFinishedRound(ctx, eligible[i].RoundID)
		if err != nil {
			return decimal.Zero, err
		}
		if round == nil {
			return decimal.Zero, fmt.Errorf("settle: round %d eligible but not finished", eligible[i].RoundID)
		}
		total = total.Add(PayoutFor(round, &eligible[i]))
	}

	if total.IsZero() {
		return decimal.Zero, ErrNothingToClaim
	}

	if err := e.bank.Credit(ctx, player, total); err != nil {
		return decimal.Zero, err
	}

	for i := range eligible {
		if err := e.store.DeleteBet(ctx, eligible[i].RoundID, player); err != nil {
			return decimal.Zero, err
		}
	}

	slog.Info("winnings collected",
		"player", player,
		"rounds", len(eligible),
		"total", total.String(),
	)
	return total, nil
}

// PendingReward computes what Collect would pay without mutating anything.
// Bets in rounds that have not finished yet are skipped, not errors.
func (e *Engine) PendingReward(ctx context.Context, player string) (decimal.Decimal, error) {
	bets, err := e.store.ListBetsByPlayer(ctx, player, nil, 0, false)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range bets {
		round, err := e.store.GetFinishedRound(ctx, bets[i].RoundID)
		if err != nil {
			return decimal.Zero, err
		}
		if round == nil {
			continue
		}
		total = total.Add(PayoutFor(round, &bets[i]))
	}
	return total, nil
}

// eligibleBets returns the player's bets in fully finished rounds: those
// strictly older than biddingID-1. The round one behind the bidding slot is
// live (or just promoted) and must not settle yet.
func (e *Engine) eligibleBets(ctx context.Context, player string) ([]model.Bet, error) {
	bidding, err := e.store.GetBiddingRound(ctx)
	if err != nil {
		return nil, err
	}
	if bidding == nil || bidding.ID < 2 {
		// Fewer than two rounds ever opened: nothing can have finished.
		return nil, nil
	}
	cutoff := bidding.ID - 1

	bets, err := e.store.ListBetsByPlayer(ctx, player, nil, 0, false)
	if err != nil {
		return nil, err
	}

	eligible := bets[:0:0]
	for _, b := range bets {
		if b.RoundID < cutoff {
			eligible = append(eligible, b)
		}
	}
	return eligible, nil
}
