// Package round advances the market through its lifecycle:
// Bidding → Live → Finished. Advance is permissionless and safe to call
// redundantly — a call before any boundary has been crossed changes nothing.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/oracle"
	"github.com/predictfi/updown-engine/internal/store"
)

// Scheduler drives round transitions against the store, consulting the
// price feed at round open and close.
type Scheduler struct {
	store store.Store
	feed  oracle.PriceFeed
}

// NewScheduler creates a scheduler over the given store and price feed.
func NewScheduler(st store.Store, feed oracle.PriceFeed) *Scheduler {
	return &Scheduler{store: st, feed: feed}
}

// Outcome reports which transitions an Advance call performed. All fields
// nil means the call was a no-op.
type Outcome struct {
	Finished   *model.FinishedRound `json:"finished,omitempty"`
	WentLive   *model.LiveRound     `json:"went_live,omitempty"`
	NewBidding *model.BiddingRound  `json:"new_bidding,omitempty"`
}

// NoOp reports whether nothing was due.
func (o Outcome) NoOp() bool {
	return o.Finished == nil && o.WentLive == nil && o.NewBidding == nil
}

// Advance runs the three lifecycle steps in fixed order:
//
//  1. Close the live round if its close time has passed, fixing the close
//     price and the winner (equal prices → push, no winner).
//  2. Promote the bidding round to live if its open time has passed and no
//     live round remains, fixing the open price.
//  3. Ensure a bidding round exists, chained from the live round's close
//     time so betting windows are back-to-back with no gap or overlap.
//
// The price feed is consulted once, before any state is written, so a feed
// failure aborts the call with the store untouched. Both transitions in a
// single call see the same price, which is exactly what two reads at the
// same instant would return.
func (s *Scheduler) Advance(ctx context.Context, now time.Time) (Outcome, error) {
	var out Outcome

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return out, fmt.Errorf("round: load config: %w", err)
	}

	live, err := s.store.GetLiveRound(ctx)
	if err != nil {
		return out, err
	}
	bidding, err := s.store.GetBiddingRound(ctx)
	if err != nil {
		return out, err
	}

	closeDue := live != nil && !now.Before(live.CloseTime)
	promoteDue := bidding != nil && (live == nil || closeDue) && !now.Before(bidding.OpenTime)

	var price decimal.Decimal
	if closeDue || promoteDue {
		price, err = s.feed.Price(ctx)
		if err != nil {
			return Outcome{}, err
		}
	}

	// Step 1: close the live round.
	if closeDue {
		finished := settleRound(live, price)
		if err := s.store.PutFinishedRound(ctx, finished); err != nil {
			return out, err
		}
		if err := s.store.DeleteLiveRound(ctx); err != nil {
			return out, err
		}
		live = nil
		out.Finished = finished
		slog.Info("round closed",
			"round", finished.ID,
			"close_price", finished.ClosePrice.String(),
			"winner", winnerLabel(finished.Winner),
		)
	}

	// Step 2: promote the bidding round. Never while a live round remains —
	// two live rounds must not coexist.
	if live == nil && bidding != nil && !now.Before(bidding.OpenTime) {
		promoted := &model.LiveRound{
			ID:         bidding.ID,
			BidTime:    bidding.BidTime,
			OpenTime:   now,
			CloseTime:  now.Add(cfg.RoundDuration()),
			OpenPrice:  price,
			BullAmount: bidding.BullAmount,
			BearAmount: bidding.BearAmount,
		}
		if err := s.store.PutLiveRound(ctx, promoted); err != nil {
			return out, err
		}
		if err := s.store.DeleteBiddingRound(ctx); err != nil {
			return out, err
		}
		live = promoted
		bidding = nil
		out.WentLive = promoted
		slog.Info("round went live",
			"round", promoted.ID,
			"open_price", promoted.OpenPrice.String(),
			"bull_amount", promoted.BullAmount.String(),
			"bear_amount", promoted.BearAmount.String(),
		)
	}

	// Step 3: ensure a bidding round exists. Its betting window starts
	// where the live round's ends, or one full duration from now when the
	// market is idle.
	if bidding == nil {
		id, err := s.store.NextRoundID(ctx)
		if err != nil {
			return out, err
		}
		openTime := now.Add(cfg.RoundDuration())
		if live != nil {
			openTime = live.CloseTime
		}
		fresh := &model.BiddingRound{
			ID:         id,
			BidTime:    now,
			OpenTime:   openTime,
			CloseTime:  openTime.Add(cfg.RoundDuration()),
			BullAmount: decimal.Zero,
			BearAmount: decimal.Zero,
		}
		if err := s.store.PutBiddingRound(ctx, fresh); err != nil {
			return out, err
		}
		if err := s.store.SetNextRoundID(ctx, id+1); err != nil {
			return out, err
		}
		out.NewBidding = fresh
		slog.Info("bidding opened",
			"round", fresh.ID,
			"open_time", fresh.OpenTime,
			"close_time", fresh.CloseTime,
		)
	}

	return out, nil
}

// settleRound fixes the close price and decides the winner. A flat feed is
// not an error: equal open and close prices make a push with no winner.
func settleRound(live *model.LiveRound, closePrice decimal.Decimal) *model.FinishedRound {
	var winner *model.Direction
	switch closePrice.Cmp(live.OpenPrice) {
	case 1:
		w := model.DirectionBull
		winner = &w
	case -1:
		w := model.DirectionBear
		winner = &w
	}

	return &model.FinishedRound{
		ID:         live.ID,
		BidTime:    live.BidTime,
		OpenTime:   live.OpenTime,
		CloseTime:  live.CloseTime,
		OpenPrice:  live.OpenPrice,
		ClosePrice: closePrice,
		Winner:     winner,
		BullAmount: live.BullAmount,
		BearAmount: live.BearAmount,
	}
}

func winnerLabel(w *model.Direction) string {
	if w == nil {
		return "push"
	}
	return string(*w)
}
