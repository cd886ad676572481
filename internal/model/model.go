// Package model defines the core domain types shared across the prediction
// engine. All monetary amounts and prices use shopspring/decimal — never
// float64 for money. Amounts are whole token units; prices are whatever
// integer scale the oracle reports.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a wager: price goes up (bull) or down (bear).
type Direction string

const (
	DirectionBull Direction = "bull"
	DirectionBear Direction = "bear"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionBull || d == DirectionBear
}

// BiddingRound is a round currently accepting wagers. It has no price yet;
// the reference price is captured when the round goes live.
type BiddingRound struct {
	ID         uint64          `json:"id" db:"id"`
	BidTime    time.Time       `json:"bid_time" db:"bid_time"`
	OpenTime   time.Time       `json:"open_time" db:"open_time"`
	CloseTime  time.Time       `json:"close_time" db:"close_time"`
	BullAmount decimal.Decimal `json:"bull_amount" db:"bull_amount"` // net of fee
	BearAmount decimal.Decimal `json:"bear_amount" db:"bear_amount"` // net of fee
}

// LiveRound is a round no longer accepting wagers, waiting for its close
// time. Pool totals are frozen at promotion and never change afterward.
type LiveRound struct {
	ID         uint64          `json:"id" db:"id"`
	BidTime    time.Time       `json:"bid_time" db:"bid_time"`
	OpenTime   time.Time       `json:"open_time" db:"open_time"`
	CloseTime  time.Time       `json:"close_time" db:"close_time"`
	OpenPrice  decimal.Decimal `json:"open_price" db:"open_price"`
	BullAmount decimal.Decimal `json:"bull_amount" db:"bull_amount"`
	BearAmount decimal.Decimal `json:"bear_amount" db:"bear_amount"`
}

// FinishedRound is a settled round. Immutable once written.
// Winner is nil on a push (close price equal to open price).
type FinishedRound struct {
	ID         uint64          `json:"id" db:"id"`
	BidTime    time.Time       `json:"bid_time" db:"bid_time"`
	OpenTime   time.Time       `json:"open_time" db:"open_time"`
	CloseTime  time.Time       `json:"close_time" db:"close_time"`
	OpenPrice  decimal.Decimal `json:"open_price" db:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price" db:"close_price"`
	Winner     *Direction      `json:"winner" db:"winner"`
	BullAmount decimal.Decimal `json:"bull_amount" db:"bull_amount"`
	BearAmount decimal.Decimal `json:"bear_amount" db:"bear_amount"`
}

// Bet is a single wager, keyed by (round_id, player). A player holds at most
// one bet per round. The stored amount is net of fee — it is the only amount
// ever pooled, paid out, or refunded.
type Bet struct {
	ID        string          `json:"id" db:"id"`
	Player    string          `json:"player" db:"player"`
	RoundID   uint64          `json:"round_id" db:"round_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Direction Direction       `json:"direction" db:"direction"`
	PlacedAt  time.Time       `json:"placed_at" db:"placed_at"`
}

// Config holds the governance-mutable market parameters.
type Config struct {
	// RoundSeconds is the length of each betting window and of each live
	// window; bidding rounds chain back-to-back at this interval.
	RoundSeconds uint64 `json:"round_seconds" db:"round_seconds"`

	// MinimumBet is the smallest accepted gross wager.
	MinimumBet decimal.Decimal `json:"minimum_bet" db:"minimum_bet"`

	// FeeBps is the protocol fee in basis points (100 = 1%), taken out of
	// every gross wager before it is pooled.
	FeeBps int64 `json:"fee_bps" db:"fee_bps"`
}

// RoundDuration returns the configured round length as a time.Duration.
func (c Config) RoundDuration() time.Duration {
	return time.Duration(c.RoundSeconds) * time.Second
}

// Status is the market-wide snapshot returned by the status query.
type Status struct {
	BiddingRound   *BiddingRound   `json:"bidding_round"`
	LiveRound      *LiveRound      `json:"live_round"`
	FinishedRound  *FinishedRound  `json:"finished_round"` // most recent, if any
	TotalVolume    decimal.Decimal `json:"total_volume"`
	AccumulatedFee decimal.Decimal `json:"accumulated_fee"`
	CurrentTime    time.Time       `json:"current_time"`
	Paused         bool            `json:"paused"`
}

// Position summarizes a player's wagers in the still-open bidding round and
// the currently live round.
type Position struct {
	Player         string          `json:"player"`
	NextBullAmount decimal.Decimal `json:"next_bull_amount"`
	NextBearAmount decimal.Decimal `json:"next_bear_amount"`
	LiveBullAmount decimal.Decimal `json:"live_bull_amount"`
	LiveBearAmount decimal.Decimal `json:"live_bear_amount"`
}
