package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Expected tables: a single-row engine_state table (config, counters, paused
// flag, round id counter) and a rounds table where the phase column holds
// 'bidding', 'live', or 'finished' — the slot invariant is one row per
// non-finished phase. Bets are keyed (round_id, player) with an index on
// (player, round_id) for ledger scans.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetConfig(ctx context.Context) (model.Config, error) {
	var cfg model.Config
	var minBet string
	err := s.pool.QueryRow(ctx,
		`SELECT round_seconds, minimum_bet::TEXT, fee_bps FROM engine_state WHERE id = 1`).
		Scan(&cfg.RoundSeconds, &minBet, &cfg.FeeBps)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Config{}, model.ErrNotFound
	}
	if err != nil {
		return model.Config{}, fmt.Errorf("get config: %w", err)
	}
	cfg.MinimumBet, _ = decimal.NewFromString(minBet)
	return cfg, nil
}

func (s *PostgresStore) SetConfig(ctx context.Context, cfg model.Config) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_state (id, round_seconds, minimum_bet, fee_bps, next_round_id, paused, accumulated_fee, total_volume)
		 VALUES (1, $1, $2::NUMERIC, $3, 0, FALSE, 0, 0)
		 ON CONFLICT (id) DO UPDATE
		 SET round_seconds = EXCLUDED.round_seconds,
		     minimum_bet = EXCLUDED.minimum_bet,
		     fee_bps = EXCLUDED.fee_bps`,
		cfg.RoundSeconds, cfg.MinimumBet.String(), cfg.FeeBps)
	return err
}

func (s *PostgresStore) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.pool.QueryRow(ctx,
		`SELECT paused FROM engine_state WHERE id = 1`).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return paused, err
}

func (s *PostgresStore) SetPaused(ctx context.Context, paused bool) error {
	return s.updateState(ctx, `UPDATE engine_state SET paused = $1 WHERE id = 1`, paused)
}

func (s *PostgresStore) NextRoundID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_round_id FROM engine_state WHERE id = 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return uint64(id), err
}

func (s *PostgresStore) SetNextRoundID(ctx context.Context, id uint64) error {
	return s.updateState(ctx, `UPDATE engine_state SET next_round_id = $1 WHERE id = 1`, int64(id))
}

func (s *PostgresStore) GetBiddingRound(ctx context.Context) (*model.BiddingRound, error) {
	var r model.BiddingRound
	var bull, bear string
	err := s.pool.QueryRow(ctx,
		`SELECT id, bid_time, open_time, close_time, bull_amount::TEXT, bear_amount::TEXT
		 FROM rounds WHERE phase = 'bidding'`).
		Scan(&r.ID, &r.BidTime, &r.OpenTime, &r.CloseTime, &bull, &bear)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bidding round: %w", err)
	}
	r.BullAmount, _ = decimal.NewFromString(bull)
	r.BearAmount, _ = decimal.NewFromString(bear)
	return &r, nil
}

func (s *PostgresStore) PutBiddingRound(ctx context.Context, r *model.BiddingRound) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, phase, bid_time, open_time, close_time, bull_amount, bear_amount)
		 VALUES ($1, 'bidding', $2, $3, $4, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET bull_amount = EXCLUDED.bull_amount,
		     bear_amount = EXCLUDED.bear_amount`,
		int64(r.ID), r.BidTime, r.OpenTime, r.CloseTime,
		r.BullAmount.String(), r.BearAmount.String())
	return err
}

func (s *PostgresStore) DeleteBiddingRound(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rounds WHERE phase = 'bidding'`)
	return err
}

func (s *PostgresStore) GetLiveRound(ctx context.Context) (*model.LiveRound, error) {
	var r model.LiveRound
	var open, bull, bear string
	err := s.pool.QueryRow(ctx,
		`SELECT id, bid_time, open_time, close_time, open_price::TEXT, bull_amount::TEXT, bear_amount::TEXT
		 FROM rounds WHERE phase = 'live'`).
		Scan(&r.ID, &r.BidTime, &r.OpenTime, &r.CloseTime, &open, &bull, &bear)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live round: %w", err)
	}
	r.OpenPrice, _ = decimal.NewFromString(open)
	r.BullAmount, _ = decimal.NewFromString(bull)
	r.BearAmount, _ = decimal.NewFromString(bear)
	return &r, nil
}

func (s *PostgresStore) PutLiveRound(ctx context.Context, r *model.LiveRound) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, phase, bid_time, open_time, close_time, open_price, bull_amount, bear_amount)
		 VALUES ($1, 'live', $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET phase = 'live',
		     open_time = EXCLUDED.open_time,
		     close_time = EXCLUDED.close_time,
		     open_price = EXCLUDED.open_price,
		     bull_amount = EXCLUDED.bull_amount,
		     bear_amount = EXCLUDED.bear_amount`,
		int64(r.ID), r.BidTime, r.OpenTime, r.CloseTime,
		r.OpenPrice.String(), r.BullAmount.String(), r.BearAmount.String())
	return err
}

func (s *PostgresStore) DeleteLiveRound(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rounds WHERE phase = 'live'`)
	return err
}

func (s *PostgresStore) GetFinishedRound(ctx context.Context, id uint64) (*model.FinishedRound, error) {
	var r model.FinishedRound
	var open, close_, bull, bear string
	var winner *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, bid_time, open_time, close_time, open_price::TEXT, close_price::TEXT,
		        winner, bull_amount::TEXT, bear_amount::TEXT
		 FROM rounds WHERE phase = 'finished' AND id = $1`, int64(id)).
		Scan(&r.ID, &r.BidTime, &r.OpenTime, &r.CloseTime, &open, &close_,
			&winner, &bull, &bear)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get finished round %d: %w", id, err)
	}
	r.OpenPrice, _ = decimal.NewFromString(open)
	r.ClosePrice, _ = decimal.NewFromString(close_)
	r.BullAmount, _ = decimal.NewFromString(bull)
	r.BearAmount, _ = decimal.NewFromString(bear)
	if winner != nil {
		d := model.Direction(*winner)
		r.Winner = &d
	}
	return &r, nil
}

func (s *PostgresStore) PutFinishedRound(ctx context.Context, r *model.FinishedRound) error {
	var winner *string
	if r.Winner != nil {
		w := string(*r.Winner)
		winner = &w
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, phase, bid_time, open_time, close_time, open_price, close_price, winner, bull_amount, bear_amount)
		 VALUES ($1, 'finished', $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET phase = 'finished',
		     close_price = EXCLUDED.close_price,
		     winner = EXCLUDED.winner`,
		int64(r.ID), r.BidTime, r.OpenTime, r.CloseTime,
		r.OpenPrice.String(), r.ClosePrice.String(), winner,
		r.BullAmount.String(), r.BearAmount.String())
	return err
}

func (s *PostgresStore) GetBet(ctx context.Context, roundID uint64, player string) (*model.Bet, error) {
	var b model.Bet
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT id, player, round_id, amount::TEXT, direction, placed_at
		 FROM bets WHERE round_id = $1 AND player = $2`, int64(roundID), player).
		Scan(&b.ID, &b.Player, &b.RoundID, &amount, &b.Direction, &b.PlacedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bet (%d, %s): %w", roundID, player, err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	return &b, nil
}

func (s *PostgresStore) PutBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, player, round_id, amount, direction, placed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		b.ID, b.Player, int64(b.RoundID), b.Amount.String(), string(b.Direction), b.PlacedAt)
	return err
}

func (s *PostgresStore) DeleteBet(ctx context.Context, roundID uint64, player string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM bets WHERE round_id = $1 AND player = $2`, int64(roundID), player)
	return err
}

func (s *PostgresStore) ListBetsByPlayer(ctx context.Context, player string, startAfter *uint64, limit int, descending bool) ([]model.Bet, error) {
	query := `SELECT id, player, round_id, amount::TEXT, direction, placed_at
	          FROM bets WHERE player = $1`
	args := []interface{}{player}
	if startAfter != nil {
		if descending {
			query += ` AND round_id < $2`
		} else {
			query += ` AND round_id > $2`
		}
		args = append(args, int64(*startAfter))
	}
	if descending {
		query += ` ORDER BY round_id DESC`
	} else {
		query += ` ORDER BY round_id ASC`
	}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amount string
		if err := rows.Scan(&b.ID, &b.Player, &b.RoundID, &amount, &b.Direction, &b.PlacedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amount)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) AddAccumulatedFee(ctx context.Context, amount decimal.Decimal) error {
	return s.updateState(ctx,
		`UPDATE engine_state SET accumulated_fee = accumulated_fee + $1::NUMERIC WHERE id = 1`,
		amount.String())
}

func (s *PostgresStore) AccumulatedFee(ctx context.Context) (decimal.Decimal, error) {
	return s.stateNumeric(ctx, `SELECT accumulated_fee::TEXT FROM engine_state WHERE id = 1`)
}

func (s *PostgresStore) AddTotalVolume(ctx context.Context, amount decimal.Decimal) error {
	return s.updateState(ctx,
		`UPDATE engine_state SET total_volume = total_volume + $1::NUMERIC WHERE id = 1`,
		amount.String())
}

func (s *PostgresStore) TotalVolume(ctx context.Context) (decimal.Decimal, error) {
	return s.stateNumeric(ctx, `SELECT total_volume::TEXT FROM engine_state WHERE id = 1`)
}

// updateState runs a single-row engine_state update and fails loudly when
// the state row has not been seeded yet.
func (s *PostgresStore) updateState(ctx context.Context, query string, args ...interface{}) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("engine state not initialized: %w", model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) stateNumeric(ctx context.Context, query string) (decimal.Decimal, error) {
	var v string
	err := s.pool.QueryRow(ctx, query).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(v)
	return d, nil
}
