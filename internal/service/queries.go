package service

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/model"
)

// BetsPage is the paginated response for a player's open bets.
type BetsPage struct {
	Bets    []model.Bet `json:"bets"`
	HasMore bool        `json:"has_more"`
}

// RewardResponse is returned from GET /api/v1/players/{player}/reward.
type RewardResponse struct {
	Player string          `json:"player"`
	Amount decimal.Decimal `json:"amount"`
}

// GetConfig handles GET /api/v1/config.
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetStatus handles GET /api/v1/status. Returns the current bidding and
// live rounds, the most recent finished round, and the aggregate counters.
// Any of the three round slots may be null early in the market's life.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bidding, err := s.store.GetBiddingRound(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	live, err := s.store.GetLiveRound(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var finished *model.FinishedRound
	if id, ok := latestFinishedID(bidding, live); ok {
		finished, err = s.store.GetFinishedRound(ctx, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	volume, err := s.store.TotalVolume(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	fees, err := s.fees.Total(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	paused, err := s.store.IsPaused(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.Status{
		BiddingRound:   bidding,
		LiveRound:      live,
		FinishedRound:  finished,
		TotalVolume:    volume,
		AccumulatedFee: fees,
		CurrentTime:    s.now(),
		Paused:         paused,
	})
}

// latestFinishedID derives the id of the most recently finished round from
// the ids of the rounds still in flight. Round ids are assigned in strict
// creation order, so the round before the live one (or two before the
// bidding one when nothing is live) is the freshest finished round, if any
// round has finished at all.
func latestFinishedID(bidding *model.BiddingRound, live *model.LiveRound) (uint64, bool) {
	if live != nil && live.ID > 0 {
		return live.ID - 1, true
	}
	if live == nil && bidding != nil && bidding.ID >= 2 {
		return bidding.ID - 2, true
	}
	return 0, false
}

// GetFinishedRound handles GET /api/v1/rounds/{id}.
func (s *Service) GetFinishedRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid round id", http.StatusBadRequest)
		return
	}

	round, err := s.store.GetFinishedRound(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if round == nil {
		writeError(w, "round not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetPosition handles GET /api/v1/players/{player}/position. Reports the
// player's stake in the bidding and live rounds, zero where they have none.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	ctx := r.Context()

	pos := model.Position{
		Player:         player,
		NextBullAmount: decimal.Zero,
		NextBearAmount: decimal.Zero,
		LiveBullAmount: decimal.Zero,
		LiveBearAmount: decimal.Zero,
	}

	bidding, err := s.store.GetBiddingRound(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bidding != nil {
		bet, err := s.store.GetBet(ctx, bidding.ID, player)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		applyPosition(bet, &pos.NextBullAmount, &pos.NextBearAmount)
	}

	live, err := s.store.GetLiveRound(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if live != nil {
		bet, err := s.store.GetBet(ctx, live.ID, player)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		applyPosition(bet, &pos.LiveBullAmount, &pos.LiveBearAmount)
	}

	writeJSON(w, http.StatusOK, pos)
}

func applyPosition(bet *model.Bet, bull, bear *decimal.Decimal) {
	if bet == nil {
		return
	}
	if bet.Direction == model.DirectionBull {
		*bull = bet.Amount
	} else {
		*bear = bet.Amount
	}
}

// ListBets handles GET /api/v1/players/{player}/bets. Query params:
// start_after (exclusive round id cursor), limit (default 10, max 30),
// order=desc for newest first.
func (s *Service) ListBets(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	q := r.URL.Query()

	var startAfter *uint64
	if raw := q.Get("start_after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "invalid start_after", http.StatusBadRequest)
			return
		}
		startAfter = &v
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	descending := q.Get("order") == "desc"

	bets, hasMore, err := s.ledger.ListBets(r.Context(), player, startAfter, limit, descending)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, BetsPage{
		Bets:    bets,
		HasMore: hasMore,
	})
}

// GetPendingReward handles GET /api/v1/players/{player}/reward. A dry run
// of collection: sums what a claim would pay without mutating anything.
func (s *Service) GetPendingReward(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")

	total, err := s.settler.PendingReward(r.Context(), player)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RewardResponse{
		Player: player,
		Amount: total,
	})
}
