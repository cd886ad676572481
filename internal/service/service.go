// Package service provides the HTTP surface of the prediction engine:
// placing bets, advancing rounds, collecting winnings, the admin commands,
// and the read-only market queries.
//
// Every command runs under a single mutex. The engine's correctness depends
// on fully serialized, atomic-per-call execution; in-process, a single-writer
// lock per market is that guarantee.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/fee"
	"github.com/predictfi/updown-engine/internal/ledger"
	"github.com/predictfi/updown-engine/internal/metrics"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/oracle"
	"github.com/predictfi/updown-engine/internal/round"
	"github.com/predictfi/updown-engine/internal/settle"
	"github.com/predictfi/updown-engine/internal/store"
)

// Service handles market operations.
type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	scheduler *round.Scheduler
	settler   *settle.Engine
	fees      *fee.Accumulator
	hub       *Hub // optional, nil disables broadcasts
	now       func() time.Time
	mu        sync.Mutex
}

// NewService wires the engine components over one store and its
// collaborators. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, feed oracle.PriceFeed, bk bank.Bank, hub *Hub) *Service {
	fees := fee.NewAccumulator(st)
	return &Service{
		store:     st,
		ledger:    ledger.NewLedger(st, fees, bk),
		scheduler: round.NewScheduler(st, feed),
		settler:   settle.NewEngine(st, bk),
		fees:      fees,
		hub:       hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Tests drive the lifecycle with a
// synthetic clock; production leaves the default in place.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// --- Request/Response types ---

// BetRequest is the JSON body for POST /api/v1/bets.
type BetRequest struct {
	Player    string          `json:"player"`
	RoundID   uint64          `json:"round_id"`
	Direction model.Direction `json:"direction"`
	Amount    decimal.Decimal `json:"amount"` // gross
}

// BetResponse is returned from POST /api/v1/bets.
type BetResponse struct {
	BetID     string          `json:"bet_id"`
	Player    string          `json:"player"`
	RoundID   uint64          `json:"round_id"`
	Direction model.Direction `json:"direction"`
	Gross     decimal.Decimal `json:"gross"`
	Fee       decimal.Decimal `json:"fee"`
	Net       decimal.Decimal `json:"net"`
}

// ClaimRequest is the JSON body for POST /api/v1/claims.
type ClaimRequest struct {
	Player string `json:"player"`
}

// ClaimResponse is returned from POST /api/v1/claims.
type ClaimResponse struct {
	ClaimID string          `json:"claim_id"`
	Player  string          `json:"player"`
	Amount  decimal.Decimal `json:"amount"`
}

// AdvanceResponse is returned from POST /api/v1/rounds/advance.
type AdvanceResponse struct {
	Advanced bool          `json:"advanced"`
	Outcome  round.Outcome `json:"outcome"`
}

// --- Command handlers ---

// PlaceBet handles POST /api/v1/bets.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Player == "" {
		writeError(w, "player is required", http.StatusBadRequest)
		return
	}
	if !req.Direction.Valid() {
		writeError(w, "direction must be bull or bear", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectIfPaused(ctx, w) {
		return
	}

	bet, err := s.ledger.PlaceBet(ctx, req.RoundID, req.Player, req.Amount, req.Direction, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.BetsTotal.WithLabelValues(string(bet.Direction)).Inc()
	metrics.BetVolume.WithLabelValues(string(bet.Direction)).Add(bet.Amount.InexactFloat64())

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:      EventBetPlaced,
			RoundID:   bet.RoundID,
			Player:    bet.Player,
			Direction: string(bet.Direction),
			Amount:    bet.Amount.String(),
		})
	}

	writeJSON(w, http.StatusCreated, BetResponse{
		BetID:     bet.ID,
		Player:    bet.Player,
		RoundID:   bet.RoundID,
		Direction: bet.Direction,
		Gross:     req.Amount,
		Fee:       req.Amount.Sub(bet.Amount),
		Net:       bet.Amount,
	})
}

// AdvanceRound handles POST /api/v1/rounds/advance. Permissionless: anyone
// may trigger it, any number of times; redundant calls are no-ops.
func (s *Service) AdvanceRound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectIfPaused(ctx, w) {
		return
	}

	out, err := s.scheduler.Advance(ctx, s.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if out.Finished != nil {
		metrics.RoundTransitions.WithLabelValues("finished").Inc()
		if s.hub != nil {
			s.hub.Broadcast(Event{
				Type:       EventRoundFinished,
				RoundID:    out.Finished.ID,
				ClosePrice: out.Finished.ClosePrice.String(),
				Winner:     winnerString(out.Finished.Winner),
			})
		}
	}
	if out.WentLive != nil {
		metrics.RoundTransitions.WithLabelValues("live").Inc()
		if s.hub != nil {
			s.hub.Broadcast(Event{
				Type:      EventRoundLive,
				RoundID:   out.WentLive.ID,
				OpenPrice: out.WentLive.OpenPrice.String(),
			})
		}
	}
	if out.NewBidding != nil {
		metrics.RoundTransitions.WithLabelValues("bidding").Inc()
		if s.hub != nil {
			s.hub.Broadcast(Event{
				Type:    EventRoundBidding,
				RoundID: out.NewBidding.ID,
			})
		}
	}

	writeJSON(w, http.StatusOK, AdvanceResponse{
		Advanced: !out.NoOp(),
		Outcome:  out,
	})
}

// CollectWinnings handles POST /api/v1/claims.
func (s *Service) CollectWinnings(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Player == "" {
		writeError(w, "player is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.settler.Collect(ctx, req.Player)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.ClaimsTotal.Inc()
	metrics.ClaimAmount.Add(total.InexactFloat64())

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:   EventClaim,
			Player: req.Player,
			Amount: total.String(),
		})
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		ClaimID: uuid.New().String(),
		Player:  req.Player,
		Amount:  total,
	})
}

// SetConfig handles PUT /api/v1/config. Admin only (gated at the router).
// Full-replace semantics: the submitted config becomes the config.
func (s *Service) SetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.RoundSeconds == 0 {
		writeError(w, "round_seconds must be positive", http.StatusBadRequest)
		return
	}
	if cfg.MinimumBet.IsNegative() {
		writeError(w, "minimum_bet must not be negative", http.StatusBadRequest)
		return
	}
	if err := fee.ValidateRate(cfg.FeeBps); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("config updated",
		"round_seconds", cfg.RoundSeconds,
		"minimum_bet", cfg.MinimumBet.String(),
		"fee_bps", cfg.FeeBps,
	)
	writeJSON(w, http.StatusOK, cfg)
}

// Pause handles POST /api/v1/pause. Admin only. Disables PlaceBet and
// AdvanceRound; claims and queries stay available.
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

// Resume handles POST /api/v1/resume. Admin only.
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Service) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetPaused(r.Context(), paused); err != nil {
		writeDomainError(w, err)
		return
	}

	gauge := 0.0
	if paused {
		gauge = 1.0
	}
	metrics.Paused.Set(gauge)

	slog.Info("paused state changed", "paused", paused)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// rejectIfPaused writes the paused error and reports true when the engine is
// paused. Must be called with the mutex held.
func (s *Service) rejectIfPaused(ctx context.Context, w http.ResponseWriter) bool {
	paused, err := s.store.IsPaused(ctx)
	if err != nil {
		writeDomainError(w, err)
		return true
	}
	if paused {
		writeDomainError(w, model.ErrPaused)
		return true
	}
	return false
}

// --- Helpers ---

func winnerString(w *model.Direction) string {
	if w == nil {
		return "push"
	}
	return string(*w)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps a domain error onto an HTTP status:
// validation → 400, state conflicts → 409, missing entities → 404,
// collaborator failures → 502.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrWrongRound),
		errors.Is(err, ledger.ErrBelowMinimum),
		errors.Is(err, ledger.ErrDuplicateBet),
		errors.Is(err, ledger.ErrPageTooLarge),
		errors.Is(err, bank.ErrInsufficientFunds),
		errors.Is(err, fee.ErrInvalidRate):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrBettingClosed),
		errors.Is(err, settle.ErrNothingToClaim),
		errors.Is(err, model.ErrPaused):
		status = http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrUnavailable),
		errors.Is(err, bank.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeError(w, err.Error(), status)
}
