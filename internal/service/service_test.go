package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/oracle"
	"github.com/predictfi/updown-engine/internal/service"
	"github.com/predictfi/updown-engine/internal/store"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

type env struct {
	svc    *service.Service
	store  *store.MemoryStore
	bank   *bank.MemoryBank
	feed   *oracle.StaticFeed
	router chi.Router
	now    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.SetConfig(context.Background(), model.Config{
		RoundSeconds: 300,
		MinimumBet:   d(10),
		FeeBps:       100,
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	bk := bank.NewMemoryBank()
	feed := oracle.NewStaticFeed(d(50))
	svc := service.NewService(st, feed, bk, nil)

	e := &env{
		svc:   svc,
		store: st,
		bank:  bk,
		feed:  feed,
		now:   time.Unix(10000, 0).UTC(),
	}
	svc.SetClock(func() time.Time { return e.now })

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/bets", svc.PlaceBet)
		r.Post("/rounds/advance", svc.AdvanceRound)
		r.Post("/claims", svc.CollectWinnings)
		r.Get("/config", svc.GetConfig)
		r.Get("/status", svc.GetStatus)
		r.Get("/rounds/{id}", svc.GetFinishedRound)
		r.Get("/players/{player}/position", svc.GetPosition)
		r.Get("/players/{player}/bets", svc.ListBets)
		r.Get("/players/{player}/reward", svc.GetPendingReward)
		r.Group(func(r chi.Router) {
			r.Use(service.AdminOnly("secret"))
			r.Put("/config", svc.SetConfig)
			r.Post("/pause", svc.Pause)
			r.Post("/resume", svc.Resume)
		})
	})
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) advance(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/rounds/advance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: status %d: %s", rec.Code, rec.Body.String())
	}
	return rec
}

func (e *env) bet(t *testing.T, player string, roundID uint64, dir string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/bets", map[string]interface{}{
		"player":    player,
		"round_id":  roundID,
		"direction": dir,
		"amount":    fmt.Sprintf("%d", amount),
	})
}

func TestFullLifecycle(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))
	e.bank.Deposit("bob", d(1000))

	// Cold start opens round 0 for bidding.
	e.advance(t)

	// Both sides bet during the window.
	if rec := e.bet(t, "alice", 0, "bull", 100); rec.Code != http.StatusCreated {
		t.Fatalf("alice bet: %d: %s", rec.Code, rec.Body.String())
	}
	if rec := e.bet(t, "bob", 0, "bear", 200); rec.Code != http.StatusCreated {
		t.Fatalf("bob bet: %d: %s", rec.Code, rec.Body.String())
	}

	// Round 0 goes live at 50.
	e.now = e.now.Add(300 * time.Second)
	e.feed.SetPrice(d(50))
	e.advance(t)

	// Round 0 closes at 60: bull wins. Round 1 goes live, round 2 opens.
	e.now = e.now.Add(300 * time.Second)
	e.feed.SetPrice(d(60))
	e.advance(t)

	// One more boundary so round 0 is strictly older than the live round's
	// predecessor and becomes claimable.
	e.now = e.now.Add(300 * time.Second)
	e.advance(t)

	// Pending reward matches the pro-rata share: 99 * 297 / 99.
	rec := e.do(t, http.MethodGet, "/api/v1/players/alice/reward", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reward: %d", rec.Code)
	}
	var reward struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reward); err != nil {
		t.Fatalf("decode reward: %v", err)
	}
	if !reward.Amount.Equal(d(297)) {
		t.Fatalf("pending reward = %s, want 297", reward.Amount)
	}

	// Collect pays out and is not repeatable.
	rec = e.do(t, http.MethodPost, "/api/v1/claims", map[string]string{"player": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d: %s", rec.Code, rec.Body.String())
	}
	var claim struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if !claim.Amount.Equal(d(297)) {
		t.Fatalf("claimed = %s, want 297", claim.Amount)
	}
	if !e.bank.Balance("alice").Equal(d(900 + 297)) {
		t.Fatalf("alice balance = %s", e.bank.Balance("alice"))
	}

	rec = e.do(t, http.MethodPost, "/api/v1/claims", map[string]string{"player": "alice"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second claim: %d", rec.Code)
	}

	// Bob lost everything.
	rec = e.do(t, http.MethodPost, "/api/v1/claims", map[string]string{"player": "bob"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("loser claim: %d", rec.Code)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))
	e.advance(t)

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing player", map[string]interface{}{"round_id": 0, "direction": "bull", "amount": "100"}, http.StatusBadRequest},
		{"bad direction", map[string]interface{}{"player": "a", "round_id": 0, "direction": "sideways", "amount": "100"}, http.StatusBadRequest},
		{"zero amount", map[string]interface{}{"player": "a", "round_id": 0, "direction": "bull", "amount": "0"}, http.StatusBadRequest},
		{"negative amount", map[string]interface{}{"player": "a", "round_id": 0, "direction": "bull", "amount": "-5"}, http.StatusBadRequest},
		{"below minimum", map[string]interface{}{"player": "alice", "round_id": 0, "direction": "bull", "amount": "9"}, http.StatusBadRequest},
		{"wrong round", map[string]interface{}{"player": "alice", "round_id": 7, "direction": "bull", "amount": "100"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/bets", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestPlaceBet_ClosedWindow(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))
	e.advance(t)

	// Exactly at the open boundary the bet is rejected, even before any
	// advance call has promoted the round.
	e.now = e.now.Add(300 * time.Second)
	rec := e.bet(t, "alice", 0, "bull", 100)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdvance_FeedDown(t *testing.T) {
	e := newEnv(t)
	e.advance(t)

	e.now = e.now.Add(300 * time.Second)
	e.feed.SetFailing(true)
	rec := e.do(t, http.MethodPost, "/api/v1/rounds/advance", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPauseGating(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))
	e.advance(t)

	rec := e.do(t, http.MethodPost, "/api/v1/pause", nil, "X-API-Key", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: %d: %s", rec.Code, rec.Body.String())
	}

	// Bets and advances are rejected while paused.
	if rec := e.bet(t, "alice", 0, "bull", 100); rec.Code != http.StatusConflict {
		t.Fatalf("bet while paused: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/rounds/advance", nil); rec.Code != http.StatusConflict {
		t.Fatalf("advance while paused: %d", rec.Code)
	}

	// Queries still answer.
	if rec := e.do(t, http.MethodGet, "/api/v1/status", nil); rec.Code != http.StatusOK {
		t.Fatalf("status while paused: %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/resume", nil, "X-API-Key", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}
	if rec := e.bet(t, "alice", 0, "bull", 100); rec.Code != http.StatusCreated {
		t.Fatalf("bet after resume: %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	e := newEnv(t)

	if rec := e.do(t, http.MethodPost, "/api/v1/pause", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/pause", nil, "X-API-Key", "wrong"); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong key: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/pause", nil, "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: %d", rec.Code)
	}
}

func TestSetConfig(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/config", map[string]interface{}{
		"round_seconds": 600,
		"minimum_bet":   "25",
		"fee_bps":       250,
	}, "X-API-Key", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("set config: %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/config", nil)
	var cfg model.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.RoundSeconds != 600 || cfg.FeeBps != 250 || !cfg.MinimumBet.Equal(d(25)) {
		t.Fatalf("config = %+v", cfg)
	}

	// Invalid values are rejected.
	rec = e.do(t, http.MethodPut, "/api/v1/config", map[string]interface{}{
		"round_seconds": 600,
		"minimum_bet":   "25",
		"fee_bps":       10000,
	}, "X-API-Key", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad fee rate: %d", rec.Code)
	}
	rec = e.do(t, http.MethodPut, "/api/v1/config", map[string]interface{}{
		"round_seconds": 0,
		"minimum_bet":   "25",
		"fee_bps":       100,
	}, "X-API-Key", "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero duration: %d", rec.Code)
	}
}

func TestStatusQuery(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))

	// Before any round exists every slot is null.
	rec := e.do(t, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var st model.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.BiddingRound != nil || st.LiveRound != nil || st.FinishedRound != nil {
		t.Fatalf("expected empty slots: %+v", st)
	}

	e.advance(t)
	e.bet(t, "alice", 0, "bull", 100)
	e.now = e.now.Add(300 * time.Second)
	e.advance(t)
	e.now = e.now.Add(300 * time.Second)
	e.feed.SetPrice(d(40))
	e.advance(t)

	rec = e.do(t, http.MethodGet, "/api/v1/status", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.BiddingRound == nil || st.BiddingRound.ID != 2 {
		t.Fatalf("bidding slot: %+v", st.BiddingRound)
	}
	if st.LiveRound == nil || st.LiveRound.ID != 1 {
		t.Fatalf("live slot: %+v", st.LiveRound)
	}
	if st.FinishedRound == nil || st.FinishedRound.ID != 0 {
		t.Fatalf("finished slot: %+v", st.FinishedRound)
	}
	if st.FinishedRound.Winner == nil || *st.FinishedRound.Winner != model.DirectionBear {
		t.Fatalf("winner: %v", st.FinishedRound.Winner)
	}
	if !st.TotalVolume.Equal(d(99)) {
		t.Fatalf("total volume = %s", st.TotalVolume)
	}
	if !st.AccumulatedFee.Equal(d(1)) {
		t.Fatalf("accumulated fee = %s", st.AccumulatedFee)
	}
}

func TestFinishedRoundQuery(t *testing.T) {
	e := newEnv(t)
	e.advance(t)
	e.now = e.now.Add(300 * time.Second)
	e.advance(t)
	e.now = e.now.Add(300 * time.Second)
	e.feed.SetPrice(d(55))
	e.advance(t)

	rec := e.do(t, http.MethodGet, "/api/v1/rounds/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("known round: %d", rec.Code)
	}
	var round model.FinishedRound
	if err := json.Unmarshal(rec.Body.Bytes(), &round); err != nil {
		t.Fatalf("decode round: %v", err)
	}
	if !round.ClosePrice.Equal(d(55)) {
		t.Fatalf("close price = %s", round.ClosePrice)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/rounds/99", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown round: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/rounds/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad round id: %d", rec.Code)
	}
}

func TestPositionQuery(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))
	e.advance(t)
	e.bet(t, "alice", 0, "bear", 100)
	e.now = e.now.Add(300 * time.Second)
	e.advance(t) // round 0 live, round 1 bidding
	e.bet(t, "alice", 1, "bull", 50)

	rec := e.do(t, http.MethodGet, "/api/v1/players/alice/position", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("position: %d", rec.Code)
	}
	var pos model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if !pos.LiveBearAmount.Equal(d(99)) {
		t.Fatalf("live bear = %s", pos.LiveBearAmount)
	}
	if !pos.NextBullAmount.Equal(d(50)) {
		t.Fatalf("next bull = %s", pos.NextBullAmount)
	}
	if !pos.NextBearAmount.IsZero() || !pos.LiveBullAmount.IsZero() {
		t.Fatalf("unexpected stakes: %+v", pos)
	}
}

func TestListBetsQuery(t *testing.T) {
	e := newEnv(t)

	// Seed directly; pagination behavior is what is under test here.
	for i := uint64(0); i < 15; i++ {
		if err := e.store.PutBet(context.Background(), &model.Bet{
			ID: "x", Player: "alice", RoundID: i, Amount: d(10), Direction: model.DirectionBull,
		}); err != nil {
			t.Fatalf("PutBet: %v", err)
		}
	}

	rec := e.do(t, http.MethodGet, "/api/v1/players/alice/bets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var page struct {
		Bets    []model.Bet `json:"bets"`
		HasMore bool        `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Bets) != 10 || !page.HasMore {
		t.Fatalf("default page: %d bets, has_more=%v", len(page.Bets), page.HasMore)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/players/alice/bets?start_after=9&limit=20", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Bets) != 5 || page.Bets[0].RoundID != 10 || page.HasMore {
		t.Fatalf("cursor page: %+v has_more=%v", page.Bets, page.HasMore)
	}

	// A page that is exactly full with nothing past it reports has_more=false.
	rec = e.do(t, http.MethodGet, "/api/v1/players/alice/bets?limit=15", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Bets) != 15 || page.HasMore {
		t.Fatalf("exact page: %d bets, has_more=%v", len(page.Bets), page.HasMore)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/players/alice/bets?limit=3&order=desc", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Bets) != 3 || page.Bets[0].RoundID != 14 || !page.HasMore {
		t.Fatalf("descending page: %+v has_more=%v", page.Bets, page.HasMore)
	}

	if rec := e.do(t, http.MethodGet, "/api/v1/players/alice/bets?limit=31", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("over-cap limit: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/v1/players/alice/bets?limit=junk", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}

func TestOneSidedRoundRefunds(t *testing.T) {
	e := newEnv(t)
	e.bank.Deposit("alice", d(1000))

	e.advance(t)
	e.bet(t, "alice", 0, "bull", 100)
	e.now = e.now.Add(300 * time.Second)
	e.advance(t)
	e.now = e.now.Add(300 * time.Second)
	e.feed.SetPrice(d(10)) // bear would win, but nobody took bear
	e.advance(t)
	e.now = e.now.Add(300 * time.Second)
	e.advance(t)

	rec := e.do(t, http.MethodPost, "/api/v1/claims", map[string]string{"player": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d: %s", rec.Code, rec.Body.String())
	}
	var claim struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	// The net stake comes back; the fee does not.
	if !claim.Amount.Equal(d(99)) {
		t.Fatalf("refund = %s, want 99", claim.Amount)
	}
}
