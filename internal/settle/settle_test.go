package settle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/store"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func bull() *model.Direction { w := model.DirectionBull; return &w }
func bear() *model.Direction { w := model.DirectionBear; return &w }

func finished(id uint64, winner *model.Direction, bullPool, bearPool int64) *model.FinishedRound {
	return &model.FinishedRound{
		ID:         id,
		Winner:     winner,
		BullAmount: d(bullPool),
		BearAmount: d(bearPool),
	}
}

func TestPayoutFor(t *testing.T) {
	cases := []struct {
		name  string
		round *model.FinishedRound
		bet   *model.Bet
		want  int64
	}{
		{
			name:  "winner takes pro-rata share of whole pool",
			round: finished(0, bull(), 99, 198),
			bet:   &model.Bet{RoundID: 0, Amount: d(99), Direction: model.DirectionBull},
			want:  297, // 99 * 297 / 99
		},
		{
			name:  "loser gets nothing",
			round: finished(0, bull(), 99, 198),
			bet:   &model.Bet{RoundID: 0, Amount: d(198), Direction: model.DirectionBear},
			want:  0,
		},
		{
			name:  "push refunds stake",
			round: finished(0, nil, 100, 200),
			bet:   &model.Bet{RoundID: 0, Amount: d(200), Direction: model.DirectionBear},
			want:  200,
		},
		{
			name:  "one-sided round refunds even the winner",
			round: finished(0, bull(), 99, 0),
			bet:   &model.Bet{RoundID: 0, Amount: d(99), Direction: model.DirectionBull},
			want:  99,
		},
		{
			name:  "one-sided round refunds the loser too",
			round: finished(0, bull(), 0, 150),
			bet:   &model.Bet{RoundID: 0, Amount: d(150), Direction: model.DirectionBear},
			want:  150,
		},
		{
			name:  "payout division floors",
			round: finished(0, bear(), 100, 3),
			bet:   &model.Bet{RoundID: 0, Amount: d(1), Direction: model.DirectionBear},
			want:  34, // 1 * 103 / 3 = 34.33 floored
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PayoutFor(tc.round, tc.bet)
			assert.True(t, got.Equal(d(tc.want)), "payout = %s, want %d", got, tc.want)
		})
	}
}

func TestPayoutFor_PoolConservation(t *testing.T) {
	// Sum of all winner payouts never exceeds the pool; the flooring
	// remainder is forfeited.
	round := finished(0, bull(), 7, 10) // pool 17
	stakes := []int64{3, 4}             // the bull side
	paid := decimal.Zero
	for _, s := range stakes {
		paid = paid.Add(PayoutFor(round, &model.Bet{Amount: d(s), Direction: model.DirectionBull}))
	}
	// 3*17/7=7 and 4*17/7=9: 16 paid, 1 forfeited.
	assert.True(t, paid.Equal(d(16)), "paid = %s", paid)
	assert.True(t, paid.LessThanOrEqual(d(17)))
}

type claimEnv struct {
	engine *Engine
	store  *store.MemoryStore
	bank   *bank.MemoryBank
}

func newClaimEnv(t *testing.T, biddingID uint64) *claimEnv {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutBiddingRound(ctx, &model.BiddingRound{ID: biddingID}))
	bk := bank.NewMemoryBank()
	return &claimEnv{engine: NewEngine(st, bk), store: st, bank: bk}
}

func (e *claimEnv) seedBet(t *testing.T, roundID uint64, player string, amount int64, dir model.Direction) {
	t.Helper()
	require.NoError(t, e.store.PutBet(context.Background(), &model.Bet{
		ID:        "seed",
		Player:    player,
		RoundID:   roundID,
		Amount:    d(amount),
		Direction: dir,
	}))
	// Stakes entered custody when placed.
	e.bank.Deposit(player, d(amount))
	require.NoError(t, e.bank.Debit(context.Background(), player, d(amount)))
}

// fundCustody stands in for the rest of the pool: stakes placed by players
// whose bets are not part of the test.
func (e *claimEnv) fundCustody(t *testing.T, amount int64) {
	t.Helper()
	e.bank.Deposit("others", d(amount))
	require.NoError(t, e.bank.Debit(context.Background(), "others", d(amount)))
}

func TestCollect_PaysAndDeletes(t *testing.T) {
	env := newClaimEnv(t, 3) // rounds 0 and 1 fully finished, 2 is live
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 99, 198)))
	env.seedBet(t, 0, "alice", 99, model.DirectionBull)
	env.seedBet(t, 0, "bob", 198, model.DirectionBear)

	total, err := env.engine.Collect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(297)), "total = %s", total)
	assert.True(t, env.bank.Balance("alice").Equal(d(297)))

	// The claimed record is gone, so the claim cannot repeat.
	bet, err := env.store.GetBet(ctx, 0, "alice")
	require.NoError(t, err)
	assert.Nil(t, bet)
	_, err = env.engine.Collect(ctx, "alice")
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

// brokenBank debits normally but refuses every credit, standing in for a
// transfer collaborator that is down.
type brokenBank struct {
	*bank.MemoryBank
}

func (b brokenBank) Credit(context.Context, string, decimal.Decimal) error {
	return bank.ErrTransferFailed
}

func TestCollect_TransferFailureKeepsRecords(t *testing.T) {
	env := newClaimEnv(t, 3)
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 99, 198)))
	env.seedBet(t, 0, "alice", 99, model.DirectionBull)
	env.seedBet(t, 0, "bob", 198, model.DirectionBear)

	// Payout fails at the transfer step: the whole claim must abort with
	// every bet record still in place.
	down := NewEngine(env.store, brokenBank{env.bank})
	_, err := down.Collect(ctx, "alice")
	require.ErrorIs(t, err, bank.ErrTransferFailed)

	bet, err := env.store.GetBet(ctx, 0, "alice")
	require.NoError(t, err)
	require.NotNil(t, bet, "aborted claim must not consume the bet record")
	assert.True(t, env.bank.Balance("alice").IsZero())

	// Once the collaborator recovers, the retry pays out in full.
	total, err := env.engine.Collect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(297)), "total = %s", total)
	assert.True(t, env.bank.Balance("alice").Equal(d(297)))
}

func TestCollect_LoserOnlyNothingToClaim(t *testing.T) {
	env := newClaimEnv(t, 3)
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 99, 198)))
	env.seedBet(t, 0, "bob", 198, model.DirectionBear)

	_, err := env.engine.Collect(ctx, "bob")
	assert.ErrorIs(t, err, ErrNothingToClaim)

	// Zero total means no deletion: the losing record survives the scan.
	bet, err := env.store.GetBet(ctx, 0, "bob")
	require.NoError(t, err)
	require.NotNil(t, bet)
}

func TestCollect_SumsAcrossRounds(t *testing.T) {
	env := newClaimEnv(t, 4) // rounds 0..2 finished, 3 bidding
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 50, 50)))
	require.NoError(t, env.store.PutFinishedRound(ctx, finished(1, nil, 30, 70)))
	require.NoError(t, env.store.PutFinishedRound(ctx, finished(2, bear(), 20, 40)))
	env.seedBet(t, 0, "alice", 50, model.DirectionBull) // wins: 50*100/50 = 100
	env.seedBet(t, 1, "alice", 30, model.DirectionBull) // push: 30 back
	env.seedBet(t, 2, "alice", 20, model.DirectionBull) // loses: 0
	env.fundCustody(t, 160)                             // counterpart stakes

	total, err := env.engine.Collect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(130)), "total = %s", total)

	// All three eligible records were removed, winners and losers alike.
	for id := uint64(0); id < 3; id++ {
		bet, err := env.store.GetBet(ctx, id, "alice")
		require.NoError(t, err)
		assert.Nil(t, bet, "round %d", id)
	}
}

func TestCollect_SkipsLiveRound(t *testing.T) {
	env := newClaimEnv(t, 2) // round 1 is live, only round 0 settled
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 10, 10)))
	env.seedBet(t, 0, "alice", 10, model.DirectionBull)
	env.seedBet(t, 1, "alice", 40, model.DirectionBull) // still live

	total, err := env.engine.Collect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(20)))

	// The live-round bet is untouched.
	bet, err := env.store.GetBet(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotNil(t, bet)
}

func TestCollect_TooEarly(t *testing.T) {
	// With fewer than two rounds ever opened nothing can have finished.
	env := newClaimEnv(t, 1)
	env.seedBet(t, 0, "alice", 10, model.DirectionBull)

	_, err := env.engine.Collect(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestPendingReward_DryRun(t *testing.T) {
	env := newClaimEnv(t, 3)
	ctx := context.Background()

	require.NoError(t, env.store.PutFinishedRound(ctx, finished(0, bull(), 99, 198)))
	env.seedBet(t, 0, "alice", 99, model.DirectionBull)
	env.seedBet(t, 2, "alice", 10, model.DirectionBull) // round not finished

	total, err := env.engine.PendingReward(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, total.Equal(d(297)))

	// Nothing moved or deleted.
	assert.True(t, env.bank.Balance("alice").IsZero())
	bet, err := env.store.GetBet(ctx, 0, "alice")
	require.NoError(t, err)
	require.NotNil(t, bet)
}
