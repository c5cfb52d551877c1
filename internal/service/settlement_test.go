package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxmeout/marketcore/internal/domain"
)

func TestNewSettlementEngineRejectsBadMultiplier(t *testing.T) {
	store := newMemStore()

	for _, raw := range []string{"1", "0.5", "0", "-2"} {
		_, err := NewSettlementEngine(
			store.predictionStore(), store, decimal.RequireFromString(raw), testLogger(),
		)
		assert.Error(t, err, "multiplier %s must be rejected", raw)
	}

	_, err := NewSettlementEngine(
		store.predictionStore(), store, decimal.RequireFromString("1.9"), testLogger(),
	)
	assert.NoError(t, err)
}

func TestSettleMarketRequiresResolved(t *testing.T) {
	env := newTestEnv(t)
	m := env.addOpenMarket(t, "m1", time.Hour)

	_, err := env.engine.SettleMarket(context.Background(), m)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSettleMarketSplitsWinnersLosersForfeits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOpenMarket(t, "m1", time.Hour)
	env.fund("alice", "100")
	env.fund("bob", "50")
	env.fund("carol", "30")

	pa, err := env.predictions.Commit(ctx, "alice", "m1", domain.OutcomeYes, decimal.RequireFromString("100"))
	require.NoError(t, err)
	pb, err := env.predictions.Commit(ctx, "bob", "m1", domain.OutcomeNo, decimal.RequireFromString("50"))
	require.NoError(t, err)
	pc, err := env.predictions.Commit(ctx, "carol", "m1", domain.OutcomeYes, decimal.RequireFromString("30"))
	require.NoError(t, err)

	_, err = env.predictions.Reveal(ctx, "alice", pa.ID, "m1")
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "bob", pb.ID, "m1")
	require.NoError(t, err)
	// carol never reveals.

	report := env.resolve(t, "m1", domain.OutcomeYes)

	assert.Equal(t, "m1", report.MarketID)
	assert.Equal(t, domain.OutcomeYes, report.WinningOutcome)
	assert.Equal(t, 1, report.Winners)
	assert.Equal(t, 1, report.Losers)
	assert.Equal(t, 1, report.Forfeited)
	assert.Equal(t, "180", report.TotalStaked.String())
	assert.Equal(t, "190", report.TotalOwed.String(), "winner is owed 100 * 1.9")
	assert.Equal(t, "-10", report.PlatformTake.String())

	alice := env.store.prediction(pa.ID)
	require.NotNil(t, alice.IsWinner)
	assert.True(t, *alice.IsWinner)
	assert.Equal(t, "90", alice.PnL.String())

	bob := env.store.prediction(pb.ID)
	require.NotNil(t, bob.IsWinner)
	assert.False(t, *bob.IsWinner)
	assert.Equal(t, "-50", bob.PnL.String())

	// The forfeited commitment loses its full stake even though its hidden
	// choice was the winning side.
	carol := env.store.prediction(pc.ID)
	assert.Equal(t, domain.PredictionStatusSettled, carol.Status)
	require.NotNil(t, carol.IsWinner)
	assert.False(t, *carol.IsWinner)
	assert.Equal(t, "-30", carol.PnL.String())
}

func TestSettleMarketFloorsWinnings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOpenMarket(t, "m1", time.Hour)
	env.fund("alice", "100")

	// 33.333333 * 1.9 = 63.3333327, floored to 63.333332.
	p, err := env.predictions.Commit(ctx, "alice", "m1", domain.OutcomeYes, decimal.RequireFromString("33.333333"))
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "alice", p.ID, "m1")
	require.NoError(t, err)

	report := env.resolve(t, "m1", domain.OutcomeYes)

	stored := env.store.prediction(p.ID)
	assert.Equal(t, "29.999999", stored.PnL.String())
	assert.Equal(t, "63.333332", report.TotalOwed.String())
}

func TestSettleMarketIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOpenMarket(t, "m1", time.Hour)
	env.fund("alice", "100")
	env.fund("bob", "100")

	pa, err := env.predictions.Commit(ctx, "alice", "m1", domain.OutcomeYes, decimal.RequireFromString("60"))
	require.NoError(t, err)
	pb, err := env.predictions.Commit(ctx, "bob", "m1", domain.OutcomeNo, decimal.RequireFromString("40"))
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "alice", pa.ID, "m1")
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "bob", pb.ID, "m1")
	require.NoError(t, err)

	first := env.resolve(t, "m1", domain.OutcomeYes)
	firstAlice := env.store.prediction(pa.ID)

	m, err := env.store.marketStore().GetByID(ctx, "m1")
	require.NoError(t, err)
	second, err := env.engine.SettleMarket(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, first.Winners, second.Winners)
	assert.Equal(t, first.Losers, second.Losers)
	assert.True(t, first.TotalStaked.Equal(second.TotalStaked))
	assert.True(t, first.TotalOwed.Equal(second.TotalOwed))
	assert.True(t, first.PlatformTake.Equal(second.PlatformTake))

	again := env.store.prediction(pa.ID)
	assert.Equal(t, firstAlice.SettledAt, again.SettledAt, "re-run must not rewrite settled rows")
}

func TestSettleMarketDetectsDivergentResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOpenMarket(t, "m1", time.Hour)
	env.fund("alice", "100")

	p, err := env.predictions.Commit(ctx, "alice", "m1", domain.OutcomeYes, decimal.RequireFromString("100"))
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "alice", p.ID, "m1")
	require.NoError(t, err)
	env.resolve(t, "m1", domain.OutcomeYes)

	// Corrupt the stored result; the re-run must refuse to paper over it.
	tampered := env.store.prediction(p.ID)
	wrong := decimal.RequireFromString("9999")
	tampered.PnL = &wrong
	env.store.setPrediction(tampered)

	m, err := env.store.marketStore().GetByID(ctx, "m1")
	require.NoError(t, err)
	_, err = env.engine.SettleMarket(ctx, m)
	assert.ErrorIs(t, err, domain.ErrSettlementMismatch)
}

func TestSettleMarketPositivePlatformTake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOpenMarket(t, "m1", time.Hour)
	env.fund("alice", "10")
	env.fund("bob", "100")

	pa, err := env.predictions.Commit(ctx, "alice", "m1", domain.OutcomeYes, decimal.RequireFromString("10"))
	require.NoError(t, err)
	pb, err := env.predictions.Commit(ctx, "bob", "m1", domain.OutcomeNo, decimal.RequireFromString("100"))
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "alice", pa.ID, "m1")
	require.NoError(t, err)
	_, err = env.predictions.Reveal(ctx, "bob", pb.ID, "m1")
	require.NoError(t, err)

	report := env.resolve(t, "m1", domain.OutcomeYes)

	// Winner is owed 19, stakes total 110, the platform keeps 91.
	assert.Equal(t, "110", report.TotalStaked.String())
	assert.Equal(t, "19", report.TotalOwed.String())
	assert.Equal(t, "91", report.PlatformTake.String())
}
