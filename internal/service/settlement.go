package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/domain"
)

// SettlementEngine computes and persists per-prediction outcomes for a
// resolved market. Settlement runs as one batch inside one transaction and
// is idempotent: re-running it over a partially or fully settled market
// recomputes every row and verifies that already-settled rows carry the same
// result it would produce now. A verification mismatch aborts the batch.
type SettlementEngine struct {
	predictions domain.PredictionStore
	tx          domain.TxRunner
	multiplier  decimal.Decimal
	logger      *slog.Logger
}

// NewSettlementEngine creates a SettlementEngine. multiplier is the fixed
// payout multiplier applied to winning stakes (gross payout per unit staked),
// and must exceed 1 so winners come out ahead.
func NewSettlementEngine(
	predictions domain.PredictionStore,
	tx domain.TxRunner,
	multiplier decimal.Decimal,
	logger *slog.Logger,
) (*SettlementEngine, error) {
	if multiplier.LessThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("settlement: payout multiplier must exceed 1, got %s", multiplier)
	}
	return &SettlementEngine{
		predictions: predictions,
		tx:          tx,
		multiplier:  multiplier,
		logger:      logger.With(slog.String("component", "settlement")),
	}, nil
}

// SettleMarket settles every prediction on a resolved market and returns the
// batch report. The market must already be resolved with a winning outcome;
// the engine never decides outcomes, it only applies them.
//
// Committed predictions whose owner never revealed are forfeited: they settle
// as losers of their full stake regardless of the hidden choice.
func (e *SettlementEngine) SettleMarket(ctx context.Context, m domain.Market) (domain.SettlementReport, error) {
	if m.Status != domain.MarketStatusResolved || m.WinningOutcome == nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement: market %s is not resolved: %w", m.ID, domain.ErrInvalidTransition)
	}
	winning := *m.WinningOutcome

	now := time.Now().UTC()
	report := domain.SettlementReport{
		MarketID:       m.ID,
		WinningOutcome: winning,
		Source:         m.ResolutionSource,
		TotalStaked:    decimal.Zero,
		TotalOwed:      decimal.Zero,
		SettledAt:      now,
	}

	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		preds, err := e.predictions.ListByMarket(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("settlement: list predictions for %s: %w", m.ID, err)
		}

		for _, p := range preds {
			isWinner, pnl := e.outcome(p, winning)

			switch p.Status {
			case domain.PredictionStatusSettled:
				// Idempotent re-run: the stored result must match what we
				// would compute now.
				if p.IsWinner == nil || p.PnL == nil ||
					*p.IsWinner != isWinner || !p.PnL.Equal(pnl) {
					return fmt.Errorf("settlement: prediction %s stored result diverges from recomputation: %w",
						p.ID, domain.ErrSettlementMismatch)
				}
			case domain.PredictionStatusCommitted, domain.PredictionStatusRevealed:
				if err := e.predictions.MarkSettled(ctx, p.ID, isWinner, pnl, now); err != nil {
					return fmt.Errorf("settlement: settle prediction %s: %w", p.ID, err)
				}
			case domain.PredictionStatusDisputed:
				e.logger.WarnContext(ctx, "skipping disputed prediction",
					slog.String("prediction_id", p.ID),
					slog.String("market_id", m.ID),
				)
				continue
			}

			report.TotalStaked = report.TotalStaked.Add(p.Amount)
			switch {
			case isWinner:
				report.Winners++
				report.TotalOwed = report.TotalOwed.Add(p.Amount.Add(pnl))
			case p.Revealed():
				report.Losers++
			default:
				report.Forfeited++
			}
		}
		return nil
	})
	if err != nil {
		return domain.SettlementReport{}, err
	}

	report.PlatformTake = report.TotalStaked.Sub(report.TotalOwed)

	e.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", m.ID),
		slog.Int("winners", report.Winners),
		slog.Int("losers", report.Losers),
		slog.Int("forfeited", report.Forfeited),
		slog.String("total_staked", report.TotalStaked.String()),
		slog.String("platform_take", report.PlatformTake.String()),
	)
	return report, nil
}

// outcome computes a prediction's settlement result against the winning
// outcome. A winner's profit is its stake times the payout multiplier, floored
// to money precision, minus the stake. Everyone else, including unrevealed
// forfeits, loses the full stake.
func (e *SettlementEngine) outcome(p domain.Prediction, winning domain.Outcome) (bool, decimal.Decimal) {
	if p.Revealed() && p.Outcome != nil && *p.Outcome == winning {
		gross := domain.FloorMoney(p.Amount.Mul(e.multiplier))
		return true, gross.Sub(p.Amount)
	}
	return false, p.Amount.Neg()
}
