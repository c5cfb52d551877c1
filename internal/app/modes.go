package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/boxmeout/marketcore/internal/service"
)

// ResolverMode runs the long-lived settlement daemon: one loop sweeps open
// markets past their closing time, another polls due markets for oracle
// consensus and resolves and settles them. Both loops share the errgroup so a
// fatal error in either shuts the process down.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode",
		slog.Duration("sweep_interval", a.cfg.Resolver.SweepInterval()),
		slog.Duration("resolve_interval", a.cfg.Resolver.ResolveInterval()),
	)

	svc, err := a.Services(deps)
	if err != nil {
		return fmt.Errorf("resolver mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runLoop(ctx, a.cfg.Resolver.SweepInterval(), func(ctx context.Context) {
			if _, err := svc.Markets.SweepDueMarkets(ctx); err != nil {
				a.logger.ErrorContext(ctx, "closing sweep failed",
					slog.String("error", err.Error()),
				)
			}
		})
	})

	g.Go(func() error {
		return runLoop(ctx, a.cfg.Resolver.ResolveInterval(), func(ctx context.Context) {
			if _, err := svc.Coordinator.ResolveDue(ctx); err != nil {
				a.logger.ErrorContext(ctx, "resolution pass failed",
					slog.String("error", err.Error()),
				)
			}
		})
	})

	return g.Wait()
}

// SweepMode runs one closing sweep and one resolution pass, then exits. Meant
// for cron-style deployments where a scheduler owns the cadence.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	svc, err := a.Services(deps)
	if err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}

	closed, err := svc.Markets.SweepDueMarkets(ctx)
	if err != nil {
		return fmt.Errorf("sweep mode: closing sweep: %w", err)
	}
	resolved, err := svc.Coordinator.ResolveDue(ctx)
	if err != nil {
		return fmt.Errorf("sweep mode: resolution pass: %w", err)
	}

	a.logger.InfoContext(ctx, "sweep finished",
		slog.Int("closed", closed),
		slog.Int("resolved", resolved),
	)
	return nil
}

// Services is the assembled service layer. The background modes drive Markets
// and Coordinator; Predictions is the user-facing commit/reveal/claim surface
// an embedding transport exposes.
type Services struct {
	Markets     *service.MarketService
	Predictions *service.PredictionService
	Coordinator *service.ResolutionCoordinator
}

// Services assembles the full service layer from wired dependencies.
func (a *App) Services(deps *Dependencies) (*Services, error) {
	multiplier, err := decimal.NewFromString(a.cfg.Settlement.PayoutMultiplier)
	if err != nil {
		return nil, fmt.Errorf("parse payout multiplier %q: %w", a.cfg.Settlement.PayoutMultiplier, err)
	}

	engine, err := service.NewSettlementEngine(deps.PredictionStore, deps.TxRunner, multiplier, a.logger)
	if err != nil {
		return nil, err
	}

	markets := service.NewMarketService(
		deps.MarketStore, deps.PredictionStore, deps.BalanceLedger,
		deps.TxRunner, deps.MarketCache, deps.AuditStore, a.logger,
	)

	predictions := service.NewPredictionService(
		deps.MarketStore, deps.PredictionStore, deps.BalanceLedger,
		deps.TxRunner, deps.Codec, deps.Mirror, deps.MarketCache,
		deps.AuditStore, a.logger,
	)

	coordinator := service.NewResolutionCoordinator(
		deps.MarketStore, engine, deps.Oracle, deps.LockManager,
		deps.Mirror, deps.Archiver, deps.MarketCache,
		deps.TxRunner, deps.AuditStore,
		a.cfg.Resolver.LockTTL(), a.logger,
	)

	return &Services{
		Markets:     markets,
		Predictions: predictions,
		Coordinator: coordinator,
	}, nil
}

// runLoop runs fn immediately and then on every tick until the context is
// cancelled.
func runLoop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}

	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
