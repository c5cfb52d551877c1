package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/domain"
)

// MarketService owns the market lifecycle: open -> closed -> resolved, with
// creator-initiated cancellation before resolution. Resolution itself goes
// through the ResolutionCoordinator; this service only performs the guarded
// status transition it is handed.
type MarketService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	balances    domain.BalanceLedger
	tx          domain.TxRunner
	cache       domain.MarketCache
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// cache may be nil.
func NewMarketService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	balances domain.BalanceLedger,
	tx domain.TxRunner,
	cache domain.MarketCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:     markets,
		predictions: predictions,
		balances:    balances,
		tx:          tx,
		cache:       cache,
		audit:       audit,
		logger:      logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarketParams carries the creation workflow's inputs.
type CreateMarketParams struct {
	Question     string
	OutcomeNames [2]string
	Creator      string
	ClosingAt    time.Time
	ResolutionAt time.Time
}

// CreateMarket opens a new binary market. Called by the external market
// creation workflow.
func (s *MarketService) CreateMarket(ctx context.Context, params CreateMarketParams) (domain.Market, error) {
	now := time.Now().UTC()

	if strings.TrimSpace(params.Question) == "" {
		return domain.Market{}, fmt.Errorf("market_service: question must not be empty")
	}
	if params.OutcomeNames[0] == "" || params.OutcomeNames[1] == "" {
		return domain.Market{}, fmt.Errorf("market_service: both outcome names are required")
	}
	if !params.ClosingAt.After(now) {
		return domain.Market{}, fmt.Errorf("market_service: closing time must be in the future")
	}
	if !params.ResolutionAt.After(params.ClosingAt) {
		return domain.Market{}, fmt.Errorf("market_service: resolution time must follow closing time")
	}

	m := domain.Market{
		ID:           uuid.NewString(),
		Question:     params.Question,
		OutcomeNames: params.OutcomeNames,
		Creator:      params.Creator,
		Status:       domain.MarketStatusOpen,
		ClosingAt:    params.ClosingAt.UTC(),
		ResolutionAt: params.ResolutionAt.UTC(),
		YesPool:      decimal.Zero,
		NoPool:       decimal.Zero,
		TotalVolume:  decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	s.auditLog(ctx, "market_created", map[string]any{
		"market_id":  m.ID,
		"creator":    m.Creator,
		"closing_at": m.ClosingAt,
	})
	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("creator", m.Creator),
	)
	return m, nil
}

// GetMarket returns a market, preferring the cache.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// CloseMarket transitions open -> closed. Permitted when the closing time
// has been reached, or earlier when the caller is the market's creator.
func (s *MarketService) CloseMarket(ctx context.Context, id, actor string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", id, err)
	}

	now := time.Now().UTC()
	if now.Before(m.ClosingAt) && actor != m.Creator {
		return domain.Market{}, domain.ErrUnauthorized
	}

	if err := s.markets.MarkClosed(ctx, id, now); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: close market %s: %w", id, err)
	}
	s.invalidate(ctx, id)

	s.auditLog(ctx, "market_closed", map[string]any{
		"market_id": id,
		"actor":     actor,
	})
	s.logger.InfoContext(ctx, "market closed", slog.String("market_id", id))

	return s.markets.GetByID(ctx, id)
}

// CancelMarket cancels an unresolved market and refunds every participant's
// full stake. Only the creator may cancel, and only before resolution. The
// cancellation and all refunds commit as one transaction: either every
// participant is made whole or the market stays as it was.
func (s *MarketService) CancelMarket(ctx context.Context, id, actor string) error {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrMarketNotFound
		}
		return fmt.Errorf("market_service: get market %s: %w", id, err)
	}
	if actor != m.Creator {
		return domain.ErrUnauthorized
	}
	if m.Terminal() {
		return domain.ErrInvalidTransition
	}

	now := time.Now().UTC()
	refunded := 0

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.markets.MarkCancelled(ctx, id, now); err != nil {
			return err
		}

		preds, err := s.predictions.ListByMarket(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range preds {
			if p.Status != domain.PredictionStatusCommitted && p.Status != domain.PredictionStatusRevealed {
				continue
			}
			// Full refund; the prediction settles flat.
			if err := s.balances.Credit(ctx, p.UserID, p.Amount); err != nil {
				return err
			}
			if err := s.predictions.MarkSettled(ctx, p.ID, false, decimal.Zero, now); err != nil {
				return err
			}
			refunded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("market_service: cancel market %s: %w", id, err)
	}
	s.invalidate(ctx, id)

	s.auditLog(ctx, "market_cancelled", map[string]any{
		"market_id": id,
		"actor":     actor,
		"refunded":  refunded,
	})
	s.logger.InfoContext(ctx, "market cancelled",
		slog.String("market_id", id),
		slog.Int("refunded", refunded),
	)
	return nil
}

// SweepDueMarkets closes every open market whose closing time has passed and
// returns how many were closed. Races with concurrent sweeps or creator
// closes are benign: the transition guard lets only one writer through.
func (s *MarketService) SweepDueMarkets(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	due, err := s.markets.ListDueForClose(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("market_service: list due markets: %w", err)
	}

	closed := 0
	for _, m := range due {
		if err := s.markets.MarkClosed(ctx, m.ID, now); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return closed, fmt.Errorf("market_service: sweep close %s: %w", m.ID, err)
		}
		s.invalidate(ctx, m.ID)
		s.auditLog(ctx, "market_closed", map[string]any{
			"market_id": m.ID,
			"actor":     "sweep",
		})
		closed++
	}

	if closed > 0 {
		s.logger.InfoContext(ctx, "closing sweep finished", slog.Int("closed", closed))
	}
	return closed, nil
}

func (s *MarketService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
