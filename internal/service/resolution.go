package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxmeout/marketcore/internal/domain"
)

// ResolutionCoordinator drives a market from closed to resolved-and-settled.
// It queries the oracle network for consensus, writes the winning outcome and
// the full settlement batch in one transaction, and only then performs the
// best-effort side effects: mirroring the resolution, archiving the
// settlement report, and dropping the cached market.
//
// A per-market distributed lock keeps concurrent coordinator replicas off the
// same market; the transition guards underneath make even a lost lock safe.
type ResolutionCoordinator struct {
	markets  domain.MarketStore
	engine   *SettlementEngine
	oracle   domain.OracleConsensus
	locks    domain.LockManager
	mirror   domain.LedgerMirror
	archiver domain.ReportArchiver
	cache    domain.MarketCache
	tx       domain.TxRunner
	audit    domain.AuditStore
	logger   *slog.Logger
	lockTTL  time.Duration
}

// NewResolutionCoordinator creates a ResolutionCoordinator. mirror, archiver
// and cache may be nil; locks is required.
func NewResolutionCoordinator(
	markets domain.MarketStore,
	engine *SettlementEngine,
	oracle domain.OracleConsensus,
	locks domain.LockManager,
	mirror domain.LedgerMirror,
	archiver domain.ReportArchiver,
	cache domain.MarketCache,
	tx domain.TxRunner,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *ResolutionCoordinator {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &ResolutionCoordinator{
		markets:  markets,
		engine:   engine,
		oracle:   oracle,
		locks:    locks,
		mirror:   mirror,
		archiver: archiver,
		cache:    cache,
		tx:       tx,
		audit:    audit,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "resolution")),
	}
}

// ResolveMarket resolves one market from oracle consensus. It is safe to
// call repeatedly: an already-resolved market is a no-op, a market whose
// resolution time has not arrived fails with ErrResolutionNotDue, and pending
// oracle consensus fails with ErrConsensusNotReached so the caller retries on
// its next pass.
func (c *ResolutionCoordinator) ResolveMarket(ctx context.Context, marketID string) error {
	if _, err := c.checkDue(ctx, marketID); err != nil {
		if errors.Is(err, errAlreadyResolved) {
			return nil
		}
		return err
	}

	unlock, err := c.locks.Acquire(ctx, "resolve:"+marketID, c.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	res, err := c.oracle.CheckConsensus(ctx, marketID)
	if err != nil {
		return fmt.Errorf("resolution: oracle query for %s: %w", marketID, err)
	}
	if !res.Reached {
		return fmt.Errorf("resolution: market %s: %w", marketID, domain.ErrConsensusNotReached)
	}
	if !res.Outcome.Valid() {
		return fmt.Errorf("resolution: market %s: %w", marketID, domain.ErrInvalidOutcome)
	}

	return c.resolveAndSettle(ctx, marketID, res.Outcome, res.Source, res.Attestations)
}

// ResolveWithOutcome resolves a market with an operator-supplied outcome,
// bypassing the oracle. Used by the manual resolution workflow when no
// consensus will ever arrive for a market. Same due-time guards, lock, and
// settlement batch as the oracle path.
func (c *ResolutionCoordinator) ResolveWithOutcome(ctx context.Context, marketID string, outcome domain.Outcome, source string) error {
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if source == "" {
		source = "manual"
	}

	m, err := c.checkDue(ctx, marketID)
	if err != nil {
		if errors.Is(err, errAlreadyResolved) {
			// The no-op path only stands when the stored outcome agrees with
			// the operator's.
			if m.WinningOutcome == nil || *m.WinningOutcome != outcome {
				return fmt.Errorf("resolution: market %s already resolved to a different outcome: %w",
					marketID, domain.ErrSettlementMismatch)
			}
			return nil
		}
		return err
	}

	unlock, err := c.locks.Acquire(ctx, "resolve:"+marketID, c.lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	return c.resolveAndSettle(ctx, marketID, outcome, source, 0)
}

// errAlreadyResolved is internal control flow for the idempotent no-op path.
var errAlreadyResolved = errors.New("market already resolved")

// checkDue verifies the market exists, is not yet resolved, and is both past
// its resolution time and in a resolvable state. The market is returned
// alongside errAlreadyResolved so callers can compare the stored outcome.
func (c *ResolutionCoordinator) checkDue(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := c.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("resolution: get market %s: %w", marketID, err)
	}

	if m.Status == domain.MarketStatusResolved {
		return m, errAlreadyResolved
	}
	now := time.Now().UTC()
	if now.Before(m.ResolutionAt) {
		return m, domain.ErrResolutionNotDue
	}
	if !m.Resolvable(now) {
		return m, fmt.Errorf("resolution: market %s is %s: %w", marketID, m.Status, domain.ErrInvalidTransition)
	}
	return m, nil
}

// resolveAndSettle writes the winning outcome and the full settlement batch
// in one transaction, then performs the best-effort side effects. The caller
// holds the per-market lock.
func (c *ResolutionCoordinator) resolveAndSettle(ctx context.Context, marketID string, outcome domain.Outcome, source string, attestations int) error {
	now := time.Now().UTC()

	var (
		report   domain.SettlementReport
		resolved domain.Market
	)
	err := c.tx.WithinTx(ctx, func(ctx context.Context) error {
		err := c.markets.MarkResolved(ctx, marketID, outcome, source, now)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				return err
			}
			// Someone resolved it between our read and this write. Verify
			// agreement and fall through to the idempotent settlement pass.
			cur, gerr := c.markets.GetByID(ctx, marketID)
			if gerr != nil {
				return gerr
			}
			if cur.Status != domain.MarketStatusResolved {
				return err
			}
			if cur.WinningOutcome == nil || *cur.WinningOutcome != outcome {
				return fmt.Errorf("resolution: market %s resolved to a different outcome: %w",
					marketID, domain.ErrSettlementMismatch)
			}
		}

		resolved, err = c.markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		report, err = c.engine.SettleMarket(ctx, resolved)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolution: resolve market %s: %w", marketID, err)
	}

	c.invalidate(ctx, marketID)
	c.auditLog(ctx, "market_resolved", map[string]any{
		"market_id":    marketID,
		"outcome":      int(outcome),
		"source":       source,
		"attestations": attestations,
		"winners":      report.Winners,
		"losers":       report.Losers,
		"forfeited":    report.Forfeited,
	})
	c.mirrorResolution(ctx, resolved)
	c.archive(ctx, report)

	c.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.Int("outcome", int(outcome)),
		slog.String("source", source),
	)
	return nil
}

// ResolveDue resolves every market whose resolution time has passed and
// returns how many reached resolved. Markets still waiting on consensus, held
// by another coordinator, or racing a concurrent sweep are skipped, not
// failed: the next pass picks them up.
func (c *ResolutionCoordinator) ResolveDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	due, err := c.markets.ListDueForResolution(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("resolution: list due markets: %w", err)
	}

	resolved := 0
	for _, m := range due {
		err := c.ResolveMarket(ctx, m.ID)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, domain.ErrConsensusNotReached),
			errors.Is(err, domain.ErrLockHeld),
			errors.Is(err, domain.ErrResolutionNotDue):
			c.logger.DebugContext(ctx, "resolution deferred",
				slog.String("market_id", m.ID),
				slog.String("reason", err.Error()),
			)
		case ctx.Err() != nil:
			return resolved, ctx.Err()
		default:
			c.logger.ErrorContext(ctx, "resolution failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if resolved > 0 {
		c.logger.InfoContext(ctx, "resolution pass finished", slog.Int("resolved", resolved))
	}
	return resolved, nil
}

func (c *ResolutionCoordinator) invalidate(ctx context.Context, marketID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, marketID); err != nil {
		c.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *ResolutionCoordinator) mirrorResolution(ctx context.Context, m domain.Market) {
	if c.mirror == nil {
		return
	}
	ref, err := c.mirror.RecordResolution(ctx, m)
	if err != nil {
		c.logger.WarnContext(ctx, "ledger mirror resolution failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.DebugContext(ctx, "resolution mirrored",
		slog.String("market_id", m.ID),
		slog.String("ref", ref),
	)
}

func (c *ResolutionCoordinator) archive(ctx context.Context, report domain.SettlementReport) {
	if c.archiver == nil {
		return
	}
	key, err := c.archiver.ArchiveSettlementReport(ctx, report)
	if err != nil {
		c.logger.WarnContext(ctx, "settlement report archival failed",
			slog.String("market_id", report.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.InfoContext(ctx, "settlement report archived",
		slog.String("market_id", report.MarketID),
		slog.String("key", key),
	)
}

func (c *ResolutionCoordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
