package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/domain"
)

// MarketStore implements domain.MarketStore. Lifecycle transitions are
// conditional UPDATEs guarded on the source status, so the database decides
// the winner of any concurrent transition race.
type MarketStore struct {
	client *Client
}

// NewMarketStore creates a MarketStore backed by the given client.
func NewMarketStore(client *Client) *MarketStore {
	return &MarketStore{client: client}
}

const marketCols = `id, question, outcome_no, outcome_yes, creator, status,
	closing_at, resolution_at, closed_at, resolved_at,
	winning_outcome, resolution_source,
	yes_pool, no_pool, total_volume, participants,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		outcome *int16
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.OutcomeNames[0], &m.OutcomeNames[1], &m.Creator, &status,
		&m.ClosingAt, &m.ResolutionAt, &m.ClosedAt, &m.ResolvedAt,
		&outcome, &m.ResolutionSource,
		&m.YesPool, &m.NoPool, &m.TotalVolume, &m.Participants,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		oc := domain.Outcome(*outcome)
		m.WinningOutcome = &oc
	}
	return m, nil
}

// Create inserts a new market in the open state.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, outcome_no, outcome_yes, creator, status,
			closing_at, resolution_at, yes_pool, no_pool, total_volume,
			participants, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, 0, 0, 0,
			0, NOW(), NOW()
		)`

	_, err := s.client.q(ctx).Exec(ctx, query,
		m.ID, m.Question, m.OutcomeNames[0], m.OutcomeNames[1], m.Creator,
		string(domain.MarketStatusOpen), m.ClosingAt, m.ResolutionAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("postgres: market %s: %w", m.ID, domain.ErrInvalidTransition)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListByStatus returns markets in the given status, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}
	return s.listMarkets(ctx, query, args...)
}

// ListDueForClose returns open markets whose closing time has passed.
func (s *MarketStore) ListDueForClose(ctx context.Context, now time.Time) ([]domain.Market, error) {
	return s.listMarkets(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status = 'open' AND closing_at <= $1
		 ORDER BY closing_at`, now)
}

// ListDueForResolution returns unresolved markets past their resolution time:
// closed markets, plus open ones the closing sweep has not reached.
func (s *MarketStore) ListDueForResolution(ctx context.Context, now time.Time) ([]domain.Market, error) {
	return s.listMarkets(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE status IN ('open', 'closed') AND resolution_at <= $1
		 ORDER BY resolution_at`, now)
}

func (s *MarketStore) listMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// MarkClosed transitions open -> closed, stamping closed_at.
func (s *MarketStore) MarkClosed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets
		SET status = 'closed', closed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: close market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close market %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkResolved transitions closed (or overdue-open) -> resolved, persisting
// the winning outcome and its source in the same statement.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome domain.Outcome, source string, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets
		SET status = 'resolved', winning_outcome = $2, resolution_source = $3,
		    resolved_at = $4, closed_at = COALESCE(closed_at, $4), updated_at = NOW()
		WHERE id = $1
		  AND (status = 'closed' OR (status = 'open' AND closing_at <= $4))`,
		id, int16(outcome), source, at)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve market %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkCancelled transitions open/closed -> cancelled.
func (s *MarketStore) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets
		SET status = 'cancelled', closed_at = COALESCE(closed_at, $2), updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'closed')`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: cancel market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: cancel market %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// RecordCommit bumps the aggregate volume and participant counters. The
// update is conditional on the market still accepting commits, so a commit
// racing a close (or working from a stale cached read) fails here and rolls
// the enclosing transaction back instead of staking into a closed market.
func (s *MarketStore) RecordCommit(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets
		SET total_volume = total_volume + $2, participants = participants + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND closing_at > $3`, id, amount, at)
	if err != nil {
		return fmt.Errorf("postgres: record commit on market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record commit on market %s: %w", id, domain.ErrMarketClosed)
	}
	return nil
}

// RecordReveal adds a revealed stake to the matching outcome pool, guarded on
// the reveal window. Reveals stay valid on a market the creator closed early,
// so only the closing time is checked; the prediction's own committed ->
// revealed transition screens out cancelled and settled markets.
func (s *MarketStore) RecordReveal(ctx context.Context, id string, outcome domain.Outcome, amount decimal.Decimal, at time.Time) error {
	column := "no_pool"
	if outcome == domain.OutcomeYes {
		column = "yes_pool"
	}
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE markets
		SET `+column+` = `+column+` + $2, updated_at = NOW()
		WHERE id = $1 AND closing_at > $3`, id, amount, at)
	if err != nil {
		return fmt.Errorf("postgres: record reveal on market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record reveal on market %s: %w", id, domain.ErrRevealPeriodEnded)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
