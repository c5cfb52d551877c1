package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxRunner runs a function inside one database transaction. Every
// multi-entity mutation in the core (commit, reveal, settle batch, claim,
// market transition) goes through WithinTx so status changes and balance
// movements commit or roll back as a single unit. Implementations must be
// reentrant: a WithinTx call made while a transaction is already active on
// the context joins it instead of opening a second one.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets. Transition methods are conditional writes:
// they mutate the row only when it is in the required source state and
// return ErrInvalidTransition otherwise, so concurrent transitions have at
// most one winner.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)

	// ListDueForClose returns open markets whose closing time has passed.
	ListDueForClose(ctx context.Context, now time.Time) ([]Market, error)
	// ListDueForResolution returns unresolved markets whose resolution time
	// has passed (closed, or open and overdue).
	ListDueForResolution(ctx context.Context, now time.Time) ([]Market, error)

	MarkClosed(ctx context.Context, id string, at time.Time) error
	MarkResolved(ctx context.Context, id string, outcome Outcome, source string, at time.Time) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error

	// RecordCommit bumps volume and participant counters for a new
	// commitment, guarded on the market still accepting commits (open and
	// before closing at the given time). Returns ErrMarketClosed otherwise,
	// failing the enclosing transaction even when the caller's pre-check ran
	// against a stale read.
	RecordCommit(ctx context.Context, id string, amount decimal.Decimal, at time.Time) error
	// RecordReveal adds a revealed stake to the matching outcome pool,
	// guarded on the reveal window (closing time) at the given time. Returns
	// ErrRevealPeriodEnded otherwise.
	RecordReveal(ctx context.Context, id string, outcome Outcome, amount decimal.Decimal, at time.Time) error
}

// PredictionStore persists predictions. The (user_id, market_id) uniqueness
// constraint lives here, as does the atomic check-then-transition used by
// reveal, settle and claim.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	GetByUserMarket(ctx context.Context, userID, marketID string) (Prediction, error)
	ListByMarket(ctx context.Context, marketID string) ([]Prediction, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Prediction, error)

	// MarkRevealed transitions committed -> revealed, stores the recovered
	// outcome, and erases the encrypted salt in the same statement. Returns
	// ErrAlreadyRevealed if the prediction is not committed.
	MarkRevealed(ctx context.Context, id string, outcome Outcome, at time.Time) error

	// MarkSettled transitions committed/revealed -> settled with the
	// computed result. Returns ErrNotFound if no unsettled row matched.
	MarkSettled(ctx context.Context, id string, isWinner bool, pnl decimal.Decimal, at time.Time) error

	// MarkClaimed flips the winnings_claimed flag, guarded on settled +
	// winner + unclaimed. Returns ErrAlreadyClaimed if no row matched.
	MarkClaimed(ctx context.Context, id string, at time.Time) error
}

// BalanceLedger moves user funds. Debit and Credit are expected to be called
// inside the same transaction as the prediction mutation they accompany.
type BalanceLedger interface {
	// Debit withdraws amount from the user's available balance, failing with
	// ErrInsufficientBalance when the funds are not there. The check and the
	// withdrawal are one atomic operation.
	Debit(ctx context.Context, userID string, amount decimal.Decimal) error
	Credit(ctx context.Context, userID string, amount decimal.Decimal) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// AuditStore persists an append-only audit log of economic events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
