package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market. Transitions only
// move forward: open -> closed -> resolved, with cancelled reachable from
// open/closed and disputed set by an external dispute workflow. Resolved and
// cancelled are terminal.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
	MarketStatusDisputed  MarketStatus = "disputed"
)

// Outcome is one of the two sides of a binary market.
type Outcome int

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

// Market is a binary-outcome prediction market.
type Market struct {
	ID           string
	Question     string
	OutcomeNames [2]string // index 0 = NO side, index 1 = YES side
	Creator      string
	Status       MarketStatus

	ClosingAt    time.Time
	ResolutionAt time.Time
	ClosedAt     *time.Time
	ResolvedAt   *time.Time

	// WinningOutcome is set if and only if Status is resolved.
	WinningOutcome   *Outcome
	ResolutionSource string

	// Liquidity bookkeeping. Pools grow as predictions are revealed,
	// TotalVolume and Participants as they are committed.
	YesPool      decimal.Decimal
	NoPool       decimal.Decimal
	TotalVolume  decimal.Decimal
	Participants int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AcceptingCommits reports whether the market can take a new commitment at
// the given instant. The same window bounds reveals: there is no separate
// reveal phase, the commit deadline is the reveal deadline.
func (m Market) AcceptingCommits(now time.Time) bool {
	return m.Status == MarketStatusOpen && now.Before(m.ClosingAt)
}

// Resolvable reports whether the market may transition to resolved: it must
// be closed, or still open but past its closing time (an overdue market the
// closing sweep has not reached yet).
func (m Market) Resolvable(now time.Time) bool {
	if m.Status == MarketStatusClosed {
		return true
	}
	return m.Status == MarketStatusOpen && !now.Before(m.ClosingAt)
}

// Terminal reports whether the market can never transition again.
func (m Market) Terminal() bool {
	return m.Status == MarketStatusResolved || m.Status == MarketStatusCancelled
}
