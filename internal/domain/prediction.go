package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PredictionStatus is the state of a single user's prediction on a market.
// committed -> revealed -> settled is the normal path; settled is terminal.
// disputed is set by an external dispute workflow from revealed or settled.
type PredictionStatus string

const (
	PredictionStatusCommitted PredictionStatus = "committed"
	PredictionStatusRevealed  PredictionStatus = "revealed"
	PredictionStatusSettled   PredictionStatus = "settled"
	PredictionStatusDisputed  PredictionStatus = "disputed"
)

// Prediction is one user's staked, initially-hidden outcome choice on one
// market. There is exactly one prediction per (user, market), enforced by a
// uniqueness constraint at the persistence layer.
type Prediction struct {
	ID       string
	UserID   string
	MarketID string

	// CommitmentHash binds the hidden outcome and salt at commit time.
	CommitmentHash string

	// EncryptedSalt and SaltNonce hold the server-encrypted salt while the
	// prediction is committed. Both are erased the instant reveal succeeds,
	// bounding the window the secret outcome is recoverable from storage.
	EncryptedSalt string
	SaltNonce     string

	Amount decimal.Decimal

	// Outcome is nil until the prediction is revealed.
	Outcome *Outcome

	Status PredictionStatus

	// IsWinner and PnL are nil until the prediction is settled.
	IsWinner        *bool
	PnL             *decimal.Decimal
	WinningsClaimed bool

	CommittedAt time.Time
	RevealedAt  *time.Time
	SettledAt   *time.Time
	ClaimedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Revealed reports whether the hidden outcome has been disclosed.
func (p Prediction) Revealed() bool {
	return p.Status == PredictionStatusRevealed || p.Status == PredictionStatusSettled
}

// Claimable reports whether the prediction has unclaimed positive winnings.
func (p Prediction) Claimable() bool {
	return p.Status == PredictionStatusSettled &&
		p.IsWinner != nil && *p.IsWinner &&
		!p.WinningsClaimed &&
		p.PnL != nil && p.PnL.IsPositive()
}
