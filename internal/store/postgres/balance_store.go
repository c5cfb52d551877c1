package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/domain"
)

// BalanceStore implements domain.BalanceLedger. Debits are conditional
// single-statement writes: the balance check and the withdrawal cannot be
// separated by a concurrent writer.
type BalanceStore struct {
	client *Client
}

// NewBalanceStore creates a BalanceStore backed by the given client.
func NewBalanceStore(client *Client) *BalanceStore {
	return &BalanceStore{client: client}
}

// Debit withdraws amount from the user's available balance. If the row is
// missing or the funds are not there, nothing is written and
// domain.ErrInsufficientBalance is returned.
func (s *BalanceStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE balances
		SET available = available - $2, updated_at = NOW()
		WHERE user_id = $1 AND available >= $2`, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// Credit adds amount to the user's available balance, creating the row if
// the user has never held funds.
func (s *BalanceStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	_, err := s.client.q(ctx).Exec(ctx, `
		INSERT INTO balances (user_id, available, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = balances.available + EXCLUDED.available,
			updated_at = NOW()`, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", userID, err)
	}
	return nil
}

// Balance returns the user's available balance; a user with no row has zero.
func (s *BalanceStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := s.client.q(ctx).QueryRow(ctx,
		`SELECT available FROM balances WHERE user_id = $1`, userID,
	).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("postgres: balance %s: %w", userID, err)
	}
	return available, nil
}

// Compile-time interface check.
var _ domain.BalanceLedger = (*BalanceStore)(nil)
