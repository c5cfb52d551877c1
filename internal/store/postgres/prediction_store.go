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

// PredictionStore implements domain.PredictionStore. The uniqueness of
// (user_id, market_id) and the check-then-transition semantics of reveal,
// settle and claim are all enforced by the database, not application reads.
type PredictionStore struct {
	client *Client
}

// NewPredictionStore creates a PredictionStore backed by the given client.
func NewPredictionStore(client *Client) *PredictionStore {
	return &PredictionStore{client: client}
}

const predictionCols = `id, user_id, market_id, commitment_hash,
	encrypted_salt, salt_nonce, amount, outcome, status,
	is_winner, pnl, winnings_claimed,
	committed_at, revealed_at, settled_at, claimed_at,
	created_at, updated_at`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p       domain.Prediction
		salt    *string
		nonce   *string
		outcome *int16
		status  string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.MarketID, &p.CommitmentHash,
		&salt, &nonce, &p.Amount, &outcome, &status,
		&p.IsWinner, &p.PnL, &p.WinningsClaimed,
		&p.CommittedAt, &p.RevealedAt, &p.SettledAt, &p.ClaimedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	if salt != nil {
		p.EncryptedSalt = *salt
	}
	if nonce != nil {
		p.SaltNonce = *nonce
	}
	if outcome != nil {
		oc := domain.Outcome(*outcome)
		p.Outcome = &oc
	}
	p.Status = domain.PredictionStatus(status)
	return p, nil
}

// Create inserts a new committed prediction. A second commit for the same
// (user, market) trips the uniqueness constraint and surfaces as
// domain.ErrDuplicatePrediction, whatever the concurrent interleaving.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, user_id, market_id, commitment_hash,
			encrypted_salt, salt_nonce, amount, status,
			committed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, NOW(), NOW()
		)`

	_, err := s.client.q(ctx).Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, p.CommitmentHash,
		p.EncryptedSalt, p.SaltNonce, p.Amount, string(p.Status),
		p.CommittedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "predictions_user_market_uniq") {
			return domain.ErrDuplicatePrediction
		}
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a prediction by its primary key.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// GetByUserMarket retrieves the single prediction a user holds on a market.
func (s *PredictionStore) GetByUserMarket(ctx context.Context, userID, marketID string) (domain.Prediction, error) {
	row := s.client.q(ctx).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction for user %s market %s: %w", userID, marketID, err)
	}
	return p, nil
}

// ListByMarket returns every prediction on a market. Settlement locks the
// rows so the batch sees a stable snapshot.
func (s *PredictionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Prediction, error) {
	return s.listPredictions(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1
		 ORDER BY committed_at
		 FOR UPDATE`, marketID)
}

// ListByUser returns a user's predictions, newest first.
func (s *PredictionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE user_id = $1 ORDER BY committed_at DESC`
	args := []any{userID}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}
	return s.listPredictions(ctx, query, args...)
}

func (s *PredictionStore) listPredictions(ctx context.Context, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := s.client.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return preds, nil
}

// MarkRevealed transitions committed -> revealed and erases the encrypted
// salt in the same statement, so the secret never outlives a successful
// reveal. Concurrent reveals race on the status guard; the loser gets
// domain.ErrAlreadyRevealed.
func (s *PredictionStore) MarkRevealed(ctx context.Context, id string, outcome domain.Outcome, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE predictions
		SET status = 'revealed', outcome = $2,
		    encrypted_salt = NULL, salt_nonce = NULL,
		    revealed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'committed'`, id, int16(outcome), at)
	if err != nil {
		return fmt.Errorf("postgres: reveal prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyRevealed
	}
	return nil
}

// MarkSettled transitions committed/revealed -> settled with the computed
// result. Already-settled rows do not match; the settlement engine verifies
// those separately.
func (s *PredictionStore) MarkSettled(ctx context.Context, id string, isWinner bool, pnl decimal.Decimal, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE predictions
		SET status = 'settled', is_winner = $2, pnl = $3,
		    settled_at = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('committed', 'revealed')`,
		id, isWinner, pnl, at)
	if err != nil {
		return fmt.Errorf("postgres: settle prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle prediction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkClaimed flips winnings_claimed, guarded so only a settled, winning,
// unclaimed prediction matches. At most one concurrent claim can win.
func (s *PredictionStore) MarkClaimed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.client.q(ctx).Exec(ctx, `
		UPDATE predictions
		SET winnings_claimed = TRUE, claimed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'settled' AND is_winner AND NOT winnings_claimed`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: claim prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// Compile-time interface check.
var _ domain.PredictionStore = (*PredictionStore)(nil)
