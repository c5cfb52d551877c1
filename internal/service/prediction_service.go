package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/commitment"
	"github.com/boxmeout/marketcore/internal/domain"
)

// PredictionService owns the commit-reveal-claim workflow of a single user's
// prediction. Economic mutations (balance moves, status transitions, market
// counters) commit as one transaction; mirroring to the external ledger
// network runs after that transaction and never affects its outcome.
type PredictionService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	balances    domain.BalanceLedger
	tx          domain.TxRunner
	codec       *commitment.Codec
	mirror      domain.LedgerMirror
	cache       domain.MarketCache
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService. mirror and cache may be
// nil.
func NewPredictionService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	balances domain.BalanceLedger,
	tx domain.TxRunner,
	codec *commitment.Codec,
	mirror domain.LedgerMirror,
	cache domain.MarketCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		markets:     markets,
		predictions: predictions,
		balances:    balances,
		tx:          tx,
		codec:       codec,
		mirror:      mirror,
		cache:       cache,
		audit:       audit,
		logger:      logger.With(slog.String("component", "prediction_service")),
	}
}

// Commit stakes amount on the given hidden outcome. The outcome never leaves
// this function in the clear: only its commitment hash and the encrypted salt
// are persisted. The stake debit, the prediction row, and the market's volume
// counters commit atomically; if the user already holds a prediction on this
// market the whole operation fails with ErrDuplicatePrediction and no funds
// move. The market's open window is re-checked by the conditional counter
// update inside the transaction, so a stale cached market read cannot stake
// into a closed market.
func (s *PredictionService) Commit(ctx context.Context, userID, marketID string, outcome domain.Outcome, amount decimal.Decimal) (domain.Prediction, error) {
	if !outcome.Valid() {
		return domain.Prediction{}, domain.ErrInvalidOutcome
	}
	if !amount.IsPositive() {
		return domain.Prediction{}, domain.ErrInvalidAmount
	}

	m, err := s.getMarket(ctx, marketID)
	if err != nil {
		return domain.Prediction{}, err
	}
	now := time.Now().UTC()
	if m.Status != domain.MarketStatusOpen {
		return domain.Prediction{}, domain.ErrMarketNotOpen
	}
	if !now.Before(m.ClosingAt) {
		return domain.Prediction{}, domain.ErrMarketClosed
	}

	salt, err := commitment.GenerateSalt()
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w", err)
	}
	hash := commitment.Hash(userID, marketID, outcome, salt)
	encSalt, nonce, err := s.codec.EncryptSalt(salt)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w", err)
	}

	p := domain.Prediction{
		ID:             uuid.NewString(),
		UserID:         userID,
		MarketID:       marketID,
		CommitmentHash: hash,
		EncryptedSalt:  encSalt,
		SaltNonce:      nonce,
		Amount:         amount,
		Status:         domain.PredictionStatusCommitted,
		CommittedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.balances.Debit(ctx, userID, amount); err != nil {
			return err
		}
		if err := s.predictions.Create(ctx, p); err != nil {
			return err
		}
		return s.markets.RecordCommit(ctx, marketID, amount, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) ||
			errors.Is(err, domain.ErrDuplicatePrediction) ||
			errors.Is(err, domain.ErrMarketClosed) {
			return domain.Prediction{}, err
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: commit: %w", err)
	}
	s.invalidate(ctx, marketID)

	s.auditLog(ctx, "prediction_committed", map[string]any{
		"prediction_id": p.ID,
		"user_id":       userID,
		"market_id":     marketID,
		"amount":        amount.String(),
	})
	s.mirrorCommitment(ctx, p)

	s.logger.InfoContext(ctx, "prediction committed",
		slog.String("prediction_id", p.ID),
		slog.String("market_id", marketID),
	)
	return p, nil
}

// Reveal discloses the hidden outcome of the caller's prediction. The stored
// salt is decrypted and the one-bit outcome space is searched for the value
// whose commitment hash matches; no match means the stored record has been
// tampered with and the reveal fails permanently. On success the prediction
// transitions to revealed, its encrypted salt is erased, and the matching
// outcome pool grows by the stake.
func (s *PredictionService) Reveal(ctx context.Context, userID, predictionID, marketID string) (domain.Prediction, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prediction{}, domain.ErrPredictionNotFound
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: get prediction %s: %w", predictionID, err)
	}
	if p.UserID != userID {
		return domain.Prediction{}, domain.ErrUnauthorized
	}
	if p.MarketID != marketID {
		return domain.Prediction{}, domain.ErrMarketMismatch
	}
	if p.Status != domain.PredictionStatusCommitted {
		return domain.Prediction{}, domain.ErrAlreadyRevealed
	}

	m, err := s.getMarket(ctx, marketID)
	if err != nil {
		return domain.Prediction{}, err
	}
	now := time.Now().UTC()
	if !now.Before(m.ClosingAt) {
		return domain.Prediction{}, domain.ErrRevealPeriodEnded
	}

	salt, err := s.codec.DecryptSalt(p.EncryptedSalt, p.SaltNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "salt decryption failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
		return domain.Prediction{}, err
	}

	outcome, ok := recoverOutcome(userID, marketID, salt, p.CommitmentHash)
	if !ok {
		s.logger.ErrorContext(ctx, "commitment hash mismatch on reveal",
			slog.String("prediction_id", predictionID),
			slog.String("market_id", marketID),
		)
		return domain.Prediction{}, domain.ErrHashMismatch
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.predictions.MarkRevealed(ctx, predictionID, outcome, now); err != nil {
			return err
		}
		return s.markets.RecordReveal(ctx, marketID, outcome, p.Amount, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRevealed) || errors.Is(err, domain.ErrRevealPeriodEnded) {
			return domain.Prediction{}, err
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: reveal: %w", err)
	}
	s.invalidate(ctx, marketID)

	p.Status = domain.PredictionStatusRevealed
	p.Outcome = &outcome
	p.RevealedAt = &now
	p.EncryptedSalt = ""
	p.SaltNonce = ""

	s.auditLog(ctx, "prediction_revealed", map[string]any{
		"prediction_id": predictionID,
		"market_id":     marketID,
		"outcome":       int(outcome),
	})
	s.mirrorReveal(ctx, p)

	s.logger.InfoContext(ctx, "prediction revealed",
		slog.String("prediction_id", predictionID),
		slog.Int("outcome", int(outcome)),
	)
	return p, nil
}

// Claim credits the caller's balance with the settled winnings of a single
// winning prediction. Claiming is once-only: the flag flip and the credit are
// one transaction, and a concurrent duplicate claim loses the conditional
// update and fails with ErrAlreadyClaimed.
func (s *PredictionService) Claim(ctx context.Context, userID, predictionID string) (decimal.Decimal, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return decimal.Zero, domain.ErrPredictionNotFound
		}
		return decimal.Zero, fmt.Errorf("prediction_service: get prediction %s: %w", predictionID, err)
	}
	if p.UserID != userID {
		return decimal.Zero, domain.ErrUnauthorized
	}
	if p.Status != domain.PredictionStatusSettled {
		return decimal.Zero, domain.ErrNotSettled
	}
	if p.IsWinner == nil || !*p.IsWinner {
		return decimal.Zero, domain.ErrNotAWinner
	}
	if p.WinningsClaimed {
		return decimal.Zero, domain.ErrAlreadyClaimed
	}
	if p.PnL == nil || !p.PnL.IsPositive() {
		return decimal.Zero, domain.ErrNoWinnings
	}
	winnings := *p.PnL

	now := time.Now().UTC()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.predictions.MarkClaimed(ctx, predictionID, now); err != nil {
			return err
		}
		return s.balances.Credit(ctx, userID, winnings)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("prediction_service: claim: %w", err)
	}

	s.auditLog(ctx, "winnings_claimed", map[string]any{
		"prediction_id": predictionID,
		"user_id":       userID,
		"amount":        winnings.String(),
	})
	s.logger.InfoContext(ctx, "winnings claimed",
		slog.String("prediction_id", predictionID),
		slog.String("amount", winnings.String()),
	)
	return winnings, nil
}

// GetPrediction returns a prediction to its owner.
func (s *PredictionService) GetPrediction(ctx context.Context, userID, predictionID string) (domain.Prediction, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prediction{}, domain.ErrPredictionNotFound
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: get prediction %s: %w", predictionID, err)
	}
	if p.UserID != userID {
		return domain.Prediction{}, domain.ErrUnauthorized
	}
	return p, nil
}

// ListUserPredictions returns the caller's predictions, newest first.
func (s *PredictionService) ListUserPredictions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	preds, err := s.predictions.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list predictions for %s: %w", userID, err)
	}
	return preds, nil
}

// recoverOutcome finds which binary outcome produces the stored commitment
// hash with the decrypted salt. The outcome space is one bit, so trying both
// sides is exact and cheap.
func recoverOutcome(userID, marketID, salt, wantHash string) (domain.Outcome, bool) {
	for _, o := range []domain.Outcome{domain.OutcomeNo, domain.OutcomeYes} {
		if commitment.Hash(userID, marketID, o, salt) == wantHash {
			return o, true
		}
	}
	return 0, false
}

func (s *PredictionService) getMarket(ctx context.Context, marketID string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, marketID); err == nil {
			return m, nil
		}
	}
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, domain.ErrMarketNotFound
		}
		return domain.Market{}, fmt.Errorf("prediction_service: get market %s: %w", marketID, err)
	}
	return m, nil
}

func (s *PredictionService) invalidate(ctx context.Context, marketID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "market cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PredictionService) mirrorCommitment(ctx context.Context, p domain.Prediction) {
	if s.mirror == nil {
		return
	}
	ref, err := s.mirror.RecordCommitment(ctx, p)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger mirror commitment failed",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "commitment mirrored",
		slog.String("prediction_id", p.ID),
		slog.String("ref", ref),
	)
}

func (s *PredictionService) mirrorReveal(ctx context.Context, p domain.Prediction) {
	if s.mirror == nil {
		return
	}
	ref, err := s.mirror.RecordReveal(ctx, p)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger mirror reveal failed",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "reveal mirrored",
		slog.String("prediction_id", p.ID),
		slog.String("ref", ref),
	)
}

func (s *PredictionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
