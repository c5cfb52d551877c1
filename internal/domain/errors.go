package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// Commit preconditions.
	ErrMarketNotFound      = errors.New("market not found")
	ErrMarketNotOpen       = errors.New("market not open")
	ErrMarketClosed        = errors.New("market closed for commitments")
	ErrDuplicatePrediction = errors.New("prediction already exists for user and market")
	ErrInvalidOutcome      = errors.New("outcome must be 0 or 1")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Reveal preconditions.
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrMarketMismatch     = errors.New("prediction does not belong to market")
	ErrAlreadyRevealed    = errors.New("prediction already revealed")
	ErrRevealPeriodEnded  = errors.New("reveal period has ended")

	// Claim preconditions.
	ErrNotSettled     = errors.New("prediction not settled")
	ErrNotAWinner     = errors.New("prediction did not win")
	ErrAlreadyClaimed = errors.New("winnings already claimed")
	ErrNoWinnings     = errors.New("no winnings to claim")

	// Market lifecycle.
	ErrInvalidTransition = errors.New("invalid market state transition")
	ErrResolutionNotDue  = errors.New("resolution time not reached")

	// Integrity failures. Always fatal, never retried.
	ErrHashMismatch       = errors.New("revealed salt does not match commitment hash")
	ErrSettlementMismatch = errors.New("settlement recomputation mismatch")

	// Collaborator failures.
	ErrConsensusNotReached = errors.New("oracle consensus not reached")
	ErrMirrorUnavailable   = errors.New("external ledger mirror unavailable")
)
