package domain

import "context"

// ConsensusResult is the oracle network's verdict for one market.
type ConsensusResult struct {
	Reached      bool
	Outcome      Outcome
	Source       string
	Attestations int
}

// OracleConsensus queries the external oracle network for agreement on a
// market's real-world outcome. A result with Reached=false is not an error,
// it means "none yet, ask again later".
type OracleConsensus interface {
	CheckConsensus(ctx context.Context, marketID string) (ConsensusResult, error)
}

// LedgerMirror records economic events on the external ledger network. Every
// call is best-effort: it runs after the internal transaction has committed,
// may time out, and is never allowed to roll internal state back. The
// returned string is the mirror's opaque reference id.
type LedgerMirror interface {
	RecordCommitment(ctx context.Context, p Prediction) (string, error)
	RecordReveal(ctx context.Context, p Prediction) (string, error)
	RecordResolution(ctx context.Context, m Market) (string, error)
}
