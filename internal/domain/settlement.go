package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementReport summarises the batch settlement of one resolved market.
// The platform's revenue is the sum of losing and forfeited stakes minus
// what winners are owed.
type SettlementReport struct {
	MarketID       string          `json:"market_id"`
	WinningOutcome Outcome         `json:"winning_outcome"`
	Source         string          `json:"source"`
	Winners        int             `json:"winners"`
	Losers         int             `json:"losers"`
	Forfeited      int             `json:"forfeited"`
	TotalStaked    decimal.Decimal `json:"total_staked"`
	TotalOwed      decimal.Decimal `json:"total_owed"`
	PlatformTake   decimal.Decimal `json:"platform_take"`
	SettledAt      time.Time       `json:"settled_at"`
}

// ReportArchiver stores settlement reports in long-term object storage.
// Archival is best-effort and happens after the settlement transaction has
// committed; a failure is logged and never unwinds the settlement.
type ReportArchiver interface {
	ArchiveSettlementReport(ctx context.Context, report SettlementReport) (string, error)
}
