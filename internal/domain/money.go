package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits carried by every monetary
// value (stake, pool, P&L). Matches the NUMERIC(20,6) columns in storage.
const MoneyScale int32 = 6

// FloorMoney truncates d to MoneyScale fractional digits, always rounding
// toward negative infinity. Settlement arithmetic must never create value
// out of rounding.
func FloorMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(MoneyScale)
}
