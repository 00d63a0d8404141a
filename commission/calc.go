/*
calc.go - Deterministic commission computation

PURPOSE:
  Turns an eligible sale amount into the mechanic and platform commission
  shares. This is the only place in the system where rounding happens:
  stored commission amounts are exact, and settlement totals are plain
  sums of stored amounts.

CONTRACT:
  ComputeCommission(eligible, rateMechanic, ratePlatform)
    -> (mechanicAmount, platformAmount)

  - Multiplication in arbitrary-precision decimal
  - Result rounded half away from zero to the currency minor unit
  - No side effects, no I/O, fully deterministic

WHY DETERMINISM MATTERS:
  Settlement totals must be independently re-derivable for audit. If two
  code paths rounded differently, a recomputed total could disagree with
  the stored snapshot and the books would not balance.

SEE ALSO:
  - money.go: The rounding rule
  - ledger/ledger.go: Calls this once at transaction creation
*/
package commission

import "github.com/shopspring/decimal"

// =============================================================================
// RATES
// =============================================================================

// Default commission rates: 3% to the referring mechanic, 2% to the
// platform. Rate changes apply only to future transactions; amounts
// already computed are never recomputed.
var (
	DefaultRateMechanic = decimal.NewFromFloat(0.03)
	DefaultRatePlatform = decimal.NewFromFloat(0.02)
)

// Calculator carries the rates applied to new transactions.
type Calculator struct {
	RateMechanic decimal.Decimal
	RatePlatform decimal.Decimal
}

// NewCalculator returns a calculator with the default rates.
func NewCalculator() Calculator {
	return Calculator{
		RateMechanic: DefaultRateMechanic,
		RatePlatform: DefaultRatePlatform,
	}
}

// Compute returns the commission shares for an eligible amount using the
// calculator's rates.
func (c Calculator) Compute(amountEligible Money) (mechanicAmount, platformAmount Money) {
	return ComputeCommission(amountEligible, c.RateMechanic, c.RatePlatform)
}

// =============================================================================
// PURE COMPUTATION
// =============================================================================

// ComputeCommission multiplies the eligible amount by each rate in
// arbitrary-precision decimal and rounds each share half away from zero
// to the currency minor unit.
func ComputeCommission(amountEligible Money, rateMechanic, ratePlatform decimal.Decimal) (mechanicAmount, platformAmount Money) {
	mechanicAmount = amountEligible.Mul(rateMechanic).RoundMinor()
	platformAmount = amountEligible.Mul(ratePlatform).RoundMinor()
	return mechanicAmount, platformAmount
}
