package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
)

// amountPlaces matches NUMERIC(20,8).
const amountPlaces = 8

// DefaultCommissionRates is the per-level referral commission, level 1 first.
var DefaultCommissionRates = []decimal.Decimal{
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.03"),
	decimal.RequireFromString("0.02"),
	decimal.RequireFromString("0.01"),
	decimal.RequireFromString("0.005"),
}

// DefaultFirstDepositBonusRate is applied once to a user's first completed deposit.
var DefaultFirstDepositBonusRate = decimal.RequireFromString("0.10")

// Rates holds the commission table and first-deposit bonus rate.
type Rates struct {
	Commission        []decimal.Decimal
	FirstDepositBonus decimal.Decimal
}

// DefaultRates returns the production rate set.
func DefaultRates() Rates {
	return Rates{
		Commission:        append([]decimal.Decimal(nil), DefaultCommissionRates...),
		FirstDepositBonus: DefaultFirstDepositBonusRate,
	}
}

// normalized caps the table at referral.MaxLevels. An empty table becomes the
// default table and a negative bonus rate the default rate; a zero bonus rate
// is kept and disables the first-deposit bonus.
func (r Rates) normalized() Rates {
	out := Rates{FirstDepositBonus: r.FirstDepositBonus}
	if out.FirstDepositBonus.IsNegative() {
		out.FirstDepositBonus = DefaultFirstDepositBonusRate
	}
	if len(r.Commission) == 0 {
		out.Commission = append([]decimal.Decimal(nil), DefaultCommissionRates...)
		return out
	}
	n := len(r.Commission)
	if n > referral.MaxLevels {
		n = referral.MaxLevels
	}
	out.Commission = append([]decimal.Decimal(nil), r.Commission[:n]...)
	return out
}

// CommissionFor returns the commission for amount at level (1-based) and
// false when the level is outside the table.
func (r Rates) CommissionFor(level int, amount decimal.Decimal) (decimal.Decimal, bool) {
	if level < 1 || level > len(r.Commission) {
		return decimal.Zero, false
	}
	return amount.Mul(r.Commission[level-1]).Round(amountPlaces), true
}

// BonusFor returns the first-deposit bonus for amount.
func (r Rates) BonusFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.FirstDepositBonus).Round(amountPlaces)
}
