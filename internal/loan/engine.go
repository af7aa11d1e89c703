// Package loan computes loan-to-value, health factor and liquidation risk for
// a collateralised stablecoin position. Everything here is pure: callers
// supply balances and a spot price and get a snapshot back.
package loan

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)

	mediumThreshold = decimal.NewFromInt(70)
	highThreshold   = decimal.NewFromInt(85)

	// liquidationWindow is the fraction of MaxLTV at which a position is
	// flagged as at risk of liquidation.
	liquidationWindow = decimal.RequireFromString("0.95")

	// UnboundedLTV is reported when debt exists against zero collateral value.
	UnboundedLTV = decimal.NewFromInt(999999)
)

// Params are the protocol constants the engine evaluates against.
type Params struct {
	MaxLTV            decimal.Decimal // percent, e.g. 90
	LiquidationBuffer decimal.Decimal // > 1, e.g. 1.1
}

// DefaultParams mirrors the lending protocol's published constants.
func DefaultParams() Params {
	return Params{
		MaxLTV:            decimal.NewFromInt(90),
		LiquidationBuffer: decimal.RequireFromString("1.1"),
	}
}

// Evaluate builds a LoanPosition from raw balances and a spot price. It never
// fails for non-negative inputs; negative inputs are clamped to zero.
func Evaluate(collateral, debt, price decimal.Decimal, p Params) domain.LoanPosition {
	collateral = clamp(collateral)
	debt = clamp(debt)
	price = clamp(price)

	value := collateral.Mul(price)
	pos := domain.LoanPosition{
		CollateralAmount: collateral,
		CollateralValue:  value,
		DebtAmount:       debt,
		LoanToValue:      decimal.Zero,
	}

	switch {
	case debt.IsZero():
		// no debt: health factor undefined
	case value.IsZero():
		pos.LoanToValue = UnboundedLTV
		zero := decimal.Zero
		pos.HealthFactor = &zero
	default:
		pos.LoanToValue = debt.Div(value).Mul(hundred)
		hf := value.Div(debt.Mul(buffer(p)))
		pos.HealthFactor = &hf
	}

	pos.Risk = Classify(pos.LoanToValue)
	pos.LiquidationRisk = AtLiquidationRisk(pos.LoanToValue, p)
	pos.Recommendations = Recommendations(pos.Risk)
	return pos
}

// Classify maps a loan-to-value percentage onto a risk level.
func Classify(ltv decimal.Decimal) domain.RiskLevel {
	switch {
	case ltv.LessThan(mediumThreshold):
		return domain.RiskLow
	case ltv.LessThan(highThreshold):
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// AtLiquidationRisk reports whether ltv is within the liquidation window of
// the protocol ceiling.
func AtLiquidationRisk(ltv decimal.Decimal, p Params) bool {
	return ltv.GreaterThanOrEqual(p.MaxLTV.Mul(liquidationWindow))
}

// ProjectedLTV returns the loan-to-value percentage after adding extraDebt to
// an existing position. A zero collateral value yields UnboundedLTV unless
// the resulting debt is also zero.
func ProjectedLTV(collateral, debt, extraDebt, price decimal.Decimal) decimal.Decimal {
	total := clamp(debt).Add(clamp(extraDebt))
	value := clamp(collateral).Mul(clamp(price))
	if total.IsZero() {
		return decimal.Zero
	}
	if value.IsZero() {
		return UnboundedLTV
	}
	return total.Div(value).Mul(hundred)
}

// MaxMintable is the largest additional debt that keeps the position at or
// under MaxLTV.
func MaxMintable(collateral, debt, price decimal.Decimal, p Params) decimal.Decimal {
	limit := clamp(collateral).Mul(clamp(price)).Mul(p.MaxLTV).Div(hundred)
	room := limit.Sub(clamp(debt))
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}

// Recommendations returns operator guidance for a risk level.
func Recommendations(r domain.RiskLevel) []string {
	switch r {
	case domain.RiskHigh:
		return []string{
			"Consider adding more collateral immediately",
			"Reduce your stablecoin debt to lower LTV",
			"Monitor BTC price closely for liquidation risk",
		}
	case domain.RiskMedium:
		return []string{
			"Consider adding collateral to reduce risk",
			"Monitor market conditions",
			"Set up price alerts for BTC",
		}
	default:
		return []string{
			"Your position is healthy",
			"Continue monitoring market conditions",
			"Consider optimizing your yield strategy",
		}
	}
}

func buffer(p Params) decimal.Decimal {
	if p.LiquidationBuffer.LessThanOrEqual(decimal.NewFromInt(1)) {
		return DefaultParams().LiquidationBuffer
	}
	return p.LiquidationBuffer
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
