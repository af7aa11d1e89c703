package domain

import "github.com/shopspring/decimal"

// RiskLevel classifies a loan by its loan-to-value ratio.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LoanPosition is a computed snapshot of a collateralised loan.
// HealthFactor is nil when there is no debt.
type LoanPosition struct {
	Address          string           `json:"address,omitempty"`
	CollateralAmount decimal.Decimal  `json:"collateral_amount"`
	CollateralValue  decimal.Decimal  `json:"collateral_value"`
	DebtAmount       decimal.Decimal  `json:"debt_amount"`
	LoanToValue      decimal.Decimal  `json:"loan_to_value"`
	HealthFactor     *decimal.Decimal `json:"health_factor"`
	Risk             RiskLevel        `json:"risk"`
	LiquidationRisk  bool             `json:"liquidation_risk"`
	Recommendations  []string         `json:"recommendations,omitempty"`
}
