package loan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate(t *testing.T) {
	params := DefaultParams()

	tests := []struct {
		name        string
		collateral  string
		debt        string
		price       string
		wantLTV     string
		wantRisk    domain.RiskLevel
		wantLiq     bool
		wantHFUndef bool
	}{
		{"no debt", "1", "0", "50000", "0", domain.RiskLow, false, true},
		{"medium band", "0.1", "4000", "50000", "80", domain.RiskMedium, false, false},
		{"low band", "0.1", "2500", "50000", "50", domain.RiskLow, false, false},
		{"medium lower edge", "1", "70", "100", "70", domain.RiskMedium, false, false},
		{"high lower edge", "1", "85", "100", "85", domain.RiskHigh, false, false},
		{"liquidation window", "1", "85.5", "100", "85.5", domain.RiskHigh, true, false},
		{"over max", "0.1", "4600", "50000", "92", domain.RiskHigh, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := Evaluate(d(tt.collateral), d(tt.debt), d(tt.price), params)

			assert.True(t, pos.LoanToValue.Equal(d(tt.wantLTV)), "ltv %s", pos.LoanToValue)
			assert.Equal(t, tt.wantRisk, pos.Risk)
			assert.Equal(t, tt.wantLiq, pos.LiquidationRisk)
			if tt.wantHFUndef {
				assert.Nil(t, pos.HealthFactor)
			} else {
				require.NotNil(t, pos.HealthFactor)
			}
			assert.NotEmpty(t, pos.Recommendations)
		})
	}
}

func TestEvaluateHealthFactor(t *testing.T) {
	pos := Evaluate(d("0.1"), d("4000"), d("50000"), DefaultParams())
	require.NotNil(t, pos.HealthFactor)

	// 5000 / (4000 * 1.1)
	want := d("5000").Div(d("4400"))
	assert.True(t, pos.HealthFactor.Equal(want), "hf %s", pos.HealthFactor)
	assert.True(t, pos.CollateralValue.Equal(d("5000")))
}

func TestEvaluateIsTotal(t *testing.T) {
	params := DefaultParams()

	pos := Evaluate(decimal.Zero, d("100"), d("50000"), params)
	assert.True(t, pos.LoanToValue.Equal(UnboundedLTV))
	require.NotNil(t, pos.HealthFactor)
	assert.True(t, pos.HealthFactor.IsZero())
	assert.Equal(t, domain.RiskHigh, pos.Risk)
	assert.True(t, pos.LiquidationRisk)

	pos = Evaluate(decimal.Zero, decimal.Zero, decimal.Zero, params)
	assert.True(t, pos.LoanToValue.IsZero())
	assert.Nil(t, pos.HealthFactor)

	pos = Evaluate(d("-1"), d("-5"), d("100"), params)
	assert.True(t, pos.LoanToValue.IsZero())
}

func TestProjectedLTV(t *testing.T) {
	got := ProjectedLTV(d("0.03"), decimal.Zero, d("1500"), d("100000"))
	assert.True(t, got.Equal(d("50")), "got %s", got)

	got = ProjectedLTV(d("0.03"), decimal.Zero, d("2900"), d("100000"))
	assert.True(t, got.GreaterThan(d("90")))

	assert.True(t, ProjectedLTV(decimal.Zero, decimal.Zero, d("1"), d("100")).Equal(UnboundedLTV))
	assert.True(t, ProjectedLTV(decimal.Zero, decimal.Zero, decimal.Zero, d("100")).IsZero())
}

func TestMaxMintable(t *testing.T) {
	params := DefaultParams()

	got := MaxMintable(d("0.03"), decimal.Zero, d("100000"), params)
	assert.True(t, got.Equal(d("2700")), "got %s", got)

	got = MaxMintable(d("0.03"), d("2000"), d("100000"), params)
	assert.True(t, got.Equal(d("700")), "got %s", got)

	got = MaxMintable(d("0.01"), d("2000"), d("100000"), params)
	assert.True(t, got.IsZero())
}

func TestBufferFallsBackWhenNotAboveOne(t *testing.T) {
	p := Params{MaxLTV: d("90"), LiquidationBuffer: d("1")}
	pos := Evaluate(d("1"), d("50"), d("100"), p)
	require.NotNil(t, pos.HealthFactor)
	assert.True(t, pos.HealthFactor.Equal(d("100").Div(d("55"))))
}
