package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/loan"
)

// RiskService reports loan health for lending-ledger addresses. It is
// read-only.
type RiskService struct {
	lending domain.LendingLedger
	prices  domain.PriceFeed
	asset   string
	params  loan.Params
	logger  *slog.Logger
}

// NewRiskService creates a RiskService pricing collateral in asset.
func NewRiskService(
	lending domain.LendingLedger,
	prices domain.PriceFeed,
	asset string,
	params loan.Params,
	logger *slog.Logger,
) *RiskService {
	if asset == "" {
		asset = "BTC"
	}
	return &RiskService{
		lending: lending,
		prices:  prices,
		asset:   asset,
		params:  params,
		logger:  logger.With(slog.String("component", "risk_service")),
	}
}

// LoanPosition reads the on-chain position of address and evaluates it at
// the current spot price. An empty address means the service's own wallet.
func (s *RiskService) LoanPosition(ctx context.Context, address string) (domain.LoanPosition, error) {
	if address == "" {
		address = s.lending.Address()
	}

	pos, err := s.lending.Position(ctx, address)
	if err != nil {
		return domain.LoanPosition{}, &domain.RemoteCallError{Ledger: "lending", Op: "position", Err: err}
	}
	price, err := s.prices.SpotPrice(ctx, s.asset)
	if err != nil {
		return domain.LoanPosition{}, fmt.Errorf("risk_service: spot price: %w", err)
	}

	lp := loan.Evaluate(pos.CollateralAmount, pos.DebtAmount, price, s.params)
	lp.Address = address

	if lp.LiquidationRisk {
		s.logger.WarnContext(ctx, "position near liquidation",
			slog.String("address", address),
			slog.String("ltv", lp.LoanToValue.StringFixed(2)),
		)
	}
	return lp, nil
}
