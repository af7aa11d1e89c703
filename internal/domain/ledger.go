package domain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// UTXO is an unspent output held at a custody address.
type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"` // satoshis
	Height int64  `json:"height"`
}

// BitcoinLedger is the Bitcoin custody client.
type BitcoinLedger interface {
	DepositAddress(ctx context.Context) (string, error)
	Balance(ctx context.Context, address string) (int64, error)
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Send(ctx context.Context, address string, sats int64) (string, error)
}

// ChainStatus is the status a ledger reports for a submitted transaction.
type ChainStatus string

const (
	ChainPending    ChainStatus = "pending"    // not yet seen or not yet included
	ChainConfirming ChainStatus = "confirming" // included but not final
	ChainConfirmed  ChainStatus = "confirmed"
	ChainFailed     ChainStatus = "failed"
)

// DepositResult is returned by LendingLedger.DepositCollateral.
// Status is pending when inclusion was not observed within the client's
// confirmation window.
type DepositResult struct {
	TxHash      string
	Status      ChainStatus
	BlockNumber uint64
}

// MintResult is returned by LendingLedger.MintStablecoin.
type MintResult struct {
	TxHash         string
	Status         ChainStatus
	MintedAmount   decimal.Decimal
	NewLoanToValue decimal.Decimal
}

// LendingPosition is the raw on-chain loan state.
type LendingPosition struct {
	CollateralAmount decimal.Decimal
	DebtAmount       decimal.Decimal
	LoanToValueRaw   *big.Int // basis points as reported by the contract
}

// Receipt is the mined outcome of an EVM transaction.
type Receipt struct {
	Success     bool
	BlockNumber uint64
}

// LendingLedger is the EVM lending-ledger client.
type LendingLedger interface {
	Address() string
	DepositCollateral(ctx context.Context, amount decimal.Decimal) (DepositResult, error)
	MintStablecoin(ctx context.Context, amount decimal.Decimal) (MintResult, error)
	Position(ctx context.Context, address string) (LendingPosition, error)
	// Receipt returns nil when the transaction has not been mined yet.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
}

// SecondLedgerBalance reports both native and display units.
type SecondLedgerBalance struct {
	NativeUnits  uint64
	DisplayUnits decimal.Decimal
}

// SendResult is returned by SecondLedger.Send.
type SendResult struct {
	Signature string
	Status    ChainStatus
	Message   string
}

// SecondLedger is the Solana-style ledger client.
type SecondLedger interface {
	Address(ctx context.Context) (string, error)
	Balance(ctx context.Context, address string) (SecondLedgerBalance, error)
	Send(ctx context.Context, address string, nativeUnits uint64) (SendResult, error)
	TransactionStatus(ctx context.Context, signature string) (ChainStatus, error)
}

// PriceFeed returns the spot price of asset in the quote currency.
type PriceFeed interface {
	SpotPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// ToNativeUnits converts a display amount to integer base units.
func ToNativeUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromNativeUnits converts integer base units to a display amount.
func FromNativeUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}
