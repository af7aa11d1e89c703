// Package evm is the lending-ledger client: collateral deposits, stablecoin
// mints and position reads against the vault contract over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/crypto"
	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

const vaultABI = `[
  {"type":"function","name":"depositCollateral","stateMutability":"nonpayable",
   "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"mintMUSD","stateMutability":"nonpayable",
   "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getUserPosition","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"ltv","type":"uint256"}]}
]`

// Backend is the subset of ethclient.Client the vault client uses.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures the vault client.
type Config struct {
	VaultAddress   string
	Decimals       int32
	GasLimit       uint64
	ConfirmTimeout time.Duration // how long a mutating call waits for its receipt
	PollInterval   time.Duration
}

// Client implements domain.LendingLedger.
type Client struct {
	backend Backend
	signer  *crypto.TxSigner
	vault   common.Address
	abi     abi.ABI
	cfg     Config
	clock   clockwork.Clock

	// txMu serialises nonce allocation and submission.
	txMu sync.Mutex
}

// Dial connects to rpcURL and returns a Client plus the closer of the
// underlying connection.
func Dial(ctx context.Context, rpcURL string, signer *crypto.TxSigner, cfg Config, clock clockwork.Clock) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	c, err := NewClient(ec, signer, cfg, clock)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec.Close, nil
}

// NewClient creates a Client over backend.
func NewClient(backend Backend, signer *crypto.TxSigner, cfg Config, clock clockwork.Clock) (*Client, error) {
	if !common.IsHexAddress(cfg.VaultAddress) {
		return nil, fmt.Errorf("evm: invalid vault address %q", cfg.VaultAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse vault abi: %w", err)
	}
	if cfg.Decimals <= 0 {
		cfg.Decimals = 18
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		backend: backend,
		signer:  signer,
		vault:   common.HexToAddress(cfg.VaultAddress),
		abi:     parsed,
		cfg:     cfg,
		clock:   clock,
	}, nil
}

// Address returns the wallet address as a checksummed hex string.
func (c *Client) Address() string {
	return c.signer.Address().Hex()
}

// DepositCollateral deposits amount of collateral into the vault.
func (c *Client) DepositCollateral(ctx context.Context, amount decimal.Decimal) (domain.DepositResult, error) {
	hash, err := c.transact(ctx, "depositCollateral", domain.ToNativeUnits(amount, c.cfg.Decimals))
	if err != nil {
		return domain.DepositResult{}, fmt.Errorf("evm: deposit collateral: %w", err)
	}
	status, block := c.awaitReceipt(ctx, hash)
	return domain.DepositResult{TxHash: hash.Hex(), Status: status, BlockNumber: block}, nil
}

// MintStablecoin mints amount of stablecoin against the deposited
// collateral. NewLoanToValue is filled once the mint is confirmed.
func (c *Client) MintStablecoin(ctx context.Context, amount decimal.Decimal) (domain.MintResult, error) {
	hash, err := c.transact(ctx, "mintMUSD", domain.ToNativeUnits(amount, c.cfg.Decimals))
	if err != nil {
		return domain.MintResult{}, fmt.Errorf("evm: mint: %w", err)
	}
	res := domain.MintResult{TxHash: hash.Hex(), MintedAmount: amount}
	res.Status, _ = c.awaitReceipt(ctx, hash)

	if res.Status == domain.ChainConfirmed {
		if pos, err := c.Position(ctx, c.Address()); err == nil && pos.LoanToValueRaw != nil {
			res.NewLoanToValue = decimal.NewFromBigInt(pos.LoanToValueRaw, -2)
		}
	}
	return res, nil
}

// Position reads the vault position of address.
func (c *Client) Position(ctx context.Context, address string) (domain.LendingPosition, error) {
	if !common.IsHexAddress(address) {
		return domain.LendingPosition{}, fmt.Errorf("evm: position: invalid address %q", address)
	}
	data, err := c.abi.Pack("getUserPosition", common.HexToAddress(address))
	if err != nil {
		return domain.LendingPosition{}, fmt.Errorf("evm: pack getUserPosition: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.vault, Data: data}, nil)
	if err != nil {
		return domain.LendingPosition{}, fmt.Errorf("evm: position %s: %w", address, err)
	}
	vals, err := c.abi.Unpack("getUserPosition", out)
	if err != nil {
		return domain.LendingPosition{}, fmt.Errorf("evm: unpack getUserPosition: %w", err)
	}
	if len(vals) != 3 {
		return domain.LendingPosition{}, fmt.Errorf("evm: getUserPosition returned %d values", len(vals))
	}
	collateral, _ := vals[0].(*big.Int)
	debt, _ := vals[1].(*big.Int)
	ltv, _ := vals[2].(*big.Int)

	return domain.LendingPosition{
		CollateralAmount: domain.FromNativeUnits(collateral, c.cfg.Decimals),
		DebtAmount:       domain.FromNativeUnits(debt, c.cfg.Decimals),
		LoanToValueRaw:   ltv,
	}, nil
}

// Receipt returns the mined outcome of txHash, or nil while it is not
// mined.
func (c *Client) Receipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evm: receipt %s: %w", txHash, err)
	}
	out := &domain.Receipt{Success: r.Status == types.ReceiptStatusSuccessful}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

// transact packs method(args), signs a legacy transaction to the vault and
// submits it.
func (c *Client) transact(ctx context.Context, method string, args ...any) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	tx, err := c.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.cfg.GasLimit,
		To:       &c.vault,
		Value:    big.NewInt(0),
		Data:     data,
	}))
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}
	return tx.Hash(), nil
}

// awaitReceipt polls for hash within ConfirmTimeout. Anything short of a
// mined receipt in that window, including RPC errors, reports pending and
// leaves finality to the monitor.
func (c *Client) awaitReceipt(ctx context.Context, hash common.Hash) (domain.ChainStatus, uint64) {
	deadline := c.clock.Now().Add(c.cfg.ConfirmTimeout)
	for {
		r, err := c.Receipt(ctx, hash.Hex())
		if err == nil && r != nil {
			if r.Success {
				return domain.ChainConfirmed, r.BlockNumber
			}
			return domain.ChainFailed, r.BlockNumber
		}
		if !c.clock.Now().Before(deadline) {
			return domain.ChainPending, 0
		}
		select {
		case <-ctx.Done():
			return domain.ChainPending, 0
		case <-c.clock.After(c.cfg.PollInterval):
		}
	}
}

var _ domain.LendingLedger = (*Client)(nil)
