// Package solana is the second-ledger client. It moves the stablecoin as an
// SPL token (or native lamports when no mint is configured) and reports
// signature finality.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

const lamportDecimals = 9

// RPC is the subset of rpc.Client the client uses.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Config configures the client. An empty Mint moves native lamports.
type Config struct {
	RPCURL     string
	PrivateKey string // base58
	Mint       string
	Decimals   uint8
}

// Client implements domain.SecondLedger.
type Client struct {
	rpc      RPC
	key      solana.PrivateKey
	owner    solana.PublicKey
	mint     solana.PublicKey
	hasMint  bool
	decimals uint8
}

// New dials cfg.RPCURL.
func New(cfg Config) (*Client, error) {
	return NewWithRPC(rpc.New(cfg.RPCURL), cfg)
}

// NewWithRPC creates a Client over an existing RPC.
func NewWithRPC(r RPC, cfg Config) (*Client, error) {
	key, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("solana: private key: %w", err)
	}
	c := &Client{
		rpc:      r,
		key:      key,
		owner:    key.PublicKey(),
		decimals: lamportDecimals,
	}
	if cfg.Mint != "" {
		mint, err := solana.PublicKeyFromBase58(cfg.Mint)
		if err != nil {
			return nil, fmt.Errorf("solana: mint: %w", err)
		}
		c.mint = mint
		c.hasMint = true
		c.decimals = cfg.Decimals
		if c.decimals == 0 {
			c.decimals = 6
		}
	}
	return c, nil
}

// Address returns the wallet public key.
func (c *Client) Address(context.Context) (string, error) {
	return c.owner.String(), nil
}

// Balance returns the token (or lamport) balance of address.
func (c *Client) Balance(ctx context.Context, address string) (domain.SecondLedgerBalance, error) {
	wallet, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.SecondLedgerBalance{}, fmt.Errorf("solana: balance: %w", err)
	}

	if !c.hasMint {
		res, err := c.rpc.GetBalance(ctx, wallet, rpc.CommitmentFinalized)
		if err != nil {
			return domain.SecondLedgerBalance{}, fmt.Errorf("solana: balance %s: %w", address, err)
		}
		return c.balance(res.Value), nil
	}

	account, _, err := solana.FindAssociatedTokenAddress(wallet, c.mint)
	if err != nil {
		return domain.SecondLedgerBalance{}, fmt.Errorf("solana: token account: %w", err)
	}
	res, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentFinalized)
	if errors.Is(err, rpc.ErrNotFound) {
		return c.balance(0), nil
	}
	if err != nil {
		return domain.SecondLedgerBalance{}, fmt.Errorf("solana: token balance %s: %w", address, err)
	}
	if res == nil || res.Value == nil {
		return c.balance(0), nil
	}
	units, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return domain.SecondLedgerBalance{}, fmt.Errorf("solana: parse token amount %q: %w", res.Value.Amount, err)
	}
	return c.balance(units), nil
}

func (c *Client) balance(units uint64) domain.SecondLedgerBalance {
	return domain.SecondLedgerBalance{
		NativeUnits:  units,
		DisplayUnits: decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(c.decimals)),
	}
}

// Send transfers nativeUnits to address. The returned status is always
// pending; finality comes from TransactionStatus.
func (c *Client) Send(ctx context.Context, address string, nativeUnits uint64) (domain.SendResult, error) {
	if nativeUnits == 0 {
		return domain.SendResult{}, fmt.Errorf("solana: send: %w", domain.ErrInvalidAmount)
	}
	dest, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("solana: send: destination: %w", err)
	}

	instructions, err := c.transferInstructions(ctx, dest, nativeUnits)
	if err != nil {
		return domain.SendResult{}, err
	}

	bh, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("solana: latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, bh.Value.Blockhash, solana.TransactionPayer(c.owner))
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("solana: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.owner) {
			return &c.key
		}
		return nil
	}); err != nil {
		return domain.SendResult{}, fmt.Errorf("solana: sign: %w", err)
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("solana: send transaction: %w", err)
	}
	return domain.SendResult{
		Signature: sig.String(),
		Status:    domain.ChainPending,
		Message:   fmt.Sprintf("sent %d units to %s", nativeUnits, address),
	}, nil
}

func (c *Client) transferInstructions(ctx context.Context, dest solana.PublicKey, units uint64) ([]solana.Instruction, error) {
	if !c.hasMint {
		return []solana.Instruction{
			system.NewTransferInstruction(units, c.owner, dest).Build(),
		}, nil
	}

	source, _, err := solana.FindAssociatedTokenAddress(c.owner, c.mint)
	if err != nil {
		return nil, fmt.Errorf("solana: source token account: %w", err)
	}
	target, _, err := solana.FindAssociatedTokenAddress(dest, c.mint)
	if err != nil {
		return nil, fmt.Errorf("solana: destination token account: %w", err)
	}

	var out []solana.Instruction
	if _, err := c.rpc.GetAccountInfo(ctx, target); errors.Is(err, rpc.ErrNotFound) {
		out = append(out, ata.NewCreateInstruction(c.owner, dest, c.mint).Build())
	} else if err != nil {
		return nil, fmt.Errorf("solana: destination token account: %w", err)
	}
	out = append(out, token.NewTransferCheckedInstruction(
		units, c.decimals, source, c.mint, target, c.owner, nil,
	).Build())
	return out, nil
}

// TransactionStatus maps the cluster's view of signature to a ChainStatus.
func (c *Client) TransactionStatus(ctx context.Context, signature string) (domain.ChainStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return "", fmt.Errorf("solana: signature %q: %w", signature, err)
	}
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", fmt.Errorf("solana: signature status: %w", err)
	}
	if res == nil || len(res.Value) == 0 {
		return domain.ChainPending, nil
	}
	return mapStatus(res.Value[0]), nil
}

func mapStatus(st *rpc.SignatureStatusesResult) domain.ChainStatus {
	switch {
	case st == nil:
		return domain.ChainPending
	case st.Err != nil:
		return domain.ChainFailed
	case st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		return domain.ChainConfirmed
	case st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed,
		st.ConfirmationStatus == rpc.ConfirmationStatusProcessed:
		return domain.ChainConfirming
	default:
		return domain.ChainPending
	}
}

var _ domain.SecondLedger = (*Client)(nil)
