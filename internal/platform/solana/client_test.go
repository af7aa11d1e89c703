package solana

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

type fakeRPC struct {
	mu       sync.Mutex
	sent     []*solana.Transaction
	lamports uint64
	token    string
	statuses map[solana.Signature]*rpc.SignatureStatusesResult
	accounts map[solana.PublicKey]bool
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeRPC) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.lamports}, nil
}

func (f *fakeRPC) GetTokenAccountBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: f.token, Decimals: 6}}, nil
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if f.accounts[account] {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return nil, rpc.ErrNotFound
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	out := &rpc.GetSignatureStatusesResult{}
	for _, s := range sigs {
		out.Value = append(out.Value, f.statuses[s])
	}
	return out, nil
}

func (f *fakeRPC) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func TestSendNativeTransfer(t *testing.T) {
	key := newKey(t)
	dest := newKey(t).PublicKey()
	f := &fakeRPC{}
	c, err := NewWithRPC(f, Config{PrivateKey: key.String()})
	require.NoError(t, err)

	res, err := c.Send(context.Background(), dest.String(), 5000)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainPending, res.Status)

	require.Len(t, f.sent, 1)
	tx := f.sent[0]
	assert.Equal(t, res.Signature, tx.Signatures[0].String())
	require.Len(t, tx.Message.Instructions, 1)
	program, err := tx.Message.Program(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, system.ProgramID, program)
	require.NoError(t, tx.VerifySignatures())

	_, err = c.Send(context.Background(), dest.String(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSendTokenCreatesMissingAccount(t *testing.T) {
	key := newKey(t)
	mint := newKey(t).PublicKey()
	dest := newKey(t).PublicKey()
	f := &fakeRPC{accounts: map[solana.PublicKey]bool{}}
	c, err := NewWithRPC(f, Config{PrivateKey: key.String(), Mint: mint.String(), Decimals: 6})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), dest.String(), 1_500_000_000)
	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	assert.Len(t, f.sent[0].Message.Instructions, 2, "create account then transfer")

	target, _, err := solana.FindAssociatedTokenAddress(dest, mint)
	require.NoError(t, err)
	f.accounts[target] = true

	_, err = c.Send(context.Background(), dest.String(), 1)
	require.NoError(t, err)
	assert.Len(t, f.sent[1].Message.Instructions, 1)
}

func TestBalance(t *testing.T) {
	key := newKey(t)
	f := &fakeRPC{lamports: 2_500_000_000, token: "1500000000"}

	native, err := NewWithRPC(f, Config{PrivateKey: key.String()})
	require.NoError(t, err)
	b, err := native.Balance(context.Background(), key.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000_000), b.NativeUnits)
	assert.Equal(t, "2.5", b.DisplayUnits.String())

	tok, err := NewWithRPC(f, Config{PrivateKey: key.String(), Mint: newKey(t).PublicKey().String()})
	require.NoError(t, err)
	b, err = tok.Balance(context.Background(), key.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, "1500", b.DisplayUnits.String())
}

func TestTransactionStatus(t *testing.T) {
	key := newKey(t)
	sig := solana.Signature{9}
	f := &fakeRPC{statuses: map[solana.Signature]*rpc.SignatureStatusesResult{}}
	c, err := NewWithRPC(f, Config{PrivateKey: key.String()})
	require.NoError(t, err)

	tests := []struct {
		name   string
		status *rpc.SignatureStatusesResult
		want   domain.ChainStatus
	}{
		{"unknown", nil, domain.ChainPending},
		{"processed", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed}, domain.ChainConfirming},
		{"confirmed", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, domain.ChainConfirming},
		{"finalized", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}, domain.ChainConfirmed},
		{"errored", &rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": 1}, ConfirmationStatus: rpc.ConfirmationStatusFinalized}, domain.ChainFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.statuses[sig] = tt.status
			got, err := c.TransactionStatus(context.Background(), sig.String())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = c.TransactionStatus(context.Background(), "!!")
	assert.Error(t, err)
}

func TestNewWithRPCRejectsBadKey(t *testing.T) {
	_, err := NewWithRPC(&fakeRPC{}, Config{PrivateKey: "bad"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}
