package evm

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/crypto"
	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

const (
	testKey   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testVault = "0x00000000000000000000000000000000000000Ab"
)

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	mine     bool // when true, every sent tx gets a successful receipt
	callOut  []byte
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.nonce++
	if b.mine {
		b.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return b.callOut, nil
}

func newTestClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	signer, err := crypto.NewTxSigner(testKey, 31611)
	require.NoError(t, err)
	c, err := NewClient(b, signer, Config{
		VaultAddress:   testVault,
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestDepositCollateralConfirmed(t *testing.T) {
	b := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}, mine: true}
	c := newTestClient(t, b)

	res, err := c.DepositCollateral(context.Background(), decimal.RequireFromString("0.03"))
	require.NoError(t, err)
	assert.Equal(t, domain.ChainConfirmed, res.Status)
	assert.Equal(t, uint64(100), res.BlockNumber)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, common.HexToAddress(testVault), *tx.To())
	assert.Equal(t, res.TxHash, tx.Hash().Hex())

	method := c.abi.Methods["depositCollateral"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "30000000000000000", args[0].(*big.Int).String())
}

func TestMintPendingWhenNotMined(t *testing.T) {
	b := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
	c := newTestClient(t, b)

	res, err := c.MintStablecoin(context.Background(), decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.Equal(t, domain.ChainPending, res.Status)
	assert.True(t, res.MintedAmount.Equal(decimal.NewFromInt(1500)))

	r, err := c.Receipt(context.Background(), res.TxHash)
	require.NoError(t, err)
	assert.Nil(t, r)

	b.mu.Lock()
	b.receipts[common.HexToHash(res.TxHash)] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)}
	b.mu.Unlock()

	r, err = c.Receipt(context.Background(), res.TxHash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Success)
	assert.Equal(t, uint64(7), r.BlockNumber)
}

func TestPosition(t *testing.T) {
	b := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
	c := newTestClient(t, b)

	collateral, _ := new(big.Int).SetString("30000000000000000", 10)
	debt, _ := new(big.Int).SetString("1500000000000000000000", 10)
	out, err := c.abi.Methods["getUserPosition"].Outputs.Pack(collateral, debt, big.NewInt(5000))
	require.NoError(t, err)
	b.callOut = out

	pos, err := c.Position(context.Background(), c.Address())
	require.NoError(t, err)
	assert.Equal(t, "0.03", pos.CollateralAmount.String())
	assert.Equal(t, "1500", pos.DebtAmount.String())
	assert.Equal(t, int64(5000), pos.LoanToValueRaw.Int64())

	_, err = c.Position(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestNewClientRejectsBadVault(t *testing.T) {
	signer, err := crypto.NewTxSigner(testKey, 1)
	require.NoError(t, err)
	_, err = NewClient(&fakeBackend{}, signer, Config{VaultAddress: "nope"}, nil)
	assert.Error(t, err)
}
