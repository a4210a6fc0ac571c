package wallet

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	baseFee *big.Int
	sent    []*types.Transaction
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(20), nil }

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func TestKeyProviderSignsDynamicFeeTx(t *testing.T) {
	backend := &fakeBackend{baseFee: big.NewInt(10)}
	closed := false
	p, err := NewKeyProvider(backend, devKey, func() { closed = true })
	require.NoError(t, err)

	accounts, err := p.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), accounts[0])

	hash, err := p.SendTransaction(context.Background(), TxRequest{To: bob, Value: big.NewInt(500)})
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, int64(22), tx.GasFeeCap().Int64())
	assert.Equal(t, bob, *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, accounts[0], from)

	p.Close()
	assert.True(t, closed)
}

func TestKeyProviderLegacyWithoutBaseFee(t *testing.T) {
	backend := &fakeBackend{}
	p, err := NewKeyProvider(backend, devKey, nil)
	require.NoError(t, err)

	_, err = p.SendTransaction(context.Background(), TxRequest{To: bob, Value: big.NewInt(1)})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())
	assert.Equal(t, int64(20), backend.sent[0].GasPrice().Int64())
}

func TestKeyProviderRejectsForeignSender(t *testing.T) {
	p, err := NewKeyProvider(&fakeBackend{}, devKey, nil)
	require.NoError(t, err)

	_, err = p.SendTransaction(context.Background(), TxRequest{From: alice, To: bob, Value: big.NewInt(1)})
	assert.Error(t, err)
}

func TestNewKeyProviderBadKey(t *testing.T) {
	_, err := NewKeyProvider(&fakeBackend{}, "0xnothex", nil)
	assert.Error(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = NewKeyProvider(nil, common.Bytes2Hex(crypto.FromECDSA(key)), nil)
	assert.Error(t, err)
}
