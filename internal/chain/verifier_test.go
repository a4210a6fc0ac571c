package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipient = common.HexToAddress("0xf3C56cdDf1A64aaA15DC6F2d137E79F74Dd07C41")

type fakeBackend struct {
	tx          *types.Transaction
	receipt     *types.Receipt
	receiptFrom int // receipt becomes visible on this call number
	calls       int
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	if f.tx == nil {
		return nil, false, ethereum.NotFound
	}
	return f.tx, f.receipt == nil, nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.calls++
	if f.receipt == nil || f.calls < f.receiptFrom {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func payment(to common.Address, value int64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{To: &to, Value: big.NewInt(value), Gas: 21000, GasPrice: big.NewInt(1)})
}

func newTestVerifier(b Backend) *Verifier {
	v := NewVerifier(b, recipient, big.NewInt(100))
	v.Wait = 200 * time.Millisecond
	v.PollEvery = time.Millisecond
	return v
}

const hash = "0x00000000000000000000000000000000000000000000000000000000000000ab"

func TestVerifyPaymentAccepts(t *testing.T) {
	b := &fakeBackend{
		tx:          payment(recipient, 100),
		receipt:     &types.Receipt{Status: types.ReceiptStatusSuccessful},
		receiptFrom: 3,
	}
	require.NoError(t, newTestVerifier(b).VerifyPayment(context.Background(), hash))
	assert.GreaterOrEqual(t, b.calls, 3)
}

func TestVerifyPaymentRejects(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	ok := &types.Receipt{Status: types.ReceiptStatusSuccessful}

	cases := []struct {
		name    string
		hash    string
		backend *fakeBackend
		want    error
	}{
		{"malformed hash", "0xabc", &fakeBackend{}, ErrInvalidHash},
		{"wrong recipient", hash, &fakeBackend{tx: payment(other, 100), receipt: ok}, ErrWrongRecipient},
		{"too little", hash, &fakeBackend{tx: payment(recipient, 99), receipt: ok}, ErrInsufficient},
		{"reverted", hash, &fakeBackend{tx: payment(recipient, 100), receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}, ErrTransactionFailed},
		{"never mined", hash, &fakeBackend{tx: payment(recipient, 100)}, ErrPending},
		{"unknown", hash, &fakeBackend{}, ethereum.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newTestVerifier(tc.backend).VerifyPayment(context.Background(), tc.hash)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestVerifierPing(t *testing.T) {
	assert.NoError(t, newTestVerifier(&fakeBackend{}).Ping(context.Background()))
}
