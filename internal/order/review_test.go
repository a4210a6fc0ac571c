package order

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formtato/internal/logging"
	"formtato/internal/wallet"
)

var price = big.NewInt(50000000000000000)

type rpcError struct{ code int }

func (e rpcError) Error() string  { return "wallet says no" }
func (e rpcError) ErrorCode() int { return e.code }

type reviewHarness struct {
	step   *ReviewStep
	payer  *fakePayer
	alerts []string
	hashes []string
}

func newReviewHarness(payer *fakePayer) *reviewHarness {
	h := &reviewHarness{payer: payer}
	h.step = NewReviewStep(payer, wallet.HexResolver{}, artist.Hex(), price, logging.Discard())
	h.step.OnAlert = func(msg string) { h.alerts = append(h.alerts, msg) }
	h.step.OnTransaction = func(_ context.Context, hash string) { h.hashes = append(h.hashes, hash) }
	return h
}

func TestOrderSettlesOnce(t *testing.T) {
	hash := common.HexToHash("0xabc")
	h := newReviewHarness(&fakePayer{hash: hash})

	got, err := h.step.Order(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got)
	assert.Equal(t, PaymentSettled, h.step.Status())
	assert.Equal(t, []string{hash.Hex()}, h.hashes)
	assert.Equal(t, []common.Address{artist}, h.payer.sent)
	assert.Equal(t, 0, price.Cmp(h.payer.value[0]))

	_, err = h.step.Order(context.Background())
	assert.ErrorIs(t, err, ErrPaymentSettled)
	assert.Equal(t, 1, h.payer.count())
	assert.Len(t, h.hashes, 1)
}

func TestOrderWhilePending(t *testing.T) {
	payer := &fakePayer{hash: common.HexToHash("0x1"), block: make(chan struct{})}
	h := newReviewHarness(payer)

	done := make(chan error, 1)
	go func() {
		_, err := h.step.Order(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return h.step.Status() == PaymentPending }, time.Second, time.Millisecond)

	_, err := h.step.Order(context.Background())
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	close(payer.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, payer.count())
}

func TestOrderUserRejectionIsSilent(t *testing.T) {
	for _, rejection := range []error{
		errors.New("MetaMask Tx Signature: User rejected request."),
		rpcError{code: 4001},
		fmt.Errorf("send: %w", wallet.ErrUserRejected),
	} {
		h := newReviewHarness(&fakePayer{err: rejection})
		_, err := h.step.Order(context.Background())
		assert.True(t, IsUserRejection(err))
		assert.Empty(t, h.alerts)
		assert.Empty(t, h.hashes)
		assert.Equal(t, PaymentIdle, h.step.Status())
	}
}

func TestOrderFailureAlerts(t *testing.T) {
	h := newReviewHarness(&fakePayer{err: errors.New("insufficient funds for gas * price + value")})
	form := NewForm(&countingSubmitter{})
	_, err := form.SubmitDetails(complete)
	require.NoError(t, err)

	_, err = h.step.Order(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"insufficient funds for gas * price + value"}, h.alerts)
	assert.Equal(t, PaymentIdle, h.step.Status())
	assert.Equal(t, Review, form.State())

	// idle again, so the user may retry
	h.payer.err = nil
	_, err = h.step.Order(context.Background())
	assert.NoError(t, err)
}

func TestOrderUnresolvableDestination(t *testing.T) {
	payer := &fakePayer{}
	step := NewReviewStep(payer, wallet.HexResolver{}, "potato.eth", price, logging.Discard())
	var alerts []string
	step.OnAlert = func(msg string) { alerts = append(alerts, msg) }

	_, err := step.Order(context.Background())
	require.Error(t, err)
	assert.Len(t, alerts, 1)
	assert.Zero(t, payer.count())
}
