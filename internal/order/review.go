package order

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"formtato/internal/wallet"
)

var (
	ErrPaymentInFlight = errors.New("payment already in flight")
	ErrPaymentSettled  = errors.New("payment already settled")
)

// EIP-1193 "user rejected request".
const userRejectedCode = 4001

var userRejected = regexp.MustCompile(`User rejected request`)

// IsUserRejection reports whether err means the user cancelled in the wallet.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, wallet.ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	return userRejected.MatchString(err.Error())
}

type PaymentStatus int

const (
	PaymentIdle PaymentStatus = iota
	PaymentPending
	PaymentSettled
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentIdle:
		return "idle"
	case PaymentPending:
		return "pending"
	case PaymentSettled:
		return "settled"
	default:
		return fmt.Sprintf("PaymentStatus(%d)", int(s))
	}
}

// Payer sends the payment transaction from the connected wallet.
type Payer interface {
	SendTransaction(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error)
}

// ReviewStep sends at most one payment per order.
type ReviewStep struct {
	payer       Payer
	resolver    wallet.Resolver
	destination string
	value       *big.Int
	log         logrus.FieldLogger

	// OnTransaction is called once with the hash of the settled payment.
	OnTransaction func(ctx context.Context, hash string)
	// OnAlert receives errors the user should see.
	OnAlert func(msg string)

	mu     sync.Mutex
	status PaymentStatus
	hash   common.Hash
}

// NewReviewStep pays value wei to destination, a hex address or a name the
// resolver understands.
func NewReviewStep(payer Payer, resolver wallet.Resolver, destination string, value *big.Int, log logrus.FieldLogger) *ReviewStep {
	return &ReviewStep{
		payer:       payer,
		resolver:    resolver,
		destination: destination,
		value:       new(big.Int).Set(value),
		log:         log.WithField("component", "review"),
	}
}

func (r *ReviewStep) Status() PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Hash is the settled payment hash, zero before settlement.
func (r *ReviewStep) Hash() common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

func (r *ReviewStep) Value() *big.Int {
	return new(big.Int).Set(r.value)
}

// Order sends the payment. A user cancellation returns to idle without an
// alert; other failures alert and return to idle so the user can try again.
func (r *ReviewStep) Order(ctx context.Context) (common.Hash, error) {
	r.mu.Lock()
	switch r.status {
	case PaymentPending:
		r.mu.Unlock()
		return common.Hash{}, ErrPaymentInFlight
	case PaymentSettled:
		r.mu.Unlock()
		return common.Hash{}, ErrPaymentSettled
	}
	r.status = PaymentPending
	r.mu.Unlock()

	hash, err := r.send(ctx)
	if err != nil {
		r.mu.Lock()
		r.status = PaymentIdle
		r.mu.Unlock()

		if IsUserRejection(err) {
			r.log.Debug("payment cancelled by user")
			return common.Hash{}, err
		}
		r.log.WithError(err).Warn("payment failed")
		if r.OnAlert != nil {
			r.OnAlert(err.Error())
		}
		return common.Hash{}, err
	}

	r.mu.Lock()
	r.status = PaymentSettled
	r.hash = hash
	r.mu.Unlock()

	r.log.WithField("tx_hash", hash.Hex()).Info("payment sent")
	if r.OnTransaction != nil {
		r.OnTransaction(ctx, hash.Hex())
	}
	return hash, nil
}

func (r *ReviewStep) send(ctx context.Context) (common.Hash, error) {
	to, err := r.resolver.Resolve(ctx, r.destination)
	if err != nil {
		return common.Hash{}, fmt.Errorf("resolve %s: %w", r.destination, err)
	}
	return r.payer.SendTransaction(ctx, to, r.value)
}
