// Package chain checks order payments against the chain.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidHash       = errors.New("invalid transaction hash")
	ErrPending           = errors.New("transaction is still pending")
	ErrWrongRecipient    = errors.New("transaction pays a different recipient")
	ErrInsufficient      = errors.New("transaction value below order price")
	ErrTransactionFailed = errors.New("transaction reverted")
)

// Backend is the subset of ethclient the verifier needs.
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Verifier confirms that a transaction hash is a mined, successful transfer
// of at least the order price to the recipient.
type Verifier struct {
	backend   Backend
	recipient common.Address
	minValue  *big.Int

	// Wait bounds how long a pending transaction is polled for; PollEvery is the poll period.
	Wait      time.Duration
	PollEvery time.Duration
}

func NewVerifier(backend Backend, recipient common.Address, minValue *big.Int) *Verifier {
	return &Verifier{
		backend:   backend,
		recipient: recipient,
		minValue:  minValue,
		Wait:      2 * time.Minute,
		PollEvery: 2 * time.Second,
	}
}

// Dial opens an ethclient for the verifier and health checks.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return cli, nil
}

func (v *Verifier) VerifyPayment(ctx context.Context, txHash string) error {
	if len(txHash) != 66 || !strings.HasPrefix(txHash, "0x") {
		return ErrInvalidHash
	}
	hash := common.HexToHash(txHash)

	tx, _, err := v.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("lookup tx: %w", err)
	}
	if tx.To() == nil || *tx.To() != v.recipient {
		return ErrWrongRecipient
	}
	if tx.Value().Cmp(v.minValue) < 0 {
		return ErrInsufficient
	}

	waitCtx, cancel := context.WithTimeout(ctx, v.Wait)
	defer cancel()
	receipt, err := WaitForReceipt(waitCtx, v.backend, hash, v.PollEvery)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPending
		}
		return fmt.Errorf("lookup receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrTransactionFailed
	}
	return nil
}

func (v *Verifier) Ping(ctx context.Context) error {
	_, err := v.backend.BlockNumber(ctx)
	return err
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, backend Backend, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
