// Package commission persists commission requests.
package commission

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("commission not found")
	// ErrDuplicateTx means a commission was already recorded for the tx hash.
	ErrDuplicateTx = errors.New("commission already recorded for tx")
)

// Commission is one request for a hand-made potato. Records are created once
// on submission; only Finished changes afterwards, flipped by an operator.
type Commission struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	TwitterUsername string    `json:"twitterUsername"`
	TxHash          string    `json:"txHash"`
	InspirationURI  *string   `json:"inspirationURI"`
	WalletAddress   *string   `json:"walletAddress,omitempty"`
	Finished        bool      `json:"finished"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Repository abstracts commission persistence. A non-empty tx hash is
// recorded at most once; Create returns ErrDuplicateTx for a repeat.
type Repository interface {
	Create(ctx context.Context, c Commission) (Commission, error)
	Get(ctx context.Context, id int64) (*Commission, error)
	GetByTxHash(ctx context.Context, txHash string) (*Commission, error)
	CountUnfinished(ctx context.Context) (int, error)
	MarkFinished(ctx context.Context, id int64) error
}
