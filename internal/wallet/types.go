package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var (
	// ErrUserRejected marks a wallet interaction the user cancelled.
	ErrUserRejected = errors.New("User rejected request")
	// ErrModalClosed is returned by a Selector when the user dismisses provider selection.
	ErrModalClosed  = errors.New("Modal closed by user")
	ErrNotConnected = errors.New("wallet not connected")
	ErrNoAccounts   = errors.New("provider returned no accounts")
)

type ChainInfo struct {
	ID          int64 `json:"id"`
	Unsupported bool  `json:"unsupported"`
}

// Session is the state of one wallet connection.
type Session struct {
	Address   common.Address `json:"address"`
	Chain     ChainInfo      `json:"chain"`
	Connected bool           `json:"connected"`
}

type EventKind int

const (
	EventChanged EventKind = iota + 1
	EventDisconnected
)

// Event is what the connector re-emits to its subscribers. A Changed event
// carries either Account or Chain.
type Event struct {
	Kind    EventKind
	Account *common.Address
	Chain   *ChainInfo
}

type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Provider is a connected wallet.
type Provider interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	Close()
}

type ProviderEventKind int

const (
	AccountsChanged ProviderEventKind = iota + 1
	ChainChanged
	ProviderDisconnected
)

type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Modal selects and opens a provider and raises the provider-level events for it.
type Modal interface {
	Connect(ctx context.Context) (Provider, error)
	CachedProvider() string
	ClearCachedProvider(ctx context.Context) error
	SubscribeEvents(ch chan<- ProviderEvent) event.Subscription
}
