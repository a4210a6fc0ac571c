package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// Connector adapts a Modal to the narrow connect/disconnect/account/chain
// surface used by the order flow and re-emits the modal's provider events as
// Changed / Disconnected.
type Connector struct {
	modal  Modal
	chains map[int64]struct{}
	log    logrus.FieldLogger

	// mu serializes Connect and Disconnect.
	mu       sync.Mutex
	provider Provider
	sub      event.Subscription

	stateMu sync.RWMutex
	session Session

	feed event.FeedOf[Event]
}

func NewConnector(modal Modal, supportedChains []int64, log logrus.FieldLogger) *Connector {
	chains := make(map[int64]struct{}, len(supportedChains))
	for _, id := range supportedChains {
		chains[id] = struct{}{}
	}
	return &Connector{
		modal:  modal,
		chains: chains,
		log:    log.WithField("component", "wallet"),
	}
}

func (c *Connector) ID() string   { return "web3modal" }
func (c *Connector) Name() string { return "Web3Modal Connector" }
func (c *Connector) Ready() bool  { return true }

// Connect opens the modal, subscribes to its provider events and resolves the
// chain and account. On error the connector keeps its previous state.
func (c *Connector) Connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make(chan ProviderEvent, 16)
	sub := c.modal.SubscribeEvents(events)

	provider, err := c.modal.Connect(ctx)
	if err != nil {
		sub.Unsubscribe()
		if errors.Is(err, ErrModalClosed) {
			return Session{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return Session{}, err
	}

	id, err := provider.ChainID(ctx)
	if err != nil {
		sub.Unsubscribe()
		provider.Close()
		return Session{}, fmt.Errorf("chain id: %w", err)
	}
	accounts, err := provider.Accounts(ctx)
	if err != nil {
		sub.Unsubscribe()
		provider.Close()
		return Session{}, fmt.Errorf("accounts: %w", err)
	}
	if len(accounts) == 0 {
		sub.Unsubscribe()
		provider.Close()
		return Session{}, ErrNoAccounts
	}

	c.teardownLocked()
	c.provider = provider
	c.sub = sub

	session := Session{
		Address:   accounts[0],
		Chain:     c.chainInfo(id),
		Connected: true,
	}
	c.setSession(session)
	go c.relay(events, sub)

	c.log.WithFields(logrus.Fields{
		"address":  session.Address.Hex(),
		"chain_id": session.Chain.ID,
	}).Info("wallet connected")
	return session, nil
}

// Disconnect drops the provider, clears the cached provider and stops
// listening to the modal. Safe to call when never connected.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.setSession(Session{})
	return c.modal.ClearCachedProvider(ctx)
}

// Close releases the provider and stops listening without forgetting the
// cached provider, so a later Connect can resume silently.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.setSession(Session{})
	if closer, ok := c.modal.(interface{ Close() }); ok {
		closer.Close()
	}
}

// IsAuthorized reports whether a previously chosen provider is cached.
func (c *Connector) IsAuthorized() bool {
	return c.modal.CachedProvider() != ""
}

func (c *Connector) Account(ctx context.Context) (common.Address, error) {
	p, err := c.currentProvider()
	if err != nil {
		return common.Address{}, err
	}
	accounts, err := p.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}

func (c *Connector) ChainID(ctx context.Context) (int64, error) {
	p, err := c.currentProvider()
	if err != nil {
		return 0, err
	}
	id, err := p.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

// SendTransaction asks the connected wallet to transfer value to the given address.
func (c *Connector) SendTransaction(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error) {
	p, err := c.currentProvider()
	if err != nil {
		return common.Hash{}, err
	}
	return p.SendTransaction(ctx, TxRequest{
		From:  c.Session().Address,
		To:    to,
		Value: value,
	})
}

func (c *Connector) Session() Session {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

// Subscribe registers ch for connector events. Sends block until every
// subscriber receives, so ch must be drained.
func (c *Connector) Subscribe(ch chan<- Event) event.Subscription {
	return c.feed.Subscribe(ch)
}

func (c *Connector) currentProvider() (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return nil, ErrNotConnected
	}
	return c.provider, nil
}

func (c *Connector) teardownLocked() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.provider != nil {
		c.provider.Close()
		c.provider = nil
	}
}

func (c *Connector) relay(events <-chan ProviderEvent, sub event.Subscription) {
	for {
		select {
		case ev := <-events:
			c.handle(ev, sub)
		case <-sub.Err():
			return
		}
	}
}

func (c *Connector) handle(ev ProviderEvent, sub event.Subscription) {
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			c.markDisconnected(sub)
			return
		}
		account := ev.Accounts[0]
		c.stateMu.Lock()
		c.session.Address = account
		c.stateMu.Unlock()
		c.feed.Send(Event{Kind: EventChanged, Account: &account})
	case ChainChanged:
		if ev.ChainID == nil {
			return
		}
		chain := c.chainInfo(ev.ChainID)
		c.stateMu.Lock()
		c.session.Chain = chain
		c.stateMu.Unlock()
		c.feed.Send(Event{Kind: EventChanged, Chain: &chain})
	case ProviderDisconnected:
		c.markDisconnected(sub)
	}
}

// markDisconnected drops the provider that raised the disconnect, so no
// transaction can be sent through it. The cached choice is kept. Events from
// a replaced connection are ignored.
func (c *Connector) markDisconnected(sub event.Subscription) {
	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()

	c.stateMu.Lock()
	c.session.Connected = false
	c.stateMu.Unlock()
	c.log.Info("wallet disconnected by provider")
	c.feed.Send(Event{Kind: EventDisconnected})
}

func (c *Connector) setSession(s Session) {
	c.stateMu.Lock()
	c.session = s
	c.stateMu.Unlock()
}

func (c *Connector) chainInfo(id *big.Int) ChainInfo {
	_, ok := c.chains[id.Int64()]
	return ChainInfo{ID: id.Int64(), Unsupported: !ok}
}
