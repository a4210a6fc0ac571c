package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

type fakeProvider struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  int64
	err      error
	sendHash common.Hash
	sendErr  error
	sent     []TxRequest
	closed   bool
}

func (p *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return big.NewInt(p.chainID), nil
}

func (p *fakeProvider) SendTransaction(_ context.Context, req TxRequest) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	return p.sendHash, p.sendErr
}

func (p *fakeProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeModal struct {
	provider   Provider
	connectErr error
	cached     string
	cleared    bool
	feed       event.FeedOf[ProviderEvent]
}

func (m *fakeModal) Connect(context.Context) (Provider, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	m.cached = "injected"
	return m.provider, nil
}

func (m *fakeModal) CachedProvider() string { return m.cached }

func (m *fakeModal) ClearCachedProvider(context.Context) error {
	m.cached = ""
	m.cleared = true
	return nil
}

func (m *fakeModal) SubscribeEvents(ch chan<- ProviderEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}
