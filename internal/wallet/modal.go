package wallet

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ProviderOption is one entry of the provider-selection modal.
type ProviderOption struct {
	Name        string
	Description string
	Open        func(ctx context.Context) (Provider, error)
}

// Selector picks one of the option names. Returning ErrModalClosed means the
// user dismissed the modal.
type Selector func(ctx context.Context, options []string, cached string) (string, error)

type choiceKey struct{}

// WithProviderChoice attaches the provider the visitor picked to ctx.
func WithProviderChoice(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, choiceKey{}, name)
}

// ContextSelector uses the choice stored by WithProviderChoice, then the cached
// provider, then the only option when there is exactly one.
func ContextSelector(ctx context.Context, options []string, cached string) (string, error) {
	if name, ok := ctx.Value(choiceKey{}).(string); ok && name != "" {
		return name, nil
	}
	if cached != "" {
		return cached, nil
	}
	if len(options) == 1 {
		return options[0], nil
	}
	return "", ErrModalClosed
}

type ModalConfig struct {
	// CacheKey is where the chosen provider name is remembered.
	CacheKey     string
	Cache        SessionCache
	Selector     Selector
	PollInterval time.Duration
}

// ProviderModal is a Modal over a fixed set of provider options. It remembers
// the chosen option in a SessionCache and watches the open provider by polling
// its accounts and chain id.
type ProviderModal struct {
	cfg     ModalConfig
	options map[string]ProviderOption
	order   []string
	feed    event.FeedOf[ProviderEvent]

	mu        sync.Mutex
	cached    string
	loaded    bool
	stopWatch context.CancelFunc
}

func NewProviderModal(cfg ModalConfig, options ...ProviderOption) *ProviderModal {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Selector == nil {
		cfg.Selector = ContextSelector
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	m := &ProviderModal{
		cfg:     cfg,
		options: make(map[string]ProviderOption, len(options)),
	}
	for _, opt := range options {
		m.options[opt.Name] = opt
		m.order = append(m.order, opt.Name)
	}
	return m
}

func (m *ProviderModal) Connect(ctx context.Context) (Provider, error) {
	name, err := m.cfg.Selector(ctx, slices.Clone(m.order), m.CachedProvider())
	if err != nil {
		return nil, err
	}
	opt, ok := m.options[name]
	if !ok {
		return nil, fmt.Errorf("unknown wallet provider %q", name)
	}

	provider, err := opt.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	if err := m.cfg.Cache.Set(ctx, m.cfg.CacheKey, name); err != nil {
		provider.Close()
		return nil, fmt.Errorf("cache provider: %w", err)
	}

	// The baseline is taken before returning so a change right after
	// Connect is reported by the first poll.
	base := m.snapshot(ctx, provider)

	m.mu.Lock()
	m.cached = name
	m.loaded = true
	if m.stopWatch != nil {
		m.stopWatch()
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	m.stopWatch = cancel
	m.mu.Unlock()

	go m.watch(watchCtx, provider, base)
	return provider, nil
}

type providerState struct {
	accounts []common.Address
	chain    *big.Int
}

// snapshot reads what the provider reports now. Unreadable values stay
// empty and are reported on the first successful poll.
func (m *ProviderModal) snapshot(ctx context.Context, p Provider) providerState {
	var st providerState
	if accounts, err := p.Accounts(ctx); err == nil {
		st.accounts = accounts
	}
	if id, err := p.ChainID(ctx); err == nil {
		st.chain = id
	}
	return st
}

func (m *ProviderModal) CachedProvider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		name, err := m.cfg.Cache.Get(context.Background(), m.cfg.CacheKey)
		if err == nil {
			m.cached = name
		}
		m.loaded = true
	}
	return m.cached
}

func (m *ProviderModal) ClearCachedProvider(ctx context.Context) error {
	m.mu.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.cached = ""
	m.loaded = true
	m.mu.Unlock()

	return m.cfg.Cache.Delete(ctx, m.cfg.CacheKey)
}

// Close stops watching the open provider.
func (m *ProviderModal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
}

func (m *ProviderModal) SubscribeEvents(ch chan<- ProviderEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *ProviderModal) watch(ctx context.Context, p Provider, base providerState) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	lastAccounts, lastChain := base.accounts, base.chain

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		accounts, err := p.Accounts(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.feed.Send(ProviderEvent{Kind: ProviderDisconnected})
			return
		}
		if !slices.Equal(accounts, lastAccounts) {
			lastAccounts = accounts
			m.feed.Send(ProviderEvent{Kind: AccountsChanged, Accounts: accounts})
		}

		id, err := p.ChainID(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.feed.Send(ProviderEvent{Kind: ProviderDisconnected})
			return
		}
		if lastChain == nil || id.Cmp(lastChain) != 0 {
			lastChain = id
			m.feed.Send(ProviderEvent{Kind: ChainChanged, ChainID: id})
		}
	}
}
