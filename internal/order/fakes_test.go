package order

import (
	"context"
	"io"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"formtato/internal/commission"
	"formtato/internal/wallet"
)

var (
	artist = common.HexToAddress("0xf3C56cdDf1A64aaA15DC6F2d137E79F74Dd07C41")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type fakeConnector struct {
	mu         sync.Mutex
	ready      bool
	session    wallet.Session
	connectErr error
	connects   int
	feed       event.FeedOf[wallet.Event]
}

func (c *fakeConnector) Ready() bool { return c.ready }

func (c *fakeConnector) Connect(context.Context) (wallet.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return wallet.Session{}, c.connectErr
	}
	c.session = wallet.Session{Address: buyer, Chain: wallet.ChainInfo{ID: 1}, Connected: true}
	return c.session, nil
}

func (c *fakeConnector) Disconnect(context.Context) error {
	c.setSession(wallet.Session{})
	return nil
}

func (c *fakeConnector) Session() wallet.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *fakeConnector) setSession(s wallet.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *fakeConnector) Subscribe(ch chan<- wallet.Event) event.Subscription {
	return c.feed.Subscribe(ch)
}

// blockingUploader returns once release receives a result.
type blockingUploader struct {
	release chan uploadResult
	mu      sync.Mutex
	names   []string
}

type uploadResult struct {
	uri string
	err error
}

func newBlockingUploader() *blockingUploader {
	return &blockingUploader{release: make(chan uploadResult)}
}

func (u *blockingUploader) Upload(ctx context.Context, name, _ string, body io.Reader) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	u.mu.Lock()
	u.names = append(u.names, name)
	u.mu.Unlock()
	select {
	case res := <-u.release:
		return res.uri, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type countingSubmitter struct {
	mu    sync.Mutex
	err   error
	calls []commission.Request
}

func (s *countingSubmitter) Submit(_ context.Context, req commission.Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.calls)), nil
}

func (s *countingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakePayer struct {
	mu    sync.Mutex
	hash  common.Hash
	err   error
	block chan struct{}
	sent  []common.Address
	value []*big.Int
}

func (p *fakePayer) SendTransaction(_ context.Context, to common.Address, value *big.Int) (common.Hash, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to)
	p.value = append(p.value, value)
	return p.hash, p.err
}

func (p *fakePayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}
