// Package order holds the per-visitor commission flow: wallet connection,
// inspiration upload, the details form and the payment step.
package order

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"formtato/internal/wallet"
)

// Connector is the part of wallet.Connector the order flow uses.
type Connector interface {
	Ready() bool
	Connect(ctx context.Context) (wallet.Session, error)
	Disconnect(ctx context.Context) error
	Session() wallet.Session
	Subscribe(ch chan<- wallet.Event) event.Subscription
}

var _ Connector = (*wallet.Connector)(nil)

// ConnectControl is the "Connect Wallet" button.
type ConnectControl struct {
	conn Connector
}

func NewConnectControl(conn Connector) *ConnectControl {
	return &ConnectControl{conn: conn}
}

func (c *ConnectControl) Label() string {
	if c.conn.Session().Connected {
		return "Wallet Connected"
	}
	return "Connect Wallet"
}

func (c *ConnectControl) Disabled() bool {
	return !c.conn.Ready() || c.conn.Session().Connected
}

// Click connects the wallet. A cancelled modal is not an error.
func (c *ConnectControl) Click(ctx context.Context) error {
	if c.Disabled() {
		return nil
	}
	_, err := c.conn.Connect(ctx)
	if errors.Is(err, wallet.ErrUserRejected) {
		return nil
	}
	return err
}

// WalletState tracks the connector's session for every control that reads
// the connection status. Observers run on the state's goroutine.
type WalletState struct {
	conn Connector
	sub  event.Subscription
	done chan struct{}

	mu        sync.RWMutex
	session   wallet.Session
	observers []func(wallet.Session)
}

// WatchWallet subscribes to conn until Close is called.
func WatchWallet(conn Connector) *WalletState {
	events := make(chan wallet.Event, 8)
	s := &WalletState{
		conn:    conn,
		session: conn.Session(),
		done:    make(chan struct{}),
	}
	s.sub = conn.Subscribe(events)
	go s.loop(events)
	return s
}

func (s *WalletState) Session() wallet.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Observe registers fn for every session change.
func (s *WalletState) Observe(fn func(wallet.Session)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Refresh pulls the connector's session, for transitions the connector does
// not announce (connect, explicit disconnect).
func (s *WalletState) Refresh() {
	s.update(s.conn.Session())
}

func (s *WalletState) Close() {
	s.sub.Unsubscribe()
	<-s.done
}

func (s *WalletState) loop(events <-chan wallet.Event) {
	defer close(s.done)
	for {
		select {
		case <-events:
			s.update(s.conn.Session())
		case <-s.sub.Err():
			return
		}
	}
}

func (s *WalletState) update(session wallet.Session) {
	s.mu.Lock()
	if s.session == session {
		s.mu.Unlock()
		return
	}
	s.session = session
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(session)
	}
}
