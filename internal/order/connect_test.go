package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formtato/internal/wallet"
)

func TestConnectControlLabelAndDisabled(t *testing.T) {
	conn := &fakeConnector{ready: true}
	ctl := NewConnectControl(conn)

	assert.Equal(t, "Connect Wallet", ctl.Label())
	assert.False(t, ctl.Disabled())

	require.NoError(t, ctl.Click(context.Background()))
	assert.Equal(t, "Wallet Connected", ctl.Label())
	assert.True(t, ctl.Disabled())

	// disabled control ignores clicks
	require.NoError(t, ctl.Click(context.Background()))
	assert.Equal(t, 1, conn.connects)
}

func TestConnectControlNotReady(t *testing.T) {
	conn := &fakeConnector{}
	ctl := NewConnectControl(conn)
	assert.True(t, ctl.Disabled())
	require.NoError(t, ctl.Click(context.Background()))
	assert.Zero(t, conn.connects)
}

func TestConnectControlSwallowsCancellation(t *testing.T) {
	conn := &fakeConnector{ready: true, connectErr: fmt.Errorf("%w: %v", wallet.ErrUserRejected, wallet.ErrModalClosed)}
	ctl := NewConnectControl(conn)

	require.NoError(t, ctl.Click(context.Background()))
	assert.Equal(t, "Connect Wallet", ctl.Label())

	conn.connectErr = errors.New("provider unavailable")
	assert.EqualError(t, ctl.Click(context.Background()), "provider unavailable")
}

func TestWalletStateFollowsEvents(t *testing.T) {
	conn := &fakeConnector{ready: true}
	state := WatchWallet(conn)
	defer state.Close()

	seen := make(chan wallet.Session, 4)
	state.Observe(func(s wallet.Session) { seen <- s })

	_, err := conn.Connect(context.Background())
	require.NoError(t, err)
	state.Refresh()
	got := <-seen
	assert.True(t, got.Connected)
	assert.Equal(t, buyer, got.Address)

	conn.setSession(wallet.Session{})
	conn.feed.Send(wallet.Event{Kind: wallet.EventDisconnected})

	select {
	case got = <-seen:
		assert.False(t, got.Connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no session update after disconnect event")
	}
	assert.False(t, state.Session().Connected)
}

func TestWalletStateRefreshWithoutChangeIsQuiet(t *testing.T) {
	conn := &fakeConnector{ready: true}
	state := WatchWallet(conn)
	defer state.Close()

	calls := 0
	state.Observe(func(wallet.Session) { calls++ })
	state.Refresh()
	state.Refresh()
	assert.Zero(t, calls)
}
