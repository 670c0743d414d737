package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hunyxv/svcmux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// wsPeerServer 每个连接用 Accept 包装，交给 peer 处理
func wsPeerServer(t *testing.T, peers chan<- *peer) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		p := newPeer(t)
		tr, err := Accept(conn, WithWebSocketLogger(svcmux.NopLogger{})).Dial(context.Background(), p)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		p.setTransport(tr)
		peers <- p
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket(t *testing.T) {
	peers := make(chan *peer, 1)
	srv := wsPeerServer(t, peers)
	defer srv.Close()

	preConnected := false
	dialer := NewWebSocketDialer(wsURL(srv),
		WithWebSocketLogger(svcmux.NopLogger{}),
		WithHandshakeTimeout(time.Second),
		WithPreConnect(func(ctx context.Context) error {
			preConnected = true
			return nil
		}))
	s, closed := openedService(t, dialer)
	assert.True(t, preConnected)

	p := <-peers
	<-p.open
	exercise(t, s, p)

	require.NoError(t, s.Close())
	waitClosed(t, closed)
	waitClosed(t, p.shut)
	assert.Equal(t, svcmux.StateClosed, s.State())
}

func TestWebSocketPeerCloses(t *testing.T) {
	peers := make(chan *peer, 1)
	srv := wsPeerServer(t, peers)
	defer srv.Close()

	s, closed := openedService(t, NewWebSocketDialer(wsURL(srv), WithWebSocketLogger(svcmux.NopLogger{})))
	p := <-peers
	require.NoError(t, p.transport().Close())
	waitClosed(t, closed)
	assert.ErrorIs(t, s.Notify("late", nil), svcmux.ErrClosed)
}

func TestWebSocketInvalidURL(t *testing.T) {
	for _, rawurl := range []string{"http://example.com/ws", "ws://", "::bad"} {
		_, err := NewWebSocketDialer(rawurl).Dial(context.Background(), newPeer(t))
		assert.Error(t, err, rawurl)
	}

	errCh := make(chan error, 1)
	closed := make(chan struct{})
	s := svcmux.New(NewWebSocketDialer("not a url"), nil,
		svcmux.WithLogger(svcmux.NopLogger{}),
		svcmux.WithHooks(&svcmux.HookFuncs{
			Error: func(err error) { errCh <- err },
			Close: func() { close(closed) },
		}))
	select {
	case err := <-errCh:
		assert.True(t, svcmux.IsKind(err, svcmux.ErrTransportConstruction))
	case <-time.After(2 * time.Second):
		t.Fatal("construction failure not reported")
	}
	require.NoError(t, s.Close())
	waitClosed(t, closed)
}

func TestWebSocketPreConnectFailure(t *testing.T) {
	errCh := make(chan error, 1)
	closed := make(chan struct{})
	dialer := NewWebSocketDialer("ws://127.0.0.1:1/never",
		WithWebSocketLogger(svcmux.NopLogger{}),
		WithPreConnect(func(ctx context.Context) error { return errors.New("no session") }))
	s := svcmux.New(dialer, nil,
		svcmux.WithLogger(svcmux.NopLogger{}),
		svcmux.WithHooks(&svcmux.HookFuncs{
			Error: func(err error) { errCh <- err },
			Close: func() { close(closed) },
		}))

	select {
	case err := <-errCh:
		assert.True(t, svcmux.IsKind(err, svcmux.ErrTransportRuntime))
		assert.Contains(t, err.Error(), "no session")
	case <-time.After(2 * time.Second):
		t.Fatal("pre-connect failure not reported")
	}
	waitClosed(t, closed)
	assert.Equal(t, svcmux.StateClosed, s.State())
}
