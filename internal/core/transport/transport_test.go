package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func exchange(t *testing.T, ctx context.Context, a, b Channel) {
	t.Helper()
	require.NoError(t, a.Send(ctx, []byte("ping")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	require.NoError(t, b.Send(ctx, []byte("pong")))
	got, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))
}

func TestPipe(t *testing.T) {
	ctx := testContext(t)
	a, b := NewPipe()
	exchange(t, ctx, a, b)

	t.Run("buffered messages survive close", func(t *testing.T) {
		a, b := NewPipe()
		require.NoError(t, a.Send(ctx, []byte("last")))
		require.NoError(t, a.Close())

		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "last", string(got))

		_, err = b.Receive(ctx)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, b.Send(ctx, []byte("x")), ErrClosed)
	})

	t.Run("receive honours context", func(t *testing.T) {
		_, b := NewPipe()
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := b.Receive(short)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("send copies the payload", func(t *testing.T) {
		a, b := NewPipe()
		payload := []byte("abc")
		require.NoError(t, a.Send(ctx, payload))
		payload[0] = 'z'
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got))
	})
}

func TestPipeListener(t *testing.T) {
	ctx := testContext(t)
	l := NewPipeListener()

	accepted := make(chan Channel, 1)
	go func() {
		ch, err := l.Accept(ctx)
		if err == nil {
			accepted <- ch
		}
	}()

	client, err := l.Dial(ctx, "ignored")
	require.NoError(t, err)
	server := <-accepted
	exchange(t, ctx, client, server)

	require.NoError(t, l.Close())
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Dial(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWebSocket(t *testing.T) {
	ctx := testContext(t)
	cfg := DefaultConfig()
	cfg.AuthToken = "secret"

	acceptor := NewWebSocketAcceptor(cfg, nil)
	srv := httptest.NewServer(acceptor)
	defer srv.Close()
	defer acceptor.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("token required", func(t *testing.T) {
		_, err := WebSocketDialer{Config: DefaultConfig()}.Dial(ctx, url)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("exchange", func(t *testing.T) {
		client, err := WebSocketDialer{Config: cfg}.Dial(ctx, url)
		require.NoError(t, err)
		server, err := acceptor.Accept(ctx)
		require.NoError(t, err)
		exchange(t, ctx, client, server)

		require.NoError(t, client.Close())
		_, err = server.Receive(ctx)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, client.Send(ctx, []byte("x")), ErrClosed)
	})

	t.Run("size limit", func(t *testing.T) {
		small := cfg
		small.MaxMessageSize = 4
		client, err := WebSocketDialer{Config: small}.Dial(ctx, url)
		require.NoError(t, err)
		defer client.Close()
		assert.ErrorIs(t, client.Send(ctx, []byte("too long")), ErrMessageTooLarge)
	})
}

func TestListenWebSocket(t *testing.T) {
	ctx := testContext(t)
	l, err := ListenWebSocket("127.0.0.1:0", "/ws", DefaultConfig(), nil)
	require.NoError(t, err)
	defer l.Close()

	client, err := WebSocketDialer{Config: DefaultConfig()}.Dial(ctx, "ws://"+l.Addr()+"/ws")
	require.NoError(t, err)
	defer client.Close()

	server, err := l.Accept(ctx)
	require.NoError(t, err)
	exchange(t, ctx, client, server)
}

func TestQUIC(t *testing.T) {
	ctx := testContext(t)
	l, err := ListenQUIC("127.0.0.1:0", DefaultConfig(), DefaultQUICOptions(), nil)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Channel, 1)
	go func() {
		ch, err := l.Accept(ctx)
		if err == nil {
			accepted <- ch
		}
	}()

	client, err := QUICDialer{Config: DefaultConfig(), Options: DefaultQUICOptions()}.Dial(ctx, l.Addr())
	require.NoError(t, err)
	defer client.Close()

	var server Channel
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("server did not accept")
	}
	defer server.Close()

	exchange(t, ctx, client, server)
	require.NoError(t, client.Send(ctx, []byte(strings.Repeat("x", 10_000))))
	got, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 10_000)
}
