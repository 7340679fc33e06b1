package transport

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/zecs/internal/core/observability/log"
)

var _ Channel = (*WebSocketChannel)(nil)

// WebSocketChannel carries one message per WebSocket text frame.
type WebSocketChannel struct {
	id     string
	conn   *websocket.Conn
	config Config
	closed atomic.Bool

	writeMu sync.Mutex
}

func NewWebSocketChannel(conn *websocket.Conn, config Config) *WebSocketChannel {
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	return &WebSocketChannel{
		id:     uuid.NewString(),
		conn:   conn,
		config: config,
	}
}

func (c *WebSocketChannel) ID() string         { return c.id }
func (c *WebSocketChannel) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *WebSocketChannel) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.config.MaxMessageSize > 0 && int64(len(data)) > c.config.MaxMessageSize {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes", len(data))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *WebSocketChannel) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WebSocketChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WebSocketAcceptor upgrades HTTP requests and queues the resulting channels
// for Accept. It can be mounted on any mux.
type WebSocketAcceptor struct {
	config   Config
	upgrader websocket.Upgrader
	logger   log.Log
	accept   chan Channel
	done     chan struct{}
	once     sync.Once
	addr     string
}

func NewWebSocketAcceptor(config Config, logger log.Log) *WebSocketAcceptor {
	backlog := config.AcceptBacklog
	if backlog <= 0 {
		backlog = DefaultConfig().AcceptBacklog
	}
	return &WebSocketAcceptor{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.OrNop(logger).With(log.String("component", "websocket")),
		accept: make(chan Channel, backlog),
		done:   make(chan struct{}),
	}
}

func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.config.AuthToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.AuthToken)) != 1 {
			a.logger.Warn("Rejected unauthenticated client", log.String("remote_addr", r.RemoteAddr))
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("WebSocket upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}

	ch := NewWebSocketChannel(conn, a.config)
	select {
	case a.accept <- ch:
		a.logger.Debug("Client connected", log.String("channel_id", ch.ID()), log.String("remote_addr", ch.RemoteAddr()))
	case <-a.done:
		_ = ch.Close()
	default:
		a.logger.Warn("Accept backlog full, dropping client", log.String("remote_addr", r.RemoteAddr))
		_ = ch.Close()
	}
}

func (a *WebSocketAcceptor) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-a.accept:
		return ch, nil
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *WebSocketAcceptor) Addr() string { return a.addr }

func (a *WebSocketAcceptor) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

// WebSocketListener serves a WebSocketAcceptor on its own HTTP server.
type WebSocketListener struct {
	*WebSocketAcceptor
	server   *http.Server
	listener net.Listener
}

// ListenWebSocket starts an HTTP server on addr accepting upgrades on path.
func ListenWebSocket(addr, path string, config Config, logger log.Log) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}

	acceptor := NewWebSocketAcceptor(config, logger)
	acceptor.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(path, acceptor)
	l := &WebSocketListener{
		WebSocketAcceptor: acceptor,
		server:            &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener:          ln,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			acceptor.logger.Error("WebSocket server stopped", log.Error(err))
		}
	}()
	acceptor.logger.Info("WebSocket listener started", log.String("addr", acceptor.addr), log.String("path", path))
	return l, nil
}

func (l *WebSocketListener) Close() error {
	_ = l.WebSocketAcceptor.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// WebSocketDialer connects to ws:// or wss:// URLs.
type WebSocketDialer struct {
	Config Config
}

func (d WebSocketDialer) Dial(ctx context.Context, addr string) (Channel, error) {
	if d.Config.AuthToken != "" {
		addr = withQuery(addr, "token", d.Config.AuthToken)
	}
	dialer := websocket.Dialer{
		ReadBufferSize:   d.Config.ReadBufferSize,
		WriteBufferSize:  d.Config.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(ErrUnauthorized, addr)
		}
		return nil, errors.Wrap(err, "failed to dial websocket")
	}
	return NewWebSocketChannel(conn, d.Config), nil
}
