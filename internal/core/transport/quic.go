package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/pkg/generic"
)

// QUICNextProto is the ALPN protocol both sides negotiate.
const QUICNextProto = "zecs-quic"

const frameHeaderSize = 4

var framePool = generic.NewHotPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 1024)) },
	(*bytes.Buffer).Reset,
	16,
)

type QUICOptions struct {
	// TLSConfig of the listener must carry a certificate; see SelfSignedTLSConfig.
	TLSConfig       *tls.Config
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
}

func DefaultQUICOptions() QUICOptions {
	return QUICOptions{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func (o QUICOptions) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  o.MaxIdleTimeout,
		KeepAlivePeriod: o.KeepAlivePeriod,
	}
}

// ClientTLSConfig returns the TLS settings used when dialing without an
// explicit configuration. Certificates are not verified.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{QUICNextProto},
		MinVersion:         tls.VersionTLS13,
	}
}

var _ Channel = (*QUICChannel)(nil)

// QUICChannel sends length-prefixed frames over a single bidirectional
// stream. An empty frame opens the stream and is never delivered.
type QUICChannel struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	config Config
	closed atomic.Bool

	writeMu sync.Mutex
	readMu  sync.Mutex
	header  [frameHeaderSize]byte
}

func newQUICChannel(conn *quic.Conn, stream *quic.Stream, config Config) *QUICChannel {
	return &QUICChannel{
		id:     uuid.NewString(),
		conn:   conn,
		stream: stream,
		config: config,
	}
}

func (c *QUICChannel) ID() string         { return c.id }
func (c *QUICChannel) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *QUICChannel) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.config.MaxMessageSize > 0 && int64(len(data)) > c.config.MaxMessageSize {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes", len(data))
	}
	return c.writeFrame(ctx, data)
}

func (c *QUICChannel) writeFrame(ctx context.Context, data []byte) error {
	buf := framePool.Get()
	defer framePool.Put(buf)

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	buf.Write(header[:])
	buf.Write(data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.stream.SetWriteDeadline(deadline)

	if _, err := c.stream.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (c *QUICChannel) Receive(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.config.ReadTimeout > 0 {
			_ = c.stream.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		if _, err := io.ReadFull(c.stream, c.header[:]); err != nil {
			return nil, c.readError(err)
		}
		size := binary.BigEndian.Uint32(c.header[:])
		if size == 0 {
			continue
		}
		if c.config.MaxMessageSize > 0 && int64(size) > c.config.MaxMessageSize {
			return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes", size)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(c.stream, data); err != nil {
			return nil, c.readError(err)
		}
		return data, nil
	}
}

func (c *QUICChannel) readError(err error) error {
	if c.closed.Load() || errors.Is(err, io.EOF) {
		return ErrClosed
	}
	return errors.Wrap(err, "failed to read frame")
}

func (c *QUICChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

// QUICListener accepts QUIC connections and waits for each client to open its
// message stream.
type QUICListener struct {
	listener *quic.Listener
	udpConn  *net.UDPConn
	config   Config
	logger   log.Log
}

func ListenQUIC(addr string, config Config, opts QUICOptions, logger log.Log) (*QUICListener, error) {
	logger = log.OrNop(logger).With(log.String("component", "quic"))
	if opts.TLSConfig == nil {
		tlsConfig, err := SelfSignedTLSConfig(QUICNextProto)
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
		logger.Warn("Using a self-signed certificate")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve UDP address")
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen on UDP")
	}

	listener, err := quic.Listen(udpConn, opts.TLSConfig, opts.quicConfig())
	if err != nil {
		_ = udpConn.Close()
		return nil, errors.Wrap(err, "failed to create QUIC listener")
	}

	logger.Info("QUIC listener started", log.String("addr", listener.Addr().String()))
	return &QUICListener{listener: listener, udpConn: udpConn, config: config, logger: logger}, nil
}

func (l *QUICListener) Accept(ctx context.Context) (Channel, error) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil, ErrClosed
			}
			return nil, errors.Wrap(err, "failed to accept connection")
		}

		streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		stream, err := conn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			l.logger.Warn("Client did not open a stream", log.String("remote_addr", conn.RemoteAddr().String()), log.Error(err))
			_ = conn.CloseWithError(1, "no stream")
			continue
		}
		return newQUICChannel(conn, stream, l.config), nil
	}
}

func (l *QUICListener) Addr() string { return l.listener.Addr().String() }

func (l *QUICListener) Close() error {
	err := l.listener.Close()
	_ = l.udpConn.Close()
	return err
}

type QUICDialer struct {
	Config  Config
	Options QUICOptions
}

func (d QUICDialer) Dial(ctx context.Context, addr string) (Channel, error) {
	tlsConfig := d.Options.TLSConfig
	if tlsConfig == nil {
		tlsConfig = ClientTLSConfig()
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = addr
		}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, d.Options.quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial QUIC connection")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, errors.Wrap(err, "failed to open stream")
	}

	ch := newQUICChannel(conn, stream, d.Config)
	if err = ch.writeFrame(ctx, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}
