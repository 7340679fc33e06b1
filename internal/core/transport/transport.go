// Package transport moves opaque messages between the server and its
// clients. Message boundaries are preserved; the byte framing underneath is
// up to each implementation.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed          = errors.New("transport: channel closed")
	ErrMessageTooLarge = errors.New("transport: message exceeds size limit")
	ErrUnauthorized    = errors.New("transport: unauthorized")
)

// Channel is one bidirectional, message-oriented connection. Send may be
// called concurrently with Receive; neither is safe for concurrent use with
// itself unless the implementation says so.
type Channel interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, data []byte) error
	// Receive blocks until a message arrives, ctx is done or the channel is
	// closed. Implementations backed by sockets may only notice ctx between
	// reads; closing the channel always unblocks it.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Listener yields the channels of connecting clients.
type Listener interface {
	Accept(ctx context.Context) (Channel, error)
	Addr() string
	Close() error
}

// Dialer opens a Channel to a listening server.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Channel, error) { return f(ctx, addr) }

type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	// AcceptBacklog bounds the channels waiting for Accept.
	AcceptBacklog int
	// AuthToken, when set, must be presented by connecting clients.
	AuthToken string
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:     0,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  1 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		AcceptBacklog:   64,
	}
}
