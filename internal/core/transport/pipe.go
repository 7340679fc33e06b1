package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// pipeBuffer is the number of messages each direction holds before Send
// blocks.
const pipeBuffer = 256

type pipeEnd struct {
	id     string
	remote string
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	once   *sync.Once
}

// NewPipe returns two connected in-memory channels. Closing either end
// closes both.
func NewPipe() (Channel, Channel) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{id: uuid.NewString(), in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{id: uuid.NewString(), in: ab, out: ba, done: done, once: once}
	a.remote, b.remote = "pipe:"+b.id, "pipe:"+a.id
	return a, b
}

func (p *pipeEnd) ID() string         { return p.id }
func (p *pipeEnd) RemoteAddr() string { return p.remote }

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- slices.Clone(data):
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive drains buffered messages before reporting the pipe closed.
func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	default:
	}
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// PipeListener is an in-memory Listener. Dial hands the server end of a new
// pipe to Accept.
type PipeListener struct {
	accept chan Channel
	done   chan struct{}
	once   sync.Once
}

func NewPipeListener() *PipeListener {
	return &PipeListener{
		accept: make(chan Channel),
		done:   make(chan struct{}),
	}
}

func (l *PipeListener) Accept(ctx context.Context) (Channel, error) {
	select {
	case ch := <-l.accept:
		return ch, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial ignores addr.
func (l *PipeListener) Dial(ctx context.Context, _ string) (Channel, error) {
	client, server := NewPipe()
	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *PipeListener) Addr() string { return "pipe" }

func (l *PipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
