package netsync

import "sync"

type inboundKind uint8

const (
	inboundConnect inboundKind = iota
	inboundMessage
	inboundDisconnect
)

type inbound struct {
	kind   inboundKind
	client *Client
	data   []byte
	err    error
}

// inbox buffers what reader goroutines receive until the tick drains it.
type inbox struct {
	mu    sync.Mutex
	items []inbound
}

func (q *inbox) push(in inbound) {
	q.mu.Lock()
	q.items = append(q.items, in)
	q.mu.Unlock()
}

func (q *inbox) drain() []inbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
