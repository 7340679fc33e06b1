package netsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/core/serial"
	"github.com/zeusync/zecs/internal/core/transport"
	"github.com/zeusync/zecs/pkg/concurrent"
)

// ClientHandler receives the events of one connected client. Every call
// happens on the tick goroutine.
type ClientHandler interface {
	// OnConnect may refuse the client by returning an error.
	OnConnect(c *Client) error
	OnDisconnect(c *Client)
	// OnMessage receives the payload of custom messages.
	OnMessage(c *Client, data json.RawMessage)
}

// HandlerFactory builds the handler of a newly connected client.
type HandlerFactory func(c *Client) ClientHandler

// HandlerFuncs is a ClientHandler made of optional functions.
type HandlerFuncs struct {
	Connect    func(c *Client) error
	Disconnect func(c *Client)
	Message    func(c *Client, data json.RawMessage)
}

func (h HandlerFuncs) OnConnect(c *Client) error {
	if h.Connect == nil {
		return nil
	}
	return h.Connect(c)
}

func (h HandlerFuncs) OnDisconnect(c *Client) {
	if h.Disconnect != nil {
		h.Disconnect(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Client, data json.RawMessage) {
	if h.Message != nil {
		h.Message(c, data)
	}
}

// Client is the server side of one connection. Its id is the owner id
// clients use for the components they control.
type Client struct {
	id          string
	ch          transport.Channel
	handler     ClientHandler
	seq         atomic.Uint64
	closed      atomic.Bool
	synced      bool
	clock       func() int64
	sendTimeout time.Duration
}

func newClient(ch transport.Channel, clock func() int64, sendTimeout time.Duration) *Client {
	return &Client{id: ch.ID(), ch: ch, clock: clock, sendTimeout: sendTimeout}
}

func (c *Client) ID() string         { return c.id }
func (c *Client) RemoteAddr() string { return c.ch.RemoteAddr() }

// Synced reports whether the client received its first full snapshot.
func (c *Client) Synced() bool { return c.synced }

// SendCustom sends v as a custom message.
func (c *Client) SendCustom(v any) error {
	return c.send(MsgCustom, v)
}

func (c *Client) send(typ MessageType, payload any) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	env, err := newEnvelope(typ, c.seq.Add(1), c.clock(), payload)
	if err != nil {
		return err
	}
	env.ClientID = c.id
	data, err := env.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	return c.ch.Send(ctx, data)
}

// Close closes the connection. The client is removed on the next tick.
func (c *Client) Close() error {
	c.closed.Store(true)
	return c.ch.Close()
}

type ServerConfig struct {
	Name        string
	TPS         int
	Registry    *serial.Registry
	Listener    transport.Listener
	Handlers    HandlerFactory
	SendTimeout time.Duration
	Logger      log.Log
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:        "network.server",
		TPS:         20,
		SendTimeout: 5 * time.Second,
	}
}

// ServerSystem replicates the entities carrying Networked to connected
// clients. Per tick it applies what clients sent, announces new and removed
// entities, then sends every client a snapshot of the components it may see
// that changed; a client's first snapshot holds everything it may see.
type ServerSystem struct {
	*ecs.BaseSystem
	registry    *serial.Registry
	listener    transport.Listener
	factory     HandlerFactory
	sendTimeout time.Duration
	logger      log.Log

	inbox   inbox
	clients []*Client

	pendingNew     []*ecs.Entity
	pendingRemoved []*serial.SerializedEntity
	prefabNames    map[ecs.EntityID]string
	customData     json.RawMessage
	customDirty    bool

	connsMu sync.Mutex
	conns   map[string]transport.Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServerSystem(cfg ServerConfig) (*ServerSystem, error) {
	def := DefaultServerConfig()
	if cfg.Listener == nil {
		return nil, ErrMissingListener
	}
	if cfg.Registry == nil {
		cfg.Registry = serial.NewRegistry()
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.TPS <= 0 {
		cfg.TPS = def.TPS
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	return &ServerSystem{
		BaseSystem:  ecs.NewBaseSystem(cfg.Name, ecs.Filter{NetworkedType}, ecs.WithTPS(cfg.TPS)),
		registry:    cfg.Registry,
		listener:    cfg.Listener,
		factory:     cfg.Handlers,
		sendTimeout: cfg.SendTimeout,
		logger:      log.OrNop(cfg.Logger).With(log.String("component", "netsync.server")),
		prefabNames: make(map[ecs.EntityID]string),
		conns:       make(map[string]transport.Channel),
	}, nil
}

func (s *ServerSystem) Registry() *serial.Registry { return s.registry }

// Clients returns the connected clients in connection order.
func (s *ServerSystem) Clients() []*Client { return slices.Clone(s.clients) }

// SetCustomData attaches v to the next snapshot of every client and to every
// full snapshot afterwards.
func (s *ServerSystem) SetCustomData(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode custom data: %w", err)
	}
	s.customData = raw
	s.customDirty = true
	return nil
}

// Broadcast sends v as a custom message to every synced client.
func (s *ServerSystem) Broadcast(v any) error {
	var errs []error
	for _, c := range s.clients {
		if !c.synced {
			continue
		}
		if err := c.SendCustom(v); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *ServerSystem) now() int64 {
	if m := s.Manager(); m != nil {
		return m.Clock().Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (s *ServerSystem) OnStart(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(runCtx)

	s.logger.Info("Server system started", log.String("addr", s.listener.Addr()))
	return nil
}

func (s *ServerSystem) OnStop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.listener.Close()

	s.connsMu.Lock()
	for _, ch := range s.conns {
		_ = ch.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connection goroutines")
	}

	for _, c := range s.clients {
		c.handler.OnDisconnect(c)
	}
	s.clients = nil
	s.inbox.drain()
	s.logger.Info("Server system stopped")
	return err
}

func (s *ServerSystem) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		ch, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", log.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		client := newClient(ch, s.now, s.sendTimeout)
		s.connsMu.Lock()
		s.conns[client.id] = ch
		s.connsMu.Unlock()

		s.inbox.push(inbound{kind: inboundConnect, client: client})
		s.wg.Add(1)
		go s.readLoop(ctx, client)
	}
}

func (s *ServerSystem) readLoop(ctx context.Context, client *Client) {
	defer s.wg.Done()
	for {
		data, err := client.ch.Receive(ctx)
		if err != nil {
			s.connsMu.Lock()
			delete(s.conns, client.id)
			s.connsMu.Unlock()
			s.inbox.push(inbound{kind: inboundDisconnect, client: client, err: err})
			return
		}
		s.inbox.push(inbound{kind: inboundMessage, client: client, data: data})
	}
}

func (s *ServerSystem) OnEntityEligible(e *ecs.Entity, components []ecs.Component) error {
	if n, ok := components[0].(*Networked); ok {
		s.prefabNames[e.ID()] = n.PrefabName
	}
	s.pendingNew = append(s.pendingNew, e)
	return nil
}

// OnEntityNoLongerEligible records the removal while the entity is still
// readable; its Networked marker may already be gone.
func (s *ServerSystem) OnEntityNoLongerEligible(e *ecs.Entity) {
	prefab := s.prefabNames[e.ID()]
	delete(s.prefabNames, e.ID())
	if i := slices.Index(s.pendingNew, e); i >= 0 {
		s.pendingNew = slices.Delete(s.pendingNew, i, i+1)
		return
	}

	se := serial.NewSerializedEntity(e.ID(), e.Name())
	se.PrefabName = prefab
	se.Destroyed = true
	s.pendingRemoved = append(s.pendingRemoved, se)
}

func (s *ServerSystem) Update(_ time.Duration, matches []ecs.Match) error {
	s.processInbox()
	if len(s.clients) == 0 {
		s.pendingNew, s.pendingRemoved = nil, nil
		return nil
	}

	now := s.now()
	s.flushRemoved()
	s.flushNew()
	changes := s.collectChanges(matches, now)
	s.sendSnapshots(matches, changes, now)
	return nil
}

func (s *ServerSystem) processInbox() {
	for _, in := range s.inbox.drain() {
		switch in.kind {
		case inboundConnect:
			s.connect(in.client)
		case inboundDisconnect:
			s.disconnect(in.client, in.err)
		case inboundMessage:
			s.handleMessage(in.client, in.data)
		}
	}
}

func (s *ServerSystem) connect(c *Client) {
	c.handler = HandlerFuncs{}
	if s.factory != nil {
		if h := s.factory(c); h != nil {
			c.handler = h
		}
	}
	if err := c.send(MsgWelcome, WelcomePayload{ClientID: c.id, TickRate: s.TPS()}); err != nil {
		s.logger.Warn("Failed to welcome client", log.String("client_id", c.id), log.Error(err))
		_ = c.Close()
		return
	}
	if err := c.handler.OnConnect(c); err != nil {
		s.logger.Warn("Client refused", log.String("client_id", c.id), log.Error(err))
		_ = c.Close()
		return
	}
	s.clients = append(s.clients, c)
	s.logger.Info("Client connected", log.String("client_id", c.id), log.String("remote_addr", c.RemoteAddr()))
}

func (s *ServerSystem) disconnect(c *Client, cause error) {
	_ = c.Close()
	i := slices.Index(s.clients, c)
	if i < 0 {
		return
	}
	s.clients = slices.Delete(s.clients, i, i+1)
	c.handler.OnDisconnect(c)

	fields := []log.Field{log.String("client_id", c.id)}
	if cause != nil && !errors.Is(cause, transport.ErrClosed) {
		fields = append(fields, log.Error(cause))
	}
	s.logger.Info("Client disconnected", fields...)
}

func (s *ServerSystem) handleMessage(c *Client, data []byte) {
	if !slices.Contains(s.clients, c) {
		return
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn("Dropping malformed message", log.String("client_id", c.id), log.Error(err))
		return
	}

	switch env.Type {
	case MsgCustom:
		c.handler.OnMessage(c, env.Payload)
	case MsgComponentUpdate:
		if err = s.applyUpdate(c, env); err != nil {
			s.logger.Warn("Dropping component update", log.String("client_id", c.id), log.Error(err))
		}
	default:
		s.logger.Warn("Dropping message",
			log.String("client_id", c.id),
			log.String("type", string(env.Type)),
			log.Error(ErrUnexpectedType),
		)
	}
}

// applyUpdate accepts a client's component state only for components that
// client owns.
func (s *ServerSystem) applyUpdate(c *Client, env Envelope) error {
	var p ComponentUpdatePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	e, ok := s.Manager().Entity(p.Entity)
	if !ok || !e.HasComponent(NetworkedType) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, p.Entity)
	}
	comp, ok := e.Component(ecs.ComponentType(p.Record.ClassName))
	if !ok {
		return fmt.Errorf("%w: %s on %s", serial.ErrUnknownClass, p.Record.ClassName, p.Entity)
	}
	nc, ok := Replicable(comp, s.registry)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotReplicable, p.Record.ClassName)
	}
	if nc.Network().OwnerID() != c.id {
		return fmt.Errorf("%w: %s on %s", ErrNotOwner, p.Record.ClassName, p.Entity)
	}
	// ownership is the server's to decide
	p.Record.OwnerID, p.Record.Scope = "", ""
	return serial.Deserialize(nc, p.Record)
}

func (s *ServerSystem) flushRemoved() {
	for _, se := range s.pendingRemoved {
		for _, c := range s.clients {
			if !c.synced {
				continue
			}
			if err := c.send(MsgEntityRemoved, se); err != nil {
				s.dropClient(c, err)
			}
		}
	}
	s.pendingRemoved = nil
}

func (s *ServerSystem) flushNew() {
	for _, e := range s.pendingNew {
		if e.Manager() == nil || !e.HasComponent(NetworkedType) {
			continue
		}
		records := s.fullRecords(e)
		for _, c := range s.clients {
			if !c.synced {
				continue
			}
			se := s.entityRecord(e, records, c.id)
			if se.Components.Len() == 0 {
				continue
			}
			if err := c.send(MsgEntityNew, se); err != nil {
				s.dropClient(c, err)
			}
		}
	}
	s.pendingNew = nil
}

type componentRecord struct {
	component NetworkComponent
	record    serial.Record
}

type entityChanges struct {
	entity  *ecs.Entity
	records []componentRecord
}

// maxParallelSends bounds the snapshot writes in flight during one tick.
const maxParallelSends = 32

type outgoing struct {
	client *Client
	state  *serial.GameState
}

// collectChanges captures the components due for replication once per tick;
// per-client filtering happens afterwards.
func (s *ServerSystem) collectChanges(matches []ecs.Match, now int64) []entityChanges {
	var out []entityChanges
	for _, m := range matches {
		var records []componentRecord
		for _, c := range m.Entity.Components() {
			nc, ok := Replicable(c, s.registry)
			if !ok {
				continue
			}
			rec, send, err := Capture(nc, now)
			if err != nil {
				s.logger.Warn("Failed to capture component",
					log.String("entity", string(m.Entity.ID())),
					log.String("class", string(c.Type())),
					log.Error(err),
				)
				continue
			}
			if send {
				records = append(records, componentRecord{component: nc, record: rec})
			}
		}
		if len(records) > 0 {
			out = append(out, entityChanges{entity: m.Entity, records: records})
		}
	}
	return out
}

func (s *ServerSystem) fullRecords(e *ecs.Entity) []componentRecord {
	var records []componentRecord
	for _, c := range e.Components() {
		nc, ok := Replicable(c, s.registry)
		if !ok {
			continue
		}
		rec, err := peek(nc)
		if err != nil {
			s.logger.Warn("Failed to serialize component",
				log.String("entity", string(e.ID())),
				log.String("class", string(c.Type())),
				log.Error(err),
			)
			continue
		}
		records = append(records, componentRecord{component: nc, record: rec})
	}
	return records
}

// entityRecord builds the NetworkEntity of e restricted to what clientID may
// see.
func (s *ServerSystem) entityRecord(e *ecs.Entity, records []componentRecord, clientID string) *serial.SerializedEntity {
	se := serial.NewSerializedEntity(e.ID(), e.Name())
	if n, ok := e.Component(NetworkedType); ok {
		se.PrefabName = n.(*Networked).PrefabName
	}
	if p := e.Parent(); p != nil {
		se.Parent = p.ID()
	}
	for _, r := range records {
		if Visible(r.component, clientID) {
			se.Add(r.record)
		}
	}
	return se
}

func (s *ServerSystem) sendSnapshots(matches []ecs.Match, changes []entityChanges, now int64) {
	var (
		full    [][]componentRecord
		pending []outgoing
	)
	for _, c := range s.clients {
		if c.closed.Load() {
			continue
		}

		state := serial.NewGameState(now)
		if !c.synced {
			if full == nil {
				full = make([][]componentRecord, len(matches))
				for i, m := range matches {
					full[i] = s.fullRecords(m.Entity)
				}
			}
			for i, m := range matches {
				se := s.entityRecord(m.Entity, full[i], c.id)
				if se.Components.Len() > 0 {
					state.Put(se)
				}
			}
			state.CustomData = s.customData
		} else {
			for _, ch := range changes {
				se := s.entityRecord(ch.entity, ch.records, c.id)
				if se.Components.Len() > 0 {
					state.Put(se)
				}
			}
			if s.customDirty {
				state.CustomData = s.customData
			}
			if state.Entities.Len() == 0 && state.CustomData == nil {
				continue
			}
		}
		pending = append(pending, outgoing{client: c, state: state})
	}
	s.customDirty = false

	// each goroutine owns one client; a failed send only drops that client
	_ = concurrent.Each(slices.Values(pending), maxParallelSends, func(o outgoing) error {
		if err := o.client.send(MsgSnapshot, o.state); err != nil {
			s.dropClient(o.client, err)
			return nil
		}
		o.client.synced = true
		return nil
	})
}

// dropClient closes a client whose connection failed. Its reader reports the
// disconnect, which removes it on the next tick.
func (s *ServerSystem) dropClient(c *Client, err error) {
	if c.closed.Load() {
		return
	}
	s.logger.Warn("Dropping client", log.String("client_id", c.id), log.Error(err))
	_ = c.Close()
}
