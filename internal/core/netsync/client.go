package netsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/core/serial"
	"github.com/zeusync/zecs/internal/core/transport"
)

// ClientHooks are optional callbacks run on the tick goroutine.
type ClientHooks struct {
	OnConnect       func(clientID string)
	OnDisconnect    func(err error)
	OnNewEntity     func(e *ecs.Entity)
	OnRemovedEntity func(e *ecs.Entity)
	OnCustomData    func(data json.RawMessage)
}

type ClientConfig struct {
	Name        string
	TPS         int
	Addr        string
	Dialer      transport.Dialer
	Registry    *serial.Registry
	Prefabs     *Prefabs
	Hooks       ClientHooks
	SendTimeout time.Duration
	Logger      log.Log
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:        "network.client",
		TPS:         ecs.DefaultTPS,
		SendTimeout: 5 * time.Second,
	}
}

// ClientSystem mirrors the server's replicated entities into the local
// manager. The connection is opened when the system starts.
type ClientSystem struct {
	*ecs.BaseSystem
	addr        string
	dialer      transport.Dialer
	registry    *serial.Registry
	prefabs     *Prefabs
	hooks       ClientHooks
	sendTimeout time.Duration
	logger      log.Log

	ch        transport.Channel
	inbox     inbox
	seq       atomic.Uint64
	clientID  string
	connected bool
	lastSeq   uint64
	snapshot  *serial.GameState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClientSystem(cfg ClientConfig) (*ClientSystem, error) {
	def := DefaultClientConfig()
	if cfg.Dialer == nil {
		return nil, ErrMissingDialer
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

	return &ClientSystem{
		BaseSystem:  ecs.NewBaseSystem(cfg.Name, ecs.Filter{NetworkedType}, ecs.WithTPS(cfg.TPS)),
		addr:        cfg.Addr,
		dialer:      cfg.Dialer,
		registry:    cfg.Registry,
		prefabs:     cfg.Prefabs,
		hooks:       cfg.Hooks,
		sendTimeout: cfg.SendTimeout,
		logger:      log.OrNop(cfg.Logger).With(log.String("component", "netsync.client")),
	}, nil
}

// ClientID is the id assigned by the server, empty until welcomed.
func (s *ClientSystem) ClientID() string { return s.clientID }

func (s *ClientSystem) Connected() bool { return s.connected }

// Snapshot returns the last applied snapshot.
func (s *ClientSystem) Snapshot() *serial.GameState { return s.snapshot }

func (s *ClientSystem) Registry() *serial.Registry { return s.registry }

func (s *ClientSystem) now() int64 {
	if m := s.Manager(); m != nil {
		return m.Clock().Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (s *ClientSystem) OnStart(ctx context.Context) error {
	ch, err := s.dialer.Dial(ctx, s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	s.ch = ch
	s.lastSeq = 0

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(runCtx, ch)

	s.logger.Info("Client system started", log.String("addr", s.addr))
	return nil
}

func (s *ClientSystem) OnStop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.ch != nil {
		err = s.ch.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for the reader goroutine")
	}

	s.inbox.drain()
	s.connected = false
	s.logger.Info("Client system stopped")
	return err
}

func (s *ClientSystem) readLoop(ctx context.Context, ch transport.Channel) {
	defer s.wg.Done()
	for {
		data, err := ch.Receive(ctx)
		if err != nil {
			s.inbox.push(inbound{kind: inboundDisconnect, err: err})
			return
		}
		s.inbox.push(inbound{kind: inboundMessage, data: data})
	}
}

func (s *ClientSystem) Update(time.Duration, []ecs.Match) error {
	for _, in := range s.inbox.drain() {
		switch in.kind {
		case inboundMessage:
			s.handleMessage(in.data)
		case inboundDisconnect:
			s.handleDisconnect(in.err)
		}
	}
	return nil
}

func (s *ClientSystem) handleDisconnect(err error) {
	s.connected = false
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.logger.Warn("Disconnected from server", log.Error(err))
	} else {
		s.logger.Info("Disconnected from server")
	}
	if s.hooks.OnDisconnect != nil {
		s.hooks.OnDisconnect(err)
	}
}

func (s *ClientSystem) handleMessage(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		s.logger.Warn("Dropping malformed message", log.Error(err))
		return
	}

	switch env.Type {
	case MsgWelcome:
		var p WelcomePayload
		if err = env.Decode(&p); err != nil {
			s.logger.Warn("Dropping welcome", log.Error(err))
			return
		}
		s.clientID = p.ClientID
		s.connected = true
		if p.TickRate > 0 {
			s.logger.Debug("Welcomed", log.String("client_id", p.ClientID), log.Int("tick_rate", p.TickRate))
		}
		if s.hooks.OnConnect != nil {
			s.hooks.OnConnect(p.ClientID)
		}
	case MsgSnapshot:
		if env.Seq <= s.lastSeq {
			s.logger.Debug("Dropping stale snapshot", log.Uint64("seq", env.Seq), log.Uint64("last_seq", s.lastSeq))
			return
		}
		state, err := serial.ParseGameState(env.Payload)
		if state == nil {
			s.logger.Warn("Dropping snapshot", log.Error(err))
			return
		}
		s.warnSkipped(err)
		s.lastSeq = env.Seq
		s.snapshot = state
		s.reconcile(state)
	case MsgEntityNew:
		se, err := serial.ParseEntity(env.Payload)
		if se == nil {
			s.logger.Warn("Dropping entity", log.Error(err))
			return
		}
		s.warnSkipped(err)
		s.upsert(se)
	case MsgEntityRemoved:
		se, err := serial.ParseEntity(env.Payload)
		if se == nil {
			s.logger.Warn("Dropping entity removal", log.Error(err))
			return
		}
		s.remove(se.ID)
	case MsgCustom:
		if s.hooks.OnCustomData != nil {
			s.hooks.OnCustomData(env.Payload)
		}
	default:
		s.logger.Warn("Dropping message", log.String("type", string(env.Type)), log.Error(ErrUnexpectedType))
	}
}

// reconcile applies a snapshot: destroyed entities go away, unknown ones are
// built, and known ones take the received component state.
func (s *ClientSystem) reconcile(state *serial.GameState) {
	for id, se := range state.Entities.All() {
		if se == nil {
			s.logger.Warn("Skipping empty snapshot entry", log.String("entity", string(id)))
			continue
		}
		if se.Destroyed {
			s.remove(se.ID)
			continue
		}
		s.upsert(se)
	}
	if custom := state.CustomData; len(custom) > 0 && !bytes.Equal(custom, []byte("null")) && s.hooks.OnCustomData != nil {
		s.hooks.OnCustomData(custom)
	}
}

func (s *ClientSystem) upsert(se *serial.SerializedEntity) {
	if se == nil || se.ID == "" {
		return
	}
	m := s.Manager()
	if e, ok := m.Entity(se.ID); ok {
		if se.Name != "" && e.Name() != se.Name {
			e.SetName(se.Name)
		}
		s.apply(e, se, true)
		return
	}

	e, ok := s.prefabs.Instantiate(se.PrefabName, se.ID)
	if !ok {
		e = ecs.NewEntityWithID(se.ID, se.Name)
	}
	if se.Name != "" {
		e.SetName(se.Name)
	}
	if !e.HasComponent(NetworkedType) {
		_ = e.AddComponent(NewNetworked(se.PrefabName))
	}
	// components go on before registration so systems see the full entity
	s.apply(e, se, false)

	var err error
	if parent, ok := m.Entity(se.Parent); ok && se.Parent != "" {
		err = parent.AddChild(e)
	} else {
		err = m.AddEntity(e)
	}
	if err != nil {
		s.logger.Warn("Failed to register entity", log.String("entity", string(se.ID)), log.Error(err))
	}
	if s.hooks.OnNewEntity != nil {
		s.hooks.OnNewEntity(e)
	}
}

// warnSkipped logs every record a lenient decode left out.
func (s *ClientSystem) warnSkipped(err error) {
	if err == nil {
		return
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, err := range errs {
		if _, ok := err.(interface{ Unwrap() []error }); ok {
			s.warnSkipped(err)
			continue
		}
		fields := []log.Field{log.Error(err)}
		var re *serial.RecordError
		if errors.As(err, &re) {
			fields = append(fields, log.String("entity", re.Entity), log.String("class", re.ClassName))
		}
		s.logger.Warn("Skipping unreadable record", fields...)
	}
}

// apply writes the received records onto e. Components this client owns keep
// their local state once the entity exists.
func (s *ClientSystem) apply(e *ecs.Entity, se *serial.SerializedEntity, existing bool) {
	for class, rec := range se.Components.All() {
		if existing && s.ownsComponent(e, class) {
			continue
		}
		if err := serial.ApplyRecord(e, s.registry, class, rec); err != nil {
			s.logger.Warn("Failed to apply component",
				log.String("entity", string(se.ID)),
				log.String("class", string(class)),
				log.Error(err),
			)
		}
	}
}

func (s *ClientSystem) ownsComponent(e *ecs.Entity, class ecs.ComponentType) bool {
	c, ok := e.Component(class)
	if !ok || s.clientID == "" {
		return false
	}
	nc, ok := c.(NetworkComponent)
	return ok && nc.Network().OwnerID() == s.clientID
}

func (s *ClientSystem) remove(id ecs.EntityID) {
	e, ok := s.Manager().Entity(id)
	if !ok {
		return
	}
	if s.hooks.OnRemovedEntity != nil {
		s.hooks.OnRemovedEntity(e)
	}
	e.Destroy()
}

// SendCustom sends v to the server's client handler.
func (s *ClientSystem) SendCustom(v any) error {
	return s.send(MsgCustom, v)
}

// SendComponent pushes the state of a component this client owns.
func (s *ClientSystem) SendComponent(e *ecs.Entity, c NetworkComponent) error {
	if !s.connected {
		return ErrNotConnected
	}
	if _, ok := Replicable(c, s.registry); !ok {
		return fmt.Errorf("%w: %s", ErrNotReplicable, c.Type())
	}
	if c.Network().OwnerID() != s.clientID {
		return fmt.Errorf("%w: %s", ErrNotOwner, c.Type())
	}

	c.Network().SetUpdateTimestamp(s.now())
	rec, err := serial.Serialize(c, true)
	if err != nil {
		return err
	}
	return s.send(MsgComponentUpdate, ComponentUpdatePayload{Entity: e.ID(), Record: rec})
}

func (s *ClientSystem) send(typ MessageType, payload any) error {
	if !s.connected || s.ch == nil {
		return ErrNotConnected
	}
	env, err := newEnvelope(typ, s.seq.Add(1), s.now(), payload)
	if err != nil {
		return err
	}
	env.ClientID = s.clientID
	data, err := env.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	return s.ch.Send(ctx, data)
}
