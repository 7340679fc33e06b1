package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeusync/zecs/internal/config"
	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/events/bus"
	"github.com/zeusync/zecs/internal/core/netsync"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/core/transport"
	"github.com/zeusync/zecs/internal/demo"
)

// Server hosts the authoritative simulation: the ECS manager, the demo
// systems and the replication system serving connected clients.
type Server struct {
	config   *config.Config
	logger   log.Log
	manager  *ecs.Manager
	net      *netsync.ServerSystem
	listener transport.Listener
	http     *HTTPServer
	chat     *ChatHistory

	stats       atomic.Pointer[Stats]
	ticks       atomic.Uint64
	systemFails atomic.Uint64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Stats is the view of the server published after every tick.
type Stats struct {
	Clients      int           `json:"clients"`
	Entities     int           `json:"entities"`
	Ticks        uint64        `json:"ticks"`
	SystemErrors uint64        `json:"systemErrors"`
	Systems      []SystemStats `json:"systems"`
}

type SystemStats struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	TPS        int    `json:"tps"`
	Entities   int    `json:"entities"`
	Updates    uint64 `json:"updates"`
	LoopTimeUS int64  `json:"loopTimeUs"`
}

// Listen opens the listener selected by the server section of cfg.
func Listen(cfg *config.Config, logger log.Log) (transport.Listener, error) {
	tcfg := transport.DefaultConfig()
	tcfg.AuthToken = cfg.Server.AuthToken
	tcfg.MaxMessageSize = cfg.Server.MaxMessageSize
	if cfg.Server.WriteTimeout > 0 {
		tcfg.WriteTimeout = cfg.Server.WriteTimeout
	}

	switch cfg.Server.Transport {
	case config.TransportWebSocket:
		l, err := transport.ListenWebSocket(cfg.Server.Addr, cfg.Server.Path, tcfg, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.TransportQUIC:
		l, err := transport.ListenQUIC(cfg.Server.Addr, tcfg, transport.DefaultQUICOptions(), logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Server.Transport)
	}
}

// NewServer builds the simulation around listener. The world starts with a
// shared counter and a few bouncing balls; every client gets an avatar.
func NewServer(cfg *config.Config, logger log.Log, listener transport.Listener) (*Server, error) {
	logger = log.OrNop(logger)
	s := &Server{
		config:   cfg,
		logger:   logger.With(log.String("component", "server")),
		manager:  ecs.NewManager(ecs.WithLogger(logger)),
		listener: listener,
		chat:     NewChatHistory(100),
	}

	var err error
	s.net, err = netsync.NewServerSystem(netsync.ServerConfig{
		TPS:         cfg.Replication.TPS,
		Registry:    demo.Registry(),
		Listener:    listener,
		Handlers:    s.newSession,
		SendTimeout: cfg.Replication.SendTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	bounds := demo.Bounds{Max: netsync.Vec3{X: 100, Y: 100}}
	for _, sys := range []ecs.System{
		demo.NewMovementSystem(bounds),
		demo.NewCounterSystem(ecs.WithTPS(1)),
		s.net,
	} {
		if err = s.manager.AddSystem(sys); err != nil {
			return nil, err
		}
	}

	if _, err = s.manager.Bus().Subscribe(ecs.EventSystemError, s.onSystemError); err != nil {
		return nil, err
	}

	if err = s.populate(); err != nil {
		return nil, err
	}

	if cfg.Server.StatsAddr != "" {
		s.http = NewHTTPServer(cfg.Server.StatsAddr, s, s.logger)
	}

	s.logger.Info("Server created",
		log.String("transport", cfg.Server.Transport),
		log.String("listen_addr", listener.Addr()),
		log.Int("replication_tps", s.net.TPS()))
	return s, nil
}

func (s *Server) populate() error {
	if _, err := demo.SpawnTicker(s.manager); err != nil {
		return err
	}
	balls := []struct{ pos, vel netsync.Vec3 }{
		{netsync.Vec3{X: 10, Y: 10}, netsync.Vec3{X: 12, Y: 7}},
		{netsync.Vec3{X: 50, Y: 80}, netsync.Vec3{X: -9, Y: 15}},
		{netsync.Vec3{X: 90, Y: 30}, netsync.Vec3{X: 6, Y: -11}},
	}
	for _, b := range balls {
		if _, err := demo.SpawnBall(s.manager, b.pos, b.vel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) onSystemError(event bus.Event) error {
	s.systemFails.Add(1)
	if e, ok := event.Data().(ecs.SystemErrorEvent); ok {
		s.logger.Debug("System error recorded", log.String("system", e.System))
	}
	return nil
}

func (s *Server) Manager() *ecs.Manager      { return s.manager }
func (s *Server) Net() *netsync.ServerSystem { return s.net }
func (s *Server) Chat() *ChatHistory         { return s.chat }
func (s *Server) Addr() string               { return s.listener.Addr() }
func (s *Server) IsRunning() bool            { return s.running.Load() }

// GetStats returns the stats published by the last tick.
func (s *Server) GetStats() Stats {
	if st := s.stats.Load(); st != nil {
		return *st
	}
	return Stats{}
}

// Start starts the systems and the tick loop.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	if err := s.manager.Start(ctx); err != nil {
		s.running.Store(false)
		return errors.Join(fmt.Errorf("start systems: %w", err), s.manager.Stop(context.WithoutCancel(ctx)))
	}
	if s.http != nil {
		if err := s.http.Start(); err != nil {
			s.running.Store(false)
			return errors.Join(err, s.manager.Stop(context.WithoutCancel(ctx)))
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx)

	s.logger.Info("Server started",
		log.String("addr", s.listener.Addr()),
		log.Duration("tick_interval", s.config.Scheduler.TickInterval))
	return nil
}

func (s *Server) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Scheduler.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// failures are logged and published by the manager
			_ = s.manager.Tick()
			s.ticks.Add(1)
			s.publishStats()
		}
	}
}

func (s *Server) publishStats() {
	systems := s.manager.Stats()
	st := &Stats{
		Clients:      len(s.net.Clients()),
		Entities:     len(s.manager.Entities()),
		Ticks:        s.ticks.Load(),
		SystemErrors: s.systemFails.Load(),
		Systems:      make([]SystemStats, 0, len(systems)),
	}
	for _, sys := range systems {
		st.Systems = append(st.Systems, SystemStats{
			Name:       sys.Name,
			State:      sys.State.String(),
			TPS:        sys.TPS,
			Entities:   sys.Entities,
			Updates:    sys.Updates,
			LoopTimeUS: sys.LoopTime.Microseconds(),
		})
	}
	s.stats.Store(st)
}

// Stop ends the tick loop, then stops the systems and the stats endpoint.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.http != nil {
		if err := s.http.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("Server stopped", log.Uint64("ticks", s.ticks.Load()))
	return errors.Join(errs...)
}
