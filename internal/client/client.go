package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeusync/zecs/internal/config"
	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/netsync"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/core/transport"
	"github.com/zeusync/zecs/internal/demo"
)

// Options tunes the headless client beyond the config file.
type Options struct {
	// Name is sent as the chat sender.
	Name string
	// Greeting is said in chat once connected; empty stays silent.
	Greeting string
	// Pilot steers the avatar around its spawn point.
	Pilot bool
}

// Client is a headless simulation mirroring the server's world.
type Client struct {
	config  *config.Config
	options Options
	logger  log.Log
	manager *ecs.Manager
	net     *netsync.ClientSystem
	chat    []demo.ChatMessage
}

// Dialer returns the dialer selected by the client section of cfg.
func Dialer(cfg *config.Config) (transport.Dialer, error) {
	tcfg := transport.DefaultConfig()
	tcfg.AuthToken = cfg.Client.AuthToken

	switch cfg.Client.Transport {
	case config.TransportWebSocket:
		return transport.WebSocketDialer{Config: tcfg}, nil
	case config.TransportQUIC:
		opts := transport.DefaultQUICOptions()
		if !cfg.Client.InsecureSkipVerify {
			opts.TLSConfig = &tls.Config{
				NextProtos: []string{transport.QUICNextProto},
				MinVersion: tls.VersionTLS13,
			}
		}
		return transport.QUICDialer{Config: tcfg, Options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Client.Transport)
	}
}

func NewClient(cfg *config.Config, logger log.Log, dialer transport.Dialer, opts Options) (*Client, error) {
	logger = log.OrNop(logger)
	if opts.Name == "" {
		opts.Name = "headless"
	}
	c := &Client{
		config:  cfg,
		options: opts,
		logger:  logger.With(log.String("component", "client")),
		manager: ecs.NewManager(ecs.WithLogger(logger)),
	}

	var err error
	c.net, err = netsync.NewClientSystem(netsync.ClientConfig{
		Addr:        cfg.Client.Addr,
		Dialer:      dialer,
		Registry:    demo.Registry(),
		Prefabs:     demo.Prefabs(),
		SendTimeout: cfg.Replication.SendTimeout,
		Logger:      logger,
		Hooks: netsync.ClientHooks{
			OnConnect:       c.onConnect,
			OnDisconnect:    c.onDisconnect,
			OnNewEntity:     c.onNewEntity,
			OnRemovedEntity: c.onRemovedEntity,
			OnCustomData:    c.onCustomData,
		},
	})
	if err != nil {
		return nil, err
	}

	systems := []ecs.System{c.net, netsync.NewInterpolationSystem(cfg.Replication.InterpolationInterval)}
	if opts.Pilot {
		systems = append(systems, demo.NewPilotSystem(c.net, 5, 1.5, ecs.WithTPS(cfg.Replication.TPS)))
	}
	for _, sys := range systems {
		if err = c.manager.AddSystem(sys); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Manager() *ecs.Manager      { return c.manager }
func (c *Client) Net() *netsync.ClientSystem { return c.net }
func (c *Client) Chat() []demo.ChatMessage   { return c.chat }

// Run connects and ticks until ctx is done. A failed connection is returned
// before the first tick.
func (c *Client) Run(ctx context.Context) error {
	if err := c.manager.Start(ctx); err != nil {
		_ = c.manager.Stop(context.WithoutCancel(ctx))
		return err
	}
	return c.manager.Run(ctx, c.config.Scheduler.TickInterval)
}

// Say sends a chat line. It must be called from a tick callback.
func (c *Client) Say(message string) error {
	msg, err := demo.NewCustomMessage(demo.KindChat, demo.ChatMessage{Sender: c.options.Name, Message: message})
	if err != nil {
		return err
	}
	return c.net.SendCustom(msg)
}

func (c *Client) onConnect(clientID string) {
	c.logger.Info("Connected", log.String("client_id", clientID), log.String("addr", c.config.Client.Addr))
	if c.options.Greeting == "" {
		return
	}
	if err := c.Say(c.options.Greeting); err != nil {
		c.logger.Warn("Failed to send greeting", log.Error(err))
	}
}

func (c *Client) onDisconnect(err error) {
	if err != nil {
		c.logger.Warn("Connection lost", log.Error(err))
		return
	}
	c.logger.Info("Disconnected")
}

func (c *Client) onNewEntity(e *ecs.Entity) {
	fields := []log.Field{log.String("entity", string(e.ID())), log.String("name", e.Name())}
	if pos, ok := ecs.Get[*netsync.Position](e); ok {
		fields = append(fields, log.Float64("x", pos.X), log.Float64("y", pos.Y))
	}
	c.logger.Debug("Entity appeared", fields...)
}

func (c *Client) onRemovedEntity(e *ecs.Entity) {
	c.logger.Debug("Entity removed", log.String("entity", string(e.ID())))
}

func (c *Client) onCustomData(data json.RawMessage) {
	var msg demo.CustomMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Unreadable custom message", log.Error(err))
		return
	}

	switch msg.Kind {
	case demo.KindHistory:
		var history []demo.ChatMessage
		if err := json.Unmarshal(msg.Payload, &history); err != nil {
			c.logger.Warn("Unreadable chat history", log.Error(err))
			return
		}
		c.chat = append(c.chat, history...)
	case demo.KindChat:
		var chat demo.ChatMessage
		if err := json.Unmarshal(msg.Payload, &chat); err != nil {
			c.logger.Warn("Unreadable chat message", log.Error(err))
			return
		}
		c.chat = append(c.chat, chat)
		c.logger.Info("Chat",
			log.String("sender", chat.Sender),
			log.String("message", chat.Message),
			log.Time("sent_at", time.UnixMilli(chat.SentAt)))
	default:
		c.logger.Debug("Ignoring custom message", log.String("kind", msg.Kind))
	}
}
