package server

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/netsync"
	"github.com/zeusync/zecs/internal/core/observability/log"
	"github.com/zeusync/zecs/internal/demo"
)

// ChatHistory keeps the last messages for late joiners. It is read by the
// stats endpoint concurrently with the tick.
type ChatHistory struct {
	mu       sync.RWMutex
	messages []demo.ChatMessage
	limit    int
}

func NewChatHistory(limit int) *ChatHistory {
	if limit <= 0 {
		limit = 100
	}
	return &ChatHistory{limit: limit}
}

func (h *ChatHistory) Append(msg demo.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if over := len(h.messages) - h.limit; over > 0 {
		h.messages = slices.Delete(h.messages, 0, over)
	}
}

func (h *ChatHistory) Get() []demo.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.messages)
}

// session handles one connected client: it owns the client's avatar and
// relays its chat messages.
type session struct {
	server *Server
	client *netsync.Client
	avatar *ecs.Entity
	logger log.Log
}

func (s *Server) newSession(c *netsync.Client) netsync.ClientHandler {
	return &session{
		server: s,
		client: c,
		logger: s.logger.With(log.String("client_id", c.ID())),
	}
}

func (h *session) OnConnect(c *netsync.Client) error {
	avatar, err := demo.SpawnAvatar(h.server.manager, c.ID(), netsync.Vec3{})
	if err != nil {
		return fmt.Errorf("spawn avatar: %w", err)
	}
	h.avatar = avatar

	history, err := demo.NewCustomMessage(demo.KindHistory, h.server.chat.Get())
	if err != nil {
		return err
	}
	if err = c.SendCustom(history); err != nil {
		h.logger.Warn("Failed to send chat history", log.Error(err))
	}
	h.logger.Debug("Session started", log.String("avatar", string(avatar.ID())))
	return nil
}

func (h *session) OnDisconnect(*netsync.Client) {
	if h.avatar != nil {
		h.avatar.Destroy()
	}
	h.logger.Debug("Session ended")
}

func (h *session) OnMessage(c *netsync.Client, data json.RawMessage) {
	var msg demo.CustomMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("Failed to parse custom message", log.Error(err))
		return
	}

	switch msg.Kind {
	case demo.KindChat:
		var chat demo.ChatMessage
		if err := json.Unmarshal(msg.Payload, &chat); err != nil {
			h.logger.Warn("Failed to parse chat message", log.Error(err))
			return
		}
		chat.UserID = c.ID()
		chat.SentAt = time.Now().UnixMilli()
		h.server.chat.Append(chat)

		out, err := demo.NewCustomMessage(demo.KindChat, chat)
		if err != nil {
			h.logger.Error("Failed to encode chat message", log.Error(err))
			return
		}
		if err = h.server.net.Broadcast(out); err != nil {
			h.logger.Warn("Chat broadcast incomplete", log.Error(err))
		}
	default:
		h.logger.Warn("Unknown custom message", log.String("kind", msg.Kind), log.Error(ErrInvalidMessage))
	}
}
