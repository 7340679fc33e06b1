package netsync

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/serial"
)

type MessageType string

const (
	MsgWelcome         MessageType = "welcome"
	MsgSnapshot        MessageType = "snapshot"
	MsgEntityNew       MessageType = "entity_new"
	MsgEntityRemoved   MessageType = "entity_removed"
	MsgCustom          MessageType = "custom"
	MsgComponentUpdate MessageType = "component_update"
)

// Envelope frames every message. Seq increases by one per message sent on a
// connection, in each direction independently.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	ClientID  string          `json:"clientId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type WelcomePayload struct {
	ClientID string `json:"clientId"`
	TickRate int    `json:"tickRate"`
}

type ComponentUpdatePayload struct {
	Entity ecs.EntityID  `json:"entity"`
	Record serial.Record `json:"record"`
}

func newEnvelope(typ MessageType, seq uint64, timestamp int64, payload any) (Envelope, error) {
	env := Envelope{Type: typ, Seq: seq, Timestamp: timestamp}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w: empty type", ErrUnexpectedType)
	}
	return env, nil
}
