package demo

import "encoding/json"

// Custom message kinds exchanged with clients.
const (
	KindChat    = "chat"
	KindHistory = "chat_history"
)

// CustomMessage is the payload of custom messages in both directions.
type CustomMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewCustomMessage(kind string, payload any) (CustomMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return CustomMessage{}, err
	}
	return CustomMessage{Kind: kind, Payload: raw}, nil
}

type ChatMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	UserID  string `json:"userID"`
	SentAt  int64  `json:"sentAt"`
}
