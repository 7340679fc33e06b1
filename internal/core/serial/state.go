package serial

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/pkg/sequence"
)

// GameState is a snapshot of replicated state at Timestamp (unix ms).
type GameState struct {
	Timestamp  int64                                                `json:"timestamp"`
	Entities   sequence.OrderedMap[ecs.EntityID, *SerializedEntity] `json:"entities"`
	CustomData json.RawMessage                                      `json:"customData"`
}

func NewGameState(timestamp int64) *GameState {
	return &GameState{
		Timestamp: timestamp,
		Entities:  *sequence.NewOrderedMap[ecs.EntityID, *SerializedEntity](),
	}
}

func (g *GameState) Put(se *SerializedEntity) {
	g.Entities.Set(se.ID, se)
}

func (g *GameState) Entity(id ecs.EntityID) (*SerializedEntity, bool) {
	return g.Entities.Get(id)
}

// SetCustomData encodes v as the application payload.
func (g *GameState) SetCustomData(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode custom data: %w", err)
	}
	g.CustomData = raw
	return nil
}

func (g *GameState) Encode() ([]byte, error) {
	return json.Marshal(g)
}

func DecodeGameState(data []byte) (*GameState, error) {
	g := &GameState{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	return g, nil
}
