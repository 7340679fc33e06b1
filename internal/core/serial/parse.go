package serial

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeusync/zecs/internal/core/ecs"
)

// ParseGameState decodes a snapshot entry by entry. Unreadable entities and
// records are left out and reported as RecordErrors in the joined error; the
// returned state holds everything else. The state is nil only when the
// snapshot itself cannot be read.
func ParseGameState(data []byte) (*GameState, error) {
	var wire struct {
		Timestamp  int64             `json:"timestamp"`
		Entities   []json.RawMessage `json:"entities"`
		CustomData json.RawMessage   `json:"customData"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}

	g := NewGameState(wire.Timestamp)
	g.CustomData = wire.CustomData

	var errs []error
	for i, raw := range wire.Entities {
		key, value, err := splitPair(raw)
		if err != nil {
			errs = append(errs, &RecordError{Entity: fmt.Sprintf("#%d", i), Err: err})
			continue
		}
		var id ecs.EntityID
		if err = json.Unmarshal(key, &id); err != nil {
			errs = append(errs, &RecordError{Entity: fmt.Sprintf("#%d", i), Err: err})
			continue
		}

		se, err := ParseEntity(value)
		if se == nil {
			errs = append(errs, &RecordError{Entity: string(id), Err: err})
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
		if se.ID != id {
			errs = append(errs, &RecordError{Entity: string(id), Err: fmt.Errorf("%w: %s", ErrIDMismatch, se.ID)})
			continue
		}
		g.Put(se)
	}
	return g, errors.Join(errs...)
}

// ParseEntity decodes an entity record by record. Records that cannot be read
// are skipped and reported as RecordErrors in the joined error. The entity is
// nil when its own fields cannot be read.
func ParseEntity(data []byte) (*SerializedEntity, error) {
	if isNull(data) {
		return nil, ErrNullEntry
	}
	var wire struct {
		ID         ecs.EntityID      `json:"id"`
		Name       string            `json:"name"`
		Components []json.RawMessage `json:"components"`
		Destroyed  bool              `json:"destroyed"`
		Parent     ecs.EntityID      `json:"parent"`
		PrefabName string            `json:"prefabName"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	if wire.ID == "" {
		return nil, ErrMissingID
	}

	se := NewSerializedEntity(wire.ID, wire.Name)
	se.Destroyed = wire.Destroyed
	se.Parent = wire.Parent
	se.PrefabName = wire.PrefabName

	var errs []error
	for _, raw := range wire.Components {
		class, rec, err := parseRecord(raw)
		if err != nil {
			errs = append(errs, &RecordError{Entity: string(wire.ID), ClassName: string(class), Err: err})
			continue
		}
		se.Components.Set(class, rec)
	}
	return se, errors.Join(errs...)
}

func parseRecord(raw json.RawMessage) (ecs.ComponentType, Record, error) {
	key, value, err := splitPair(raw)
	if err != nil {
		return "", Record{}, err
	}
	var class ecs.ComponentType
	if err = json.Unmarshal(key, &class); err != nil {
		return "", Record{}, err
	}
	if isNull(value) {
		return class, Record{}, ErrNullEntry
	}

	var rec Record
	if err = json.Unmarshal(value, &rec); err != nil {
		return class, Record{}, err
	}
	switch rec.ClassName {
	case "":
		rec.ClassName = string(class)
	case string(class):
	default:
		return class, Record{}, fmt.Errorf("%w: %s", ErrClassMismatch, rec.ClassName)
	}
	return class, rec, nil
}

func splitPair(raw json.RawMessage) (json.RawMessage, json.RawMessage, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPair, err)
	}
	if len(pair) != 2 {
		return nil, nil, ErrMalformedPair
	}
	return pair[0], pair[1], nil
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
