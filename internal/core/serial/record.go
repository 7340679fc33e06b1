package serial

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/zecs/internal/core/ecs"
)

// Serializable is a component whose state can travel as a Record.
// Write returns a JSON-encodable value; Read receives the same value encoded.
type Serializable interface {
	ecs.Component
	Write() (any, error)
	Read(data json.RawMessage) error
}

type (
	// SerializeHook lets a component decorate its record after Write.
	SerializeHook interface {
		OnSerialized(rec *Record)
	}
	// DeserializeHook runs before Read with the incoming record.
	DeserializeHook interface {
		OnDeserialize(rec Record)
	}
)

// Record is the wire form of one component.
type Record struct {
	ID        string          `json:"id,omitempty"`
	ClassName string          `json:"className"`
	Data      json.RawMessage `json:"data"`

	// UpdateTimestamp, OwnerID and Scope are only set for replicated
	// components.
	UpdateTimestamp *int64 `json:"updateTimestamp,omitempty"`
	OwnerID         string `json:"ownerId,omitempty"`
	Scope           string `json:"scope,omitempty"`
}

// Timestamp returns the update timestamp, or -1 when the record has none.
func (r Record) Timestamp() int64 {
	if r.UpdateTimestamp == nil {
		return -1
	}
	return *r.UpdateTimestamp
}

// Serialize captures c. The component id is included only withMetadata.
func Serialize(c Serializable, withMetadata bool) (Record, error) {
	data, err := c.Write()
	if err != nil {
		return Record{}, fmt.Errorf("write %s: %w", c.Type(), err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", c.Type(), err)
	}

	rec := Record{ClassName: string(c.Type()), Data: raw}
	if withMetadata {
		rec.ID = c.Base().ID()
	}
	if h, ok := c.(SerializeHook); ok {
		h.OnSerialized(&rec)
	}
	return rec, nil
}

// Deserialize loads rec into c. The record class must name c's type.
func Deserialize(c Serializable, rec Record) error {
	if rec.ClassName != string(c.Type()) {
		return fmt.Errorf("%w: %s into %s", ErrClassMismatch, rec.ClassName, c.Type())
	}
	if rec.ID != "" && !c.Base().Attached() {
		c.Base().SetID(rec.ID)
	}
	if h, ok := c.(DeserializeHook); ok {
		h.OnDeserialize(rec)
	}
	if err := c.Read(rec.Data); err != nil {
		return fmt.Errorf("read %s: %w", rec.ClassName, err)
	}
	return nil
}
