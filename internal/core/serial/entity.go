package serial

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/pkg/sequence"
)

// SerializedEntity is the transferable form of an entity. Components keep
// their attachment order on the wire as [className, record] pairs.
type SerializedEntity struct {
	ID         ecs.EntityID                                   `json:"id"`
	Name       string                                         `json:"name,omitempty"`
	Components sequence.OrderedMap[ecs.ComponentType, Record] `json:"components"`
	Destroyed  bool                                           `json:"destroyed"`
	Parent     ecs.EntityID                                   `json:"parent,omitempty"`
	PrefabName string                                         `json:"prefabName,omitempty"`
}

func NewSerializedEntity(id ecs.EntityID, name string) *SerializedEntity {
	return &SerializedEntity{
		ID:         id,
		Name:       name,
		Components: *sequence.NewOrderedMap[ecs.ComponentType, Record](),
	}
}

// FromEntity captures every registered serializable component of e. A failing
// component is left out and reported; the others are still captured.
func FromEntity(e *ecs.Entity, reg *Registry) (*SerializedEntity, error) {
	se := NewSerializedEntity(e.ID(), e.Name())
	se.Destroyed = e.IsDestroyed()
	if p := e.Parent(); p != nil {
		se.Parent = p.ID()
	}

	var errs []error
	for _, c := range e.Components() {
		s, ok := c.(Serializable)
		if !ok || !reg.Allowed(c.Type()) {
			continue
		}
		rec, err := Serialize(s, true)
		if err != nil {
			errs = append(errs, &RecordError{Entity: string(e.ID()), ClassName: string(c.Type()), Err: err})
			continue
		}
		se.Components.Set(c.Type(), rec)
	}
	return se, errors.Join(errs...)
}

// Add stores rec under its class name.
func (se *SerializedEntity) Add(rec Record) {
	se.Components.Set(ecs.ComponentType(rec.ClassName), rec)
}

// Apply writes the records onto e: existing components of the same class are
// deserialized in place, missing ones are built from reg and attached. Each
// failing record is skipped and reported in the joined error.
func (se *SerializedEntity) Apply(e *ecs.Entity, reg *Registry) error {
	var errs []error
	for class, rec := range se.Components.All() {
		if err := ApplyRecord(e, reg, class, rec); err != nil {
			errs = append(errs, &RecordError{Entity: string(se.ID), ClassName: string(class), Err: err})
		}
	}
	return errors.Join(errs...)
}

// ApplyRecord deserializes rec into e's component of the given class,
// building and attaching one when e has none.
func ApplyRecord(e *ecs.Entity, reg *Registry, class ecs.ComponentType, rec Record) error {
	if !reg.Allowed(class) {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if existing, ok := e.Component(class); ok {
		s, ok := existing.(Serializable)
		if !ok {
			return fmt.Errorf("%w: %s", ErrClassMismatch, class)
		}
		return Deserialize(s, rec)
	}
	c, err := reg.Decode(rec)
	if err != nil {
		return err
	}
	return e.AddComponent(c)
}

// Build creates a detached entity from the record.
func (se *SerializedEntity) Build(reg *Registry) (*ecs.Entity, error) {
	e := ecs.NewEntityWithID(se.ID, se.Name)
	return e, se.Apply(e, reg)
}

func (se *SerializedEntity) Encode() ([]byte, error) {
	return json.Marshal(se)
}

func DecodeEntity(data []byte) (*SerializedEntity, error) {
	se := &SerializedEntity{}
	if err := json.Unmarshal(data, se); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return se, nil
}
