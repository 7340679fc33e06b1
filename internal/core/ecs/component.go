package ecs

import "github.com/google/uuid"

// ComponentType is the stable identifier of a concrete component type. It is
// the key of an entity's component set and the class name used on the wire.
type ComponentType string

// Component is a unit of data attached to at most one entity.
//
// Concrete components embed BaseComponent and are used through pointers:
//
//	type Health struct {
//		ecs.BaseComponent
//		HP int
//	}
//
//	func (*Health) Type() ecs.ComponentType { return "Health" }
type Component interface {
	Type() ComponentType
	Base() *BaseComponent
}

// BaseComponent carries the identity shared by every component. The owner is
// an entity identifier, not a pointer: the entity owns the component, never the
// other way around.
type BaseComponent struct {
	id    string
	owner EntityID
}

// NewBaseComponent returns a base with the given id, or a fresh uuid.
func NewBaseComponent(id ...string) BaseComponent {
	if len(id) > 0 && id[0] != "" {
		return BaseComponent{id: id[0]}
	}
	return BaseComponent{id: uuid.NewString()}
}

func (b *BaseComponent) Base() *BaseComponent { return b }

// ID returns the component identifier, assigning one on first use for
// components built from a zero value.
func (b *BaseComponent) ID() string {
	if b.id == "" {
		b.id = uuid.NewString()
	}
	return b.id
}

func (b *BaseComponent) SetID(id string) { b.id = id }

// Owner returns the identifier of the entity the component is attached to,
// or "" while detached.
func (b *BaseComponent) Owner() EntityID { return b.owner }

// Attached reports whether the component currently belongs to an entity.
func (b *BaseComponent) Attached() bool { return b.owner != "" }

// Optional lifecycle hooks. A component implements only the ones it needs.
type (
	// Attacher is notified after the component joined an entity.
	Attacher interface {
		OnAttach(e *Entity)
	}
	// Detacher is notified after the component left an entity.
	Detacher interface {
		OnDetach(e *Entity)
	}
	// Destroyer is notified when the owning entity is destroyed, after OnDetach.
	Destroyer interface {
		OnDestroy(e *Entity)
	}
	// ParentObserver is notified before the owner's parent changes. e.Parent()
	// still returns the outgoing parent during the call; parent may be nil.
	ParentObserver interface {
		OnNewParent(e *Entity, parent *Entity)
	}
	// SiblingObserver is notified when another component joins the same entity.
	SiblingObserver interface {
		OnComponentAdded(e *Entity, added Component)
	}
	// Cloner produces an unattached copy. Components without it are shared by
	// Entity.Clone.
	Cloner interface {
		Clone() Component
	}
)

// CloneComponent returns c.Clone() for Cloners and c itself otherwise.
func CloneComponent(c Component) Component {
	if cl, ok := c.(Cloner); ok {
		return cl.Clone()
	}
	return c
}
