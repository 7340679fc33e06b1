package ecs

// Lifecycle event types published on the manager's bus.
const (
	EventEntityAdded      = "entity.added"
	EventEntityRemoved    = "entity.removed"
	EventComponentAdded   = "component.added"
	EventComponentRemoved = "component.removed"
	EventSystemError      = "system.error"
)

const eventSource = "ecs.manager"

type EntityEvent struct {
	Entity *Entity
}

type ComponentEvent struct {
	Entity    *Entity
	Component Component
}

type SystemErrorEvent struct {
	System string
	Err    error
}
