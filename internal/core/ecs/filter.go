package ecs

import "strings"

// Filter is the ordered list of component types a system requires. The order
// fixes the layout of Match.Components handed to Update.
type Filter []ComponentType

// Key identifies the group of systems sharing this exact filter.
func (f Filter) Key() string {
	parts := make([]string, len(f))
	for i, t := range f {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

// Contains reports whether t is one of the required types.
func (f Filter) Contains(t ComponentType) bool {
	for _, ft := range f {
		if ft == t {
			return true
		}
	}
	return false
}

// Matches reports whether e owns one component of every required type.
func (f Filter) Matches(e *Entity) bool {
	for _, t := range f {
		if !e.HasComponent(t) {
			return false
		}
	}
	return true
}

// Missing returns the first required type e does not own.
func (f Filter) Missing(e *Entity) (ComponentType, bool) {
	for _, t := range f {
		if !e.HasComponent(t) {
			return t, true
		}
	}
	return "", false
}

// Resolve returns e's components in filter order. It returns false when any
// of them is missing.
func (f Filter) Resolve(e *Entity) ([]Component, bool) {
	out := make([]Component, len(f))
	for i, t := range f {
		c, ok := e.Component(t)
		if !ok {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

// Match is one entity of a system's working set with its filtered components.
type Match struct {
	Entity     *Entity
	Components []Component
}
