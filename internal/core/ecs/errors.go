package ecs

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateComponent  = errors.New("component type already attached")
	ErrComponentAttached   = errors.New("component is attached to another entity")
	ErrEntityDestroyed     = errors.New("entity is destroyed")
	ErrForeignEntity       = errors.New("entity belongs to another manager")
	ErrCyclicParent        = errors.New("entity cannot become a child of itself or its descendant")
	ErrSystemRegistered    = errors.New("system already registered")
	ErrSystemNotRegistered = errors.New("system not registered")
	ErrMissingDependency   = errors.New("system dependency not registered")
	ErrManagerRunning      = errors.New("manager is already running")
)

// ConfigError reports an eligible entity lacking a component a system relies
// on. It is a programming error in the system's filter.
type ConfigError struct {
	System  string
	Entity  EntityID
	Missing ComponentType
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("system %q: entity %s is missing required component %s", e.System, e.Entity, e.Missing)
}

// TransitionError reports a lifecycle change that is not reachable from the
// current state.
type TransitionError struct {
	System string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("system %q: illegal transition %s -> %s", e.System, e.From, e.To)
}

// InitError wraps the failure of a system's Initialize hook. The system stays
// out of the running state.
type InitError struct {
	System string
	Cause  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("system %q failed to start: %v", e.System, e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }
