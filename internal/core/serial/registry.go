package serial

import (
	"fmt"
	"slices"
	"sync"

	"github.com/zeusync/zecs/internal/core/ecs"
)

// Factory returns a fresh, unattached component.
type Factory func() Serializable

// Registry is the allow-list of component classes a process accepts from the
// wire, keyed by class name.
type Registry struct {
	mu        sync.RWMutex
	factories map[ecs.ComponentType]Factory
	order     []ecs.ComponentType
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[ecs.ComponentType]Factory)}
}

// Register adds a class. The factory is called once to check that it builds
// components of the announced type.
func (r *Registry) Register(class ecs.ComponentType, f Factory) error {
	if f == nil {
		return ErrNilFactory
	}
	if got := f().Type(); got != class {
		return fmt.Errorf("%w: factory for %s builds %s", ErrClassMismatch, class, got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, class)
	}
	r.factories[class] = f
	r.order = append(r.order, class)
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func (r *Registry) MustRegister(class ecs.ComponentType, f Factory) *Registry {
	if err := r.Register(class, f); err != nil {
		panic(err)
	}
	return r
}

// RegisterType registers T under the type its zero-argument factory reports.
func RegisterType[T Serializable](r *Registry, newT func() T) error {
	return r.Register(newT().Type(), func() Serializable { return newT() })
}

func (r *Registry) Allowed(class ecs.ComponentType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[class]
	return ok
}

// Classes lists the registered classes in registration order.
func (r *Registry) Classes() []ecs.ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// New builds an empty component of the given class.
func (r *Registry) New(class ecs.ComponentType) (Serializable, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return f(), nil
}

// Decode builds a component from rec.
func (r *Registry) Decode(rec Record) (Serializable, error) {
	c, err := r.New(ecs.ComponentType(rec.ClassName))
	if err != nil {
		return nil, err
	}
	if err = Deserialize(c, rec); err != nil {
		return nil, err
	}
	return c, nil
}
