package netsync

import (
	"sync"

	"github.com/zeusync/zecs/internal/core/ecs"
)

// NetworkedType marks entities the network systems replicate.
const NetworkedType ecs.ComponentType = "Networked"

// Networked is the marker component of replicated entities. PrefabName names
// the template clients build the entity from.
type Networked struct {
	ecs.BaseComponent
	PrefabName string
}

func NewNetworked(prefab string) *Networked {
	return &Networked{BaseComponent: ecs.NewBaseComponent(), PrefabName: prefab}
}

func (*Networked) Type() ecs.ComponentType { return NetworkedType }

func (n *Networked) Clone() ecs.Component { return NewNetworked(n.PrefabName) }

// PrefabFunc builds a detached entity carrying id.
type PrefabFunc func(id ecs.EntityID) *ecs.Entity

// Prefabs maps prefab names to entity builders.
type Prefabs struct {
	mu    sync.RWMutex
	funcs map[string]PrefabFunc
}

func NewPrefabs() *Prefabs {
	return &Prefabs{funcs: make(map[string]PrefabFunc)}
}

func (p *Prefabs) Register(name string, fn PrefabFunc) {
	p.mu.Lock()
	p.funcs[name] = fn
	p.mu.Unlock()
}

// RegisterTemplate registers a prefab built by cloning template.
func (p *Prefabs) RegisterTemplate(name string, template *ecs.Entity) {
	p.Register(name, func(id ecs.EntityID) *ecs.Entity { return template.Clone(id) })
}

// Instantiate builds the prefab, or returns false when name is unknown.
func (p *Prefabs) Instantiate(name string, id ecs.EntityID) (*ecs.Entity, bool) {
	if p == nil || name == "" {
		return nil, false
	}
	p.mu.RLock()
	fn, ok := p.funcs[name]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(id), true
}
