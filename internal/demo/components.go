package demo

import (
	"encoding/json"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/netsync"
)

const (
	VelocityType ecs.ComponentType = "Velocity"
	CounterType  ecs.ComponentType = "Counter"
)

// Velocity is in units per second.
type Velocity struct {
	ecs.BaseComponent
	netsync.NetworkBase
	netsync.Vec3
}

func NewVelocity(x, y, z float64) *Velocity {
	return &Velocity{
		BaseComponent: ecs.NewBaseComponent(),
		NetworkBase:   netsync.NewNetworkBase(netsync.ServerOwner, netsync.ScopePublic),
		Vec3:          netsync.Vec3{X: x, Y: y, Z: z},
	}
}

func (*Velocity) Type() ecs.ComponentType { return VelocityType }
func (v *Velocity) Write() (any, error)   { return v.Vec3, nil }

func (v *Velocity) Read(data json.RawMessage) error {
	return json.Unmarshal(data, &v.Vec3)
}

func (v *Velocity) Clone() ecs.Component {
	c := NewVelocity(v.X, v.Y, v.Z)
	c.NetworkBase = netsync.NewNetworkBase(v.OwnerID(), v.Scope())
	return c
}

type counterData struct {
	Count int `json:"count"`
}

// Counter counts the updates of CounterSystem. It is replicated to everyone.
type Counter struct {
	ecs.BaseComponent
	netsync.NetworkBase
	Count int
}

func NewCounter(count int) *Counter {
	return &Counter{
		BaseComponent: ecs.NewBaseComponent(),
		NetworkBase:   netsync.NewNetworkBase(netsync.ServerOwner, netsync.ScopePublic),
		Count:         count,
	}
}

func (*Counter) Type() ecs.ComponentType { return CounterType }
func (c *Counter) Write() (any, error)   { return counterData{Count: c.Count}, nil }

func (c *Counter) Read(data json.RawMessage) error {
	var d counterData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	c.Count = d.Count
	return nil
}
