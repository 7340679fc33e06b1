package demo

import (
	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/netsync"
	"github.com/zeusync/zecs/internal/core/serial"
)

const (
	PrefabBall   = "ball"
	PrefabAvatar = "avatar"
	PrefabTicker = "ticker"
)

// Registry allows the demo's replicated classes.
func Registry() *serial.Registry {
	reg := serial.NewRegistry()
	reg.MustRegister(netsync.PositionType, func() serial.Serializable { return netsync.NewPosition(0, 0, 0) })
	reg.MustRegister(VelocityType, func() serial.Serializable { return NewVelocity(0, 0, 0) })
	reg.MustRegister(CounterType, func() serial.Serializable { return NewCounter(0) })
	return reg
}

// Prefabs builds the client side of replicated entities. Moving entities are
// interpolated; the avatar is driven locally and is not.
func Prefabs() *netsync.Prefabs {
	p := netsync.NewPrefabs()
	p.Register(PrefabBall, func(id ecs.EntityID) *ecs.Entity {
		e := ecs.NewEntityWithID(id, PrefabBall)
		_ = e.AddComponent(netsync.NewInterpolated())
		return e
	})
	p.Register(PrefabAvatar, func(id ecs.EntityID) *ecs.Entity {
		e := ecs.NewEntityWithID(id, PrefabAvatar)
		e.AddTag("avatar")
		return e
	})
	return p
}

// SpawnBall adds a server-owned bouncing ball to m.
func SpawnBall(m *ecs.Manager, pos, vel netsync.Vec3) (*ecs.Entity, error) {
	e := ecs.NewEntity(PrefabBall)
	err := e.AddComponents(
		netsync.NewNetworked(PrefabBall),
		netsync.NewPosition(pos.X, pos.Y, pos.Z),
		NewVelocity(vel.X, vel.Y, vel.Z),
	)
	if err != nil {
		return nil, err
	}
	return e, m.AddEntity(e)
}

// SpawnTicker adds the shared counter entity to m.
func SpawnTicker(m *ecs.Manager) (*ecs.Entity, error) {
	e := ecs.NewEntity(PrefabTicker)
	if err := e.AddComponents(netsync.NewNetworked(PrefabTicker), NewCounter(0)); err != nil {
		return nil, err
	}
	return e, m.AddEntity(e)
}

// SpawnAvatar adds an entity whose position is owned by clientID and visible
// to that client only.
func SpawnAvatar(m *ecs.Manager, clientID string, at netsync.Vec3) (*ecs.Entity, error) {
	e := ecs.NewEntity(PrefabAvatar)
	e.AddTag("avatar")
	pos := netsync.NewPosition(at.X, at.Y, at.Z)
	pos.SetOwner(clientID)
	pos.SetScope(netsync.ScopeOwner)
	if err := e.AddComponents(netsync.NewNetworked(PrefabAvatar), pos); err != nil {
		return nil, err
	}
	return e, m.AddEntity(e)
}
