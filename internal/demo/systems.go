package demo

import (
	"math"
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/netsync"
)

// Bounds is the axis-aligned box moving entities bounce inside. A zero box
// disables bouncing.
type Bounds struct {
	Min, Max netsync.Vec3
}

func (b Bounds) empty() bool { return b.Min == b.Max }

// MovementSystem integrates Velocity into Position.
type MovementSystem struct {
	*ecs.BaseSystem
	bounds Bounds
}

func NewMovementSystem(bounds Bounds, opts ...ecs.SystemOption) *MovementSystem {
	return &MovementSystem{
		BaseSystem: ecs.NewBaseSystem("demo.movement", ecs.Filter{netsync.PositionType, VelocityType}, opts...),
		bounds:     bounds,
	}
}

func (s *MovementSystem) Update(dt time.Duration, matches []ecs.Match) error {
	secs := dt.Seconds()
	for _, m := range matches {
		pos := m.Components[0].(*netsync.Position)
		vel := m.Components[1].(*Velocity)

		next := pos.Vec3.Add(vel.Vec3.Scale(secs))
		if !s.bounds.empty() {
			next.X, vel.X = bounce(next.X, vel.X, s.bounds.Min.X, s.bounds.Max.X)
			next.Y, vel.Y = bounce(next.Y, vel.Y, s.bounds.Min.Y, s.bounds.Max.Y)
			next.Z, vel.Z = bounce(next.Z, vel.Z, s.bounds.Min.Z, s.bounds.Max.Z)
		}
		pos.Set(next)
	}
	return nil
}

// bounce reflects p back inside [lo, hi] and flips v when it crossed an edge.
func bounce(p, v, lo, hi float64) (float64, float64) {
	if lo == hi {
		return p, v
	}
	switch {
	case p < lo:
		return lo + (lo - p), math.Abs(v)
	case p > hi:
		return hi - (p - hi), -math.Abs(v)
	}
	return p, v
}

// CounterSystem increments every Counter once per update.
type CounterSystem struct {
	*ecs.BaseSystem
}

func NewCounterSystem(opts ...ecs.SystemOption) *CounterSystem {
	return &CounterSystem{BaseSystem: ecs.NewBaseSystem("demo.counter", ecs.Filter{CounterType}, opts...)}
}

func (s *CounterSystem) Update(_ time.Duration, matches []ecs.Match) error {
	for _, m := range matches {
		m.Components[0].(*Counter).Count++
	}
	return nil
}

// PilotSystem steers the positions a client owns along a circle and pushes
// them to the server.
type PilotSystem struct {
	*ecs.BaseSystem
	client *netsync.ClientSystem
	radius float64
	speed  float64 // radians per second
	angle  float64
	center map[ecs.EntityID]netsync.Vec3
}

func NewPilotSystem(client *netsync.ClientSystem, radius, speed float64, opts ...ecs.SystemOption) *PilotSystem {
	opts = append([]ecs.SystemOption{ecs.WithDependencies(client.Name())}, opts...)
	return &PilotSystem{
		BaseSystem: ecs.NewBaseSystem("demo.pilot", ecs.Filter{netsync.PositionType}, opts...),
		client:     client,
		radius:     radius,
		speed:      speed,
		center:     make(map[ecs.EntityID]netsync.Vec3),
	}
}

func (s *PilotSystem) OnEntityEligible(e *ecs.Entity, components []ecs.Component) error {
	s.center[e.ID()] = components[0].(*netsync.Position).Vec3
	return nil
}

func (s *PilotSystem) OnEntityNoLongerEligible(e *ecs.Entity) {
	delete(s.center, e.ID())
}

func (s *PilotSystem) Update(dt time.Duration, matches []ecs.Match) error {
	if !s.client.Connected() {
		return nil
	}
	s.angle += s.speed * dt.Seconds()
	offset := netsync.Vec3{X: math.Cos(s.angle) * s.radius, Y: math.Sin(s.angle) * s.radius}

	for _, m := range matches {
		pos := m.Components[0].(*netsync.Position)
		if pos.OwnerID() != s.client.ClientID() {
			continue
		}
		pos.Set(s.center[m.Entity.ID()].Add(offset))
		if err := s.client.SendComponent(m.Entity, pos); err != nil {
			return err
		}
	}
	return nil
}
