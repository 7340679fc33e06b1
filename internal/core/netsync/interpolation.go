package netsync

import (
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
)

// InterpolationSystem moves Interpolated.Current toward the entity's
// Position. Entities matching its filter must also carry a Position.
type InterpolationSystem struct {
	*ecs.BaseSystem
	interval time.Duration
}

// NewInterpolationSystem smooths over interval, usually the server's
// snapshot interval.
func NewInterpolationSystem(interval time.Duration, opts ...ecs.SystemOption) *InterpolationSystem {
	return &InterpolationSystem{
		BaseSystem: ecs.NewBaseSystem("network.interpolation", ecs.Filter{InterpolatedType}, opts...),
		interval:   interval,
	}
}

func (s *InterpolationSystem) position(e *ecs.Entity) (*Position, error) {
	c, ok := e.Component(PositionType)
	if !ok {
		return nil, &ecs.ConfigError{System: s.Name(), Entity: e.ID(), Missing: PositionType}
	}
	return c.(*Position), nil
}

func (s *InterpolationSystem) OnEntityEligible(e *ecs.Entity, components []ecs.Component) error {
	pos, err := s.position(e)
	if err != nil {
		return err
	}
	components[0].(*Interpolated).reset(pos.Vec3)
	return nil
}

func (s *InterpolationSystem) OnEntityNoLongerEligible(*ecs.Entity) {}

func (s *InterpolationSystem) Update(dt time.Duration, matches []ecs.Match) error {
	for _, m := range matches {
		pos, err := s.position(m.Entity)
		if err != nil {
			return err
		}
		m.Components[0].(*Interpolated).step(pos.Vec3, dt, s.interval)
	}
	return nil
}
