package netsync

import (
	"encoding/json"
	"math"
	"time"

	"github.com/zeusync/zecs/internal/core/ecs"
)

const (
	PositionType     ecs.ComponentType = "Position"
	InterpolatedType ecs.ComponentType = "Interpolated"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3              { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3              { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(f float64) Vec3         { return Vec3{v.X * f, v.Y * f, v.Z * f} }
func (v Vec3) Length() float64              { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) Lerp(to Vec3, t float64) Vec3 { return v.Add(to.Sub(v).Scale(t)) }

// Position is the replicated location of an entity.
type Position struct {
	ecs.BaseComponent
	NetworkBase
	Vec3
}

func NewPosition(x, y, z float64) *Position {
	return &Position{
		BaseComponent: ecs.NewBaseComponent(),
		NetworkBase:   NewNetworkBase(ServerOwner, ScopePublic),
		Vec3:          Vec3{X: x, Y: y, Z: z},
	}
}

func (*Position) Type() ecs.ComponentType { return PositionType }

func (p *Position) Write() (any, error) { return p.Vec3, nil }

func (p *Position) Read(data json.RawMessage) error {
	return json.Unmarshal(data, &p.Vec3)
}

// Set moves the position. Unchanged coordinates are not replicated again.
func (p *Position) Set(v Vec3) { p.Vec3 = v }

func (p *Position) Clone() ecs.Component {
	c := NewPosition(p.X, p.Y, p.Z)
	c.NetworkBase = NewNetworkBase(p.OwnerID(), p.Scope())
	return c
}

// Interpolated smooths a replicated Position on the client. Current trails
// the last received position over one snapshot interval.
type Interpolated struct {
	ecs.BaseComponent
	Current Vec3

	from    Vec3
	to      Vec3
	elapsed time.Duration
}

func NewInterpolated() *Interpolated {
	return &Interpolated{BaseComponent: ecs.NewBaseComponent()}
}

func (*Interpolated) Type() ecs.ComponentType { return InterpolatedType }

func (i *Interpolated) Clone() ecs.Component { return NewInterpolated() }

// reset snaps to v.
func (i *Interpolated) reset(v Vec3) {
	i.Current, i.from, i.to = v, v, v
	i.elapsed = 0
}

// step advances Current toward target, restarting the segment when target
// moved since the previous step.
func (i *Interpolated) step(target Vec3, dt, interval time.Duration) {
	if target != i.to {
		i.from, i.to = i.Current, target
		i.elapsed = 0
	}
	i.elapsed += dt
	if interval <= 0 || i.elapsed >= interval {
		i.Current = i.to
		return
	}
	i.Current = i.from.Lerp(i.to, float64(i.elapsed)/float64(interval))
}
