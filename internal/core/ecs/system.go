package ecs

import (
	"context"
	"slices"
	"time"
)

// DefaultTPS is the update rate of a system constructed without WithTPS.
const DefaultTPS = 60

// System is a scheduling unit acting on the entities matching its filter.
//
// Concrete systems embed *BaseSystem, which supplies Name and Base, and
// implement Update. The optional hooks below are discovered by type assertion.
type System interface {
	Name() string
	Base() *BaseSystem
	Update(dt time.Duration, matches []Match) error
}

type (
	// Starter runs when the system starts. Hooks of different systems run
	// concurrently during Manager.Start and must not touch the entity graph.
	Starter interface {
		OnStart(ctx context.Context) error
	}
	// Stopper runs when the system stops.
	Stopper interface {
		OnStop(ctx context.Context) error
	}
	// EligibilityObserver is told when an entity joins or leaves the working
	// set. Each transition is reported exactly once.
	EligibilityObserver interface {
		OnEntityEligible(e *Entity, components []Component) error
		OnEntityNoLongerEligible(e *Entity)
	}
)

// State is a system lifecycle state.
type State uint8

const (
	StateConstructed State = iota
	StateStarting
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateConstructed: {StateStarting},
	StateStarting:    {StateRunning, StateFailed},
	StateRunning:     {StateStopped},
	StateStopped:     {StateStarting},
	StateFailed:      {StateStarting},
}

// BaseSystem holds the scheduling state shared by every system.
type BaseSystem struct {
	name         string
	filter       Filter
	tps          int
	dependencies []string

	state      State
	manager    *Manager
	sleep      time.Duration
	lastLoop   time.Time
	lastUpdate time.Time
	loopTime   time.Duration
	updates    uint64
}

type SystemOption func(*BaseSystem)

// WithTPS sets the number of updates per second. Values below 1 are ignored.
func WithTPS(tps int) SystemOption {
	return func(b *BaseSystem) {
		if tps > 0 {
			b.tps = tps
		}
	}
}

// WithDependencies names systems that should be registered before this one.
// The scheduler only reports missing ones; it does not reorder ticks.
func WithDependencies(names ...string) SystemOption {
	return func(b *BaseSystem) {
		b.dependencies = append(b.dependencies, names...)
	}
}

func NewBaseSystem(name string, filter Filter, opts ...SystemOption) *BaseSystem {
	b := &BaseSystem{
		name:   name,
		filter: slices.Clone(filter),
		tps:    DefaultTPS,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BaseSystem) Base() *BaseSystem         { return b }
func (b *BaseSystem) Name() string              { return b.name }
func (b *BaseSystem) Filter() Filter            { return slices.Clone(b.filter) }
func (b *BaseSystem) TPS() int                  { return b.tps }
func (b *BaseSystem) Dependencies() []string    { return slices.Clone(b.dependencies) }
func (b *BaseSystem) State() State              { return b.state }
func (b *BaseSystem) Running() bool             { return b.state == StateRunning }
func (b *BaseSystem) Manager() *Manager         { return b.manager }
func (b *BaseSystem) LoopTime() time.Duration   { return b.loopTime }
func (b *BaseSystem) LastUpdate() time.Time     { return b.lastUpdate }
func (b *BaseSystem) Updates() uint64           { return b.updates }
func (b *BaseSystem) Sleeping() time.Duration   { return b.sleep }
func (b *BaseSystem) Interval() time.Duration   { return time.Second / time.Duration(b.tps) }
func (b *BaseSystem) SetTPS(tps int)            { WithTPS(tps)(b) }
func (b *BaseSystem) clock() Clock              { return b.manager.clockOrDefault() }
func (b *BaseSystem) bind(m *Manager)           { b.manager = m }
func (b *BaseSystem) unbind()                   { b.manager = nil }
func (b *BaseSystem) resetTimers()              { b.lastLoop, b.lastUpdate = time.Time{}, time.Time{} }
func (b *BaseSystem) isBoundTo(m *Manager) bool { return b.manager == m }

// HasEnoughTimePassed is the throttle gate checked before every loop: true
// before the first update, then once 1000/tps milliseconds have elapsed since
// the previous one.
func (b *BaseSystem) HasEnoughTimePassed() bool {
	if b.lastUpdate.IsZero() {
		return true
	}
	return b.clock().Now().Sub(b.lastUpdate) >= b.Interval()
}

// Sleep suppresses updates for d, counted from this call.
func (b *BaseSystem) Sleep(d time.Duration) {
	b.sleep = d
	b.lastLoop = b.clock().Now()
}

func (b *BaseSystem) transition(to State) error {
	if !slices.Contains(transitions[b.state], to) {
		return &TransitionError{System: b.name, From: b.state, To: to}
	}
	b.state = to
	return nil
}

// loop runs one scheduler pass for sys: the sleep timer is consumed first,
// then Update is timed.
func (b *BaseSystem) loop(sys System, matches []Match) error {
	clock := b.clock()
	now := clock.Now()

	if b.sleep > 0 {
		if !b.lastLoop.IsZero() {
			b.sleep -= now.Sub(b.lastLoop)
		}
		b.lastLoop = now
		if b.sleep > 0 {
			return nil
		}
		b.sleep = 0
	}
	b.lastLoop = now

	var dt time.Duration
	if !b.lastUpdate.IsZero() {
		dt = now.Sub(b.lastUpdate)
	}

	err := sys.Update(dt, matches)

	end := clock.Now()
	b.loopTime = end.Sub(now)
	b.lastUpdate = end
	b.updates++
	return err
}
