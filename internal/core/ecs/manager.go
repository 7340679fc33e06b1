package ecs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/zecs/internal/core/events/bus"
	"github.com/zeusync/zecs/internal/core/observability/log"
)

// group is the set of systems sharing one filter together with the entities
// currently matching it.
type group struct {
	filter  Filter
	key     string
	systems []System
	members []*Entity
	index   map[EntityID]struct{}
}

func (g *group) has(e *Entity) bool {
	_, ok := g.index[e.id]
	return ok
}

func (g *group) add(e *Entity) {
	g.index[e.id] = struct{}{}
	g.members = append(g.members, e)
}

func (g *group) remove(e *Entity) {
	delete(g.index, e.id)
	if i := slices.Index(g.members, e); i >= 0 {
		g.members = slices.Delete(g.members, i, i+1)
	}
}

// matches resolves the current working set. The result is a fresh slice, so
// callers may mutate the group while iterating it.
func (g *group) matches() []Match {
	out := make([]Match, 0, len(g.members))
	for _, e := range g.members {
		if comps, ok := g.filter.Resolve(e); ok {
			out = append(out, Match{Entity: e, Components: comps})
		}
	}
	return out
}

// SystemStats is a point-in-time view of one registered system.
type SystemStats struct {
	Name       string
	Filter     string
	State      State
	TPS        int
	Entities   int
	Updates    uint64
	LoopTime   time.Duration
	LastUpdate time.Time
}

// Manager owns the entity arena and the system groups, and drives the
// cooperative tick. It is not safe for concurrent use; every call is expected
// on the tick goroutine.
type Manager struct {
	entities   []*Entity
	byID       map[EntityID]*Entity
	groups     []*group
	groupByKey map[string]*group
	systems    map[string]System

	bus     bus.EventBus
	clock   Clock
	logger  log.Log
	started bool
}

type ManagerOption func(*Manager)

func WithLogger(l log.Log) ManagerOption {
	return func(m *Manager) { m.logger = log.OrNop(l) }
}

func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithEventBus(b bus.EventBus) ManagerOption {
	return func(m *Manager) {
		if b != nil {
			m.bus = b
		}
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		byID:       make(map[EntityID]*Entity),
		groupByKey: make(map[string]*group),
		systems:    make(map[string]System),
		bus:        bus.New(),
		clock:      SystemClock{},
		logger:     log.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(log.String("component", "ecs"))
	return m
}

func (m *Manager) Bus() bus.EventBus { return m.bus }
func (m *Manager) Clock() Clock      { return m.clock }
func (m *Manager) Logger() log.Log   { return m.logger }
func (m *Manager) Started() bool     { return m.started }

func (m *Manager) clockOrDefault() Clock {
	if m == nil || m.clock == nil {
		return SystemClock{}
	}
	return m.clock
}

func (m *Manager) publish(typ string, data any) {
	if err := m.bus.Publish(bus.NewEvent(typ, eventSource, data, nil)); err != nil {
		m.logger.Warn("Event handler failed", log.String("event", typ), log.Error(err))
	}
}

// AddSystem registers sys in the group of its filter. Entities already
// matching the filter are reported to sys through OnEntityEligible. Missing
// dependencies are logged, not enforced. The system is not started.
func (m *Manager) AddSystem(sys System) error {
	base := sys.Base()
	if _, exists := m.systems[base.name]; exists || base.manager != nil {
		return fmt.Errorf("%w: %s", ErrSystemRegistered, base.name)
	}

	for _, dep := range base.dependencies {
		if _, ok := m.systems[dep]; !ok {
			m.logger.Warn("System dependency not registered yet",
				log.String("system", base.name),
				log.String("dependency", dep),
			)
		}
	}

	base.bind(m)
	m.systems[base.name] = sys

	key := base.filter.Key()
	g, ok := m.groupByKey[key]
	if !ok {
		g = &group{filter: base.filter, key: key, index: make(map[EntityID]struct{})}
		m.groups = append(m.groups, g)
		m.groupByKey[key] = g
		for _, e := range m.entities {
			if g.filter.Matches(e) {
				g.add(e)
			}
		}
	}
	g.systems = append(g.systems, sys)

	m.logger.Debug("System registered",
		log.String("system", base.name),
		log.String("filter", key),
		log.Int("entities", len(g.members)),
	)

	var errs []error
	for _, e := range slices.Clone(g.members) {
		if err := notifyEligible(sys, g, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveSystem stops sys when running, reports its whole working set as no
// longer eligible and unregisters it. An emptied group is dropped.
func (m *Manager) RemoveSystem(ctx context.Context, sys System) error {
	base := sys.Base()
	if !base.isBoundTo(m) {
		return fmt.Errorf("%w: %s", ErrSystemNotRegistered, base.name)
	}

	var err error
	if base.Running() {
		err = m.StopSystem(ctx, sys)
	}

	g := m.groupByKey[base.filter.Key()]
	for _, e := range slices.Clone(g.members) {
		notifyNotEligible(sys, e)
	}
	if i := slices.Index(g.systems, sys); i >= 0 {
		g.systems = slices.Delete(g.systems, i, i+1)
	}
	if len(g.systems) == 0 {
		delete(m.groupByKey, g.key)
		if i := slices.Index(m.groups, g); i >= 0 {
			m.groups = slices.Delete(m.groups, i, i+1)
		}
	}

	delete(m.systems, base.name)
	base.unbind()
	return err
}

// System looks a registered system up by name.
func (m *Manager) System(name string) (System, bool) {
	s, ok := m.systems[name]
	return s, ok
}

// Systems lists the registered systems in tick order.
func (m *Manager) Systems() []System {
	out := make([]System, 0, len(m.systems))
	for _, g := range m.groups {
		out = append(out, g.systems...)
	}
	return out
}

// ValidateDependencies reports every declared dependency that is not
// registered.
func (m *Manager) ValidateDependencies() error {
	var errs []error
	for _, sys := range m.Systems() {
		for _, dep := range sys.Base().dependencies {
			if _, ok := m.systems[dep]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s requires %s", ErrMissingDependency, sys.Name(), dep))
			}
		}
	}
	return errors.Join(errs...)
}

// AddEntity registers e and its subtree, evaluating every group filter. The
// returned error joins the failures of eligibility hooks; e stays registered.
func (m *Manager) AddEntity(e *Entity) error {
	if e.destroyed {
		return ErrEntityDestroyed
	}
	if e.manager == m {
		return nil
	}
	if e.manager != nil {
		return ErrForeignEntity
	}

	e.manager = m
	m.entities = append(m.entities, e)
	m.byID[e.id] = e
	m.publish(EventEntityAdded, EntityEvent{Entity: e})

	var errs []error
	for _, g := range slices.Clone(m.groups) {
		if g.has(e) || !g.filter.Matches(e) {
			continue
		}
		g.add(e)
		if err := notifyGroupEligible(g, e); err != nil {
			errs = append(errs, err)
		}
	}

	for _, child := range e.Children() {
		if err := m.AddEntity(child); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveEntity unregisters e and its subtree without destroying them. Every
// group e belonged to reports it as no longer eligible.
func (m *Manager) RemoveEntity(e *Entity) {
	if e.manager != m {
		return
	}

	for _, child := range e.Children() {
		m.RemoveEntity(child)
	}

	for _, g := range slices.Clone(m.groups) {
		if !g.has(e) {
			continue
		}
		g.remove(e)
		notifyGroupNotEligible(g, e)
	}

	if i := slices.Index(m.entities, e); i >= 0 {
		m.entities = slices.Delete(m.entities, i, i+1)
	}
	delete(m.byID, e.id)
	e.manager = nil
	m.publish(EventEntityRemoved, EntityEvent{Entity: e})
}

func (m *Manager) onComponentAdded(e *Entity, c Component) error {
	m.publish(EventComponentAdded, ComponentEvent{Entity: e, Component: c})

	var errs []error
	for _, g := range slices.Clone(m.groups) {
		if !g.filter.Contains(c.Type()) || g.has(e) || !g.filter.Matches(e) {
			continue
		}
		g.add(e)
		if err := notifyGroupEligible(g, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) onComponentRemoved(e *Entity, c Component) {
	for _, g := range slices.Clone(m.groups) {
		if !g.filter.Contains(c.Type()) || !g.has(e) {
			continue
		}
		g.remove(e)
		notifyGroupNotEligible(g, e)
	}
	m.publish(EventComponentRemoved, ComponentEvent{Entity: e, Component: c})
}

func notifyGroupEligible(g *group, e *Entity) error {
	var errs []error
	for _, sys := range slices.Clone(g.systems) {
		if err := notifyEligible(sys, g, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func notifyEligible(sys System, g *group, e *Entity) error {
	o, ok := sys.(EligibilityObserver)
	if !ok {
		return nil
	}
	comps, _ := g.filter.Resolve(e)
	return o.OnEntityEligible(e, comps)
}

func notifyGroupNotEligible(g *group, e *Entity) {
	for _, sys := range slices.Clone(g.systems) {
		notifyNotEligible(sys, e)
	}
}

func notifyNotEligible(sys System, e *Entity) {
	if o, ok := sys.(EligibilityObserver); ok {
		o.OnEntityNoLongerEligible(e)
	}
}

// Start starts every registered system that is not running. Start hooks run
// concurrently and are all awaited; systems whose hook failed end up in
// StateFailed and their InitErrors are joined into the result.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return ErrManagerRunning
	}
	m.started = true

	var pending []System
	for _, sys := range m.Systems() {
		if !sys.Base().Running() {
			pending = append(pending, sys)
		}
	}

	errs := make([]error, len(pending))
	for i, sys := range pending {
		errs[i] = sys.Base().transition(StateStarting)
	}

	var g errgroup.Group
	for i, sys := range pending {
		if errs[i] != nil {
			continue
		}
		starter, ok := sys.(Starter)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := starter.OnStart(ctx); err != nil {
				errs[i] = &InitError{System: sys.Name(), Cause: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, sys := range pending {
		m.settleStart(sys, errs[i])
	}

	m.logger.Info("Manager started",
		log.Int("systems", len(m.systems)),
		log.Int("entities", len(m.entities)),
	)
	return errors.Join(errs...)
}

func (m *Manager) settleStart(sys System, err error) {
	base := sys.Base()
	var te *TransitionError
	switch {
	case errors.As(err, &te):
		m.logger.Warn("System not started", log.String("system", base.name), log.Error(err))
	case err != nil:
		_ = base.transition(StateFailed)
		m.logger.Error("System failed to start", log.String("system", base.name), log.Error(err))
	default:
		_ = base.transition(StateRunning)
		base.resetTimers()
	}
}

// StartSystem starts a single registered system.
func (m *Manager) StartSystem(ctx context.Context, sys System) error {
	base := sys.Base()
	if !base.isBoundTo(m) {
		return fmt.Errorf("%w: %s", ErrSystemNotRegistered, base.name)
	}
	if err := base.transition(StateStarting); err != nil {
		return err
	}

	var err error
	if starter, ok := sys.(Starter); ok {
		if cause := starter.OnStart(ctx); cause != nil {
			err = &InitError{System: base.name, Cause: cause}
		}
	}
	m.settleStart(sys, err)
	return err
}

// StopSystem marks sys stopped, then runs its Stopper hook.
func (m *Manager) StopSystem(ctx context.Context, sys System) error {
	base := sys.Base()
	if !base.isBoundTo(m) {
		return fmt.Errorf("%w: %s", ErrSystemNotRegistered, base.name)
	}
	if err := base.transition(StateStopped); err != nil {
		return err
	}
	if stopper, ok := sys.(Stopper); ok {
		if err := stopper.OnStop(ctx); err != nil {
			return fmt.Errorf("stop %s: %w", base.name, err)
		}
	}
	return nil
}

// Stop stops every running system in reverse tick order.
func (m *Manager) Stop(ctx context.Context) error {
	systems := m.Systems()
	var errs []error
	for i := len(systems) - 1; i >= 0; i-- {
		if !systems[i].Base().Running() {
			continue
		}
		if err := m.StopSystem(ctx, systems[i]); err != nil {
			errs = append(errs, err)
		}
	}
	m.started = false
	m.logger.Info("Manager stopped")
	return errors.Join(errs...)
}

// Tick runs one scheduler pass: groups in registration order, systems in
// registration order within a group. A system runs when it is running and its
// throttle interval has elapsed. Update errors are logged and published as
// system.error; the pass goes on and the errors are joined into the result.
func (m *Manager) Tick() error {
	var errs []error
	for _, g := range slices.Clone(m.groups) {
		for _, sys := range slices.Clone(g.systems) {
			base := sys.Base()
			if !base.isBoundTo(m) || !base.Running() || !base.HasEnoughTimePassed() {
				continue
			}
			if err := base.loop(sys, g.matches()); err != nil {
				err = fmt.Errorf("system %s: %w", base.name, err)
				m.logger.Error("System update failed", log.String("system", base.name), log.Error(err))
				m.publish(EventSystemError, SystemErrorEvent{System: base.name, Err: err})
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Run ticks every interval until ctx is done, then stops the systems.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if !m.started {
		if err := m.Start(ctx); err != nil {
			m.logger.Warn("Some systems failed to start", log.Error(err))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Stop(context.WithoutCancel(ctx))
		case <-ticker.C:
			_ = m.Tick()
		}
	}
}

// Entity looks a registered entity up by id.
func (m *Manager) Entity(id EntityID) (*Entity, bool) {
	e, ok := m.byID[id]
	return e, ok
}

// Entities returns the registered entities in registration order.
func (m *Manager) Entities() []*Entity {
	return slices.Clone(m.entities)
}

func (m *Manager) FindByName(name string) (*Entity, bool) {
	for _, e := range m.entities {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

func (m *Manager) FindByTag(tag string) []*Entity {
	var out []*Entity
	for _, e := range m.entities {
		if e.HasTag(tag) {
			out = append(out, e)
		}
	}
	return out
}

// WorkingSet returns the entities currently eligible for sys.
func (m *Manager) WorkingSet(sys System) []*Entity {
	base := sys.Base()
	if !base.isBoundTo(m) {
		return nil
	}
	return slices.Clone(m.groupByKey[base.filter.Key()].members)
}

func (m *Manager) Stats() []SystemStats {
	var out []SystemStats
	for _, g := range m.groups {
		for _, sys := range g.systems {
			base := sys.Base()
			out = append(out, SystemStats{
				Name:       base.name,
				Filter:     g.key,
				State:      base.state,
				TPS:        base.tps,
				Entities:   len(g.members),
				Updates:    base.updates,
				LoopTime:   base.loopTime,
				LastUpdate: base.lastUpdate,
			})
		}
	}
	return out
}
