package ecs

import (
	"context"
	"fmt"
	"time"
)

const (
	typeA ComponentType = "A"
	typeB ComponentType = "B"
	typeC ComponentType = "C"
)

// hookLog collects lifecycle callbacks in the order they fire.
type hookLog struct {
	events []string
}

func (l *hookLog) add(format string, args ...any) {
	if l != nil {
		l.events = append(l.events, fmt.Sprintf(format, args...))
	}
}

type testComponent struct {
	BaseComponent
	typ   ComponentType
	label string
	log   *hookLog
	value int
}

func newComp(typ ComponentType, label string, l *hookLog) *testComponent {
	return &testComponent{BaseComponent: NewBaseComponent(), typ: typ, label: label, log: l}
}

func (c *testComponent) Type() ComponentType { return c.typ }

func (c *testComponent) OnAttach(*Entity)  { c.log.add("attach %s", c.label) }
func (c *testComponent) OnDetach(*Entity)  { c.log.add("detach %s", c.label) }
func (c *testComponent) OnDestroy(*Entity) { c.log.add("destroy %s", c.label) }

func (c *testComponent) OnNewParent(_ *Entity, parent *Entity) {
	name := "<nil>"
	if parent != nil {
		name = parent.Name()
	}
	c.log.add("parent %s -> %s", c.label, name)
}

func (c *testComponent) OnComponentAdded(_ *Entity, added Component) {
	c.log.add("sibling %s saw %s", c.label, added.Type())
}

type cloneableComponent struct {
	BaseComponent
	value int
}

func (c *cloneableComponent) Type() ComponentType { return typeC }

func (c *cloneableComponent) Clone() Component {
	return &cloneableComponent{BaseComponent: NewBaseComponent(), value: c.value}
}

// copyingComponent clones by copying itself, base included.
type copyingComponent struct {
	BaseComponent
	value int
}

func (c *copyingComponent) Type() ComponentType { return "Copying" }

func (c *copyingComponent) Clone() Component {
	cp := *c
	return &cp
}

type recordingSystem struct {
	*BaseSystem
	eligible    []EntityID
	notEligible []EntityID
	updates     [][]EntityID
	dts         []time.Duration
	order       *[]string
	eligibleErr error
	startErr    error
	started     int
	stopped     int
	onUpdate    func(matches []Match) error
}

func newRecorder(name string, filter Filter, opts ...SystemOption) *recordingSystem {
	return &recordingSystem{BaseSystem: NewBaseSystem(name, filter, opts...)}
}

func (s *recordingSystem) Update(dt time.Duration, matches []Match) error {
	ids := make([]EntityID, len(matches))
	for i, m := range matches {
		ids[i] = m.Entity.ID()
	}
	s.updates = append(s.updates, ids)
	s.dts = append(s.dts, dt)
	if s.order != nil {
		*s.order = append(*s.order, s.Name())
	}
	if s.onUpdate != nil {
		return s.onUpdate(matches)
	}
	return nil
}

func (s *recordingSystem) OnEntityEligible(e *Entity, _ []Component) error {
	s.eligible = append(s.eligible, e.ID())
	return s.eligibleErr
}

func (s *recordingSystem) OnEntityNoLongerEligible(e *Entity) {
	s.notEligible = append(s.notEligible, e.ID())
}

func (s *recordingSystem) OnStart(context.Context) error {
	s.started++
	return s.startErr
}

func (s *recordingSystem) OnStop(context.Context) error {
	s.stopped++
	return nil
}
