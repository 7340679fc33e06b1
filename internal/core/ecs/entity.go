package ecs

import (
	"errors"
	"slices"

	"github.com/google/uuid"
)

// EntityID identifies an entity inside a manager and on the wire.
type EntityID string

// NewEntityID returns a random identifier.
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

// Entity is a node of the entity tree holding at most one component per
// ComponentType. Entities may live detached from any Manager.
type Entity struct {
	id         EntityID
	name       string
	components []Component
	byType     map[ComponentType]Component
	children   []*Entity
	parent     *Entity
	root       *Entity
	tags       map[string]struct{}
	manager    *Manager
	destroyed  bool
}

// NewEntity creates a detached entity with a fresh identifier.
func NewEntity(name string) *Entity {
	return NewEntityWithID(NewEntityID(), name)
}

// NewEntityWithID creates a detached entity with the given identifier.
func NewEntityWithID(id EntityID, name string) *Entity {
	if id == "" {
		id = NewEntityID()
	}
	e := &Entity{
		id:     id,
		name:   name,
		byType: make(map[ComponentType]Component),
		tags:   make(map[string]struct{}),
	}
	e.root = e
	return e
}

func (e *Entity) ID() EntityID        { return e.id }
func (e *Entity) Name() string        { return e.name }
func (e *Entity) SetName(name string) { e.name = name }
func (e *Entity) Parent() *Entity     { return e.parent }
func (e *Entity) Root() *Entity       { return e.root }
func (e *Entity) Manager() *Manager   { return e.manager }
func (e *Entity) IsDestroyed() bool   { return e.destroyed }

// Children returns a copy of the child list.
func (e *Entity) Children() []*Entity {
	return slices.Clone(e.children)
}

// Components returns the attached components in insertion order.
func (e *Entity) Components() []Component {
	return slices.Clone(e.components)
}

func (e *Entity) HasComponent(t ComponentType) bool {
	_, ok := e.byType[t]
	return ok
}

// Component looks up the component of type t.
func (e *Entity) Component(t ComponentType) (Component, bool) {
	c, ok := e.byType[t]
	return c, ok
}

// ComponentsOf returns the components of the given types, skipping the ones
// the entity does not own.
func (e *Entity) ComponentsOf(types ...ComponentType) []Component {
	out := make([]Component, 0, len(types))
	for _, t := range types {
		if c, ok := e.byType[t]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the first component of e assignable to T.
func Get[T Component](e *Entity) (T, bool) {
	for _, c := range e.components {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// AddComponent attaches c. It returns ErrDuplicateComponent, leaving the
// entity untouched, when a component of the same type is already attached.
// Errors raised by system eligibility hooks are returned after the component
// has been attached.
func (e *Entity) AddComponent(c Component) error {
	return e.attach(c, false)
}

// attach links c to e. A borrowed component keeps the owner it already has;
// Clone uses this for components shared with the source entity.
func (e *Entity) attach(c Component, borrowed bool) error {
	if e.destroyed {
		return ErrEntityDestroyed
	}
	if _, ok := e.byType[c.Type()]; ok {
		return ErrDuplicateComponent
	}
	base := c.Base()
	if !borrowed && base.owner != "" && base.owner != e.id {
		return ErrComponentAttached
	}

	base.ID()
	if !borrowed || base.owner == "" {
		base.owner = e.id
	}
	e.components = append(e.components, c)
	e.byType[c.Type()] = c

	var err error
	if e.manager != nil {
		err = e.manager.onComponentAdded(e, c)
	}
	if a, ok := c.(Attacher); ok {
		a.OnAttach(e)
	}
	for _, other := range e.Components() {
		if other == c {
			continue
		}
		if o, ok := other.(SiblingObserver); ok {
			o.OnComponentAdded(e, c)
		}
	}
	return err
}

// AddComponents attaches each component in order and joins the errors.
func (e *Entity) AddComponents(cs ...Component) error {
	var errs []error
	for _, c := range cs {
		if err := e.AddComponent(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveComponent detaches the component of type t and returns it.
func (e *Entity) RemoveComponent(t ComponentType) (Component, bool) {
	c, ok := e.byType[t]
	if !ok {
		return nil, false
	}

	delete(e.byType, t)
	if i := slices.Index(e.components, c); i >= 0 {
		e.components = slices.Delete(e.components, i, i+1)
	}

	if e.manager != nil {
		e.manager.onComponentRemoved(e, c)
	}
	if base := c.Base(); base.owner == e.id {
		base.owner = ""
	}
	if d, ok := c.(Detacher); ok {
		d.OnDetach(e)
	}
	return c, true
}

// AddChild makes child a direct child of e, detaching it from its previous
// parent. Components of child see OnNewParent before the link changes. The
// child joins e's manager when it has none.
func (e *Entity) AddChild(child *Entity) error {
	if child.destroyed || e.destroyed {
		return ErrEntityDestroyed
	}
	for p := e; p != nil; p = p.parent {
		if p == child {
			return ErrCyclicParent
		}
	}
	if child.parent == e {
		return nil
	}

	child.notifyNewParent(e)
	if child.parent != nil {
		child.parent.unlinkChild(child)
	}
	child.parent = e
	e.children = append(e.children, child)
	child.setRoot(e.root)

	if child.manager == nil && e.manager != nil {
		return e.manager.AddEntity(child)
	}
	return nil
}

// RemoveChild detaches child from e, making it the root of its own tree. The
// child stays registered with its manager.
func (e *Entity) RemoveChild(child *Entity) bool {
	if child.parent != e {
		return false
	}
	child.notifyNewParent(nil)
	e.unlinkChild(child)
	child.parent = nil
	child.setRoot(child)
	return true
}

func (e *Entity) notifyNewParent(parent *Entity) {
	for _, c := range e.Components() {
		if o, ok := c.(ParentObserver); ok {
			o.OnNewParent(e, parent)
		}
	}
}

func (e *Entity) unlinkChild(child *Entity) {
	if i := slices.Index(e.children, child); i >= 0 {
		e.children = slices.Delete(e.children, i, i+1)
	}
}

func (e *Entity) setRoot(root *Entity) {
	e.root = root
	for _, c := range e.children {
		c.setRoot(root)
	}
}

func (e *Entity) AddTag(tag string) { e.tags[tag] = struct{}{} }

func (e *Entity) RemoveTag(tag string) { delete(e.tags, tag) }

func (e *Entity) HasTag(tag string) bool {
	_, ok := e.tags[tag]
	return ok
}

// Tags returns the tags sorted alphabetically.
func (e *Entity) Tags() []string {
	out := make([]string, 0, len(e.tags))
	for t := range e.tags {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// FindChildByName searches the direct children first, then recurses into each
// child in order.
func (e *Entity) FindChildByName(name string) (*Entity, bool) {
	for _, c := range e.children {
		if c.name == name {
			return c, true
		}
	}
	for _, c := range e.children {
		if found, ok := c.FindChildByName(name); ok {
			return found, true
		}
	}
	return nil, false
}

// FindWithComponent returns the nearest entity of this subtree, e included,
// owning a component of type t. The search is depth-first.
func (e *Entity) FindWithComponent(t ComponentType) (*Entity, bool) {
	if e.HasComponent(t) {
		return e, true
	}
	for _, c := range e.children {
		if found, ok := c.FindWithComponent(t); ok {
			return found, true
		}
	}
	return nil, false
}

// FindComponent is FindWithComponent returning the component itself.
func (e *Entity) FindComponent(t ComponentType) (Component, bool) {
	found, ok := e.FindWithComponent(t)
	if !ok {
		return nil, false
	}
	return found.Component(t)
}

// Destroy tears the subtree down: children first, then every component in
// reverse attachment order (OnDetach then OnDestroy), then the link to the
// parent and the manager registration.
func (e *Entity) Destroy() {
	if e.destroyed {
		return
	}

	for _, child := range e.Children() {
		child.Destroy()
	}

	for i := len(e.components) - 1; i >= 0; i-- {
		c := e.components[i]
		e.RemoveComponent(c.Type())
		if d, ok := c.(Destroyer); ok {
			d.OnDestroy(e)
		}
	}

	e.destroyed = true
	if e.parent != nil {
		e.parent.unlinkChild(e)
		e.parent = nil
		e.root = e
	}
	if e.manager != nil {
		e.manager.RemoveEntity(e)
	}
}

// Clone deep-copies the entity and its subtree. Names and tags are kept, new
// identifiers are assigned unless id is supplied for the top entity. The clone
// is detached from any manager.
//
// Components without a Cloner are shared: the clone holds the same instance,
// which keeps reporting its original owner. Cloner results are attached as
// fresh components even when the copy carried the source's identity.
func (e *Entity) Clone(id ...EntityID) *Entity {
	var cloneID EntityID
	if len(id) > 0 {
		cloneID = id[0]
	}
	clone := NewEntityWithID(cloneID, e.name)
	for t := range e.tags {
		clone.tags[t] = struct{}{}
	}
	for _, c := range e.components {
		cc := CloneComponent(c)
		if cc == c {
			_ = clone.attach(cc, true)
			continue
		}
		base := cc.Base()
		base.owner = ""
		if base.id == c.Base().id {
			base.id = NewBaseComponent().id
		}
		// the clone is fresh and detached, so attaching cannot fail
		_ = clone.attach(cc, false)
	}
	for _, child := range e.children {
		_ = clone.AddChild(child.Clone())
	}
	return clone
}
