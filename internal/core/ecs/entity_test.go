package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityComponents(t *testing.T) {
	t.Run("one component per type", func(t *testing.T) {
		e := NewEntity("e")
		first := newComp(typeA, "a1", nil)
		require.NoError(t, e.AddComponent(first))

		err := e.AddComponent(newComp(typeA, "a2", nil))
		assert.ErrorIs(t, err, ErrDuplicateComponent)

		got, ok := e.Component(typeA)
		require.True(t, ok)
		assert.Same(t, first, got)
		assert.Len(t, e.Components(), 1)
	})

	t.Run("component belongs to one entity", func(t *testing.T) {
		a, b := NewEntity("a"), NewEntity("b")
		c := newComp(typeA, "a", nil)
		require.NoError(t, a.AddComponent(c))
		assert.ErrorIs(t, b.AddComponent(c), ErrComponentAttached)
		assert.Equal(t, a.ID(), c.Owner())

		_, ok := a.RemoveComponent(typeA)
		require.True(t, ok)
		assert.False(t, c.Attached())
		require.NoError(t, b.AddComponent(c))
		assert.Equal(t, b.ID(), c.Owner())
	})

	t.Run("hook order", func(t *testing.T) {
		l := &hookLog{}
		e := NewEntity("e")
		require.NoError(t, e.AddComponents(newComp(typeA, "a", l), newComp(typeB, "b", l)))
		_, ok := e.RemoveComponent(typeA)
		require.True(t, ok)

		assert.Equal(t, []string{
			"attach a",
			"attach b",
			"sibling a saw B",
			"detach a",
		}, l.events)
	})

	t.Run("lookups", func(t *testing.T) {
		e := NewEntity("e")
		a := newComp(typeA, "a", nil)
		require.NoError(t, e.AddComponent(a))

		got, ok := Get[*testComponent](e)
		require.True(t, ok)
		assert.Same(t, a, got)

		_, ok = Get[*cloneableComponent](e)
		assert.False(t, ok)

		assert.Len(t, e.ComponentsOf(typeA, typeB), 1)
		_, ok = e.RemoveComponent(typeB)
		assert.False(t, ok)
	})
}

func TestEntityTree(t *testing.T) {
	t.Run("root follows reparenting", func(t *testing.T) {
		root := NewEntity("root")
		mid := NewEntity("mid")
		leaf := NewEntity("leaf")
		require.NoError(t, mid.AddChild(leaf))
		require.NoError(t, root.AddChild(mid))

		assert.Same(t, root, leaf.Root())
		assert.Same(t, mid, leaf.Parent())

		other := NewEntity("other")
		require.NoError(t, other.AddChild(mid))
		assert.Same(t, other, leaf.Root())
		assert.Empty(t, root.Children())

		require.True(t, other.RemoveChild(mid))
		assert.Same(t, mid, leaf.Root())
		assert.Nil(t, mid.Parent())
	})

	t.Run("cycles are rejected", func(t *testing.T) {
		a, b := NewEntity("a"), NewEntity("b")
		require.NoError(t, a.AddChild(b))
		assert.ErrorIs(t, b.AddChild(a), ErrCyclicParent)
		assert.ErrorIs(t, a.AddChild(a), ErrCyclicParent)
	})

	t.Run("new parent fires before relink", func(t *testing.T) {
		l := &hookLog{}
		p1, p2 := NewEntity("p1"), NewEntity("p2")
		child := NewEntity("child")
		c := newComp(typeA, "a", l)
		require.NoError(t, child.AddComponent(c))
		require.NoError(t, p1.AddChild(child))

		var parentSeen *Entity
		c.log = nil
		require.NoError(t, child.AddComponent(&parentProbe{BaseComponent: NewBaseComponent(), seen: &parentSeen}))
		require.NoError(t, p2.AddChild(child))

		assert.Same(t, p1, parentSeen)
		assert.Equal(t, []string{"attach a", "parent a -> p1"}, l.events)
	})

	t.Run("search", func(t *testing.T) {
		root := NewEntity("root")
		a := NewEntity("a")
		b := NewEntity("b")
		deep := NewEntity("target")
		shallow := NewEntity("target")
		require.NoError(t, root.AddChild(a))
		require.NoError(t, a.AddChild(deep))
		require.NoError(t, root.AddChild(b))
		require.NoError(t, b.AddChild(NewEntity("x")))
		require.NoError(t, root.AddChild(shallow))

		found, ok := root.FindChildByName("target")
		require.True(t, ok)
		assert.Same(t, shallow, found)

		require.NoError(t, deep.AddComponent(newComp(typeB, "b", nil)))
		owner, ok := root.FindWithComponent(typeB)
		require.True(t, ok)
		assert.Same(t, deep, owner)

		_, ok = root.FindComponent(typeA)
		assert.False(t, ok)
	})

	t.Run("tags", func(t *testing.T) {
		e := NewEntity("e")
		e.AddTag("player")
		e.AddTag("alive")
		assert.True(t, e.HasTag("player"))
		assert.Equal(t, []string{"alive", "player"}, e.Tags())
		e.RemoveTag("player")
		assert.False(t, e.HasTag("player"))
	})
}

type parentProbe struct {
	BaseComponent
	seen **Entity
}

func (p *parentProbe) Type() ComponentType { return "probe" }

func (p *parentProbe) OnNewParent(e *Entity, _ *Entity) { *p.seen = e.Parent() }

func TestEntityDestroy(t *testing.T) {
	l := &hookLog{}
	parent := NewEntity("parent")
	child := NewEntity("child")
	require.NoError(t, parent.AddChild(child))
	require.NoError(t, child.AddComponents(newComp(typeA, "ca", l), newComp(typeB, "cb", l)))
	require.NoError(t, parent.AddComponents(newComp(typeA, "pa", l), newComp(typeB, "pb", l)))

	grand := NewEntity("grand")
	require.NoError(t, grand.AddChild(parent))
	l.events = nil

	parent.Destroy()

	assert.Equal(t, []string{
		"detach cb", "destroy cb",
		"detach ca", "destroy ca",
		"detach pb", "destroy pb",
		"detach pa", "destroy pa",
	}, l.events)
	assert.True(t, parent.IsDestroyed())
	assert.True(t, child.IsDestroyed())
	assert.Empty(t, grand.Children())
	assert.Empty(t, parent.Components())

	parent.Destroy()
	assert.ErrorIs(t, parent.AddComponent(newComp(typeC, "c", nil)), ErrEntityDestroyed)
}

func TestEntityClone(t *testing.T) {
	src := NewEntity("src")
	src.AddTag("t")
	shared := newComp(typeA, "a", nil)
	require.NoError(t, src.AddComponents(shared, &cloneableComponent{BaseComponent: NewBaseComponent(), value: 7}))
	require.NoError(t, src.AddChild(NewEntity("kid")))

	clone := src.Clone("fixed")

	assert.Equal(t, EntityID("fixed"), clone.ID())
	assert.Equal(t, "src", clone.Name())
	assert.True(t, clone.HasTag("t"))
	require.Len(t, clone.Children(), 1)
	assert.Equal(t, "kid", clone.Children()[0].Name())
	assert.NotEqual(t, src.Children()[0].ID(), clone.Children()[0].ID())

	a, ok := clone.Component(typeA)
	require.True(t, ok)
	assert.Same(t, shared, a)
	assert.Equal(t, src.ID(), shared.Owner(), "a shared component stays with its source")

	c, ok := Get[*cloneableComponent](clone)
	require.True(t, ok)
	orig, _ := Get[*cloneableComponent](src)
	assert.NotSame(t, orig, c)
	assert.Equal(t, 7, c.value)
	assert.Equal(t, clone.ID(), c.Owner())

	assert.NotEqual(t, src.ID(), src.Clone().ID())

	clone.Destroy()
	assert.Equal(t, src.ID(), shared.Owner())
	_, ok = src.Component(typeA)
	assert.True(t, ok)
}

func TestEntityCloneCopiedBase(t *testing.T) {
	src := NewEntity("src")
	orig := &copyingComponent{BaseComponent: NewBaseComponent(), value: 3}
	require.NoError(t, src.AddComponent(orig))

	clone := src.Clone()

	c, ok := Get[*copyingComponent](clone)
	require.True(t, ok, "a struct copy of an attached component is still attached to the clone")
	assert.NotSame(t, orig, c)
	assert.Equal(t, 3, c.value)
	assert.Equal(t, clone.ID(), c.Owner())
	assert.Equal(t, src.ID(), orig.Owner())
	assert.NotEqual(t, orig.ID(), c.ID())
}
