package netsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/serial"
)

const statsType ecs.ComponentType = "Stats"

// stats is a second network component with a configurable change policy.
type stats struct {
	ecs.BaseComponent
	NetworkBase
	HP     int `json:"hp"`
	always bool
}

func newStats(owner, scope string, hp int) *stats {
	return &stats{BaseComponent: ecs.NewBaseComponent(), NetworkBase: NewNetworkBase(owner, scope), HP: hp}
}

func (*stats) Type() ecs.ComponentType { return statsType }
func (s *stats) Write() (any, error)   { return map[string]int{"hp": s.HP}, nil }
func (s *stats) AlwaysForce() bool     { return s.always }

func (s *stats) Read(data json.RawMessage) error {
	var v struct {
		HP int `json:"hp"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.HP = v.HP
	return nil
}

// thresholdPosition only reports moves along X larger than one unit.
type thresholdPosition struct {
	*Position
}

func (p thresholdPosition) Changed(last, current json.RawMessage) bool {
	if last == nil {
		return true
	}
	var a, b Vec3
	_ = json.Unmarshal(last, &a)
	_ = json.Unmarshal(current, &b)
	d := a.X - b.X
	return d > 1 || d < -1
}

func testRegistry(t *testing.T) *serial.Registry {
	t.Helper()
	reg := serial.NewRegistry()
	require.NoError(t, serial.RegisterType(reg, func() *Position { return NewPosition(0, 0, 0) }))
	require.NoError(t, serial.RegisterType(reg, func() *stats { return newStats("", "", 0) }))
	return reg
}

func TestNetworkBase(t *testing.T) {
	n := NewNetworkBase("", "")
	assert.Equal(t, ServerOwner, n.OwnerID())
	assert.Equal(t, ScopePublic, n.Scope())
	assert.Equal(t, int64(-1), n.UpdateTimestamp())
	assert.True(t, n.ForceUpdate())

	n.forceUpdate = false
	n.SetOwner("client-1")
	assert.True(t, n.ForceUpdate())

	n.forceUpdate = false
	n.SetScope(ScopeOwner)
	assert.True(t, n.ForceUpdate())
}

func TestCapture(t *testing.T) {
	t.Run("force then unchanged", func(t *testing.T) {
		p := NewPosition(1, 2, 3)

		rec, ok, err := Capture(p, 1000)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Position", rec.ClassName)
		assert.Equal(t, int64(1000), rec.Timestamp())
		assert.Equal(t, ServerOwner, rec.OwnerID)
		assert.JSONEq(t, `{"x":1,"y":2,"z":3}`, string(rec.Data))
		assert.False(t, p.ForceUpdate())
		assert.JSONEq(t, `{"x":1,"y":2,"z":3}`, string(p.LastData()))

		_, ok, err = Capture(p, 2000)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(1000), p.UpdateTimestamp())

		p.Set(Vec3{X: 4})
		rec, ok, err = Capture(p, 3000)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(3000), rec.Timestamp())

		p.MarkDirty()
		_, ok, err = Capture(p, 4000)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("always force", func(t *testing.T) {
		s := newStats(ServerOwner, ScopePublic, 10)
		s.always = true
		for range 3 {
			_, ok, err := Capture(s, 1)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("change detector", func(t *testing.T) {
		p := thresholdPosition{NewPosition(0, 0, 0)}
		_, ok, _ := Capture(p, 1)
		require.True(t, ok)

		p.Set(Vec3{X: 0.5})
		_, ok, _ = Capture(p, 2)
		assert.False(t, ok)

		p.Set(Vec3{X: 1.5})
		_, ok, _ = Capture(p, 3)
		assert.True(t, ok)
	})

	t.Run("peek keeps state", func(t *testing.T) {
		p := NewPosition(1, 1, 1)
		rec, err := peek(p)
		require.NoError(t, err)
		assert.Equal(t, int64(-1), rec.Timestamp())
		assert.True(t, p.ForceUpdate())
		assert.Nil(t, p.LastData())
	})
}

func TestVisible(t *testing.T) {
	public := NewPosition(0, 0, 0)
	private := newStats(ServerOwner, ScopeOwner, 1)
	owned := newStats("client-7", ScopePublic, 1)
	ownedPrivate := newStats("client-7", ScopeOwner, 1)

	for _, client := range []string{"client-3", "client-7"} {
		assert.True(t, Visible(public, client), client)
		assert.False(t, Visible(private, client), client)
	}
	assert.True(t, Visible(owned, "client-7"))
	assert.False(t, Visible(owned, "client-3"))
	assert.True(t, Visible(ownedPrivate, "client-7"))
	assert.False(t, Visible(ownedPrivate, "client-3"))
}

func TestReplicable(t *testing.T) {
	reg := serial.NewRegistry()
	require.NoError(t, serial.RegisterType(reg, func() *Position { return NewPosition(0, 0, 0) }))

	_, ok := Replicable(NewPosition(0, 0, 0), reg)
	assert.True(t, ok)
	_, ok = Replicable(newStats("", "", 0), reg)
	assert.False(t, ok, "class not registered")
	_, ok = Replicable(NewNetworked(""), reg)
	assert.False(t, ok, "not a network component")
}

func TestOwnershipRoundTrip(t *testing.T) {
	src := newStats("client-7", ScopeOwner, 42)
	rec, err := serial.Serialize(src, true)
	require.NoError(t, err)
	assert.Equal(t, "client-7", rec.OwnerID)
	assert.Equal(t, ScopeOwner, rec.Scope)

	dst := newStats("", "", 0)
	require.NoError(t, serial.Deserialize(dst, rec))
	assert.Equal(t, 42, dst.HP)
	assert.Equal(t, "client-7", dst.OwnerID())
	assert.Equal(t, ScopeOwner, dst.Scope())
	assert.Equal(t, src.ID(), dst.ID())
}

func TestEnvelope(t *testing.T) {
	gone := serial.NewSerializedEntity("e1", "crate")
	gone.Destroyed = true
	env, err := newEnvelope(MsgEntityRemoved, 7, 1234, gone)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"entity_removed","seq":7,"timestamp":1234,"payload":{"id":"e1","name":"crate","components":[],"destroyed":true}}`, string(data))

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	se, err := serial.ParseEntity(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, ecs.EntityID("e1"), se.ID)
	assert.True(t, se.Destroyed)

	_, err = DecodeEnvelope([]byte(`{"seq":1}`))
	assert.ErrorIs(t, err, ErrUnexpectedType)
	_, err = DecodeEnvelope([]byte(`nope`))
	assert.Error(t, err)
}

func TestPrefabs(t *testing.T) {
	var nilPrefabs *Prefabs
	_, ok := nilPrefabs.Instantiate("crate", "id")
	assert.False(t, ok)

	p := NewPrefabs()
	template := ecs.NewEntity("crate")
	require.NoError(t, template.AddComponents(NewNetworked("crate"), NewInterpolated()))
	p.RegisterTemplate("crate", template)

	e, ok := p.Instantiate("crate", "crate-1")
	require.True(t, ok)
	assert.Equal(t, ecs.EntityID("crate-1"), e.ID())
	assert.Equal(t, "crate", e.Name())
	assert.True(t, e.HasComponent(InterpolatedType))
	assert.NotSame(t, template, e)

	_, ok = p.Instantiate("missing", "x")
	assert.False(t, ok)
}
