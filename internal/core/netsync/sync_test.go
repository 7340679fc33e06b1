package netsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/serial"
	"github.com/zeusync/zecs/internal/core/transport"
)

var epoch = time.Unix(1_700_000_000, 0)

type world struct {
	t        *testing.T
	clock    *ecs.ManualClock
	listener *transport.PipeListener
	server   *ecs.Manager
	net      *ServerSystem
	clients  []*ecs.Manager

	connected    []string
	disconnected []string
	messages     []string
}

// newWorld starts a server whose handler spawns a client-owned avatar per
// connection.
func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{t: t, clock: ecs.NewManualClock(epoch), listener: transport.NewPipeListener()}
	w.server = ecs.NewManager(ecs.WithClock(w.clock))

	var err error
	w.net, err = NewServerSystem(ServerConfig{
		Registry: testRegistry(t),
		Listener: w.listener,
		Handlers: func(c *Client) ClientHandler {
			return HandlerFuncs{
				Connect: func(c *Client) error {
					w.connected = append(w.connected, c.ID())
					avatar := ecs.NewEntity("avatar-" + c.ID())
					pos := NewPosition(0, 0, 0)
					pos.SetOwner(c.ID())
					if err := avatar.AddComponents(NewNetworked(""), pos); err != nil {
						return err
					}
					return w.server.AddEntity(avatar)
				},
				Disconnect: func(c *Client) {
					w.disconnected = append(w.disconnected, c.ID())
				},
				Message: func(c *Client, data json.RawMessage) {
					var s string
					_ = json.Unmarshal(data, &s)
					w.messages = append(w.messages, c.ID()+":"+s)
				},
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.server.AddSystem(w.net))
	require.NoError(t, w.server.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, m := range w.clients {
			_ = m.Stop(ctx)
		}
		_ = w.server.Stop(ctx)
	})
	return w
}

func (w *world) connect(hooks ClientHooks) (*ecs.Manager, *ClientSystem) {
	w.t.Helper()
	m := ecs.NewManager(ecs.WithClock(w.clock))

	prefabs := NewPrefabs()
	prefabs.Register("crate", func(id ecs.EntityID) *ecs.Entity {
		e := ecs.NewEntityWithID(id, "crate")
		_ = e.AddComponent(NewInterpolated())
		return e
	})

	sys, err := NewClientSystem(ClientConfig{
		Dialer:   w.listener,
		Registry: testRegistry(w.t),
		Prefabs:  prefabs,
		Hooks:    hooks,
	})
	require.NoError(w.t, err)
	require.NoError(w.t, m.AddSystem(sys))
	require.NoError(w.t, m.AddSystem(NewInterpolationSystem(100*time.Millisecond)))
	require.NoError(w.t, m.Start(context.Background()))
	w.clients = append(w.clients, m)
	return m, sys
}

// pump ticks every manager until cond holds.
func (w *world) pump(cond func() bool, msg string) {
	w.t.Helper()
	require.Eventually(w.t, func() bool {
		w.clock.Advance(100 * time.Millisecond)
		assert.NoError(w.t, w.server.Tick())
		for _, m := range w.clients {
			assert.NoError(w.t, m.Tick())
		}
		return cond()
	}, 3*time.Second, 5*time.Millisecond, msg)
}

func position(m *ecs.Manager, id ecs.EntityID) (*Position, bool) {
	e, ok := m.Entity(id)
	if !ok {
		return nil, false
	}
	c, ok := e.Component(PositionType)
	if !ok {
		return nil, false
	}
	return c.(*Position), true
}

func spawn(t *testing.T, m *ecs.Manager, name string, prefab string, comps ...ecs.Component) *ecs.Entity {
	t.Helper()
	e := ecs.NewEntity(name)
	require.NoError(t, e.AddComponents(append([]ecs.Component{NewNetworked(prefab)}, comps...)...))
	require.NoError(t, m.AddEntity(e))
	return e
}

func TestReplication(t *testing.T) {
	w := newWorld(t)
	crate := spawn(t, w.server, "crate", "crate", NewPosition(1, 2, 3))
	secret := spawn(t, w.server, "secret", "", newStats(ServerOwner, ScopeOwner, 99))

	var welcomed []string
	var created []ecs.EntityID
	mA, a := w.connect(ClientHooks{
		OnConnect:   func(id string) { welcomed = append(welcomed, id) },
		OnNewEntity: func(e *ecs.Entity) { created = append(created, e.ID()) },
	})
	mB, b := w.connect(ClientHooks{})

	avatar := func(clientID string) ecs.EntityID {
		e, ok := w.server.FindByName("avatar-" + clientID)
		if !ok {
			return ""
		}
		return e.ID()
	}

	w.pump(func() bool {
		if a.ClientID() == "" || b.ClientID() == "" {
			return false
		}
		_, okA := mA.Entity(avatar(a.ClientID()))
		_, okB := mB.Entity(avatar(b.ClientID()))
		_, crateA := mA.Entity(crate.ID())
		_, crateB := mB.Entity(crate.ID())
		return okA && okB && crateA && crateB
	}, "initial sync")

	assert.Equal(t, []string{a.ClientID()}, welcomed)
	assert.ElementsMatch(t, w.connected, []string{a.ClientID(), b.ClientID()})
	assert.True(t, a.Connected())

	t.Run("scope", func(t *testing.T) {
		_, ok := mA.Entity(avatar(b.ClientID()))
		assert.False(t, ok, "client-owned entity leaked to another client")
		_, ok = mB.Entity(avatar(a.ClientID()))
		assert.False(t, ok)
		_, ok = mA.Entity(secret.ID())
		assert.False(t, ok, "server-private component replicated")
		assert.Contains(t, created, crate.ID())
	})

	t.Run("prefab and interpolation", func(t *testing.T) {
		e, ok := mA.Entity(crate.ID())
		require.True(t, ok)
		assert.Equal(t, "crate", e.Name())
		assert.True(t, e.HasComponent(NetworkedType))
		interp, ok := ecs.Get[*Interpolated](e)
		require.True(t, ok)
		assert.Equal(t, Vec3{1, 2, 3}, interp.Current)
	})

	t.Run("delta", func(t *testing.T) {
		pos, _ := position(w.server, crate.ID())
		pos.Set(Vec3{X: 5})
		w.pump(func() bool {
			pa, okA := position(mA, crate.ID())
			pb, okB := position(mB, crate.ID())
			return okA && okB && pa.X == 5 && pb.X == 5
		}, "position update")
		p, _ := position(mA, crate.ID())
		assert.Equal(t, 5.0, p.X)
		assert.Equal(t, pos.UpdateTimestamp(), p.UpdateTimestamp())
	})

	t.Run("owned update", func(t *testing.T) {
		id := avatar(a.ClientID())
		local, ok := position(mA, id)
		require.True(t, ok)
		assert.Equal(t, a.ClientID(), local.OwnerID())

		e, _ := mA.Entity(id)
		local.Set(Vec3{X: 9})
		require.NoError(t, a.SendComponent(e, local))
		w.pump(func() bool {
			p, _ := position(w.server, id)
			return p.X == 9
		}, "owned component update")

		crateLocal, _ := position(mA, crate.ID())
		ce, _ := mA.Entity(crate.ID())
		assert.ErrorIs(t, a.SendComponent(ce, crateLocal), ErrNotOwner)
	})

	t.Run("custom messages", func(t *testing.T) {
		var got []string
		a.hooks.OnCustomData = func(data json.RawMessage) {
			var s string
			if json.Unmarshal(data, &s) == nil {
				got = append(got, s)
			}
		}
		require.NoError(t, a.SendCustom("ping"))
		w.pump(func() bool { return len(w.messages) == 1 }, "custom to server")
		assert.Equal(t, []string{a.ClientID() + ":ping"}, w.messages)

		require.NoError(t, w.net.Broadcast("pong"))
		w.pump(func() bool { return len(got) == 1 }, "broadcast")
		assert.Equal(t, []string{"pong"}, got)
	})

	t.Run("removal", func(t *testing.T) {
		crate.Destroy()
		w.pump(func() bool {
			_, okA := mA.Entity(crate.ID())
			_, okB := mB.Entity(crate.ID())
			return !okA && !okB
		}, "entity removal")
	})

	t.Run("disconnect", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, mB.Stop(ctx))
		w.clients = w.clients[:1]

		w.pump(func() bool { return len(w.disconnected) == 1 }, "disconnect")
		assert.Equal(t, []string{b.ClientID()}, w.disconnected)
		require.Len(t, w.net.Clients(), 1)
		assert.Equal(t, a.ClientID(), w.net.Clients()[0].ID())
	})
}

func TestEntityRemovedRecord(t *testing.T) {
	w := newWorld(t)
	ch, err := w.listener.Dial(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	// await ticks the server and reads one message per tick until typ shows up.
	await := func(typ MessageType) Envelope {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			w.clock.Advance(100 * time.Millisecond)
			require.NoError(t, w.server.Tick())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			data, err := ch.Receive(ctx)
			cancel()
			if err != nil {
				continue
			}
			env, err := DecodeEnvelope(data)
			require.NoError(t, err)
			if env.Type == typ {
				return env
			}
		}
		t.Fatalf("no %s message", typ)
		return Envelope{}
	}

	await(MsgSnapshot)
	crate := spawn(t, w.server, "crate", "crate", NewPosition(1, 2, 3))
	await(MsgEntityNew)
	crate.Destroy()

	env := await(MsgEntityRemoved)
	se, err := serial.ParseEntity(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, crate.ID(), se.ID)
	assert.Equal(t, "crate", se.Name)
	assert.Equal(t, "crate", se.PrefabName)
	assert.True(t, se.Destroyed)
	assert.Zero(t, se.Components.Len())
}

func TestServerRejectsForeignUpdate(t *testing.T) {
	w := newWorld(t)
	_, a := w.connect(ClientHooks{})
	_, b := w.connect(ClientHooks{})
	w.pump(func() bool { return a.Connected() && b.Connected() }, "connect")

	target, ok := w.server.FindByName("avatar-" + b.ClientID())
	require.True(t, ok)
	pos, _ := position(w.server, target.ID())

	forged := NewPosition(100, 0, 0)
	forged.SetOwner(a.ClientID())
	rec, err := serial.Serialize(forged, false)
	require.NoError(t, err)
	require.NoError(t, a.send(MsgComponentUpdate, ComponentUpdatePayload{Entity: target.ID(), Record: rec}))

	// a round trip on the same connection proves the update was processed
	require.NoError(t, a.SendCustom("after"))
	w.pump(func() bool { return len(w.messages) == 1 }, "custom after update")
	assert.Zero(t, pos.X)
}

func TestEntityVisibilityPerClient(t *testing.T) {
	reg := testRegistry(t)
	s, err := NewServerSystem(ServerConfig{Registry: reg, Listener: transport.NewPipeListener()})
	require.NoError(t, err)

	e := ecs.NewEntity("hero")
	public := NewPosition(1, 0, 0)
	owned := newStats("client-7", ScopePublic, 5)
	require.NoError(t, e.AddComponents(NewNetworked("hero"), public, owned))

	records := s.fullRecords(e)
	require.Len(t, records, 2)

	for _, tc := range []struct {
		client string
		want   []ecs.ComponentType
	}{
		{client: "client-3", want: []ecs.ComponentType{PositionType}},
		{client: "client-7", want: []ecs.ComponentType{PositionType, statsType}},
	} {
		se := s.entityRecord(e, records, tc.client)
		assert.Equal(t, tc.want, se.Components.Keys(), tc.client)
		assert.Equal(t, "hero", se.PrefabName)
	}
}

func TestClientReconcile(t *testing.T) {
	m := ecs.NewManager(ecs.WithClock(ecs.NewManualClock(epoch)))
	c, err := NewClientSystem(ClientConfig{
		Dialer:   transport.DialerFunc(func(context.Context, string) (transport.Channel, error) { return nil, transport.ErrClosed }),
		Registry: testRegistry(t),
	})
	require.NoError(t, err)
	require.NoError(t, m.AddSystem(c))

	var removed []ecs.EntityID
	c.hooks.OnRemovedEntity = func(e *ecs.Entity) { removed = append(removed, e.ID()) }

	deliver := func(typ MessageType, seq uint64, payload any) {
		env, err := newEnvelope(typ, seq, 0, payload)
		require.NoError(t, err)
		data, err := env.Encode()
		require.NoError(t, err)
		c.handleMessage(data)
	}
	snapshot := func(entities ...*serial.SerializedEntity) *serial.GameState {
		state := serial.NewGameState(0)
		for _, se := range entities {
			state.Put(se)
		}
		return state
	}
	entity := func(id ecs.EntityID, comps ...NetworkComponent) *serial.SerializedEntity {
		se := serial.NewSerializedEntity(id, string(id))
		for _, comp := range comps {
			rec, err := peek(comp)
			require.NoError(t, err)
			se.Add(rec)
		}
		return se
	}

	deliver(MsgWelcome, 1, WelcomePayload{ClientID: "client-1", TickRate: 20})
	require.Equal(t, "client-1", c.ClientID())

	mine := newStats("client-1", ScopePublic, 10)
	deliver(MsgSnapshot, 3, snapshot(entity("e1", NewPosition(1, 0, 0), mine)))

	e1, ok := m.Entity("e1")
	require.True(t, ok)
	assert.True(t, e1.HasComponent(NetworkedType))
	p, _ := position(m, "e1")
	assert.Equal(t, 1.0, p.X)

	t.Run("stale snapshot ignored", func(t *testing.T) {
		deliver(MsgSnapshot, 2, snapshot(entity("e1", NewPosition(7, 0, 0))))
		p, _ := position(m, "e1")
		assert.Equal(t, 1.0, p.X)
	})

	t.Run("owned components keep local state", func(t *testing.T) {
		local, _ := e1.Component(statsType)
		local.(*stats).HP = 50
		deliver(MsgSnapshot, 4, snapshot(entity("e1", NewPosition(2, 0, 0), newStats("client-1", ScopePublic, 10))))
		assert.Equal(t, 50, local.(*stats).HP)
		p, _ := position(m, "e1")
		assert.Equal(t, 2.0, p.X)
	})

	t.Run("malformed component skipped", func(t *testing.T) {
		se := entity("e2", NewPosition(3, 0, 0))
		se.Add(serial.Record{ClassName: "Unknown", Data: json.RawMessage(`{}`)})
		deliver(MsgSnapshot, 5, snapshot(se))
		p, ok := position(m, "e2")
		require.True(t, ok)
		assert.Equal(t, 3.0, p.X)
	})

	t.Run("destroyed flag", func(t *testing.T) {
		se := entity("e2")
		se.Destroyed = true
		deliver(MsgSnapshot, 6, snapshot(se))
		_, ok := m.Entity("e2")
		assert.False(t, ok)
		assert.Equal(t, []ecs.EntityID{"e2"}, removed)
	})

	t.Run("entity removed", func(t *testing.T) {
		gone := serial.NewSerializedEntity("e1", "e1")
		gone.Destroyed = true
		deliver(MsgEntityRemoved, 7, gone)
		_, ok := m.Entity("e1")
		assert.False(t, ok)
		assert.True(t, e1.IsDestroyed())
	})

	t.Run("entity new with parent", func(t *testing.T) {
		deliver(MsgEntityNew, 8, entity("root", NewPosition(0, 0, 0)))
		child := entity("child", NewPosition(1, 1, 1))
		child.Parent = "root"
		deliver(MsgEntityNew, 9, child)

		e, ok := m.Entity("child")
		require.True(t, ok)
		require.NotNil(t, e.Parent())
		assert.Equal(t, ecs.EntityID("root"), e.Parent().ID())
	})

	t.Run("unreadable record skipped", func(t *testing.T) {
		deliver(MsgSnapshot, 10, json.RawMessage(`{"timestamp":0,"entities":[
			["e3",{"id":"e3","name":"e3","components":[["Position",{"className":"Position","data":{"x":4,"y":0,"z":0},"updateTimestamp":1}]]}],
			["e4",{"id":"e4","name":"e4","components":[["Position",{"className":"Position","data":{"x":5,"y":0,"z":0},"updateTimestamp":"bad"}]]}]
		]}`))

		p, ok := position(m, "e3")
		require.True(t, ok, "a bad record elsewhere in the snapshot does not drop e3")
		assert.Equal(t, 4.0, p.X)

		e4, ok := m.Entity("e4")
		require.True(t, ok)
		assert.False(t, e4.HasComponent(PositionType))
		assert.Equal(t, uint64(10), c.lastSeq)
	})

	t.Run("null entries", func(t *testing.T) {
		assert.NotPanics(t, func() {
			deliver(MsgSnapshot, 11, json.RawMessage(`{"entities":[["e6",null],["e7",{"id":"e7","components":[]}]]}`))
			deliver(MsgEntityNew, 12, json.RawMessage(`null`))
			deliver(MsgEntityRemoved, 13, json.RawMessage(`null`))
		})
		_, ok := m.Entity("e6")
		assert.False(t, ok)
		_, ok = m.Entity("e7")
		assert.True(t, ok)
	})

	t.Run("send requires connection", func(t *testing.T) {
		c.connected = false
		assert.ErrorIs(t, c.SendCustom("x"), ErrNotConnected)
	})
}
