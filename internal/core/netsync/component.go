package netsync

import (
	"encoding/json"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/zecs/internal/core/ecs"
	"github.com/zeusync/zecs/internal/core/serial"
)

const (
	// ServerOwner owns components that belong to no client.
	ServerOwner = "*"
	// ScopePublic components reach every client. Any other scope restricts a
	// component to its owner.
	ScopePublic = "public"
	ScopeOwner  = "owner"
)

// NetworkComponent is a serializable component carrying replication state.
// Concrete components embed NetworkBase.
type NetworkComponent interface {
	serial.Serializable
	Network() *NetworkBase
}

type (
	// ChangeDetector replaces the default payload comparison.
	ChangeDetector interface {
		Changed(last, current json.RawMessage) bool
	}
	// AlwaysForce components are sent on every replication pass.
	AlwaysForce interface {
		AlwaysForce() bool
	}
)

// NetworkBase is the replication state shared by network components. A new
// base is dirty so the first pass always sends it.
type NetworkBase struct {
	ownerID         string
	scope           string
	updateTimestamp int64
	forceUpdate     bool
	lastData        json.RawMessage
	lastDigest      uint64
}

func NewNetworkBase(ownerID, scope string) NetworkBase {
	if ownerID == "" {
		ownerID = ServerOwner
	}
	if scope == "" {
		scope = ScopePublic
	}
	return NetworkBase{
		ownerID:         ownerID,
		scope:           scope,
		updateTimestamp: -1,
		forceUpdate:     true,
	}
}

func (n *NetworkBase) Network() *NetworkBase { return n }

func (n *NetworkBase) OwnerID() string {
	if n.ownerID == "" {
		return ServerOwner
	}
	return n.ownerID
}

func (n *NetworkBase) Scope() string {
	if n.scope == "" {
		return ScopePublic
	}
	return n.scope
}

// SetOwner and SetScope mark the component dirty.
func (n *NetworkBase) SetOwner(id string) {
	n.ownerID = id
	n.forceUpdate = true
}

func (n *NetworkBase) SetScope(scope string) {
	n.scope = scope
	n.forceUpdate = true
}

func (n *NetworkBase) UpdateTimestamp() int64      { return n.updateTimestamp }
func (n *NetworkBase) SetUpdateTimestamp(ms int64) { n.updateTimestamp = ms }
func (n *NetworkBase) ForceUpdate() bool           { return n.forceUpdate }
func (n *NetworkBase) MarkDirty()                  { n.forceUpdate = true }
func (n *NetworkBase) LastData() json.RawMessage   { return n.lastData }

// OnSerialized stamps the record and caches its payload; the component is
// clean afterwards.
func (n *NetworkBase) OnSerialized(rec *serial.Record) {
	n.stamp(rec)
	n.forceUpdate = false
	n.lastData = slices.Clone(rec.Data)
	n.lastDigest = xxhash.Sum64(rec.Data)
}

func (n *NetworkBase) stamp(rec *serial.Record) {
	ts := n.updateTimestamp
	rec.UpdateTimestamp = &ts
	rec.OwnerID = n.OwnerID()
	rec.Scope = n.Scope()
}

// OnDeserialize restores the timestamp, -1 when the record has none, and the
// ownership carried by the record.
func (n *NetworkBase) OnDeserialize(rec serial.Record) {
	n.updateTimestamp = rec.Timestamp()
	if rec.OwnerID != "" {
		n.ownerID = rec.OwnerID
	}
	if rec.Scope != "" {
		n.scope = rec.Scope
	}
}

// Replicable reports whether c may be replicated by a process allowing the
// classes in reg.
func Replicable(c ecs.Component, reg *serial.Registry) (NetworkComponent, bool) {
	nc, ok := c.(NetworkComponent)
	if !ok || !reg.Allowed(c.Type()) {
		return nil, false
	}
	return nc, true
}

// Visible applies the ownership policy: server-owned public components reach
// everyone, client-owned components reach their owner only, and server-owned
// private components reach nobody.
func Visible(c NetworkComponent, clientID string) bool {
	n := c.Network()
	owner := n.OwnerID()
	if owner != ServerOwner {
		return owner == clientID
	}
	return n.Scope() == ScopePublic
}

func encode(c NetworkComponent) (json.RawMessage, error) {
	data, err := c.Write()
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

// changed is the replication gate: forced, opted out of suppression, or a
// payload differing from the last one sent.
func changed(c NetworkComponent, payload json.RawMessage) bool {
	n := c.Network()
	if n.forceUpdate {
		return true
	}
	if f, ok := c.(AlwaysForce); ok && f.AlwaysForce() {
		return true
	}
	if d, ok := c.(ChangeDetector); ok {
		return d.Changed(n.lastData, payload)
	}
	if n.lastData == nil {
		return true
	}
	return xxhash.Sum64(payload) != n.lastDigest
}

// peek builds the current record of c without touching its replication state.
func peek(c NetworkComponent) (serial.Record, error) {
	payload, err := encode(c)
	if err != nil {
		return serial.Record{}, err
	}
	rec := serial.Record{
		ID:        c.Base().ID(),
		ClassName: string(c.Type()),
		Data:      payload,
	}
	c.Network().stamp(&rec)
	return rec, nil
}

// Capture returns the record of c stamped with now when c needs to be sent,
// committing it as the last sent state.
func Capture(c NetworkComponent, now int64) (serial.Record, bool, error) {
	payload, err := encode(c)
	if err != nil {
		return serial.Record{}, false, err
	}
	if !changed(c, payload) {
		return serial.Record{}, false, nil
	}

	n := c.Network()
	n.updateTimestamp = now
	rec := serial.Record{
		ID:        c.Base().ID(),
		ClassName: string(c.Type()),
		Data:      payload,
	}
	n.OnSerialized(&rec)
	return rec, true, nil
}
