package netsync

import "errors"

var (
	ErrNotOwner        = errors.New("netsync: component is not owned by this client")
	ErrNotReplicable   = errors.New("netsync: component is not replicable")
	ErrNotConnected    = errors.New("netsync: not connected")
	ErrUnknownEntity   = errors.New("netsync: unknown entity")
	ErrUnexpectedType  = errors.New("netsync: unexpected message type")
	ErrMissingListener = errors.New("netsync: server has no listener")
	ErrMissingDialer   = errors.New("netsync: client has no dialer")
)
