// Package iface defines the capability the routing core needs from a
// physical or virtual interface, plus an in-memory pipe implementation.
package iface

import "errors"

var ErrInterfaceClosed = errors.New("interface closed")

// Interface moves raw packets. Drivers deliver inbound bytes by calling
// Ingester.IngestInbound with their own ID.
type Interface interface {
	ID() string
	Send(raw []byte) error
	Close() error
}

// MTUer is implemented by interfaces whose MTU differs from the packet MTU.
type MTUer interface {
	MTU() int
}

// Ingester consumes inbound bytes. The routing core implements it.
type Ingester interface {
	IngestInbound(raw []byte, interfaceID string) error
}

// Attacher is implemented by interfaces that push inbound bytes themselves
// once they know where to deliver them.
type Attacher interface {
	Attach(Ingester)
}
