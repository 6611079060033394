package link

import (
	"github.com/Arceliar/phony"
	"github.com/go-i2p/go-rns/lib/common"
)

type State int

const (
	StatePending State = iota
	StateAwaitingProof
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAwaitingProof:
		return "awaiting_proof"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonTimeout
	ReasonInitiatorClosed
	ReasonDestinationClosed
	ReasonHandshakeFailed
	ReasonHandshakeTimeout
)

func (r CloseReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonInitiatorClosed:
		return "initiator_closed"
	case ReasonDestinationClosed:
		return "destination_closed"
	case ReasonHandshakeFailed:
		return "handshake_failed"
	case ReasonHandshakeTimeout:
		return "handshake_timeout"
	}
	return "none"
}

// Err maps a close reason to the error reported to an OpenLink caller.
func (r CloseReason) Err() error {
	switch r {
	case ReasonHandshakeFailed:
		return ErrHandshakeFailed
	case ReasonHandshakeTimeout:
		return ErrHandshakeTimeout
	}
	return ErrLinkClosed
}

type EventType int

const (
	EventActivated EventType = iota
	EventData
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventActivated:
		return "activated"
	case EventData:
		return "data"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is delivered to the link handler. Data is set for EventData and
// Reason for EventClosed.
type Event struct {
	LinkID common.AddressHash
	Type   EventType
	Data   []byte
	Reason CloseReason
}

// Handler consumes link events. Events of one link are delivered one at a
// time in the order they happened; handlers of different links may run
// concurrently.
type Handler func(Event)

// eventQueue serializes handler calls for one link.
type eventQueue struct {
	phony.Inbox
	handler Handler
}

func (q *eventQueue) emit(ev Event) {
	if q.handler == nil {
		return
	}
	q.Act(nil, func() {
		q.handler(ev)
	})
}
