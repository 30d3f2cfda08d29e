package comm

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Constants

// Kinds of envelopes.
const (
	KindRequest Kind = iota + 1
	KindReply
	KindControl
	KindFenceReport
	KindFenceRelease
)

// Variables

// ErrClosed is returned when sending on or serving a
// transport that has been shut down.
var ErrClosed = errors.New("transport closed")

// Structs

// Kind tells the receiver what to do with an envelope.
type Kind uint8

// Envelope is the unit of communication between two
// locations. Payload is opaque to the transport.
type Envelope struct {
	Kind    Kind   `cbor:"1,keyasint"`
	Source  int    `cbor:"2,keyasint"`
	Target  int    `cbor:"3,keyasint"`
	Handle  uint32 `cbor:"4,keyasint"`
	Method  string `cbor:"5,keyasint"`
	Payload []byte `cbor:"6,keyasint,omitempty"`
	Origin  int    `cbor:"7,keyasint"`
	Promise uint64 `cbor:"8,keyasint,omitempty"`
	Code    string `cbor:"9,keyasint,omitempty"`
	Err     string `cbor:"10,keyasint,omitempty"`
	Trace   string `cbor:"11,keyasint,omitempty"`
	Round   uint64 `cbor:"12,keyasint,omitempty"`
	Sent    uint64 `cbor:"13,keyasint,omitempty"`
	Done    uint64 `cbor:"14,keyasint,omitempty"`
}

// Ack is the empty response to a delivered envelope.
type Ack struct{}

// Handler processes one envelope on the dispatch goroutine.
type Handler func(env *Envelope)

// Transport connects one location to all others.
type Transport interface {

	// Here returns the location this transport serves.
	Here() int

	// Locations returns the number of participants.
	Locations() int

	// Send queues env for delivery to env.Target. It
	// returns once the envelope is queued, not delivered.
	Send(ctx context.Context, env *Envelope) error

	// Serve delivers incoming envelopes to h one at a time
	// until ctx is done or the transport is closed.
	Serve(ctx context.Context, h Handler) error

	// Fence blocks until every envelope sent by any
	// location before all of them entered Fence has
	// been processed. Every location has to call it.
	Fence(ctx context.Context) error

	// Close shuts the transport down.
	Close() error
}

// Functions

func (k Kind) String() string {

	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindControl:
		return "control"
	case KindFenceReport:
		return "fence-report"
	case KindFenceRelease:
		return "fence-release"
	}

	return fmt.Sprintf("kind(%d)", k)
}

// data reports whether env counts towards fence balances.
func (env *Envelope) data() bool {
	return env.Kind != KindFenceReport && env.Kind != KindFenceRelease
}

func checkTarget(env *Envelope, locations int) error {

	if env.Target < 0 || env.Target >= locations {
		return errors.Errorf("envelope target %d outside of [0, %d)", env.Target, locations)
	}

	return nil
}
