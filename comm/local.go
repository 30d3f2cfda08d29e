package comm

import (
	"context"
	"sync"
)

// Structs

// Fabric connects all locations living in one process.
// Every location gets an Endpoint with its own mailbox.
type Fabric struct {
	lock      sync.Mutex
	mailboxes []*mailbox
	inflight  int64
	idle      chan struct{}
	round     *round
}

// round is one collective fence. done closes once every
// location entered it, idle is the quiet point to wait
// for from then on.
type round struct {
	arrived int
	done    chan struct{}
	idle    chan struct{}
}

// Endpoint is the Transport of one location on a Fabric.
type Endpoint struct {
	fabric *Fabric
	here   int
}

// Functions

// NewFabric returns an in-process fabric with the
// given number of locations.
func NewFabric(locations int) *Fabric {

	f := &Fabric{
		mailboxes: make([]*mailbox, locations),
		idle:      make(chan struct{}),
		round:     newRound(),
	}

	for i := range f.mailboxes {
		f.mailboxes[i] = newMailbox()
	}

	// No envelope is in flight initially.
	close(f.idle)

	return f
}

// Endpoint returns the transport for location loc.
func (f *Fabric) Endpoint(loc int) *Endpoint {
	return &Endpoint{fabric: f, here: loc}
}

// Endpoints returns the transports of all locations.
func (f *Fabric) Endpoints() []*Endpoint {

	eps := make([]*Endpoint, len(f.mailboxes))
	for i := range eps {
		eps[i] = f.Endpoint(i)
	}

	return eps
}

func (f *Fabric) begin() {

	f.lock.Lock()

	if f.inflight == 0 {
		f.idle = make(chan struct{})
	}

	f.inflight++
	f.lock.Unlock()
}

func (f *Fabric) end() {

	f.lock.Lock()

	f.inflight--
	if f.inflight == 0 {
		close(f.idle)
	}

	f.lock.Unlock()
}

func newRound() *round {
	return &round{done: make(chan struct{})}
}

// enter registers one location with the current fence
// round. The last one to arrive completes it and pins
// the quiet point everybody waits for.
func (f *Fabric) enter() *round {

	f.lock.Lock()
	defer f.lock.Unlock()

	r := f.round
	r.arrived++

	if r.arrived == len(f.mailboxes) {
		r.idle = f.idle
		close(r.done)
		f.round = newRound()
	}

	return r
}

// leave withdraws from round r if it is still open.
func (f *Fabric) leave(r *round) {

	f.lock.Lock()
	if f.round == r {
		r.arrived--
	}
	f.lock.Unlock()
}

// fence blocks until all locations entered a fence and
// every envelope sent before that point was processed.
func (f *Fabric) fence(ctx context.Context) error {

	r := f.enter()

	select {
	case <-r.done:
	case <-ctx.Done():
		f.leave(r)
		return ctx.Err()
	}

	select {
	case <-r.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down every mailbox of the fabric.
func (f *Fabric) Close() {

	for _, m := range f.mailboxes {
		m.close()
	}
}

// Here returns the location of this endpoint.
func (e *Endpoint) Here() int {
	return e.here
}

// Locations returns the number of locations on the fabric.
func (e *Endpoint) Locations() int {
	return len(e.fabric.mailboxes)
}

// Send places env into the target's mailbox.
func (e *Endpoint) Send(ctx context.Context, env *Envelope) error {

	if err := checkTarget(env, e.Locations()); err != nil {
		return err
	}

	env.Source = e.here

	e.fabric.begin()

	if err := e.fabric.mailboxes[env.Target].put(env); err != nil {
		e.fabric.end()
		return err
	}

	return nil
}

// Serve hands envelopes from this location's mailbox
// to h until ctx is done or the mailbox is closed.
func (e *Endpoint) Serve(ctx context.Context, h Handler) error {

	box := e.fabric.mailboxes[e.here]

	for {

		env, err := box.take(ctx)
		if err != nil {

			if err == ErrClosed {
				return nil
			}

			return err
		}

		h(env)
		e.fabric.end()
	}
}

// Fence is collective: it returns once every location
// entered it and the fabric went quiet afterwards.
func (e *Endpoint) Fence(ctx context.Context) error {
	return e.fabric.fence(ctx)
}

// Close closes this location's mailbox.
func (e *Endpoint) Close() error {
	e.fabric.mailboxes[e.here].close()
	return nil
}
