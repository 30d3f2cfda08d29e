package rmi

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/numbleroot/pgas/comm"
	"github.com/pkg/errors"
)

// Constants

const methodWake = "wake"

// Structs

// Method is invoked on the dispatch goroutine for
// every request addressed to it. A returned error fails
// the promise the request carries, if any.
type Method func(req *Request) error

// Methods maps method names to their implementation.
type Methods map[string]Method

// Runtime connects the objects of one location with
// their counterparts everywhere else.
type Runtime struct {
	logger      log.Logger
	tr          comm.Transport
	lock        sync.Mutex
	handles     map[uint32]Methods
	pending     map[uint32][]*comm.Envelope
	promises    map[uint64]*promise
	nextPromise uint64
	nextHandle  uint32
}

// Request is one incoming invocation.
type Request struct {
	rt  *Runtime
	env *comm.Envelope
}

// Functions

// New returns a runtime on top of tr. Call Run to
// start serving.
func New(logger log.Logger, tr comm.Transport) *Runtime {

	return &Runtime{
		logger:   log.With(logger, "location", tr.Here()),
		tr:       tr,
		handles:  make(map[uint32]Methods),
		pending:  make(map[uint32][]*comm.Envelope),
		promises: make(map[uint64]*promise),
	}
}

// Here returns the location of this runtime.
func (rt *Runtime) Here() int {
	return rt.tr.Here()
}

// Locations returns the number of locations.
func (rt *Runtime) Locations() int {
	return rt.tr.Locations()
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() log.Logger {
	return rt.logger
}

// NextHandle returns the handle for the next object
// created collectively. All locations have to create
// their objects in the same order to agree on handles.
func (rt *Runtime) NextHandle() uint32 {

	rt.lock.Lock()
	defer rt.lock.Unlock()

	rt.nextHandle++

	return rt.nextHandle
}

// Register makes methods reachable under handle.
// Requests that arrived for handle before are replayed
// in the order they arrived.
func (rt *Runtime) Register(handle uint32, methods Methods) {

	rt.lock.Lock()
	defer rt.lock.Unlock()

	if _, exists := rt.handles[handle]; exists {
		panic(fmt.Sprintf("rmi: handle %d registered twice on location %d", handle, rt.Here()))
	}

	rt.handles[handle] = methods

	if len(rt.pending[handle]) == 0 {
		return
	}

	// Replay on the dispatch goroutine, behind
	// everything that is already queued.
	err := rt.tr.Send(context.Background(), &comm.Envelope{
		Kind:   comm.KindControl,
		Target: rt.Here(),
		Handle: handle,
		Method: methodWake,
	})
	if err != nil {
		level.Error(rt.logger).Log("msg", "failed to wake handle", "handle", handle, "err", err)
	}
}

// Unregister removes handle. Later requests for it
// are held back until it is registered again.
func (rt *Runtime) Unregister(handle uint32) {

	rt.lock.Lock()
	delete(rt.handles, handle)
	rt.lock.Unlock()
}

func (rt *Runtime) request(target int, handle uint32, method string, args interface{}, p PromiseRef) (*comm.Envelope, error) {

	env := &comm.Envelope{
		Kind:    comm.KindRequest,
		Target:  target,
		Handle:  handle,
		Method:  method,
		Origin:  p.Location,
		Promise: p.ID,
		Trace:   uuid.NewString(),
	}

	if !p.Valid() {
		env.Origin = rt.Here()
	}

	if args != nil {

		payload, err := comm.Marshal(args)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal arguments of %s", method)
		}

		env.Payload = payload
	}

	return env, nil
}

// AsyncRMI invokes method of handle on target without
// waiting. If p is valid, the callee is expected to
// fulfil it.
func (rt *Runtime) AsyncRMI(ctx context.Context, target int, handle uint32, method string, args interface{}, p PromiseRef) error {

	env, err := rt.request(target, handle, method, args, p)
	if err != nil {
		return err
	}

	return rt.tr.Send(ctx, env)
}

// Broadcast invokes method of handle on every location,
// including this one.
func (rt *Runtime) Broadcast(ctx context.Context, handle uint32, method string, args interface{}, p PromiseRef) error {
	return rt.broadcast(ctx, handle, method, args, p, true)
}

// BroadcastOthers invokes method of handle on every
// location except this one.
func (rt *Runtime) BroadcastOthers(ctx context.Context, handle uint32, method string, args interface{}, p PromiseRef) error {
	return rt.broadcast(ctx, handle, method, args, p, false)
}

func (rt *Runtime) broadcast(ctx context.Context, handle uint32, method string, args interface{}, p PromiseRef, self bool) error {

	env, err := rt.request(0, handle, method, args, p)
	if err != nil {
		return err
	}

	for loc := 0; loc < rt.Locations(); loc++ {

		if loc == rt.Here() && !self {
			continue
		}

		// Every target gets its own copy.
		cp := *env
		cp.Target = loc

		if err := rt.tr.Send(ctx, &cp); err != nil {
			return errors.Wrapf(err, "failed to broadcast %s to location %d", method, loc)
		}
	}

	return nil
}

// SyncRMI invokes method of handle on target and waits
// for the callee to fulfil the attached promise.
func (rt *Runtime) SyncRMI(ctx context.Context, target int, handle uint32, method string, args interface{}, reply interface{}) error {

	p, future := rt.NewPromise(1)

	if err := rt.AsyncRMI(ctx, target, handle, method, args, p); err != nil {
		return err
	}

	return future.Await(ctx, reply)
}

// Fence waits until every envelope sent by any
// location before all of them entered Fence has been
// processed. All locations must call it.
func (rt *Runtime) Fence(ctx context.Context) error {
	return rt.tr.Fence(ctx)
}

// Run serves incoming envelopes until ctx is done or
// the transport is closed.
func (rt *Runtime) Run(ctx context.Context) error {
	return rt.tr.Serve(ctx, rt.dispatch)
}

func (rt *Runtime) dispatch(env *comm.Envelope) {

	switch env.Kind {

	case comm.KindReply:
		rt.complete(env)

	case comm.KindRequest:
		rt.invoke(env)

	case comm.KindControl:

		if env.Method == methodWake {
			rt.wake(env.Handle)
		}

	default:
		level.Warn(rt.logger).Log("msg", "dropping envelope of unexpected kind", "kind", env.Kind, "source", env.Source)
	}
}

func (rt *Runtime) invoke(env *comm.Envelope) {

	rt.lock.Lock()

	methods, registered := rt.handles[env.Handle]

	// Keep arrival order behind requests still
	// waiting for their handle.
	if !registered || len(rt.pending[env.Handle]) > 0 {
		rt.pending[env.Handle] = append(rt.pending[env.Handle], env)
		rt.lock.Unlock()
		return
	}

	rt.lock.Unlock()

	rt.call(methods, env)
}

func (rt *Runtime) call(methods Methods, env *comm.Envelope) {

	req := &Request{rt: rt, env: env}

	m, found := methods[env.Method]
	if !found {

		err := errors.Errorf("handle %d has no method %s", env.Handle, env.Method)
		level.Error(rt.logger).Log("msg", "request for unknown method", "handle", env.Handle, "method", env.Method, "source", env.Source)

		if req.Promise().Valid() {
			rt.failRequest(req, &RemoteError{Code: CodeUnknownMethod, Message: err.Error()})
		}

		return
	}

	if err := m(req); err != nil {

		level.Debug(rt.logger).Log(
			"msg", "method failed",
			"handle", env.Handle,
			"method", env.Method,
			"trace", env.Trace,
			"err", err,
		)

		if req.Promise().Valid() {
			rt.failRequest(req, err)
		}
	}
}

func (rt *Runtime) failRequest(req *Request, err error) {

	if ferr := rt.Fail(context.Background(), req.Promise(), err); ferr != nil {
		level.Error(rt.logger).Log("msg", "failed to report failure to origin", "origin", req.env.Origin, "err", ferr)
	}
}

// wake replays requests that arrived before their
// handle was registered.
func (rt *Runtime) wake(handle uint32) {

	rt.lock.Lock()

	methods, registered := rt.handles[handle]
	if !registered {
		rt.lock.Unlock()
		return
	}

	queued := rt.pending[handle]
	delete(rt.pending, handle)

	rt.lock.Unlock()

	for _, env := range queued {
		rt.call(methods, env)
	}
}

// Source returns the location that sent this request.
func (req *Request) Source() int {
	return req.env.Source
}

// Origin returns the location the request was first
// issued on, which survives forwarding.
func (req *Request) Origin() int {
	return req.env.Origin
}

// Handle returns the handle the request is addressed to.
func (req *Request) Handle() uint32 {
	return req.env.Handle
}

// Trace returns the identifier shared by a request and
// all its forwards.
func (req *Request) Trace() string {
	return req.env.Trace
}

// Promise returns the promise attached to the request.
func (req *Request) Promise() PromiseRef {

	if req.env.Promise == 0 {
		return PromiseRef{}
	}

	return PromiseRef{Location: req.env.Origin, ID: req.env.Promise}
}

// Runtime returns the runtime serving the request.
func (req *Request) Runtime() *Runtime {
	return req.rt
}

// Decode unmarshals the request arguments into v.
func (req *Request) Decode(v interface{}) error {
	return comm.Unmarshal(req.env.Payload, v)
}

// Forward passes the request on to target unchanged,
// promise and trace included.
func (req *Request) Forward(ctx context.Context, target int) error {

	cp := *req.env
	cp.Target = target

	return req.rt.tr.Send(ctx, &cp)
}

// ForwardWith passes the request on to target with
// new arguments, keeping promise and trace.
func (req *Request) ForwardWith(ctx context.Context, target int, args interface{}) error {

	payload, err := comm.Marshal(args)
	if err != nil {
		return err
	}

	cp := *req.env
	cp.Target = target
	cp.Payload = payload

	return req.rt.tr.Send(ctx, &cp)
}

// Fulfil replies to the request's promise with v.
func (req *Request) Fulfil(ctx context.Context, v interface{}) error {
	return req.rt.Fulfil(ctx, req.Promise(), v)
}
