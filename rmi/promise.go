package rmi

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/pgas/comm"
)

// Constants

// Error codes every runtime understands.
const (
	CodeInternal      = "internal"
	CodeUnknownMethod = "unknown_method"
)

// Structs

// PromiseRef names a promise living on Location. The
// zero value (ID 0) names no promise.
type PromiseRef struct {
	Location int    `cbor:"1,keyasint"`
	ID       uint64 `cbor:"2,keyasint"`
}

// RemoteError is a failure reported by the location
// that was asked to fulfil a promise.
type RemoteError struct {
	Code    string
	Message string
}

// Coder is implemented by errors that carry a code
// across locations.
type Coder interface {
	Code() string
}

// promise counts down the replies it still expects.
type promise struct {
	expect  int
	got     int
	payload []byte
	err     error
	done    chan struct{}
}

// Future is the waiting side of a promise.
type Future struct {
	p *promise
}

// Functions

// Valid reports whether p names a promise.
func (p PromiseRef) Valid() bool {
	return p.ID != 0
}

func (e *RemoteError) Error() string {
	return e.Message
}

// NewPromise creates a promise that resolves once expect
// replies have arrived. The ref travels with requests,
// the future stays with the caller.
func (rt *Runtime) NewPromise(expect int) (PromiseRef, *Future) {

	if expect < 1 {
		panic(fmt.Sprintf("rmi: promise needs to expect at least one reply, not %d", expect))
	}

	p := &promise{
		expect: expect,
		done:   make(chan struct{}),
	}

	rt.lock.Lock()
	rt.nextPromise++
	id := rt.nextPromise
	rt.promises[id] = p
	rt.lock.Unlock()

	return PromiseRef{Location: rt.Here(), ID: id}, &Future{p: p}
}

// Fulfil delivers one reply carrying v to promise p.
func (rt *Runtime) Fulfil(ctx context.Context, p PromiseRef, v interface{}) error {

	env := &comm.Envelope{
		Kind:    comm.KindReply,
		Target:  p.Location,
		Promise: p.ID,
	}

	if v != nil {

		payload, err := comm.Marshal(v)
		if err != nil {
			return err
		}

		env.Payload = payload
	}

	return rt.tr.Send(ctx, env)
}

// Fail delivers one reply to promise p that carries err.
// Codes come from errors implementing Coder.
func (rt *Runtime) Fail(ctx context.Context, p PromiseRef, err error) error {

	return rt.tr.Send(ctx, &comm.Envelope{
		Kind:    comm.KindReply,
		Target:  p.Location,
		Promise: p.ID,
		Code:    CodeOf(err),
		Err:     err.Error(),
	})
}

// CodeOf returns the code of err, looking through wrapping.
func CodeOf(err error) string {

	for err != nil {

		if c, ok := err.(Coder); ok {
			return c.Code()
		}

		if re, ok := err.(*RemoteError); ok {
			return re.Code
		}

		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}

		err = cause.Cause()
	}

	return CodeInternal
}

// complete records one reply on the dispatch goroutine.
func (rt *Runtime) complete(env *comm.Envelope) {

	rt.lock.Lock()
	defer rt.lock.Unlock()

	// A failed promise resolved early, later
	// replies have nobody waiting for them.
	p, found := rt.promises[env.Promise]
	if !found {
		level.Debug(rt.logger).Log("msg", "dropping reply for resolved promise", "promise", env.Promise, "source", env.Source)
		return
	}

	p.got++

	if env.Code != "" {
		p.err = &RemoteError{Code: env.Code, Message: env.Err}
	}

	if len(env.Payload) > 0 {
		p.payload = env.Payload
	}

	if p.got == p.expect || p.err != nil {
		delete(rt.promises, env.Promise)
		close(p.done)
	}
}

// Await blocks until all replies arrived, one of them
// failed, or ctx is done. The last non-empty reply
// payload is decoded into reply, which may be nil.
func (f *Future) Await(ctx context.Context, reply interface{}) error {

	select {
	case <-f.p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if f.p.err != nil {
		return f.p.err
	}

	if reply != nil && len(f.p.payload) > 0 {
		return comm.Unmarshal(f.p.payload, reply)
	}

	return nil
}

// Ready reports whether the future resolved.
func (f *Future) Ready() bool {

	select {
	case <-f.p.done:
		return true
	default:
		return false
	}
}
