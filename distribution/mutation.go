package distribution

import (
	"context"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/manager"
	"github.com/numbleroot/pgas/ring"
	"github.com/numbleroot/pgas/rmi"
)

// Structs

type insertArgs[T any] struct {
	GID   domain.GID `cbor:"1,keyasint"`
	Value T          `cbor:"2,keyasint"`
}

type eraseArgs struct {
	GID domain.GID `cbor:"1,keyasint"`
}

// tailArgs travel towards the tail of the ordering.
// Back is set once the walk turned around at the end.
type tailArgs[T any] struct {
	At    domain.Ref `cbor:"1,keyasint"`
	Back  bool       `cbor:"2,keyasint"`
	Value T          `cbor:"3,keyasint,omitempty"`
}

// result is what the deciding location reports back
// to the origin of a mutation.
type result[T any] struct {
	GID      domain.GID   `cbor:"1,keyasint"`
	Location int          `cbor:"2,keyasint"`
	Range    domain.Range `cbor:"3,keyasint"`
	Value    T            `cbor:"4,keyasint"`
}

// Functions

// await waits for a mutation to be acknowledged by all
// locations. If ctx ends first, the queue turn is only
// handed on once the mutation completed nonetheless.
func (d *Distribution[T]) await(ctx context.Context, future *rmi.Future, res *result[T], queued bool) error {

	err := future.Await(ctx, res)

	if queued {

		if err != nil && (err == context.Canceled || err == context.DeadlineExceeded) {

			go func() {
				future.Await(context.Background(), nil)
				d.queue.release()
			}()

			return err
		}

		d.queue.release()
	}

	return err
}

func (d *Distribution[T]) state(op string, state string, gid domain.GID) {
	level.Debug(d.logger).Log("msg", "mutation", "op", op, "state", state, "gid", gid)
}

// Insert places v at gid, moving every later element
// up by one. gid may equal Size to append.
func (d *Distribution[T]) Insert(ctx context.Context, gid domain.GID, v T) error {

	if gid < 0 || int64(gid) > d.size.Load() {
		return d.fail("insert", gid, ErrOutOfRange)
	}

	if err := d.queue.acquire(ctx); err != nil {
		return d.fail("insert", gid, err)
	}

	d.state("insert", "routing", gid)

	// The element in front of gid decides, for the
	// very first position that is the head.
	target := 0
	if gid == 0 {

		if head := d.mgr.First(); head.Valid() {
			target = head.Location
		}

	} else {
		target = d.dir.Lookup(gid - 1)
	}

	p, future := d.rt.NewPromise(d.locations)

	err := d.rt.AsyncRMI(ctx, target, d.handle, methodInsert, insertArgs[T]{GID: gid, Value: v}, p)
	if err != nil {
		d.queue.release()
		return d.fail("insert", gid, err)
	}

	res := result[T]{}
	if err := d.await(ctx, future, &res, true); err != nil {
		return d.fail("insert", gid, err)
	}

	d.dir.RegisterKeys(res.Range, res.Location)
	d.state("insert", "idle", gid)

	return nil
}

// Erase removes the element at gid, moving every later
// element down by one.
func (d *Distribution[T]) Erase(ctx context.Context, gid domain.GID) error {

	if !d.Contains(gid) {
		return d.fail("erase", gid, ErrOutOfRange)
	}

	if err := d.queue.acquire(ctx); err != nil {
		return d.fail("erase", gid, err)
	}

	d.state("erase", "routing", gid)

	p, future := d.rt.NewPromise(d.locations)

	err := d.rt.AsyncRMI(ctx, d.dir.Lookup(gid), d.handle, methodErase, eraseArgs{GID: gid}, p)
	if err != nil {
		d.queue.release()
		return d.fail("erase", gid, err)
	}

	res := result[T]{}
	if err := d.await(ctx, future, &res, true); err != nil {
		return d.fail("erase", gid, err)
	}

	d.state("erase", "idle", gid)

	return nil
}

// PushBack appends v behind the last element and
// returns its GID.
func (d *Distribution[T]) PushBack(ctx context.Context, v T) (domain.GID, error) {

	// Without any base container known here, location
	// 0 either creates the head or knows the tail.
	args := tailArgs[T]{At: d.mgr.Last(), Value: v}

	target := 0
	if args.At.Valid() {
		target = args.At.Location
	}

	d.state("push_back", "routing", domain.InvalidGID)

	p, future := d.rt.NewPromise(d.locations)

	if err := d.rt.AsyncRMI(ctx, target, d.handle, methodPushBack, args, p); err != nil {
		return domain.InvalidGID, d.fail("push_back", domain.InvalidGID, err)
	}

	res := result[T]{}
	if err := d.await(ctx, future, &res, false); err != nil {
		return domain.InvalidGID, d.fail("push_back", domain.InvalidGID, err)
	}

	d.dir.RegisterKeys(res.Range, res.Location)
	d.state("push_back", "idle", res.GID)

	return res.GID, nil
}

// PopBack removes the last element and returns it.
func (d *Distribution[T]) PopBack(ctx context.Context) (T, error) {

	var zero T

	args := tailArgs[T]{At: d.mgr.Last()}
	if !args.At.Valid() {
		return zero, d.fail("pop_back", domain.InvalidGID, ErrEmpty)
	}

	d.state("pop_back", "routing", domain.InvalidGID)

	p, future := d.rt.NewPromise(d.locations)

	if err := d.rt.AsyncRMI(ctx, args.At.Location, d.handle, methodPopBack, args, p); err != nil {
		return zero, d.fail("pop_back", domain.InvalidGID, err)
	}

	res := result[T]{}
	if err := d.await(ctx, future, &res, false); err != nil {
		return zero, d.fail("pop_back", domain.InvalidGID, err)
	}

	d.state("pop_back", "idle", res.GID)

	return res.Value, nil
}

// commit announces a change decided here to everybody
// else and answers the origin. All locations together
// fulfil the origin's promise.
func (d *Distribution[T]) commit(req *rmi.Request, op string, ch manager.Change, value T) error {

	d.record(ch)

	d.state(op, "broadcasting", ch.GID)

	start := time.Now()

	if err := d.rt.BroadcastOthers(context.Background(), d.handle, methodCommit, ch, req.Promise()); err != nil {
		return err
	}

	res := result[T]{
		GID:      ch.GID,
		Location: d.here,
		Range:    d.mgr.Domain(ch.BC.ID),
		Value:    value,
	}

	level.Debug(d.logger).Log(
		"msg", "committed",
		"op", op,
		"gid", ch.GID,
		"delta", ch.Delta.Delta,
		"topology", len(ch.Topology),
		"origin", req.Origin(),
		"trace", req.Trace(),
		"took", time.Since(start),
	)

	return req.Fulfil(context.Background(), res)
}

func (d *Distribution[T]) handleCommit(req *rmi.Request) error {

	ch := manager.Change{}
	if err := req.Decode(&ch); err != nil {
		return err
	}

	d.applyChange(ch)

	return req.Fulfil(context.Background(), nil)
}

func (d *Distribution[T]) handleInsert(req *rmi.Request) error {

	args := insertArgs[T]{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	// Updates passed in happened before the insertion
	// and are announced in front of its own.
	apply := func(before ...ring.Update) error {

		d.state("insert", "applying", args.GID)

		ch, err := d.mgr.Insert(args.GID, args.Value)
		if err != nil {
			return err
		}

		ch.Topology = append(before, ch.Topology...)

		var zero T

		return d.commit(req, "insert", ch, zero)
	}

	if args.GID > 0 {

		var err error

		routeErr := d.dir.InvokeWhere(args.GID-1, func() {
			err = apply()
		}, d.forward(req, "insert"))
		if routeErr != nil {
			return locate(routeErr)
		}

		return err
	}

	head := d.mgr.First()

	switch {

	case head.Valid() && head.Location != d.here:
		d.forward(req, "insert")(head.Location)
		return nil

	case head.Valid():
		return apply()

	case d.here != 0:
		// Only location 0 may start the ordering.
		d.forward(req, "insert")(0)
		return nil
	}

	_, u, err := d.mgr.CreateHead()
	if err != nil {
		return err
	}

	return apply(u)
}

func (d *Distribution[T]) handleErase(req *rmi.Request) error {

	args := eraseArgs{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	var err error

	routeErr := d.dir.InvokeWhere(args.GID, func() {

		d.state("erase", "applying", args.GID)

		var ch manager.Change
		var v T

		v, ch, err = d.mgr.Remove(args.GID)
		if err == nil {
			err = d.commit(req, "erase", ch, v)
		}

	}, d.forward(req, "erase"))
	if routeErr != nil {
		return locate(routeErr)
	}

	return err
}

// walkTail moves args towards the live tail of the
// ordering for as long as it stays on this location.
// It reports whether the tail is local.
func (d *Distribution[T]) walkTail(args *tailArgs[T], usable func(l ring.Link, dom domain.Range) bool) (bool, error) {

	for args.At.Location == d.here {

		l, found := d.mgr.Link(args.At.ID)
		if !found {
			return false, ErrEmpty
		}

		// Head for the real end first, then turn
		// around at it.
		if !args.Back && l.Next.Valid() {
			args.At = l.Next
			continue
		}

		if usable(l, d.mgr.Domain(args.At.ID)) {
			return true, nil
		}

		args.Back = true
		args.At = l.Prev

		if !args.At.Valid() {
			return false, ErrEmpty
		}
	}

	return false, nil
}

func (d *Distribution[T]) handlePushBack(req *rmi.Request) error {

	args := tailArgs[T]{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	var topology []ring.Update

	if !args.At.Valid() {

		switch {

		case d.mgr.First().Valid():
			args.At = d.mgr.Last()

		case d.here != 0:
			d.forward(req, "push_back")(0)
			return nil

		default:

			id, u, err := d.mgr.CreateHead()
			if err != nil {
				return err
			}

			args.At = domain.Ref{Location: d.here, ID: id}
			topology = append(topology, u)
		}
	}

	local, err := d.walkTail(&args, func(l ring.Link, dom domain.Range) bool {
		return !l.Dead
	})
	if err != nil {
		return err
	}

	if !local {
		return d.forwardTail(req, "push_back", args)
	}

	d.state("push_back", "applying", domain.InvalidGID)

	_, ch, err := d.mgr.PushBack(args.At.ID, args.Value)
	if err != nil {
		return err
	}

	ch.Topology = append(topology, ch.Topology...)

	var zero T

	return d.commit(req, "push_back", ch, zero)
}

func (d *Distribution[T]) handlePopBack(req *rmi.Request) error {

	args := tailArgs[T]{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	local, err := d.walkTail(&args, func(l ring.Link, dom domain.Range) bool {
		return !l.Dead && !dom.Empty()
	})
	if err != nil {
		return err
	}

	if !local {
		return d.forwardTail(req, "pop_back", args)
	}

	d.state("pop_back", "applying", domain.InvalidGID)

	_, v, ch, err := d.mgr.PopBack(args.At.ID)
	if err != nil {
		return err
	}

	d.dir.UnregisterKey(ch.GID)

	return d.commit(req, "pop_back", ch, v)
}

func (d *Distribution[T]) forwardTail(req *rmi.Request, op string, args tailArgs[T]) error {

	d.misses.Add(1)

	level.Debug(d.logger).Log("msg", "tail is remote, forwarding", "op", op, "to", args.At)

	return req.ForwardWith(context.Background(), args.At.Location, args)
}
