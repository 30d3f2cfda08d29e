package distribution

import (
	"context"

	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/rmi"
)

// Structs

type setArgs[T any] struct {
	GID   domain.GID `cbor:"1,keyasint"`
	Value T          `cbor:"2,keyasint"`
}

type getArgs struct {
	GID domain.GID `cbor:"1,keyasint"`
}

type segmentArgs struct {
	ID domain.BCID `cbor:"1,keyasint"`
}

type segment[T any] struct {
	Values []T          `cbor:"1,keyasint"`
	Domain domain.Range `cbor:"2,keyasint"`
	Next   domain.Ref   `cbor:"3,keyasint"`
}

// Iterator walks a container element by element.
// Moving it crosses base containers along the ordering.
type Iterator[T any] struct {
	d   *Distribution[T]
	gid domain.GID
}

// Functions

// Get returns the element at gid.
func (d *Distribution[T]) Get(ctx context.Context, gid domain.GID) (T, error) {

	var v T

	if !d.Contains(gid) {
		return v, d.fail("get", gid, ErrOutOfRange)
	}

	if local, found := d.mgr.Lookup(gid); found {
		return local, nil
	}

	if err := d.rt.SyncRMI(ctx, d.dir.Lookup(gid), d.handle, methodGet, getArgs{GID: gid}, &v); err != nil {
		return v, d.fail("get", gid, err)
	}

	return v, nil
}

// Set overwrites the element at gid.
func (d *Distribution[T]) Set(ctx context.Context, gid domain.GID, v T) error {

	if !d.Contains(gid) {
		return d.fail("set", gid, ErrOutOfRange)
	}

	if err := d.rt.SyncRMI(ctx, d.dir.Lookup(gid), d.handle, methodSet, setArgs[T]{GID: gid, Value: v}, nil); err != nil {
		return d.fail("set", gid, err)
	}

	return nil
}

func (d *Distribution[T]) handleGet(req *rmi.Request) error {

	args := getArgs{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	var err error

	routeErr := d.dir.InvokeWhere(args.GID, func() {
		err = req.Fulfil(context.Background(), d.mgr.Get(args.GID))
	}, d.forward(req, "get"))
	if routeErr != nil {
		return locate(routeErr)
	}

	return err
}

func (d *Distribution[T]) handleSet(req *rmi.Request) error {

	args := setArgs[T]{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	var err error

	routeErr := d.dir.InvokeWhere(args.GID, func() {
		d.mgr.Set(args.GID, args.Value)
		err = req.Fulfil(context.Background(), nil)
	}, d.forward(req, "set"))
	if routeErr != nil {
		return locate(routeErr)
	}

	return err
}

// ForEach calls fn for every element in order until fn
// returns false. It fetches one base container at a
// time while walking the ordering.
func (d *Distribution[T]) ForEach(ctx context.Context, fn func(gid domain.GID, v T) bool) error {

	ref := d.mgr.First()

	for ref.Valid() {

		seg := segment[T]{}

		if ref.Location == d.here {
			seg.Values, seg.Domain, seg.Next = d.localSegment(ref.ID)
		} else {

			err := d.rt.SyncRMI(ctx, ref.Location, d.handle, methodSegment, segmentArgs{ID: ref.ID}, &seg)
			if err != nil {
				return d.fail("for_each", domain.InvalidGID, err)
			}
		}

		for i, v := range seg.Values {

			if !fn(seg.Domain.First+domain.GID(i), v) {
				return nil
			}
		}

		ref = seg.Next
	}

	return nil
}

func (d *Distribution[T]) localSegment(id domain.BCID) ([]T, domain.Range, domain.Ref) {

	values, dom, l := d.mgr.Segment(id)

	return values, dom, l.Next
}

func (d *Distribution[T]) handleSegment(req *rmi.Request) error {

	args := segmentArgs{}
	if err := req.Decode(&args); err != nil {
		return err
	}

	seg := segment[T]{}
	seg.Values, seg.Domain, seg.Next = d.localSegment(args.ID)

	return req.Fulfil(context.Background(), seg)
}

// Values collects all elements in order.
func (d *Distribution[T]) Values(ctx context.Context) ([]T, error) {

	values := make([]T, 0, d.Size())

	err := d.ForEach(ctx, func(gid domain.GID, v T) bool {
		values = append(values, v)
		return true
	})

	return values, err
}

// Find returns an iterator positioned at gid.
func (d *Distribution[T]) Find(ctx context.Context, gid domain.GID) (*Iterator[T], error) {

	if !d.Contains(gid) {
		return nil, d.fail("find", gid, ErrOutOfRange)
	}

	return &Iterator[T]{d: d, gid: gid}, nil
}

// GID returns the position of the iterator.
func (it *Iterator[T]) GID() domain.GID {
	return it.gid
}

// Valid reports whether the iterator points at an element.
func (it *Iterator[T]) Valid() bool {
	return it.gid != domain.InvalidGID
}

// Value returns the element the iterator points at.
func (it *Iterator[T]) Value(ctx context.Context) (T, error) {
	return it.d.Get(ctx, it.gid)
}

// Next moves the iterator one element towards the tail.
// Past the last element it becomes invalid.
func (it *Iterator[T]) Next(ctx context.Context) error {
	return it.move(ctx, 1)
}

// Prev moves the iterator one element towards the head.
func (it *Iterator[T]) Prev(ctx context.Context) error {
	return it.move(ctx, -1)
}

func (it *Iterator[T]) move(ctx context.Context, n int64) error {

	if !it.Valid() {
		return it.d.fail("advance", it.gid, ErrOutOfRange)
	}

	gid, err := it.d.Advance(ctx, it.gid, n, true)
	if err != nil {
		return err
	}

	it.gid = gid

	return nil
}
