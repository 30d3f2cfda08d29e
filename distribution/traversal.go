package distribution

import (
	"context"

	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/ring"
	"github.com/numbleroot/pgas/rmi"
)

// Functions

// visit sends v on its way and waits for the answer.
// Unanchored visitors first travel to the owner of
// their cursor.
func (d *Distribution[T]) visit(ctx context.Context, op string, v ring.Visitor) (ring.Result, error) {

	res := ring.Result{}

	var target int
	if v.Anchored() {
		target = v.At.Location
	} else {
		target = d.dir.Lookup(v.Cursor)
	}

	if err := d.rt.SyncRMI(ctx, target, d.handle, methodVisit, v, &res); err != nil {
		return res, d.fail(op, v.Cursor, err)
	}

	return res, nil
}

func (d *Distribution[T]) handleVisit(req *rmi.Request) error {

	v := ring.Visitor{}
	if err := req.Decode(&v); err != nil {
		return err
	}

	if !v.Anchored() {

		var anchored bool

		routeErr := d.dir.InvokeWhere(v.Cursor, func() {
			v, anchored = d.mgr.Anchor(v)
		}, d.forward(req, "visit"))
		if routeErr != nil {
			return req.Fulfil(context.Background(), ring.Result{GID: domain.InvalidGID})
		}

		// Forwarded to a better guess.
		if !anchored {
			return nil
		}
	}

	if v.At.Location != d.here {
		return req.ForwardWith(context.Background(), v.At.Location, v)
	}

	step := d.mgr.Visit(v)
	if step.Done {
		return req.Fulfil(context.Background(), step.Result)
	}

	return req.ForwardWith(context.Background(), step.Visitor.At.Location, step.Visitor)
}

// FindFirst returns the GID of the first element or
// InvalidGID if the container is empty.
func (d *Distribution[T]) FindFirst(ctx context.Context) (domain.GID, error) {

	v := d.mgr.FindFirst()
	if !v.Anchored() {
		return domain.InvalidGID, nil
	}

	res, err := d.visit(ctx, "find_first", v)

	return res.GID, err
}

// FindLast returns the GID of the last element or
// InvalidGID if the container is empty.
func (d *Distribution[T]) FindLast(ctx context.Context) (domain.GID, error) {

	v := d.mgr.FindLast()
	if !v.Anchored() {
		return domain.InvalidGID, nil
	}

	res, err := d.visit(ctx, "find_last", v)

	return res.GID, err
}

// Advance returns the GID n positions away from gid.
// Without globally it stays within gid's base
// container. Leaving the container yields InvalidGID.
func (d *Distribution[T]) Advance(ctx context.Context, gid domain.GID, n int64, globally bool) (domain.GID, error) {

	if !d.Contains(gid) {
		return domain.InvalidGID, d.fail("advance", gid, ErrOutOfRange)
	}

	res, err := d.visit(ctx, "advance", d.mgr.DeferAdvance(gid, n, globally))

	return res.GID, err
}

// Distance returns the number of positions from a to
// b, negative if b comes first.
func (d *Distribution[T]) Distance(ctx context.Context, a domain.GID, b domain.GID) (int64, error) {

	if !d.Contains(a) || !d.Contains(b) {
		return 0, d.fail("distance", a, ErrOutOfRange)
	}

	res, err := d.visit(ctx, "distance", d.mgr.DeferDistance(a, b))
	if err != nil {
		return 0, err
	}

	if !res.Found {
		return 0, d.fail("distance", b, ErrOutOfRange)
	}

	return res.Value, nil
}

// Search reports whether needle lies between a and b,
// walking the ordering from a.
func (d *Distribution[T]) Search(ctx context.Context, a domain.GID, b domain.GID, needle domain.GID) (bool, error) {

	if !d.Contains(a) {
		return false, d.fail("search", a, ErrOutOfRange)
	}

	res, err := d.visit(ctx, "search", d.mgr.DeferSearch(a, b, needle))

	return res.Found, err
}

// Rank returns the number of live base containers
// ordered in front of bc.
func (d *Distribution[T]) Rank(ctx context.Context, bc domain.Ref) (int64, error) {

	if !bc.Valid() {
		return 0, d.fail("rank", domain.InvalidGID, ErrOutOfRange)
	}

	res, err := d.visit(ctx, "rank", d.mgr.DeferRank(bc))

	return res.Value, err
}
