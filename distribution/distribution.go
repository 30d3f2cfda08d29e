package distribution

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/numbleroot/pgas/directory"
	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/manager"
	"github.com/numbleroot/pgas/ring"
	"github.com/numbleroot/pgas/rmi"
	"github.com/pkg/errors"
)

// Constants

// Method names every location registers per container.
const (
	methodInsert   = "insert"
	methodErase    = "erase"
	methodPushBack = "push_back"
	methodPopBack  = "pop_back"
	methodCommit   = "commit"
	methodGet      = "get"
	methodSet      = "set"
	methodVisit    = "visit"
	methodSegment  = "segment"
)

// endOfDomain stands in for the open upper end of a
// range of GIDs to invalidate.
const endOfDomain = domain.GID(math.MaxInt64)

// Structs

// Instruments receives internal measurements. Nil
// fields are replaced by discarding implementations.
type Instruments struct {
	RoutingMisses metrics.Counter
	QueueDepth    metrics.Gauge
}

// Config tunes one container instance.
type Config struct {
	CacheSize      int
	SplitThreshold int
	Instruments    Instruments
}

// Distribution is one location's part of a distributed
// sequence container. It has to be created collectively,
// every location calling New in the same order.
type Distribution[T any] struct {
	logger    log.Logger
	rt        *rmi.Runtime
	handle    uint32
	here      int
	locations int
	mgr       *manager.Manager[T]
	dir       *directory.Directory
	size      atomic.Int64
	queue     *queue
	misses    metrics.Counter
}

// Functions

// New creates this location's part of a container with
// n elements, block-partitioned over all locations.
// values yields the initial element for a GID and may
// be nil for zero values.
func New[T any](logger log.Logger, rt *rmi.Runtime, cfg Config, n int64, values func(domain.GID) T) (*Distribution[T], error) {

	if n < 0 {
		return nil, errors.Errorf("cannot create container with %d elements", n)
	}

	if cfg.Instruments.RoutingMisses == nil {
		cfg.Instruments.RoutingMisses = discard.NewCounter()
	}

	if cfg.Instruments.QueueDepth == nil {
		cfg.Instruments.QueueDepth = discard.NewGauge()
	}

	handle := rt.NextHandle()
	here := rt.Here()
	locations := rt.Locations()

	d := &Distribution[T]{
		logger:    log.With(logger, "location", here, "handle", handle),
		rt:        rt,
		handle:    handle,
		here:      here,
		locations: locations,
		mgr:       manager.New[T](here, cfg.SplitThreshold),
		queue:     newQueue(cfg.Instruments.QueueDepth),
		misses:    cfg.Instruments.RoutingMisses,
	}

	dir, err := directory.New(d.logger, here, locations, cfg.CacheSize, d.mgr, d.size.Load)
	if err != nil {
		return nil, err
	}
	d.dir = dir

	if err := d.partition(n, values); err != nil {
		return nil, err
	}

	rt.Register(handle, rmi.Methods{
		methodInsert:   d.handleInsert,
		methodErase:    d.handleErase,
		methodPushBack: d.handlePushBack,
		methodPopBack:  d.handlePopBack,
		methodCommit:   d.handleCommit,
		methodGet:      d.handleGet,
		methodSet:      d.handleSet,
		methodVisit:    d.handleVisit,
		methodSegment:  d.handleSegment,
	})

	level.Debug(d.logger).Log("msg", "created container", "size", n)

	return d, nil
}

// partition builds the initial block partition. Every
// location derives the same keys and links on its own.
func (d *Distribution[T]) partition(n int64, values func(domain.GID) T) error {

	if n == 0 {
		return nil
	}

	// Only the lowest locations receive elements if
	// there are fewer elements than locations.
	k := d.locations
	if n < int64(k) {
		k = int(n)
	}

	keys, err := ring.InitialKeys(k)
	if err != nil {
		return err
	}

	for loc := 0; loc < d.locations; loc++ {
		d.dir.RegisterKeys(domain.Partition(n, d.locations, loc), loc)
	}

	d.mgr.SetEnds(domain.Ref{Location: 0}, domain.Ref{Location: k - 1})
	d.size.Store(n)

	r := domain.Partition(n, d.locations, d.here)
	if r.Empty() {
		return nil
	}

	elems := make([]T, r.Size())
	if values != nil {
		for i := range elems {
			elems[i] = values(r.First + domain.GID(i))
		}
	}

	l := ring.Link{
		Key:  keys[d.here],
		Prev: domain.InvalidRef,
		Next: domain.InvalidRef,
	}

	if d.here > 0 {
		l.Prev = domain.Ref{Location: d.here - 1}
	}

	if d.here < k-1 {
		l.Next = domain.Ref{Location: d.here + 1}
		l.NextKey = keys[d.here+1]
	}

	d.mgr.Create(l, r.First, elems)

	return nil
}

// Handle returns the handle shared by all parts of
// this container.
func (d *Distribution[T]) Handle() uint32 {
	return d.handle
}

// Size returns the global size as last observed here.
func (d *Distribution[T]) Size() int64 {
	return d.size.Load()
}

// LocalSize returns the number of elements held here.
func (d *Distribution[T]) LocalSize() int64 {
	return d.mgr.Size()
}

// Contains reports whether gid lies within the global
// domain as last observed here.
func (d *Distribution[T]) Contains(gid domain.GID) bool {
	return gid >= 0 && int64(gid) < d.size.Load()
}

// Directory exposes the routing cache of this location.
func (d *Distribution[T]) Directory() *directory.Directory {
	return d.dir
}

// Clear drops all local elements, the routing cache
// and the cached global size. Callers have to clear
// every location themselves.
func (d *Distribution[T]) Clear() {

	d.mgr.Clear()
	d.dir.Clear()
	d.size.Store(0)
}

// Fence waits until all structural changes issued
// anywhere before every location entered Fence are
// applied everywhere.
func (d *Distribution[T]) Fence(ctx context.Context) error {
	return d.rt.Fence(ctx)
}

// applyChange records a change decided elsewhere.
func (d *Distribution[T]) applyChange(ch manager.Change) {

	d.mgr.ApplyDelta(ch.Delta)

	for _, u := range ch.Topology {
		d.mgr.ApplyTopology(u)
	}

	d.record(ch)
}

// record updates what every location caches about a
// change: the global size and the routing cache.
func (d *Distribution[T]) record(ch manager.Change) {

	d.size.Add(ch.Delta.Delta)

	if ch.Delta.Delta > 0 {
		d.dir.Insert(ch.GID, endOfDomain, nil)
	} else {
		d.dir.Erase(ch.GID, endOfDomain, nil)
	}
}

// forward passes req on after a routing miss.
func (d *Distribution[T]) forward(req *rmi.Request, op string) func(loc int) {

	return func(loc int) {

		d.misses.Add(1)

		if err := req.Forward(context.Background(), loc); err != nil {
			level.Error(d.logger).Log("msg", "failed to forward request", "op", op, "to", loc, "err", err)
		}
	}
}

// locate maps a routing failure of the directory to
// the error callers see.
func locate(err error) error {

	if errors.Cause(err) == directory.ErrNoOwner {
		return errors.Wrap(ErrOutOfRange, err.Error())
	}

	return err
}
