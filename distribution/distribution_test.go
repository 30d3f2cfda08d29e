package distribution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/numbleroot/pgas/comm"
	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/rmi"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structs

// tally records counter increments per label set.
type tally struct {
	lock   sync.Mutex
	counts map[string]float64
}

type tallyCounter struct {
	t      *tally
	labels string
}

// Functions

func newTally() *tally {
	return &tally{counts: make(map[string]float64)}
}

func (t *tally) counter() metrics.Counter {
	return tallyCounter{t: t}
}

func (t *tally) get(labels string) float64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.counts[labels]
}

func (c tallyCounter) With(labelValues ...string) metrics.Counter {
	return tallyCounter{t: c.t, labels: strings.Join(labelValues, "=")}
}

func (c tallyCounter) Add(delta float64) {
	c.t.lock.Lock()
	c.t.counts[c.labels] += delta
	c.t.lock.Unlock()
}

// deploy creates a container of n elements on an
// in-process fabric with the given number of locations.
// Element i initially holds i*10.
func deploy(t *testing.T, locations int, n int64, cfgs ...Config) []*Distribution[int] {

	f := comm.NewFabric(locations)
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	ds := make([]*Distribution[int], locations)

	for i, ep := range f.Endpoints() {

		rt := rmi.New(log.NewNopLogger(), ep)

		cfg := Config{CacheSize: 64}
		if len(cfgs) > i {
			cfg = cfgs[i]
		} else if len(cfgs) > 0 {
			cfg = cfgs[0]
		}

		d, err := New[int](log.NewNopLogger(), rt, cfg, n, func(gid domain.GID) int {
			return int(gid) * 10
		})
		require.Nilf(t, err, "expected nil error but received: %v", err)

		ds[i] = d

		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Run(ctx)
		}()
	}

	t.Cleanup(func() {
		cancel()
		f.Close()
		wg.Wait()
	})

	return ds
}

func timeout(t *testing.T) context.Context {

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// fence enters the fence on all locations at once.
func fence(t *testing.T, ds []*Distribution[int]) {

	ctx := timeout(t)
	wg := &sync.WaitGroup{}

	for _, d := range ds {

		wg.Add(1)
		go func(d *Distribution[int]) {
			defer wg.Done()
			err := d.Fence(ctx)
			assert.Nilf(t, err, "expected nil error but received: %v", err)
		}(d)
	}

	wg.Wait()
}

// expectEverywhere checks that every location observes
// exactly want, in order.
func expectEverywhere(t *testing.T, ds []*Distribution[int], want []int) {

	ctx := timeout(t)

	var local int64

	for i, d := range ds {

		values, err := d.Values(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)

		assert.Equalf(t, want, values, "location %d observed different contents", i)
		assert.Equalf(t, int64(len(want)), d.Size(), "location %d observed different size", i)

		local += d.LocalSize()
	}

	assert.Equal(t, int64(len(want)), local)
}

func sequence(n int) []int {

	s := make([]int, n)
	for i := range s {
		s[i] = i * 10
	}

	return s
}

// TestPartition checks the initial block partition and
// that every location can read the whole container.
func TestPartition(t *testing.T) {

	ds := deploy(t, 4, 10)

	sizes := []int64{3, 3, 2, 2}
	for i, d := range ds {
		assert.Equal(t, sizes[i], d.LocalSize())
		assert.Equal(t, ds[0].Handle(), d.Handle())
	}

	expectEverywhere(t, ds, sequence(10))

	// Fewer elements than locations.
	small := deploy(t, 4, 2)
	assert.Equal(t, int64(0), small[3].LocalSize())
	expectEverywhere(t, small, sequence(2))

	_, err := New[int](log.NewNopLogger(), rmi.New(log.NewNopLogger(), comm.NewFabric(1).Endpoint(0)), Config{}, -1, nil)
	assert.NotNil(t, err)
}

// TestGetSet writes on one location and reads from
// all others.
func TestGetSet(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	for gid := domain.GID(0); gid < 10; gid++ {

		err := ds[int(gid)%4].Set(ctx, gid, int(gid)+1000)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	for _, d := range ds {

		for gid := domain.GID(0); gid < 10; gid++ {

			v, err := d.Get(ctx, gid)
			require.Nilf(t, err, "expected nil error but received: %v", err)
			assert.Equal(t, int(gid)+1000, v)
		}
	}

	assert.True(t, ds[2].Contains(9))
	assert.False(t, ds[2].Contains(10))
	assert.False(t, ds[2].Contains(-1))
}

// TestInsertErase checks that inserts and erases from
// any location end up in the same order everywhere.
func TestInsertErase(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	err := ds[2].Insert(ctx, 5, 55)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{0, 10, 20, 30, 40, 55, 50, 60, 70, 80, 90})

	err = ds[3].Erase(ctx, 0)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	err = ds[1].Erase(ctx, 9)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{10, 20, 30, 40, 55, 50, 60, 70, 80})

	// Appending through Insert at Size.
	err = ds[0].Insert(ctx, domain.GID(ds[0].Size()), 100)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{10, 20, 30, 40, 55, 50, 60, 70, 80, 100})
}

// TestInsertSequence issues many mutations from one
// location, the queue keeps them in issue order.
func TestInsertSequence(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 4)

	for i := 0; i < 20; i++ {

		err := ds[3].Insert(ctx, domain.GID(i+1), 100+i)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	fence(t, ds)

	want := []int{0}
	for i := 0; i < 20; i++ {
		want = append(want, 100+i)
	}
	want = append(want, 10, 20, 30)

	expectEverywhere(t, ds, want)
}

// TestEmptyContainer starts without elements, the head
// is created on first use no matter where.
func TestEmptyContainer(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 0)

	_, err := ds[2].PopBack(ctx)
	assert.True(t, errors.Is(err, ErrEmpty), "expected ErrEmpty but received: %v", err)

	err = ds[3].Insert(ctx, 0, 7)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{7})

	first, err := ds[1].FindFirst(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(0), first)
}

// TestPushPop appends from several locations and pops
// everything again.
func TestPushPop(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 0)

	gid, err := ds[1].PushBack(ctx, 10)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(0), gid)

	fence(t, ds)

	// Concurrent appends land in some order, but in
	// the same one everywhere.
	wg := &sync.WaitGroup{}
	for i, loc := range []int{2, 3} {

		wg.Add(1)
		go func(loc int, v int) {
			defer wg.Done()
			_, err := ds[loc].PushBack(ctx, v)
			assert.Nilf(t, err, "expected nil error but received: %v", err)
		}(loc, (i+2)*10)
	}
	wg.Wait()

	fence(t, ds)

	values, err := ds[0].Values(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	require.Len(t, values, 3)
	assert.Equal(t, 10, values[0])
	assert.ElementsMatch(t, []int{20, 30}, values[1:])

	expectEverywhere(t, ds, values)

	for i := len(values) - 1; i >= 0; i-- {

		v, err := ds[i].PopBack(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)
		assert.Equal(t, values[i], v)

		fence(t, ds)
	}

	expectEverywhere(t, ds, []int{})

	_, err = ds[3].PopBack(ctx)
	assert.True(t, errors.Is(err, ErrEmpty), "expected ErrEmpty but received: %v", err)
}

// TestConcurrentHeadMutations races an erase of the
// first element against an insert in front of it.
func TestConcurrentHeadMutations(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 3)

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := ds[0].Erase(ctx, 0)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	go func() {
		defer wg.Done()
		err := ds[1].Insert(ctx, 0, 99)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	wg.Wait()
	fence(t, ds)

	values, err := ds[3].Values(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	// Erase first leaves the new element, insert first
	// has it erased again.
	ok := assert.ObjectsAreEqual([]int{99, 10, 20}, values) || assert.ObjectsAreEqual([]int{0, 10, 20}, values)
	assert.Truef(t, ok, "unexpected contents %v", values)

	expectEverywhere(t, ds, values)
}

// TestConcurrentInserts lets every location insert at
// once, the size and contents agree after a fence.
func TestConcurrentInserts(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 8)

	wg := &sync.WaitGroup{}

	for i, d := range ds {

		wg.Add(1)
		go func(i int, d *Distribution[int]) {

			defer wg.Done()

			for j := 0; j < 5; j++ {
				err := d.Insert(ctx, domain.GID(2*i), 1000+10*i+j)
				assert.Nilf(t, err, "expected nil error but received: %v", err)
			}
		}(i, d)
	}

	wg.Wait()
	fence(t, ds)

	values, err := ds[0].Values(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	require.Len(t, values, 28)

	expectEverywhere(t, ds, values)

	inserted := 0
	for _, v := range values {
		if v >= 1000 {
			inserted++
		}
	}
	assert.Equal(t, 20, inserted)

	// Original elements keep their relative order.
	originals := []int{}
	for _, v := range values {
		if v < 1000 {
			originals = append(originals, v)
		}
	}
	assert.True(t, sort.IntsAreSorted(originals))
}

// TestStaleDirectory makes one location believe every
// element lives on location 2. Operations still reach
// the right place and apply exactly once.
func TestStaleDirectory(t *testing.T) {

	ctx := timeout(t)
	misses := newTally()

	ds := deploy(t, 4, 10, Config{CacheSize: 64}, Config{CacheSize: 64},
		Config{CacheSize: 64, Instruments: Instruments{RoutingMisses: misses.counter()}}, Config{CacheSize: 64})

	ds[3].Directory().RegisterKeys(domain.Range{First: 0, Last: 9}, 2)

	err := ds[3].Insert(ctx, 4, 99)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{0, 10, 20, 30, 99, 40, 50, 60, 70, 80, 90})

	assert.True(t, misses.get("") > 0)

	ds[3].Directory().RegisterKeys(domain.Range{First: 0, Last: 10}, 2)

	err = ds[3].Set(ctx, 1, 11)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	v, err := ds[3].Get(ctx, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, 11, v)

	err = ds[3].Erase(ctx, 4)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{0, 11, 20, 30, 40, 50, 60, 70, 80, 90})
}

// TestEmptiedHead empties location 0, which keeps the
// head. Requests routed there by the block partition
// are forwarded along the ordering.
func TestEmptiedHead(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 8)

	for i := 0; i < 2; i++ {
		err := ds[0].Erase(ctx, 0)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	fence(t, ds)
	expectEverywhere(t, ds, []int{20, 30, 40, 50, 60, 70})
	assert.Equal(t, int64(0), ds[0].LocalSize())

	for _, d := range ds {
		v, err := d.Get(ctx, 0)
		require.Nilf(t, err, "expected nil error but received: %v", err)
		assert.Equal(t, 20, v)
	}

	// Point location 3 straight at the empty head.
	ds[3].Directory().RegisterKeys(domain.Range{First: 0, Last: 5}, 0)

	v, err := ds[3].Get(ctx, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, 30, v)

	gid, err := ds[3].Advance(ctx, 0, 2, true)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(2), gid)

	found, err := ds[3].Search(ctx, 0, 4, 3)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.True(t, found)

	err = ds[3].Erase(ctx, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{20, 40, 50, 60, 70})

	ds[3].Directory().RegisterKeys(domain.Range{First: 0, Last: 4}, 0)

	err = ds[3].Insert(ctx, 1, 5)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{20, 5, 40, 50, 60, 70})

	// The head itself takes elements again.
	err = ds[2].Insert(ctx, 0, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds)
	expectEverywhere(t, ds, []int{1, 20, 5, 40, 50, 60, 70})
	assert.Equal(t, int64(1), ds[0].LocalSize())
}

// TestOutOfRange checks the errors for GIDs outside
// the global domain.
func TestOutOfRange(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	_, err := ds[1].Get(ctx, 10)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	err = ds[1].Set(ctx, -1, 0)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	err = ds[1].Insert(ctx, 11, 0)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	err = ds[1].Erase(ctx, 10)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	_, err = ds[1].Find(ctx, 12)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	opErr := &OpError{}
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "find", opErr.Op)
	assert.Equal(t, domain.GID(12), opErr.GID)

	_, err = ds[1].Rank(ctx, domain.InvalidRef)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	// Nothing happened.
	expectEverywhere(t, ds, sequence(10))
}

// TestTraversal runs every visitor kind across the
// block partition [0,2] [3,5] [6,7] [8,9].
func TestTraversal(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	for _, d := range ds {

		first, err := d.FindFirst(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)
		assert.Equal(t, domain.GID(0), first)

		last, err := d.FindLast(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)
		assert.Equal(t, domain.GID(9), last)
	}

	d := ds[2]

	gid, err := d.Advance(ctx, 0, 7, true)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(7), gid)

	gid, err = d.Advance(ctx, 0, 7, false)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.InvalidGID, gid)

	gid, err = d.Advance(ctx, 9, -9, true)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(0), gid)

	gid, err = d.Advance(ctx, 8, 5, true)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.InvalidGID, gid)

	dist, err := d.Distance(ctx, 1, 8)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, int64(7), dist)

	dist, err = d.Distance(ctx, 8, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, int64(-7), dist)

	dist, err = d.Distance(ctx, 4, 4)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, int64(0), dist)

	found, err := d.Search(ctx, 0, 9, 5)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.True(t, found)

	found, err = d.Search(ctx, 0, 3, 5)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.False(t, found)

	for loc := 0; loc < 4; loc++ {

		rank, err := d.Rank(ctx, domain.Ref{Location: loc, ID: 0})
		require.Nilf(t, err, "expected nil error but received: %v", err)
		assert.Equal(t, int64(loc), rank)
	}
}

// TestIterator walks forward and backward across base
// container boundaries.
func TestIterator(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	it, err := ds[0].Find(ctx, 1)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	seen := []int{}
	for it.Valid() {

		v, err := it.Value(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)
		seen = append(seen, v)

		err = it.Next(ctx)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	assert.Equal(t, sequence(10)[1:], seen)

	err = it.Next(ctx)
	assert.True(t, errors.Is(err, ErrOutOfRange), "expected ErrOutOfRange but received: %v", err)

	it, err = ds[3].Find(ctx, 6)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	err = it.Prev(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(5), it.GID())
}

// TestForEachStops checks that ForEach ends early.
func TestForEachStops(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	visited := []domain.GID{}

	err := ds[1].ForEach(ctx, func(gid domain.GID, v int) bool {
		visited = append(visited, gid)
		return gid < 4
	})
	require.Nilf(t, err, "expected nil error but received: %v", err)

	assert.Equal(t, []domain.GID{0, 1, 2, 3, 4}, visited)
}

// TestSplitMerge grows one base container beyond the
// split threshold and shrinks it again.
func TestSplitMerge(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 4, Config{CacheSize: 64, SplitThreshold: 4})

	for i := 0; i < 5; i++ {

		err := ds[0].Insert(ctx, 1, 100+i)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	fence(t, ds)
	expectEverywhere(t, ds, []int{0, 104, 103, 102, 101, 100, 10, 20, 30})

	assert.True(t, len(ds[0].mgr.Local()) > 1, "expected base container on location 0 to be split")

	rank, err := ds[2].Rank(ctx, domain.Ref{Location: 3, ID: 0})
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, int64(len(ds[0].mgr.Local())+2), rank)

	// Elements behind the split are still reachable
	// by traversals.
	gid, err := ds[3].Advance(ctx, 0, 6, true)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(6), gid)

	for i := 0; i < 5; i++ {

		err := ds[(i+1)%4].Erase(ctx, 1)
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	fence(t, ds)
	expectEverywhere(t, ds, sequence(4))

	last, err := ds[1].FindLast(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(3), last)
}

// TestClear resets all locations.
func TestClear(t *testing.T) {

	ds := deploy(t, 4, 10)

	for _, d := range ds {
		d.Clear()
	}

	for _, d := range ds {
		assert.Equal(t, int64(0), d.Size())
		assert.Equal(t, int64(0), d.LocalSize())
		assert.Equal(t, 0, d.Directory().Len())
	}
}

// TestDecorators wraps a container with logging and
// metrics and counts successful mutations.
func TestDecorators(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 4)

	mutations := newTally()

	var svc Service[int] = ds[1]
	svc = NewLoggingService[int](svc, log.NewNopLogger())
	svc = NewMetricsService[int](svc, mutations.counter(), discard.NewHistogram())

	err := svc.Insert(ctx, 2, 25)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	_, err = svc.PushBack(ctx, 40)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	v, err := svc.PopBack(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, 40, v)

	err = svc.Erase(ctx, 100)
	assert.NotNil(t, err)

	fence(t, ds)

	assert.Equal(t, float64(1), mutations.get("op=insert"))
	assert.Equal(t, float64(1), mutations.get("op=push_back"))
	assert.Equal(t, float64(1), mutations.get("op=pop_back"))
	assert.Equal(t, float64(0), mutations.get("op=erase"))

	assert.Equal(t, int64(5), svc.Size())

	values := []int{}
	err = svc.ForEach(ctx, func(gid domain.GID, v int) bool {
		values = append(values, v)
		return true
	})
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, []int{0, 10, 25, 20, 30}, values)
}

// TestOrderedPushes appends twice from location 0 while
// location 2 appends once, starting after the first
// append committed.
func TestOrderedPushes(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 0)

	first := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {

		defer wg.Done()

		_, err := ds[0].PushBack(ctx, 10)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
		close(first)

		_, err = ds[0].PushBack(ctx, 20)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	go func() {

		defer wg.Done()

		<-first

		_, err := ds[2].PushBack(ctx, 30)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	wg.Wait()
	fence(t, ds)

	values, err := ds[1].Values(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	ok := assert.ObjectsAreEqual([]int{10, 20, 30}, values) || assert.ObjectsAreEqual([]int{10, 30, 20}, values)
	assert.Truef(t, ok, "unexpected contents %v", values)

	expectEverywhere(t, ds, values)
}

// TestEraseInsertRace erases the only element from
// location 1 while location 0 inserts in front of it.
func TestEraseInsertRace(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 1)

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := ds[1].Erase(ctx, 0)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	go func() {
		defer wg.Done()
		err := ds[0].Insert(ctx, 0, 99)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	}()

	wg.Wait()
	fence(t, ds)

	values, err := ds[2].Values(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	// Erase first leaves the new element, insert first
	// has it erased again.
	ok := assert.ObjectsAreEqual([]int{99}, values) || assert.ObjectsAreEqual([]int{0}, values)
	assert.Truef(t, ok, "unexpected contents %v", values)

	expectEverywhere(t, ds, values)
}

// TestRoundTrip pushes and pops one element, leaving
// the container as it was.
func TestRoundTrip(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 4, 10)

	gid, err := ds[2].PushBack(ctx, 77)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, domain.GID(10), gid)

	v, err := ds[2].PopBack(ctx)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, 77, v)

	fence(t, ds)
	expectEverywhere(t, ds, sequence(10))
}

// TestFenceWaitsForAll lets one location fence early.
// It only returns after the others entered the fence,
// observing what they did before.
func TestFenceWaitsForAll(t *testing.T) {

	ctx := timeout(t)
	ds := deploy(t, 3, 0)

	seen := make(chan int64, 1)
	go func() {
		err := ds[0].Fence(ctx)
		assert.Nilf(t, err, "expected nil error but received: %v", err)
		seen <- ds[0].Size()
	}()

	time.Sleep(50 * time.Millisecond)

	_, err := ds[2].PushBack(ctx, 30)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	fence(t, ds[1:])

	assert.Equal(t, int64(1), <-seen)
	expectEverywhere(t, ds, []int{30})
}
