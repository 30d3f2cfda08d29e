package manager

import (
	"sort"
	"sync"

	"github.com/numbleroot/pgas/base"
	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/ring"
)

// Structs

// Delta describes the effect of one structural change
// on everything ordered behind the base container with
// Key: each such container moves by Delta GIDs, and the
// global size changes by Delta.
type Delta struct {
	Key   string `cbor:"1,keyasint"`
	Delta int64  `cbor:"2,keyasint"`
}

// Change is what a location has to tell everyone else
// after it mutated one of its base containers.
type Change struct {
	GID      domain.GID    `cbor:"1,keyasint"`
	BC       domain.Ref    `cbor:"2,keyasint"`
	Delta    Delta         `cbor:"3,keyasint"`
	Topology []ring.Update `cbor:"4,keyasint,omitempty"`
}

// Manager holds the base containers of one container
// instance on one location, together with their links
// in the ordering. Only the dispatch goroutine mutates
// it, readers may call in from any goroutine.
type Manager[T any] struct {
	lock       sync.RWMutex
	here       int
	threshold  int
	containers map[domain.BCID]*base.Container[T]
	order      *ring.Ordering
	nextID     domain.BCID
}

// view exposes the manager to ring step functions
// while the caller already holds the lock.
type view[T any] struct {
	m *Manager[T]
}

// Functions

// New returns an empty manager for location here. A
// base container growing beyond splitThreshold elements
// is split in two. Zero disables splitting.
func New[T any](here int, splitThreshold int) *Manager[T] {

	return &Manager[T]{
		here:       here,
		threshold:  splitThreshold,
		containers: make(map[domain.BCID]*base.Container[T]),
		order:      ring.NewOrdering(here),
	}
}

func (m *Manager[T]) ref(id domain.BCID) domain.Ref {
	return domain.Ref{Location: m.here, ID: id}
}

func (m *Manager[T]) allocate() domain.BCID {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Manager[T]) violate(op string, gid domain.GID) {
	panic(&base.ContractViolation{
		Op:     op,
		GID:    gid,
		Domain: domain.EmptyAt(gid),
	})
}

// Here returns the location of this manager.
func (m *Manager[T]) Here() int {
	return m.here
}

// Create adds a local base container holding values,
// the first of which carries GID offset, linked into
// the ordering by l.
func (m *Manager[T]) Create(l ring.Link, offset domain.GID, values []T) domain.BCID {

	m.lock.Lock()
	defer m.lock.Unlock()

	id := m.allocate()
	m.order.Add(id, l)
	m.containers[id] = base.New(id, offset, values)

	return id
}

// SetEnds installs the head and tail of the ordering.
func (m *Manager[T]) SetEnds(first domain.Ref, last domain.Ref) {

	m.lock.Lock()
	m.order.SetEnds(first, last)
	m.lock.Unlock()
}

// CreateHead starts the ordering with an empty base
// container on this location.
func (m *Manager[T]) CreateHead() (domain.BCID, ring.Update, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	id := m.nextID

	u, err := m.order.InsertHead(id)
	if err != nil {
		return 0, ring.Update{}, err
	}

	m.allocate()
	m.containers[id] = base.New[T](id, 0, nil)

	return id, u, nil
}

// First returns the head of the ordering.
func (m *Manager[T]) First() domain.Ref {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.order.First()
}

// Last returns the cached tail of the ordering.
func (m *Manager[T]) Last() domain.Ref {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.order.Last()
}

// Link returns the ordering link of local base container id.
func (m *Manager[T]) Link(id domain.BCID) (ring.Link, bool) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.order.Link(id)
}

// Domain returns the GIDs held by local base container id.
func (m *Manager[T]) Domain(id domain.BCID) domain.Range {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.domain(id)
}

func (m *Manager[T]) domain(id domain.BCID) domain.Range {

	c, found := m.containers[id]
	if !found {
		return domain.EmptyAt(0)
	}

	return c.Domain()
}

func (m *Manager[T]) within(gid domain.GID) (domain.BCID, bool) {

	for id, c := range m.containers {

		if c.Contains(gid) {
			return id, true
		}
	}

	return 0, false
}

// Contains reports whether gid is held on this location.
func (m *Manager[T]) Contains(gid domain.GID) bool {

	m.lock.RLock()
	defer m.lock.RUnlock()

	_, found := m.within(gid)

	return found
}

// Within returns the local base container holding gid.
func (m *Manager[T]) Within(gid domain.GID) (domain.BCID, bool) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.within(gid)
}

// Size returns the number of elements held locally.
func (m *Manager[T]) Size() int64 {

	m.lock.RLock()
	defer m.lock.RUnlock()

	size := int64(0)
	for _, c := range m.containers {
		size += int64(c.Size())
	}

	return size
}

// Get returns the element at local gid.
func (m *Manager[T]) Get(gid domain.GID) T {

	m.lock.RLock()
	defer m.lock.RUnlock()

	id, found := m.within(gid)
	if !found {
		m.violate("get", gid)
	}

	return m.containers[id].Get(gid)
}

// Lookup returns the element at gid if it is held
// here. Unlike Get it tolerates concurrent changes.
func (m *Manager[T]) Lookup(gid domain.GID) (T, bool) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	id, found := m.within(gid)
	if !found {
		var zero T
		return zero, false
	}

	return m.containers[id].Get(gid), true
}

// Set overwrites the element at local gid.
func (m *Manager[T]) Set(gid domain.GID, v T) {

	m.lock.Lock()
	defer m.lock.Unlock()

	id, found := m.within(gid)
	if !found {
		m.violate("set", gid)
	}

	m.containers[id].Set(gid, v)
}

// Segment returns the elements and domain of local base
// container id together with its link.
func (m *Manager[T]) Segment(id domain.BCID) ([]T, domain.Range, ring.Link) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	l, found := m.order.Link(id)
	if !found {
		m.violate("segment", domain.InvalidGID)
	}

	c := m.containers[id]

	return c.Values(), c.Domain(), l
}

// Insert places v at gid. The element in front of gid
// has to be local, or gid is 0 and the head is local.
func (m *Manager[T]) Insert(gid domain.GID, v T) (Change, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	var id domain.BCID

	if gid == 0 {

		head := m.order.First()
		if head.Location != m.here {
			m.violate("insert", gid)
		}

		id = head.ID

	} else {

		pred, found := m.within(gid - 1)
		if !found {
			m.violate("insert", gid)
		}

		id = pred
	}

	m.containers[id].Insert(gid, v)

	return m.commit(id, gid, 1)
}

// Remove deletes the local element at gid.
func (m *Manager[T]) Remove(gid domain.GID) (T, Change, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	id, found := m.within(gid)
	if !found {
		m.violate("remove", gid)
	}

	v := m.containers[id].Remove(gid)

	ch, err := m.commit(id, gid, -1)

	return v, ch, err
}

// PushBack appends v to local base container id.
func (m *Manager[T]) PushBack(id domain.BCID, v T) (domain.GID, Change, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	c, found := m.containers[id]
	if !found {
		m.violate("push_back", domain.InvalidGID)
	}

	gid := c.PushBack(v)
	ch, err := m.commit(id, gid, 1)

	return gid, ch, err
}

// PopBack removes the last element of local base
// container id, which must not be empty.
func (m *Manager[T]) PopBack(id domain.BCID) (domain.GID, T, Change, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	c, found := m.containers[id]
	if !found {
		m.violate("pop_back", domain.InvalidGID)
	}

	gid, v := c.PopBack()
	ch, err := m.commit(id, gid, -1)

	return gid, v, ch, err
}

// commit shifts everything behind id by delta and
// restructures id if it grew too large or ran empty.
func (m *Manager[T]) commit(id domain.BCID, gid domain.GID, delta int64) (Change, error) {

	key := m.mustLink(id).Key
	m.shift(key, delta)

	ch := Change{
		GID:   gid,
		BC:    m.ref(id),
		Delta: Delta{Key: key, Delta: delta},
	}

	c := m.containers[id]

	if delta > 0 && m.threshold > 0 && c.Size() > m.threshold {

		u, err := m.split(id)
		if err != nil {
			return ch, err
		}

		ch.Topology = append(ch.Topology, u)

		return ch, nil
	}

	if delta < 0 {

		if u, merged := m.tryMerge(id); merged {
			ch.Topology = append(ch.Topology, u)
			return ch, nil
		}

		if c.Empty() {
			m.order.Remove(id)
		}
	}

	return ch, nil
}

func (m *Manager[T]) mustLink(id domain.BCID) ring.Link {

	l, found := m.order.Link(id)
	if !found {
		m.violate("link", domain.InvalidGID)
	}

	return l
}

// shift moves every local base container ordered
// behind key by delta.
func (m *Manager[T]) shift(key string, delta int64) {

	for id, c := range m.containers {

		if m.order.Behind(id, key) {
			c.Shift(delta)
		}
	}
}

// split cuts base container id in half. The upper half
// becomes a new base container right behind it.
func (m *Manager[T]) split(id domain.BCID) (ring.Update, error) {

	c := m.containers[id]
	at := c.Domain().First + domain.GID(c.Size()/2)

	tail := m.nextID

	u, err := m.order.InsertAfter(id, tail)
	if err != nil {
		return ring.Update{}, err
	}

	m.allocate()
	m.containers[tail] = c.Split(tail, at)

	return u, nil
}

// tryMerge folds id into its predecessor if that one is
// local and alive, and id ran empty or both together fit
// into half the split threshold.
func (m *Manager[T]) tryMerge(id domain.BCID) (ring.Update, bool) {

	l := m.mustLink(id)
	if l.Dead || l.Prev.Location != m.here {
		return ring.Update{}, false
	}

	pl := m.mustLink(l.Prev.ID)
	if pl.Dead {
		return ring.Update{}, false
	}

	c := m.containers[id]
	p := m.containers[l.Prev.ID]

	small := m.threshold > 0 && c.Size()+p.Size() <= m.threshold/2
	if !c.Empty() && !small {
		return ring.Update{}, false
	}

	return m.merge(l.Prev.ID, id), true
}

// Merge folds local base container b into a, which has
// to directly precede it. b turns into a tombstone.
func (m *Manager[T]) Merge(a domain.BCID, b domain.BCID) ring.Update {

	m.lock.Lock()
	defer m.lock.Unlock()

	return m.merge(a, b)
}

func (m *Manager[T]) merge(a domain.BCID, b domain.BCID) ring.Update {

	m.containers[a].Append(m.containers[b])

	return m.order.Replace(b, a)
}

// Split cuts local base container id in half and
// returns the topology update announcing the new half.
func (m *Manager[T]) Split(id domain.BCID) (ring.Update, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, found := m.containers[id]; !found {
		m.violate("split", domain.InvalidGID)
	}

	return m.split(id)
}

// ApplyDelta applies a structural change announced by
// another location.
func (m *Manager[T]) ApplyDelta(d Delta) {

	m.lock.Lock()
	m.shift(d.Key, d.Delta)
	m.lock.Unlock()
}

// ApplyTopology applies a topology update announced by
// another location.
func (m *Manager[T]) ApplyTopology(u ring.Update) {

	m.lock.Lock()
	m.order.Apply(u)
	m.lock.Unlock()
}

// Clear drops every local base container and link.
func (m *Manager[T]) Clear() {

	m.lock.Lock()
	defer m.lock.Unlock()

	m.containers = make(map[domain.BCID]*base.Container[T])
	m.order.Reset()
}

// Local returns the live local base containers in order.
func (m *Manager[T]) Local() []domain.BCID {

	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.order.Local()
}

// NextHop names a location closer to the owner of gid,
// judged from the local base containers and their
// links. Empty base containers and tombstones still
// mark where they sit in the sequence, so a location
// whose containers all ran empty keeps routing. It
// reports false if the chain ends or would loop back
// here.
func (m *Manager[T]) NextHop(gid domain.GID) (int, bool) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	ids := m.order.Chain()

	if len(ids) == 0 {

		first := m.order.First()
		if !first.Valid() || first.Location == m.here {
			return 0, false
		}

		return first.Location, true
	}

	// Find the last local base container starting at
	// or in front of gid. Everything behind it starts
	// at its First, so gid lies further on.
	idx := sort.Search(len(ids), func(i int) bool {
		return m.containers[ids[i]].Domain().First > gid
	})

	if idx > 0 {
		return m.follow(m.mustLink(ids[idx-1]).Next, true)
	}

	return m.follow(m.mustLink(ids[0]).Prev, false)
}

// follow walks from ref across local tombstones and
// empty base containers until
// it leaves this location.
func (m *Manager[T]) follow(ref domain.Ref, forward bool) (int, bool) {

	for ref.Valid() && ref.Location == m.here {

		// A local base container with elements would
		// have answered already.
		l := m.mustLink(ref.ID)
		if !l.Dead && !m.containers[ref.ID].Empty() {
			return 0, false
		}

		if forward {
			ref = l.Next
		} else {
			ref = l.Prev
		}
	}

	if !ref.Valid() {
		return 0, false
	}

	return ref.Location, true
}

// Link fulfils ring.View for callers holding the lock.
func (v view[T]) Link(id domain.BCID) (ring.Link, bool) {
	return v.m.order.Link(id)
}

// Domain fulfils ring.View for callers holding the lock.
func (v view[T]) Domain(id domain.BCID) domain.Range {
	return v.m.domain(id)
}
