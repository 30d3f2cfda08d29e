package manager

import (
	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/ring"
)

// Functions

// FindFirst returns a visitor looking for the first
// element, starting at the head of the ordering.
func (m *Manager[T]) FindFirst() ring.Visitor {
	return ring.NewFindFirst(m.First())
}

// FindLast returns a visitor looking for the last
// element, starting at the cached tail.
func (m *Manager[T]) FindLast() ring.Visitor {
	return ring.NewFindLast(m.Last())
}

// DeferAdvance returns a visitor moving n positions
// away from gid. It still has to be anchored at the
// owner of gid.
func (m *Manager[T]) DeferAdvance(gid domain.GID, n int64, globally bool) ring.Visitor {
	return ring.NewAdvance(gid, n, globally)
}

// DeferDistance returns a visitor measuring the
// distance from a to b, to be anchored at the owner of a.
func (m *Manager[T]) DeferDistance(a domain.GID, b domain.GID) ring.Visitor {
	return ring.NewDistance(a, b)
}

// DeferSearch returns a visitor looking for needle in
// [a, b], to be anchored at the owner of a.
func (m *Manager[T]) DeferSearch(a domain.GID, b domain.GID, needle domain.GID) ring.Visitor {
	return ring.NewSearch(a, b, needle)
}

// DeferRank returns a visitor counting the live base
// containers in front of bc.
func (m *Manager[T]) DeferRank(bc domain.Ref) ring.Visitor {
	return ring.NewRank(bc)
}

// Anchor places a visitor at the local base container
// holding its cursor. It reports false if the cursor
// is not held here.
func (m *Manager[T]) Anchor(v ring.Visitor) (ring.Visitor, bool) {

	id, found := m.Within(v.Cursor)
	if !found {
		return v, false
	}

	v.At = m.ref(id)
	v.Start = v.At

	return v, true
}

// Visit evaluates v on this location for as long as it
// stays here. The returned step is either finished or
// names the remote base container to continue at.
func (m *Manager[T]) Visit(v ring.Visitor) ring.Step {

	m.lock.RLock()
	defer m.lock.RUnlock()

	vw := view[T]{m: m}

	for {

		step := v.Step(vw)
		if step.Done || step.Visitor.At.Location != m.here {
			return step
		}

		v = step.Visitor
	}
}
