package base

import (
	"fmt"

	"github.com/numbleroot/pgas/domain"
)

// Structs

// ContractViolation is the panic value raised whenever
// a base container is asked to operate on a GID it
// does not own.
type ContractViolation struct {
	Op     string
	ID     domain.BCID
	GID    domain.GID
	Domain domain.Range
}

// Container owns the elements of one base container.
// Its domain starts at offset and spans len(elems).
type Container[T any] struct {
	id     domain.BCID
	offset domain.GID
	elems  []T
}

// Functions

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation: %s of GID %d on base container %d with domain %s", e.Op, e.GID, e.ID, e.Domain)
}

// New returns a base container with handle id whose
// first element will carry GID offset.
func New[T any](id domain.BCID, offset domain.GID, values []T) *Container[T] {

	elems := make([]T, len(values))
	copy(elems, values)

	return &Container[T]{
		id:     id,
		offset: offset,
		elems:  elems,
	}
}

func (c *Container[T]) violate(op string, gid domain.GID) {
	panic(&ContractViolation{
		Op:     op,
		ID:     c.id,
		GID:    gid,
		Domain: c.Domain(),
	})
}

// ID returns the location-local handle.
func (c *Container[T]) ID() domain.BCID {
	return c.id
}

// Domain returns the inclusive GID range currently held.
func (c *Container[T]) Domain() domain.Range {
	return domain.Range{
		First: c.offset,
		Last:  c.offset + domain.GID(len(c.elems)) - 1,
	}
}

// Size returns the number of local elements.
func (c *Container[T]) Size() int {
	return len(c.elems)
}

// Empty reports whether no element is held.
func (c *Container[T]) Empty() bool {
	return len(c.elems) == 0
}

// Contains reports whether gid is held here.
func (c *Container[T]) Contains(gid domain.GID) bool {
	return c.Domain().Contains(gid)
}

// Get returns the element stored at gid.
func (c *Container[T]) Get(gid domain.GID) T {

	if !c.Contains(gid) {
		c.violate("get", gid)
	}

	return c.elems[gid-c.offset]
}

// Set overwrites the element stored at gid.
func (c *Container[T]) Set(gid domain.GID, v T) {

	if !c.Contains(gid) {
		c.violate("set", gid)
	}

	c.elems[gid-c.offset] = v
}

// Insert places v at gid and moves every following
// local element up by one. gid may equal Last+1,
// which appends.
func (c *Container[T]) Insert(gid domain.GID, v T) {

	pos := int64(gid - c.offset)
	if pos < 0 || pos > int64(len(c.elems)) {
		c.violate("insert", gid)
	}

	var zero T
	c.elems = append(c.elems, zero)
	copy(c.elems[pos+1:], c.elems[pos:])
	c.elems[pos] = v
}

// Remove deletes the element at gid and returns it.
func (c *Container[T]) Remove(gid domain.GID) T {

	if !c.Contains(gid) {
		c.violate("remove", gid)
	}

	pos := gid - c.offset
	v := c.elems[pos]

	copy(c.elems[pos:], c.elems[pos+1:])

	var zero T
	c.elems[len(c.elems)-1] = zero
	c.elems = c.elems[:len(c.elems)-1]

	return v
}

// PushFront places v in front of the first local element.
// The domain keeps its starting GID.
func (c *Container[T]) PushFront(v T) {
	c.Insert(c.offset, v)
}

// PushBack appends v and returns its GID.
func (c *Container[T]) PushBack(v T) domain.GID {

	c.elems = append(c.elems, v)

	return c.offset + domain.GID(len(c.elems)) - 1
}

// PopBack removes the last local element. Popping an
// empty base container is a contract violation.
func (c *Container[T]) PopBack() (domain.GID, T) {

	if len(c.elems) == 0 {
		c.violate("pop_back", c.offset)
	}

	gid := c.Domain().Last

	return gid, c.Remove(gid)
}

// Shift moves the whole domain by delta GIDs. It is the
// local effect of a structural change in front of us.
func (c *Container[T]) Shift(delta int64) {
	c.offset += domain.GID(delta)
}

// Split cuts the container at gid: elements from gid
// onwards move into a new container with handle id.
func (c *Container[T]) Split(id domain.BCID, gid domain.GID) *Container[T] {

	pos := int64(gid - c.offset)
	if pos < 0 || pos > int64(len(c.elems)) {
		c.violate("split", gid)
	}

	tail := New(id, gid, c.elems[pos:])
	c.elems = c.elems[:pos:pos]

	return tail
}

// Append moves all elements of other behind ours. other
// must start exactly where we end.
func (c *Container[T]) Append(other *Container[T]) {

	if other.offset != c.offset+domain.GID(len(c.elems)) {
		c.violate("merge", other.offset)
	}

	c.elems = append(c.elems, other.elems...)

	// other stays positioned right behind us.
	other.offset += domain.GID(len(other.elems))
	other.elems = nil
}

// Values returns a copy of the local elements in order.
func (c *Container[T]) Values() []T {

	out := make([]T, len(c.elems))
	copy(out, c.elems)

	return out
}
