package domain

import (
	"fmt"
)

// Constants

// InvalidGID is returned whenever a traversal runs off
// either end of the ordering or a lookup finds nothing.
const InvalidGID GID = -1

// Structs

// GID globally names one element of a distributed
// sequence. For vector-like containers it is the
// element's global index.
type GID int64

// BCID is the location-local handle of a base container.
// It is only meaningful together with a location, see Ref.
type BCID uint32

// Ref names a base container anywhere in the system.
type Ref struct {
	Location int  `cbor:"1,keyasint"`
	ID       BCID `cbor:"2,keyasint"`
}

// Range is an inclusive range of GIDs. A range with
// Last < First is empty but still carries its position.
type Range struct {
	First GID `cbor:"1,keyasint"`
	Last  GID `cbor:"2,keyasint"`
}

// Variables

// InvalidRef marks the absence of a successor or
// predecessor in the ordering.
var InvalidRef = Ref{Location: -1}

// Functions

// Valid reports whether r points at a base container.
func (r Ref) Valid() bool {
	return r.Location >= 0
}

func (r Ref) String() string {

	if !r.Valid() {
		return "invalid"
	}

	return fmt.Sprintf("%d/%d", r.Location, r.ID)
}

// EmptyAt returns the empty range positioned at first.
func EmptyAt(first GID) Range {
	return Range{First: first, Last: first - 1}
}

// Empty reports whether the range holds no GID.
func (r Range) Empty() bool {
	return r.Last < r.First
}

// Size returns the number of GIDs in the range.
func (r Range) Size() int64 {

	if r.Empty() {
		return 0
	}

	return int64(r.Last-r.First) + 1
}

// Contains reports whether gid lies within the range.
func (r Range) Contains(gid GID) bool {
	return gid >= r.First && gid <= r.Last
}

// Overlaps reports whether both ranges share at least one GID.
func (r Range) Overlaps(o Range) bool {

	if r.Empty() || o.Empty() {
		return false
	}

	return r.First <= o.Last && o.First <= r.Last
}

// Shift moves the range by delta positions.
func (r Range) Shift(delta int64) Range {
	return Range{First: r.First + GID(delta), Last: r.Last + GID(delta)}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.First, r.Last)
}

// Partition returns the block of size total assigned
// to location loc out of locations participants. Lower
// locations receive one extra element each while a
// remainder is left.
func Partition(total int64, locations int, loc int) Range {

	if locations <= 0 || loc < 0 || loc >= locations {
		return EmptyAt(0)
	}

	n := int64(locations)
	l := int64(loc)
	base := total / n
	rem := total % n

	first := l * base
	if l < rem {
		first += l
	} else {
		first += rem
	}

	size := base
	if l < rem {
		size++
	}

	return Range{First: GID(first), Last: GID(first+size) - 1}
}

// Home returns the location holding gid under the block
// partition of total elements, or -1 if gid is outside.
func Home(gid GID, total int64, locations int) int {

	if gid < 0 || int64(gid) >= total || locations <= 0 {
		return -1
	}

	n := int64(locations)
	base := total / n
	rem := total % n
	g := int64(gid)

	// First rem locations hold base+1 elements.
	if g < rem*(base+1) {
		return int(g / (base + 1))
	}

	return int(rem + (g-rem*(base+1))/base)
}
