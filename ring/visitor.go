package ring

import (
	"fmt"

	"github.com/numbleroot/pgas/domain"
)

// Constants

// Kinds of traversal visitors.
const (
	FindFirst VisitorKind = iota + 1
	FindLast
	Advance
	Distance
	Search
	Rank
)

// Structs

// VisitorKind selects the traversal a visitor performs.
type VisitorKind uint8

// View is what a visitor may see of one location: the
// links and domains of its base containers.
type View interface {
	Link(id domain.BCID) (Link, bool)
	Domain(id domain.BCID) domain.Range
}

// Visitor carries the state of a traversal from one base
// container to the next. It is plain data so it can
// travel inside a message.
type Visitor struct {
	Kind     VisitorKind `cbor:"1,keyasint"`
	At       domain.Ref  `cbor:"2,keyasint"`
	Start    domain.Ref  `cbor:"3,keyasint"`
	Backward bool        `cbor:"4,keyasint"`
	Entered  bool        `cbor:"5,keyasint"`
	Globally bool        `cbor:"6,keyasint"`
	Cursor   domain.GID  `cbor:"7,keyasint"`
	Target   domain.GID  `cbor:"8,keyasint"`
	Needle   domain.GID  `cbor:"9,keyasint"`
	Steps    int64       `cbor:"10,keyasint"`
	Hops     int         `cbor:"11,keyasint"`
}

// Result is the answer of a finished traversal.
type Result struct {
	GID   domain.GID `cbor:"1,keyasint"`
	Value int64      `cbor:"2,keyasint"`
	Found bool       `cbor:"3,keyasint"`
}

// Step is the outcome of evaluating a visitor on one
// location: either Done with a Result, or the visitor to
// forward to Visitor.At.
type Step struct {
	Done    bool
	Result  Result
	Visitor Visitor
}

// Functions

// NewAdvance returns a visitor that moves n positions from
// gid. A negative n moves towards the head. Without
// globally the visitor never leaves the start container.
func NewAdvance(gid domain.GID, n int64, globally bool) Visitor {

	v := Visitor{
		Kind:     Advance,
		Cursor:   gid,
		Steps:    n,
		Globally: globally,
	}

	if n < 0 {
		v.Backward = true
		v.Steps = -n
	}

	return v
}

// NewDistance returns a visitor measuring the number of
// positions from a to b, negative if b precedes a.
func NewDistance(a domain.GID, b domain.GID) Visitor {
	return Visitor{Kind: Distance, Cursor: a, Target: b}
}

// NewSearch returns a visitor checking whether needle
// lies within [a, b] walking the chain from a.
func NewSearch(a domain.GID, b domain.GID, needle domain.GID) Visitor {
	return Visitor{Kind: Search, Cursor: a, Target: b, Needle: needle}
}

// NewRank returns a visitor counting the live base
// containers in front of bc.
func NewRank(bc domain.Ref) Visitor {
	return Visitor{Kind: Rank, At: bc, Start: bc, Backward: true}
}

// NewFindFirst returns a visitor looking for the GID of
// the first element, starting at the chain head.
func NewFindFirst(head domain.Ref) Visitor {
	return Visitor{Kind: FindFirst, At: head, Start: head}
}

// NewFindLast returns a visitor looking for the GID of
// the last element, starting at the chain tail.
func NewFindLast(tail domain.Ref) Visitor {
	return Visitor{Kind: FindLast, At: tail, Start: tail, Backward: true}
}

// Anchored reports whether the visitor still needs to be
// routed to the owner of its Cursor before stepping.
func (v Visitor) Anchored() bool {
	return v.At.Valid()
}

func done(r Result) Step {
	return Step{Done: true, Result: r}
}

func invalid() Step {
	return done(Result{GID: domain.InvalidGID})
}

// hop moves the visitor to ref or finishes with fallback
// if ref is invalid.
func (v Visitor) hop(ref domain.Ref, fallback Step) Step {

	if !ref.Valid() {
		return fallback
	}

	v.At = ref
	v.Entered = true
	v.Hops++

	return Step{Visitor: v}
}

// Step evaluates the visitor at its current base
// container, which must be local to view.
func (v Visitor) Step(view View) Step {

	link, ok := view.Link(v.At.ID)
	if !ok {
		panic(fmt.Sprintf("ring: visitor for %s stepped on a location without that base container", v.At))
	}

	dom := view.Domain(v.At.ID)
	skip := link.Dead || dom.Empty()

	switch v.Kind {

	case FindFirst:

		if !skip {
			return done(Result{GID: dom.First, Found: true})
		}

		return v.hop(link.Next, invalid())

	case FindLast:

		if !skip {
			return done(Result{GID: dom.Last, Found: true})
		}

		return v.hop(link.Prev, invalid())

	case Rank:

		if v.Entered && !link.Dead {
			v.Steps++
		}

		return v.hop(link.Prev, done(Result{Value: v.Steps, Found: true}))

	case Advance:
		return v.advance(link, dom, skip)

	case Distance:
		return v.distance(link, dom, skip)

	case Search:
		return v.search(link, dom, skip)
	}

	panic(fmt.Sprintf("ring: unknown visitor kind %d", v.Kind))
}

func (v Visitor) advance(link Link, dom domain.Range, skip bool) Step {

	if v.Entered {

		if skip {

			if v.Backward {
				return v.hop(link.Prev, invalid())
			}

			return v.hop(link.Next, invalid())
		}

		// Entering a base container lands on its
		// first (last when walking backwards) element.
		if v.Backward {
			v.Cursor = dom.Last
		} else {
			v.Cursor = dom.First
		}
	}

	if v.Backward {

		avail := int64(v.Cursor - dom.First)
		if v.Steps <= avail {
			return done(Result{GID: v.Cursor - domain.GID(v.Steps), Found: true})
		}

		if !v.Globally {
			return invalid()
		}

		v.Steps -= avail + 1

		return v.hop(link.Prev, invalid())
	}

	avail := int64(dom.Last - v.Cursor)
	if v.Steps <= avail {
		return done(Result{GID: v.Cursor + domain.GID(v.Steps), Found: true})
	}

	if !v.Globally {
		return invalid()
	}

	v.Steps -= avail + 1

	return v.hop(link.Next, invalid())
}

func (v Visitor) distance(link Link, dom domain.Range, skip bool) Step {

	notFound := done(Result{Found: false})

	if !v.Entered {

		if v.Backward {

			// Restarted at the start container after
			// the forward walk ran off the tail.
			v.Steps = int64(v.Cursor-dom.First) + 1

			return v.hop(link.Prev, notFound)
		}

		if dom.Contains(v.Target) {
			return done(Result{Value: int64(v.Target - v.Cursor), Found: true})
		}

		v.Start = v.At
		v.Steps = int64(dom.Last-v.Cursor) + 1

		return v.hop(link.Next, v.restart())
	}

	if skip {

		if v.Backward {
			return v.hop(link.Prev, notFound)
		}

		return v.hop(link.Next, v.restart())
	}

	if v.Backward {

		if dom.Contains(v.Target) {
			return done(Result{Value: -(v.Steps + int64(dom.Last-v.Target)), Found: true})
		}

		v.Steps += dom.Size()

		return v.hop(link.Prev, notFound)
	}

	if dom.Contains(v.Target) {
		return done(Result{Value: v.Steps + int64(v.Target-dom.First), Found: true})
	}

	v.Steps += dom.Size()

	return v.hop(link.Next, v.restart())
}

// restart sends a forward distance visitor that ran off
// the tail back to where it started, walking backwards.
func (v Visitor) restart() Step {

	v.At = v.Start
	v.Backward = true
	v.Entered = false
	v.Steps = 0
	v.Hops++

	return Step{Visitor: v}
}

func (v Visitor) search(link Link, dom domain.Range, skip bool) Step {

	notFound := done(Result{Found: false})

	if v.Entered && skip {
		return v.hop(link.Next, notFound)
	}

	lo := dom.First
	if !v.Entered {
		lo = v.Cursor
	}

	hi := dom.Last
	final := false

	if dom.Contains(v.Target) {

		// Target precedes the start, nothing to search.
		if v.Target < lo {
			return notFound
		}

		hi = v.Target
		final = true
	}

	if v.Needle >= lo && v.Needle <= hi {
		return done(Result{GID: v.Needle, Found: true})
	}

	if final {
		return notFound
	}

	return v.hop(link.Next, notFound)
}
