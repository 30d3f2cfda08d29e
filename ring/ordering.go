package ring

import (
	"fmt"
	"sort"

	"github.com/numbleroot/pgas/domain"
	"github.com/pkg/errors"
	"roci.dev/fracdex"
)

// Constants

// Kinds of topology updates travelling between locations.
const (
	LinkInserted UpdateKind = iota + 1
	LinkReplaced
)

// Structs

// UpdateKind distinguishes topology updates.
type UpdateKind uint8

// Link is the ordering entry of one local base container.
type Link struct {
	Key     string     `cbor:"1,keyasint"`
	NextKey string     `cbor:"2,keyasint"`
	Prev    domain.Ref `cbor:"3,keyasint"`
	Next    domain.Ref `cbor:"4,keyasint"`
	Dead    bool       `cbor:"5,keyasint"`
}

// Update announces a topology change to all other
// locations. It is applied through Ordering.Apply.
type Update struct {
	Kind UpdateKind `cbor:"1,keyasint"`
	BC   domain.Ref `cbor:"2,keyasint"`
	Old  domain.Ref `cbor:"3,keyasint"`
	Key  string     `cbor:"4,keyasint"`
	Prev domain.Ref `cbor:"5,keyasint"`
	Next domain.Ref `cbor:"6,keyasint"`
}

// Ordering is one location's share of the ring.
type Ordering struct {
	here  int
	links map[domain.BCID]*Link
	first domain.Ref
	last  domain.Ref
}

// Functions

// NewOrdering returns an empty ordering for location here.
func NewOrdering(here int) *Ordering {

	return &Ordering{
		here:  here,
		links: make(map[domain.BCID]*Link),
		first: domain.InvalidRef,
		last:  domain.InvalidRef,
	}
}

// InitialKeys derives n ordering keys for a fresh block
// partition. Every location computes the same keys.
func InitialKeys(n int) ([]string, error) {

	if n <= 0 {
		return nil, nil
	}

	keys, err := fracdex.NKeysBetween("", "", uint(n))
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive initial ordering keys")
	}

	return keys, nil
}

// KeyBetween returns a key strictly between a and b.
// Empty strings stand for the open ends.
func KeyBetween(a string, b string) (string, error) {

	key, err := fracdex.KeyBetween(a, b)
	if err != nil {
		return "", errors.Wrapf(err, "failed to derive ordering key between '%s' and '%s'", a, b)
	}

	return key, nil
}

func (o *Ordering) ref(id domain.BCID) domain.Ref {
	return domain.Ref{Location: o.here, ID: id}
}

// Here returns the owning location.
func (o *Ordering) Here() int {
	return o.here
}

// First returns the cached head of the chain.
func (o *Ordering) First() domain.Ref {
	return o.first
}

// Last returns the cached tail of the chain. The tail
// may be a tombstone, callers walk back from there.
func (o *Ordering) Last() domain.Ref {
	return o.last
}

// Empty reports whether this location knows of no
// base container at all.
func (o *Ordering) Empty() bool {
	return !o.first.Valid()
}

// SetEnds installs the cached head and tail, used when
// all locations build the chain collectively.
func (o *Ordering) SetEnds(first domain.Ref, last domain.Ref) {
	o.first = first
	o.last = last
}

// Link returns a copy of the link of local base container id.
func (o *Ordering) Link(id domain.BCID) (Link, bool) {

	l, ok := o.links[id]
	if !ok {
		return Link{}, false
	}

	return *l, true
}

func (o *Ordering) mustLink(id domain.BCID) *Link {

	l, ok := o.links[id]
	if !ok {
		panic(fmt.Sprintf("ring: location %d has no link for base container %d", o.here, id))
	}

	return l
}

// Add registers the link of a local base container.
func (o *Ordering) Add(id domain.BCID, l Link) {

	if _, exists := o.links[id]; exists {
		panic(fmt.Sprintf("ring: base container %d already linked on location %d", id, o.here))
	}

	link := l
	o.links[id] = &link
}

// Local returns the handles of all live local base
// containers sorted by their ordering key.
func (o *Ordering) Local() []domain.BCID {
	return o.sorted(false)
}

// Chain returns the handles of all local base
// containers, tombstones included, sorted by their
// ordering key.
func (o *Ordering) Chain() []domain.BCID {
	return o.sorted(true)
}

func (o *Ordering) sorted(dead bool) []domain.BCID {

	ids := make([]domain.BCID, 0, len(o.links))
	for id, l := range o.links {
		if dead || !l.Dead {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		return o.links[ids[i]].Key < o.links[ids[j]].Key
	})

	return ids
}

// Behind reports whether local base container id is
// ordered strictly after the one carrying key.
func (o *Ordering) Behind(id domain.BCID, key string) bool {
	return o.mustLink(id).Key > key
}

// InsertAfter links the new local base container id right
// behind local base container pred. It returns the update
// all other locations have to apply.
func (o *Ordering) InsertAfter(pred domain.BCID, id domain.BCID) (Update, error) {

	p := o.mustLink(pred)

	key, err := KeyBetween(p.Key, p.NextKey)
	if err != nil {
		return Update{}, err
	}

	u := Update{
		Kind: LinkInserted,
		BC:   o.ref(id),
		Key:  key,
		Prev: o.ref(pred),
		Next: p.Next,
	}

	o.Add(id, Link{
		Key:     key,
		NextKey: p.NextKey,
		Prev:    u.Prev,
		Next:    u.Next,
	})

	p.Next = u.BC
	p.NextKey = key

	o.Apply(u)

	return u, nil
}

// InsertHead creates the head of an empty chain on this
// location. Only one location may ever do so.
func (o *Ordering) InsertHead(id domain.BCID) (Update, error) {

	if o.first.Valid() {
		panic(fmt.Sprintf("ring: location %d cannot create a second head", o.here))
	}

	key, err := KeyBetween("", "")
	if err != nil {
		return Update{}, err
	}

	u := Update{
		Kind: LinkInserted,
		BC:   o.ref(id),
		Key:  key,
		Prev: domain.InvalidRef,
		Next: domain.InvalidRef,
	}

	o.Add(id, Link{
		Key:  key,
		Prev: domain.InvalidRef,
		Next: domain.InvalidRef,
	})

	o.Apply(u)

	return u, nil
}

// Replace folds local base container old into its local
// predecessor repl. old turns into a tombstone pointing
// at repl. The returned update redirects remote links.
func (o *Ordering) Replace(old domain.BCID, repl domain.BCID) Update {

	ol := o.mustLink(old)
	rl := o.mustLink(repl)

	if ol.Prev != o.ref(repl) {
		panic(fmt.Sprintf("ring: base container %d does not directly precede %d", repl, old))
	}

	rl.Next = ol.Next
	rl.NextKey = ol.NextKey
	ol.Dead = true

	u := Update{
		Kind: LinkReplaced,
		BC:   o.ref(repl),
		Old:  o.ref(old),
		Key:  rl.Key,
	}

	o.Apply(u)

	return u
}

// Remove turns local base container id into a tombstone.
// Its links stay valid so stale references hop across it.
// The head is never removed. Removal is not announced:
// remote links and cached tails keep pointing at the
// tombstone, and it stays in the chain until the
// instance is cleared.
func (o *Ordering) Remove(id domain.BCID) bool {

	l := o.mustLink(id)
	if !l.Prev.Valid() || l.Dead {
		return false
	}

	l.Dead = true

	return true
}

// Apply is the entry point for topology updates
// broadcast by other locations.
func (o *Ordering) Apply(u Update) {

	switch u.Kind {

	case LinkInserted:

		for id, l := range o.links {

			if o.ref(id) == u.Next && l.Prev == u.Prev {
				l.Prev = u.BC
			}
		}

		if !u.Prev.Valid() && !o.first.Valid() {
			o.first = u.BC
		}

		if !u.Next.Valid() && o.last == u.Prev {
			o.last = u.BC
		}

	case LinkReplaced:

		for _, l := range o.links {

			if l.Prev == u.Old {
				l.Prev = u.BC
			}

			if l.Next == u.Old {
				l.Next = u.BC
			}
		}

		if o.first == u.Old {
			o.first = u.BC
		}

		if o.last == u.Old {
			o.last = u.BC
		}

	default:
		panic(fmt.Sprintf("ring: unknown update kind %d", u.Kind))
	}
}

// Reset forgets every link and both ends.
func (o *Ordering) Reset() {
	o.links = make(map[domain.BCID]*Link)
	o.first = domain.InvalidRef
	o.last = domain.InvalidRef
}
