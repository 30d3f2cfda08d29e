package directory

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/numbleroot/pgas/domain"
	"github.com/pkg/errors"
)

// Constants

// DefaultCacheSize bounds the number of cached ranges
// when no size is configured.
const DefaultCacheSize = 128

// Variables

// ErrNoOwner is returned when no location can be named
// for a GID, i.e. it lies outside the global domain.
var ErrNoOwner = errors.New("no location owns GID")

// Structs

// Resolver answers ownership questions from the local
// base containers and their ordering links. It is the
// deterministic fallback whenever the cache is wrong.
type Resolver interface {

	// Contains reports whether gid is held locally.
	Contains(gid domain.GID) bool

	// NextHop names the location closer to the owner
	// of gid along the ordering, or false if the chain
	// ends before gid.
	NextHop(gid domain.GID) (int, bool)
}

// Directory maps GIDs to owning locations for one
// container instance on one location.
type Directory struct {
	logger    log.Logger
	here      int
	locations int
	resolver  Resolver
	total     func() int64
	cache     *lru.Cache[domain.Range, int]
}

// Functions

// New returns a directory for location here. total is
// consulted for the block partition home of a GID on a
// cache miss and must be safe for concurrent use.
func New(logger log.Logger, here int, locations int, cacheSize int, resolver Resolver, total func() int64) (*Directory, error) {

	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[domain.Range, int](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create directory cache")
	}

	return &Directory{
		logger:    log.With(logger, "component", "directory"),
		here:      here,
		locations: locations,
		resolver:  resolver,
		total:     total,
		cache:     cache,
	}, nil
}

// Lookup returns the location believed to own gid.
// The answer may be stale, receivers re-resolve.
func (d *Directory) Lookup(gid domain.GID) int {

	if d.resolver.Contains(gid) {
		return d.here
	}

	// Most recently used entries win.
	keys := d.cache.Keys()
	for i := len(keys) - 1; i >= 0; i-- {

		if keys[i].Contains(gid) {

			if loc, ok := d.cache.Get(keys[i]); ok {
				return loc
			}
		}
	}

	if home := domain.Home(gid, d.total(), d.locations); home >= 0 {
		return home
	}

	if loc, ok := d.resolver.NextHop(gid); ok {
		return loc
	}

	// Nobody claims gid. Send the request where the
	// chain starts and let it fail there.
	return 0
}

// RegisterKeys records that loc owns every GID in r.
func (d *Directory) RegisterKeys(r domain.Range, loc int) {

	if r.Empty() || loc < 0 {
		return
	}

	d.cache.Add(r, loc)
}

// UnregisterKey drops every cached range covering gid.
func (d *Directory) UnregisterKey(gid domain.GID) {
	d.invalidate(domain.Range{First: gid, Last: gid})
}

// Insert records a structural insertion at gid. Cached
// ranges overlapping [gid, lastGID] no longer describe
// their owners correctly and are dropped before
// completion runs.
func (d *Directory) Insert(gid domain.GID, lastGID domain.GID, completion func()) {

	d.invalidate(domain.Range{First: gid, Last: lastGID})

	if completion != nil {
		completion()
	}
}

// Erase records a structural removal at gid, analogous
// to Insert.
func (d *Directory) Erase(gid domain.GID, lastGID domain.GID, completion func()) {

	d.invalidate(domain.Range{First: gid, Last: lastGID})

	if completion != nil {
		completion()
	}
}

func (d *Directory) invalidate(r domain.Range) {

	if r.Empty() {
		r.Last = r.First
	}

	for _, key := range d.cache.Keys() {

		if key.Overlaps(r) {
			d.cache.Remove(key)
		}
	}
}

// InvokeWhere runs exec if gid is held on this location.
// Otherwise it re-resolves the owner from the local
// ordering links, drops stale cache entries and hands
// the next location to forward. ErrNoOwner is returned
// if the chain ends before gid.
func (d *Directory) InvokeWhere(gid domain.GID, exec func(), forward func(loc int)) error {

	if d.resolver.Contains(gid) {
		exec()
		return nil
	}

	loc, ok := d.resolver.NextHop(gid)
	if !ok || loc == d.here {
		return errors.Wrapf(ErrNoOwner, "GID %d at location %d", gid, d.here)
	}

	d.UnregisterKey(gid)

	level.Debug(d.logger).Log(
		"msg", "routing miss, forwarding",
		"gid", gid,
		"to", loc,
	)

	forward(loc)

	return nil
}

// Len returns the number of cached ranges.
func (d *Directory) Len() int {
	return d.cache.Len()
}

// Clear drops the whole cache.
func (d *Directory) Clear() {
	d.cache.Purge()
}
