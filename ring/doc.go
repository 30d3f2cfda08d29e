/*
Package ring implements the ordering of base containers across all
locations: a distributed, singly entered chain of links from the head
base container to the tail.

Every location only keeps the links of its own base containers plus a
cached reference to the head and the tail of the chain. Links carry a
fractional ordering key (roci.dev/fracdex) that never changes once a
base container exists, so "is this base container behind that one" can
be answered locally by comparing keys, no matter in which order the
broadcasts of unrelated locations arrive.

Removed base containers stay behind as tombstones. A tombstone keeps
its links and receives later updates, which makes stale references
harmless: whoever follows one hops across the tombstone.

Queries that need more than one location's view (rank, distance,
advance, search, find first/last) are expressed as a Visitor. Step
evaluates a visitor against one location's view and either answers or
names the next base container to forward the visitor to. The chain is
never materialised in one place.
*/
package ring
