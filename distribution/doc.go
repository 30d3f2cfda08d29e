/*
Package distribution implements a sequence container
spread over all locations of a runtime.

Every location holds some base containers of the
container, linked into one global ordering. Structural
mutations (insert, erase, push_back, pop_back) are decided
by the location owning the affected position, applied
there and then announced to every other location as a
change: a shift for all base containers behind the
mutated one plus topology updates for split or merged
base containers. The caller's future resolves once every
location applied the change.

Element access and traversals route through the
directory of each location. Stale routing information
is corrected by forwarding requests along the ordering
until they reach the owner.
*/
package distribution
