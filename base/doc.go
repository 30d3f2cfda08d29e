/*
Package base implements the leaf of a distributed sequence: the base
container owning one contiguous slice of elements on one location.

A base container never sends messages. It only knows its own domain,
the inclusive range of GIDs it holds, and shifts that domain when a
structural change elsewhere in the ordering moves it. Routing a GID to
the right base container is the caller's job. Handing a base container
a GID outside its domain is a bug in the caller and panics with a
*ContractViolation instead of corrupting the global order.

CAUTION! A Container is not safe for concurrent use. On every location
it is only touched from the location's dispatch goroutine.
*/
package base
