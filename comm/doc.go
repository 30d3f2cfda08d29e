/*
Package comm implements the message transport between locations. It delivers
envelopes reliably and in FIFO order per sender and target, and hands them to
exactly one dispatch goroutine per location, one after another.

Two fabrics are provided. The in-process Fabric connects all locations of one
process through unbounded mailboxes and is what tests and single-process runs
use. The GRPC fabric connects one location per process over gRPC with a cbor
codec, keepalives and optional mutual TLS. Both offer a Fence, a collective
barrier that returns once every envelope sent before it has been processed.

CAUTION! A handler passed to Serve runs on the dispatch goroutine. It must not
block waiting for another envelope to arrive, or the location stops serving.
*/
package comm
