/*
Package rmi provides remote method invocation between the locations of a
fabric. Objects that exist on every location under the same handle register
a table of methods. Other locations invoke those methods asynchronously,
optionally attaching a promise the callee fulfils once it is done.

All methods of all handles on one location run on a single dispatch goroutine
started by Runtime.Run. Methods must never wait on a Future, callers block on
their own goroutine instead.
*/
package rmi
