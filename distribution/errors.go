package distribution

import (
	"fmt"

	"github.com/numbleroot/pgas/domain"
	"github.com/numbleroot/pgas/rmi"
)

// Structs

// sentinel is an error that keeps its identity when it
// travels between locations.
type sentinel struct {
	code string
	msg  string
}

// OpError is returned by every failed container
// operation. Err is one of the sentinels below or a
// transport failure.
type OpError struct {
	Op     string
	GID    domain.GID
	Handle uint32
	Err    error
}

// Variables

var (
	// ErrEmpty is returned when popping from a
	// container without elements.
	ErrEmpty error = &sentinel{code: "empty", msg: "container is empty"}

	// ErrOutOfRange is returned for GIDs outside the
	// global domain of the container.
	ErrOutOfRange error = &sentinel{code: "out_of_range", msg: "GID out of range"}

	sentinels = []error{ErrEmpty, ErrOutOfRange}
)

// Functions

func (e *sentinel) Error() string {
	return e.msg
}

// Code fulfils rmi.Coder.
func (e *sentinel) Code() string {
	return e.code
}

func (e *OpError) Error() string {

	if e.GID == domain.InvalidGID {
		return fmt.Sprintf("%s on container %d: %v", e.Op, e.Handle, e.Err)
	}

	return fmt.Sprintf("%s of GID %d on container %d: %v", e.Op, e.GID, e.Handle, e.Err)
}

// Cause returns the underlying error for errors.Cause.
func (e *OpError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error for errors.Is.
func (e *OpError) Unwrap() error {
	return e.Err
}

// fromRemote turns a failure reported by another
// location back into the matching sentinel.
func fromRemote(err error) error {

	re, ok := err.(*rmi.RemoteError)
	if !ok {
		return err
	}

	for _, s := range sentinels {

		if s.(*sentinel).code == re.Code {
			return s
		}
	}

	return err
}

func (d *Distribution[T]) fail(op string, gid domain.GID, err error) error {

	return &OpError{
		Op:     op,
		GID:    gid,
		Handle: d.handle,
		Err:    fromRemote(err),
	}
}
