package distribution

import (
	"context"

	"github.com/numbleroot/pgas/domain"
)

// Interfaces

// Service defines the operations a distributed
// sequence container offers to its users on one
// location. Distribution implements it, logging and
// metrics wrap it.
type Service[T any] interface {

	// Size returns the global number of elements as
	// last observed on this location.
	Size() int64

	// LocalSize returns the number of elements held
	// on this location, without any messaging.
	LocalSize() int64

	// Contains reports whether gid lies within the
	// global domain.
	Contains(gid domain.GID) bool

	// Insert places v at gid. Inserts and erases issued
	// on one location are applied one after another.
	Insert(ctx context.Context, gid domain.GID, v T) error

	// Erase removes the element at gid.
	Erase(ctx context.Context, gid domain.GID) error

	// PushBack appends v and returns its GID.
	PushBack(ctx context.Context, v T) (domain.GID, error)

	// PopBack removes and returns the last element.
	PopBack(ctx context.Context) (T, error)

	// Get returns the element at gid.
	Get(ctx context.Context, gid domain.GID) (T, error)

	// Set overwrites the element at gid.
	Set(ctx context.Context, gid domain.GID, v T) error

	// Find returns an iterator positioned at gid.
	Find(ctx context.Context, gid domain.GID) (*Iterator[T], error)

	// ForEach walks all elements in order.
	ForEach(ctx context.Context, fn func(gid domain.GID, v T) bool) error

	// FindFirst returns the GID of the first element.
	FindFirst(ctx context.Context) (domain.GID, error)

	// FindLast returns the GID of the last element.
	FindLast(ctx context.Context) (domain.GID, error)

	// Advance moves n positions away from gid.
	Advance(ctx context.Context, gid domain.GID, n int64, globally bool) (domain.GID, error)

	// Distance counts the positions from a to b.
	Distance(ctx context.Context, a domain.GID, b domain.GID) (int64, error)

	// Search looks for needle between a and b.
	Search(ctx context.Context, a domain.GID, b domain.GID, needle domain.GID) (bool, error)

	// Rank counts the base containers in front of bc.
	Rank(ctx context.Context, bc domain.Ref) (int64, error)

	// Clear resets this location's part only.
	Clear()

	// Fence waits for all locations to agree.
	Fence(ctx context.Context) error
}
