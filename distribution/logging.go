package distribution

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/pgas/domain"
)

type loggingService[T any] struct {
	logger  log.Logger
	service Service[T]
}

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService[T any](s Service[T], logger log.Logger) Service[T] {
	return &loggingService[T]{logger, s}
}

// logResult logs failed operations as warnings and
// everything else on debug level.
func (s *loggingService[T]) logResult(op string, gid domain.GID, err error, keyvals ...interface{}) {

	logger := log.With(s.logger,
		"method", op,
		"gid", gid,
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to perform operation "+op, "err", err)
	} else {
		level.Debug(logger).Log(keyvals...)
	}
}

func (s *loggingService[T]) Size() int64 {
	return s.service.Size()
}

func (s *loggingService[T]) LocalSize() int64 {
	return s.service.LocalSize()
}

func (s *loggingService[T]) Contains(gid domain.GID) bool {
	return s.service.Contains(gid)
}

// Insert wraps this service's Insert method with
// added logging capabilities.
func (s *loggingService[T]) Insert(ctx context.Context, gid domain.GID, v T) error {

	err := s.service.Insert(ctx, gid, v)
	s.logResult("insert", gid, err, "size", s.service.Size())

	return err
}

// Erase wraps this service's Erase method with
// added logging capabilities.
func (s *loggingService[T]) Erase(ctx context.Context, gid domain.GID) error {

	err := s.service.Erase(ctx, gid)
	s.logResult("erase", gid, err, "size", s.service.Size())

	return err
}

// PushBack wraps this service's PushBack method
// with added logging capabilities.
func (s *loggingService[T]) PushBack(ctx context.Context, v T) (domain.GID, error) {

	gid, err := s.service.PushBack(ctx, v)
	s.logResult("push_back", gid, err, "size", s.service.Size())

	return gid, err
}

// PopBack wraps this service's PopBack method
// with added logging capabilities.
func (s *loggingService[T]) PopBack(ctx context.Context) (T, error) {

	v, err := s.service.PopBack(ctx)
	s.logResult("pop_back", domain.InvalidGID, err, "size", s.service.Size())

	return v, err
}

func (s *loggingService[T]) Get(ctx context.Context, gid domain.GID) (T, error) {

	v, err := s.service.Get(ctx, gid)
	s.logResult("get", gid, err)

	return v, err
}

func (s *loggingService[T]) Set(ctx context.Context, gid domain.GID, v T) error {

	err := s.service.Set(ctx, gid, v)
	s.logResult("set", gid, err)

	return err
}

func (s *loggingService[T]) Find(ctx context.Context, gid domain.GID) (*Iterator[T], error) {
	return s.service.Find(ctx, gid)
}

func (s *loggingService[T]) ForEach(ctx context.Context, fn func(gid domain.GID, v T) bool) error {

	err := s.service.ForEach(ctx, fn)
	if err != nil {
		s.logResult("for_each", domain.InvalidGID, err)
	}

	return err
}

func (s *loggingService[T]) FindFirst(ctx context.Context) (domain.GID, error) {

	gid, err := s.service.FindFirst(ctx)
	s.logResult("find_first", gid, err)

	return gid, err
}

func (s *loggingService[T]) FindLast(ctx context.Context) (domain.GID, error) {

	gid, err := s.service.FindLast(ctx)
	s.logResult("find_last", gid, err)

	return gid, err
}

func (s *loggingService[T]) Advance(ctx context.Context, gid domain.GID, n int64, globally bool) (domain.GID, error) {

	to, err := s.service.Advance(ctx, gid, n, globally)
	s.logResult("advance", gid, err, "n", n, "globally", globally, "to", to)

	return to, err
}

func (s *loggingService[T]) Distance(ctx context.Context, a domain.GID, b domain.GID) (int64, error) {

	dist, err := s.service.Distance(ctx, a, b)
	s.logResult("distance", a, err, "to", b, "distance", dist)

	return dist, err
}

func (s *loggingService[T]) Search(ctx context.Context, a domain.GID, b domain.GID, needle domain.GID) (bool, error) {

	found, err := s.service.Search(ctx, a, b, needle)
	s.logResult("search", a, err, "to", b, "needle", needle, "found", found)

	return found, err
}

func (s *loggingService[T]) Rank(ctx context.Context, bc domain.Ref) (int64, error) {

	rank, err := s.service.Rank(ctx, bc)
	s.logResult("rank", domain.InvalidGID, err, "bc", bc, "rank", rank)

	return rank, err
}

// Clear wraps this service's Clear method with
// added logging capabilities.
func (s *loggingService[T]) Clear() {

	s.service.Clear()
	level.Info(s.logger).Log("msg", "cleared local part of container")
}

func (s *loggingService[T]) Fence(ctx context.Context) error {

	err := s.service.Fence(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "fence failed", "err", err)
	}

	return err
}
