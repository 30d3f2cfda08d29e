package distribution

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/numbleroot/pgas/domain"
)

type metricsService[T any] struct {
	service   Service[T]
	mutations metrics.Counter
	duration  metrics.Histogram
}

// NewMetricsService counts structural mutations and
// observes their duration, both labelled by "op".
func NewMetricsService[T any](s Service[T], mutations metrics.Counter, duration metrics.Histogram) Service[T] {
	return &metricsService[T]{
		service:   s,
		mutations: mutations,
		duration:  duration,
	}
}

func (s *metricsService[T]) observe(op string, begin time.Time, err error) {

	s.duration.With("op", op).Observe(time.Since(begin).Seconds())

	if err == nil {
		s.mutations.With("op", op).Add(1)
	}
}

func (s *metricsService[T]) Size() int64 {
	return s.service.Size()
}

func (s *metricsService[T]) LocalSize() int64 {
	return s.service.LocalSize()
}

func (s *metricsService[T]) Contains(gid domain.GID) bool {
	return s.service.Contains(gid)
}

func (s *metricsService[T]) Insert(ctx context.Context, gid domain.GID, v T) error {

	begin := time.Now()
	err := s.service.Insert(ctx, gid, v)
	s.observe("insert", begin, err)

	return err
}

func (s *metricsService[T]) Erase(ctx context.Context, gid domain.GID) error {

	begin := time.Now()
	err := s.service.Erase(ctx, gid)
	s.observe("erase", begin, err)

	return err
}

func (s *metricsService[T]) PushBack(ctx context.Context, v T) (domain.GID, error) {

	begin := time.Now()
	gid, err := s.service.PushBack(ctx, v)
	s.observe("push_back", begin, err)

	return gid, err
}

func (s *metricsService[T]) PopBack(ctx context.Context) (T, error) {

	begin := time.Now()
	v, err := s.service.PopBack(ctx)
	s.observe("pop_back", begin, err)

	return v, err
}

func (s *metricsService[T]) Get(ctx context.Context, gid domain.GID) (T, error) {
	return s.service.Get(ctx, gid)
}

func (s *metricsService[T]) Set(ctx context.Context, gid domain.GID, v T) error {
	return s.service.Set(ctx, gid, v)
}

func (s *metricsService[T]) Find(ctx context.Context, gid domain.GID) (*Iterator[T], error) {
	return s.service.Find(ctx, gid)
}

func (s *metricsService[T]) ForEach(ctx context.Context, fn func(gid domain.GID, v T) bool) error {
	return s.service.ForEach(ctx, fn)
}

func (s *metricsService[T]) FindFirst(ctx context.Context) (domain.GID, error) {
	return s.service.FindFirst(ctx)
}

func (s *metricsService[T]) FindLast(ctx context.Context) (domain.GID, error) {
	return s.service.FindLast(ctx)
}

func (s *metricsService[T]) Advance(ctx context.Context, gid domain.GID, n int64, globally bool) (domain.GID, error) {
	return s.service.Advance(ctx, gid, n, globally)
}

func (s *metricsService[T]) Distance(ctx context.Context, a domain.GID, b domain.GID) (int64, error) {
	return s.service.Distance(ctx, a, b)
}

func (s *metricsService[T]) Search(ctx context.Context, a domain.GID, b domain.GID, needle domain.GID) (bool, error) {
	return s.service.Search(ctx, a, b, needle)
}

func (s *metricsService[T]) Rank(ctx context.Context, bc domain.Ref) (int64, error) {
	return s.service.Rank(ctx, bc)
}

func (s *metricsService[T]) Clear() {
	s.service.Clear()
}

func (s *metricsService[T]) Fence(ctx context.Context) error {
	return s.service.Fence(ctx)
}
