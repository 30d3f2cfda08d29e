package main

import (
	"context"
	"math/rand"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/pgas/distribution"
	"github.com/numbleroot/pgas/domain"
	"github.com/pkg/errors"
)

// Structs

// workloadStats counts the mutations one location
// completed during a workload run.
type workloadStats struct {
	Pushes  int
	Inserts int
	Erases  int
	Skipped int
}

// Functions

// Delta returns by how much the location changed
// the global size.
func (s workloadStats) Delta() int64 {
	return int64(s.Pushes + s.Inserts - s.Erases)
}

// runWorkload issues n mutations on svc, cycling through
// push_back, insert and erase at pseudo-random positions.
// Positions that went out of range because of concurrent
// mutations elsewhere are skipped.
func runWorkload(ctx context.Context, logger log.Logger, svc distribution.Service[int64], here int, n int, seed int64) (workloadStats, error) {

	stats := workloadStats{}
	rng := rand.New(rand.NewSource(seed + int64(here)))

	for i := 0; i < n; i++ {

		var err error
		value := int64(here)*1000000 + int64(i)

		switch i % 3 {

		case 0:
			_, err = svc.PushBack(ctx, value)
			if err == nil {
				stats.Pushes++
			}

		case 1:
			err = svc.Insert(ctx, domain.GID(rng.Int63n(svc.Size()+1)), value)
			if err == nil {
				stats.Inserts++
			}

		case 2:

			size := svc.Size()
			if size == 0 {
				stats.Skipped++
				continue
			}

			err = svc.Erase(ctx, domain.GID(rng.Int63n(size)))
			if err == nil {
				stats.Erases++
			}
		}

		if errors.Is(err, distribution.ErrOutOfRange) {
			stats.Skipped++
			continue
		}

		if err != nil {
			return stats, err
		}
	}

	level.Info(logger).Log(
		"msg", "workload done",
		"pushes", stats.Pushes,
		"inserts", stats.Inserts,
		"erases", stats.Erases,
		"skipped", stats.Skipped,
	)

	return stats, nil
}
