package distribution

import (
	"context"
	"sync"

	"github.com/go-kit/kit/metrics"
)

// Structs

// queue serialises structural mutations of one
// container on one location. Callers take turns in
// arrival order, only one turn is active at a time.
type queue struct {
	lock    sync.Mutex
	busy    bool
	waiting []chan struct{}
	depth   metrics.Gauge
}

// Functions

func newQueue(depth metrics.Gauge) *queue {
	return &queue{depth: depth}
}

// acquire waits for the caller's turn.
func (q *queue) acquire(ctx context.Context) error {

	q.lock.Lock()

	if !q.busy {
		q.busy = true
		q.lock.Unlock()
		return nil
	}

	turn := make(chan struct{})
	q.waiting = append(q.waiting, turn)
	q.depth.Set(float64(len(q.waiting)))

	q.lock.Unlock()

	select {

	case <-turn:
		return nil

	case <-ctx.Done():

		q.lock.Lock()
		defer q.lock.Unlock()

		for i, w := range q.waiting {

			if w == turn {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				q.depth.Set(float64(len(q.waiting)))
				return ctx.Err()
			}
		}

		// Our turn arrived concurrently, pass it on.
		q.handOver()

		return ctx.Err()
	}
}

// release ends the active turn.
func (q *queue) release() {

	q.lock.Lock()
	q.handOver()
	q.lock.Unlock()
}

func (q *queue) handOver() {

	if len(q.waiting) == 0 {
		q.busy = false
		return
	}

	next := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.depth.Set(float64(len(q.waiting)))

	close(next)
}

// len returns the number of callers waiting for a turn.
func (q *queue) len() int {

	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.waiting)
}
