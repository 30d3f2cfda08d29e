package distribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics/discard"
	"github.com/stretchr/testify/assert"
)

// TestQueueOrder checks that waiting callers receive
// their turn in arrival order.
func TestQueueOrder(t *testing.T) {

	q := newQueue(discard.NewGauge())

	err := q.acquire(context.Background())
	assert.Nilf(t, err, "expected nil error but received: %v", err)

	lock := &sync.Mutex{}
	order := []int{}
	wg := &sync.WaitGroup{}

	for i := 0; i < 5; i++ {

		wg.Add(1)
		go func(i int) {

			defer wg.Done()

			err := q.acquire(context.Background())
			assert.Nilf(t, err, "expected nil error but received: %v", err)

			lock.Lock()
			order = append(order, i)
			lock.Unlock()

			q.release()
		}(i)

		// Wait for the caller to line up before
		// starting the next one.
		assert.Eventually(t, func() bool { return q.len() == i+1 }, time.Second, time.Millisecond)
	}

	q.release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, q.len())

	// Queue is free again.
	err = q.acquire(context.Background())
	assert.Nilf(t, err, "expected nil error but received: %v", err)
	q.release()
}

// TestQueueCancel checks that a cancelled caller leaves
// the line without blocking the ones behind it.
func TestQueueCancel(t *testing.T) {

	q := newQueue(discard.NewGauge())

	err := q.acquire(context.Background())
	assert.Nilf(t, err, "expected nil error but received: %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error)

	go func() {
		cancelled <- q.acquire(ctx)
	}()

	assert.Eventually(t, func() bool { return q.len() == 1 }, time.Second, time.Millisecond)

	next := make(chan error)
	go func() {
		next <- q.acquire(context.Background())
	}()

	assert.Eventually(t, func() bool { return q.len() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.Equal(t, context.Canceled, <-cancelled)
	assert.Equal(t, 1, q.len())

	q.release()

	select {
	case err := <-next:
		assert.Nilf(t, err, "expected nil error but received: %v", err)
	case <-time.After(time.Second):
		t.Fatalf("[distribution.TestQueueCancel] Expected next caller to receive its turn")
	}

	q.release()
	assert.Equal(t, 0, q.len())
}
