package comm

import (
	"context"
	"sync"
)

// Constants

const (
	fenceDone  = "done"
	fenceAgain = "again"
)

// Structs

// fence runs the counting termination check behind
// GRPC.Fence. Every location reports how many data
// envelopes it has sent and processed to location 0.
// Once all reports of a round are in, location 0 decides:
// the fence holds if both sums are equal and did not
// change since the previous round. Otherwise everyone
// reports again.
type fence struct {
	lock      sync.Mutex
	locations int
	round     uint64
	released  map[uint64]string
	signal    chan struct{}

	// Only used at location 0.
	tallies map[uint64]*tally
	last    *tally
}

type tally struct {
	reports int
	sent    uint64
	done    uint64
}

// Functions

func newFence(locations int) *fence {

	return &fence{
		locations: locations,
		released:  make(map[uint64]string),
		signal:    make(chan struct{}, 1),
		tallies:   make(map[uint64]*tally),
	}
}

// next starts a new round at this location.
func (f *fence) next() uint64 {

	f.lock.Lock()
	defer f.lock.Unlock()

	f.round++

	return f.round
}

// tally records one report. Once the last report of a
// round arrived, it returns the decision for that round.
func (f *fence) tally(env *Envelope) (string, uint64, bool) {

	f.lock.Lock()
	defer f.lock.Unlock()

	t, found := f.tallies[env.Round]
	if !found {
		t = &tally{}
		f.tallies[env.Round] = t
	}

	t.reports++
	t.sent += env.Sent
	t.done += env.Done

	if t.reports < f.locations {
		return "", 0, false
	}

	delete(f.tallies, env.Round)

	code := fenceAgain
	if t.sent == t.done && f.last != nil && f.last.sent == t.sent && f.last.done == t.done {
		code = fenceDone
	}

	f.last = t

	return code, env.Round, true
}

// release records the decision location 0 made for a round.
func (f *fence) release(env *Envelope) {

	f.lock.Lock()
	f.released[env.Round] = env.Code
	f.lock.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// wait blocks until the decision for round arrived.
func (f *fence) wait(ctx context.Context, round uint64) (string, error) {

	for {

		f.lock.Lock()

		code, found := f.released[round]
		if found {

			// Decisions of abandoned rounds are stale.
			for r := range f.released {
				if r <= round {
					delete(f.released, r)
				}
			}

			f.lock.Unlock()

			return code, nil
		}

		f.lock.Unlock()

		select {
		case <-f.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Fence blocks until all data envelopes sent anywhere
// before every location entered Fence are processed.
func (g *GRPC) Fence(ctx context.Context) error {

	for {

		round := g.fence.next()

		// Read processed before sent so that an envelope
		// handled in between cannot look balanced.
		done := g.done.Load()
		sent := g.sent.Load()

		err := g.Send(ctx, &Envelope{
			Kind:   KindFenceReport,
			Target: 0,
			Round:  round,
			Sent:   sent,
			Done:   done,
		})
		if err != nil {
			return err
		}

		code, err := g.fence.wait(ctx, round)
		if err != nil {
			return err
		}

		if code == fenceDone {
			return nil
		}
	}
}
