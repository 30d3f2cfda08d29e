package comm

import (
	"context"
	"sync"
)

// Structs

// mailbox is an unbounded FIFO of envelopes. Senders
// never block, so a dispatch goroutine may always send,
// even to itself.
type mailbox struct {
	lock   sync.Mutex
	queue  []*Envelope
	signal chan struct{}
	closed bool
}

// Functions

func newMailbox() *mailbox {

	return &mailbox{
		signal: make(chan struct{}, 1),
	}
}

// put appends env. It fails once the mailbox is closed.
func (m *mailbox) put(env *Envelope) error {

	m.lock.Lock()

	if m.closed {
		m.lock.Unlock()
		return ErrClosed
	}

	m.queue = append(m.queue, env)
	m.lock.Unlock()

	// Wake a waiting taker if none is signalled yet.
	select {
	case m.signal <- struct{}{}:
	default:
	}

	return nil
}

// take removes the oldest envelope, waiting for one
// if the mailbox is empty.
func (m *mailbox) take(ctx context.Context) (*Envelope, error) {

	for {

		m.lock.Lock()

		if len(m.queue) > 0 {

			env := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.lock.Unlock()

			return env, nil
		}

		if m.closed {
			m.lock.Unlock()
			return nil, ErrClosed
		}

		m.lock.Unlock()

		select {
		case <-m.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// len returns the number of queued envelopes.
func (m *mailbox) len() int {

	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.queue)
}

// close rejects further puts. Queued envelopes can
// still be taken.
func (m *mailbox) close() {

	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}
