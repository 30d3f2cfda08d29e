package comm

import (
	"context"
	"time"

	"github.com/go-kit/kit/log/level"
	"google.golang.org/grpc"
)

// Constants

const (
	retryBase = 10 * time.Millisecond
	retryMax  = 2 * time.Second
)

// Structs

// outbound holds the envelopes waiting to be delivered
// to one peer. A single pump drains it, which keeps
// envelopes between two locations in order.
type outbound struct {
	target int
	conn   *grpc.ClientConn
	queue  *mailbox
}

// Functions

// Send queues env for delivery to env.Target. Envelopes
// to this location skip the network.
func (g *GRPC) Send(ctx context.Context, env *Envelope) error {

	if err := checkTarget(env, len(g.peers)); err != nil {
		return err
	}

	env.Source = g.here

	if env.data() {
		g.sent.Add(1)
	}

	var err error
	if env.Target == g.here {
		err = g.deliver(env)
	} else {
		err = g.outbound[env.Target].queue.put(env)
	}

	if err != nil && env.data() {
		g.sent.Add(^uint64(0))
	}

	return err
}

// pump delivers the envelopes queued for one peer in
// order. Failed calls are retried with backoff until
// they succeed or the transport is closed.
func (g *GRPC) pump(ctx context.Context, out *outbound) {

	defer g.wg.Done()

	for {

		env, err := out.queue.take(ctx)
		if err != nil {
			return
		}

		wait := retryBase

		for attempt := 1; ; attempt++ {

			err := out.conn.Invoke(ctx, deliverMethod, env, &Ack{})
			if err == nil {
				break
			}

			if ctx.Err() != nil {
				return
			}

			level.Warn(g.logger).Log("msg", "delivering envelope failed", "target", out.target, "kind", env.Kind, "attempt", attempt, "err", err)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}

			if wait *= 2; wait > retryMax {
				wait = retryMax
			}
		}
	}
}
