package comm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Constants

const deliverMethod = "/pgas.comm.Fabric/Deliver"

// Structs

// GRPC is the Transport of one location in a fabric of
// processes. It receives envelopes through a gRPC server
// and keeps one ordered outbound queue per peer.
type GRPC struct {
	logger    log.Logger
	here      int
	peers     []string
	server    *grpc.Server
	inbox     *mailbox
	outbound  []*outbound
	fence     *fence
	sent      atomic.Uint64
	done      atomic.Uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// fabricServer is implemented by the receiving side.
type fabricServer interface {
	Deliver(ctx context.Context, env *Envelope) (*Ack, error)
}

// Variables

var fabricDesc = grpc.ServiceDesc{
	ServiceName: "pgas.comm.Fabric",
	HandlerType: (*fabricServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pgas/comm/fabric",
}

// Functions

// NewGRPC starts the gRPC receiver of location here on
// socket and dials all other locations listed in peers,
// which holds one address per location. A nil tlsConfig
// communicates in plain text. dialer may be nil.
func NewGRPC(logger log.Logger, here int, peers []string, socket net.Listener, tlsConfig *tls.Config, dialer func(context.Context, string) (net.Conn, error)) (*GRPC, error) {

	if here < 0 || here >= len(peers) {
		return nil, errors.Errorf("location %d outside of configured peers [0, %d)", here, len(peers))
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &GRPC{
		logger:   log.With(logger, "location", here),
		here:     here,
		peers:    peers,
		inbox:    newMailbox(),
		outbound: make([]*outbound, len(peers)),
		fence:    newFence(len(peers)),
		cancel:   cancel,
	}

	// Connect to every other location. Dialing does
	// not block, so peers may still be starting up.
	for loc, addr := range peers {

		if loc == here {
			continue
		}

		conn, err := grpc.Dial(addr, SenderOptions(tlsConfig, dialer)...)
		if err != nil {
			cancel()
			g.closeConns()
			return nil, errors.Wrapf(err, "failed to dial location %d at %s", loc, addr)
		}

		g.outbound[loc] = &outbound{
			target: loc,
			conn:   conn,
			queue:  newMailbox(),
		}
	}

	// Start one pump per peer in background.
	for _, out := range g.outbound {

		if out == nil {
			continue
		}

		g.wg.Add(1)
		go g.pump(ctx, out)
	}

	g.server = grpc.NewServer(ReceiverOptions(tlsConfig)...)
	g.server.RegisterService(&fabricDesc, g)

	go func() {

		level.Info(g.logger).Log("msg", fmt.Sprintf("listening for envelopes on %s", socket.Addr()))

		if err := g.server.Serve(socket); err != nil {
			level.Error(g.logger).Log("msg", "gRPC receiver stopped", "err", err)
		}
	}()

	return g, nil
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	env := new(Envelope)
	if err := dec(env); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(fabricServer).Deliver(ctx, env)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(fabricServer).Deliver(ctx, req.(*Envelope))
	}

	return interceptor(ctx, env, info, handler)
}

// Deliver accepts one envelope from a peer. Data
// envelopes are queued for the dispatch goroutine,
// fence traffic is handled right away.
func (g *GRPC) Deliver(ctx context.Context, env *Envelope) (*Ack, error) {

	if err := g.deliver(env); err != nil {
		return nil, err
	}

	return &Ack{}, nil
}

func (g *GRPC) deliver(env *Envelope) error {

	switch env.Kind {

	case KindFenceReport:

		code, round, complete := g.fence.tally(env)
		if !complete {
			return nil
		}

		level.Debug(g.logger).Log("msg", "fence round complete", "round", round, "decision", code)

		// Tell every location how the round ended.
		for loc := 0; loc < len(g.peers); loc++ {

			err := g.Send(context.Background(), &Envelope{
				Kind:   KindFenceRelease,
				Target: loc,
				Round:  round,
				Code:   code,
			})
			if err != nil {
				return errors.Wrapf(err, "failed to release fence round %d at location %d", round, loc)
			}
		}

		return nil

	case KindFenceRelease:

		g.fence.release(env)
		return nil
	}

	return g.inbox.put(env)
}

// Here returns the location this transport serves.
func (g *GRPC) Here() int {
	return g.here
}

// Locations returns the number of locations.
func (g *GRPC) Locations() int {
	return len(g.peers)
}

// Serve hands received envelopes to h one after
// another until ctx is done or the transport closes.
func (g *GRPC) Serve(ctx context.Context, h Handler) error {

	for {

		env, err := g.inbox.take(ctx)
		if err != nil {

			if err == ErrClosed {
				return nil
			}

			return err
		}

		h(env)
		g.done.Add(1)
	}
}

// Close stops the receiver, the outbound pumps and
// all connections. Envelopes not yet delivered are lost.
func (g *GRPC) Close() error {

	g.closeOnce.Do(func() {

		g.cancel()

		for _, out := range g.outbound {
			if out != nil {
				out.queue.close()
			}
		}

		g.wg.Wait()
		g.server.Stop()
		g.closeConns()
		g.inbox.close()
	})

	return nil
}

func (g *GRPC) closeConns() {

	for _, out := range g.outbound {

		if out == nil {
			continue
		}

		if err := out.conn.Close(); err != nil {
			level.Debug(g.logger).Log("msg", "closing connection failed", "target", out.target, "err", err)
		}
	}
}
