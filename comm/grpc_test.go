package comm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/numbleroot/pgas/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/test/bufconn"
)

// grpcTransports starts a fabric of n GRPC transports
// talking through in-memory listeners. Without
// tlsConfigs they communicate in plain text.
func grpcTransports(t *testing.T, n int, tlsConfigs ...*tls.Config) []Transport {

	listeners := make(map[string]*bufconn.Listener)
	peers := make([]string, n)

	for i := 0; i < n; i++ {
		peers[i] = fmt.Sprintf("location-%d", i)
		listeners[peers[i]] = bufconn.Listen(1 << 20)
	}

	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		return listeners[addr].DialContext(ctx)
	}

	trs := make([]Transport, n)

	for i := 0; i < n; i++ {

		var tlsConfig *tls.Config
		if len(tlsConfigs) > i {
			tlsConfig = tlsConfigs[i]
		}

		g, err := NewGRPC(log.NewNopLogger(), i, peers, listeners[peers[i]], tlsConfig, dialer)
		if err != nil {
			t.Fatalf("[comm.grpcTransports] Expected nil error from NewGRPC but received: %v", err)
		}

		trs[i] = g
	}

	return trs
}

func closeAll(trs []Transport) {
	for _, tr := range trs {
		tr.Close()
	}
}

// TestGRPCFIFO sends envelopes from every location to
// every location and checks per-pair ordering.
func TestGRPCFIFO(t *testing.T) {

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trs := grpcTransports(t, 3)
	rec := newRecorder()
	wg := serveAll(t, ctx, trs, rec)

	for _, tr := range trs {

		for i := 0; i < 20; i++ {

			for target := 0; target < 3; target++ {

				err := tr.Send(ctx, &Envelope{
					Kind:    KindRequest,
					Target:  target,
					Method:  "seq",
					Origin:  i,
					Payload: []byte(fmt.Sprintf("%d-%d", tr.Here(), i)),
				})
				assert.Nilf(t, err, "expected nil error but received: %v", err)
			}
		}
	}

	fenceAll(t, ctx, trs)

	for loc := 0; loc < 3; loc++ {

		seen := rec.get(loc)
		assert.Len(t, seen, 60)

		next := map[int]int{}
		for _, env := range seen {
			assert.Equal(t, next[env.Source], env.Origin)
			assert.Equal(t, fmt.Sprintf("%d-%d", env.Source, env.Origin), string(env.Payload))
			next[env.Source]++
		}
	}

	closeAll(trs)
	wg.Wait()
}

// TestGRPCFence checks that the counting fence waits
// for envelopes spawned while it is already running.
func TestGRPCFence(t *testing.T) {

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trs := grpcTransports(t, 3)
	rec := newRecorder()
	wg := serveAll(t, ctx, trs, rec)

	err := trs[2].Send(ctx, &Envelope{
		Kind:    KindRequest,
		Target:  0,
		Method:  "hop",
		Promise: 29,
	})
	assert.Nilf(t, err, "expected nil error but received: %v", err)

	fenceAll(t, ctx, trs)

	total := 0
	for loc := 0; loc < 3; loc++ {
		total += len(rec.get(loc))
	}

	assert.Equal(t, 30, total)

	// A second fence on a quiet fabric returns as well.
	fenceAll(t, ctx, trs)

	closeAll(trs)
	wg.Wait()
}

func TestGRPCPeers(t *testing.T) {

	_, err := NewGRPC(log.NewNopLogger(), 3, []string{"a", "b"}, bufconn.Listen(1024), nil, nil)
	assert.NotNil(t, err)
}

// TestGRPCTLS runs the fabric with mutual TLS on
// certificates of a freshly generated PKI.
func TestGRPCTLS(t *testing.T) {

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pki := &crypto.PKI{
		Dir:   t.TempDir(),
		Peers: []string{"location-0", "location-1"},
	}

	err := pki.Generate(log.NewNopLogger())
	require.Nilf(t, err, "expected nil error but received: %v", err)

	tlsConfigs := make([]*tls.Config, 2)
	for loc := range tlsConfigs {

		certPath, keyPath := crypto.LocationPaths(pki.Dir, loc)

		tlsConfigs[loc], err = crypto.NewInternalTLSConfig(certPath, keyPath, crypto.RootCertPath(pki.Dir))
		require.Nilf(t, err, "expected nil error but received: %v", err)
	}

	trs := grpcTransports(t, 2, tlsConfigs...)
	rec := newRecorder()
	wg := serveAll(t, ctx, trs, rec)

	err = trs[0].Send(ctx, &Envelope{
		Kind:    KindRequest,
		Target:  1,
		Method:  "hop",
		Promise: 5,
	})
	assert.Nilf(t, err, "expected nil error but received: %v", err)

	fenceAll(t, ctx, trs)

	assert.Len(t, rec.get(0), 3)
	assert.Len(t, rec.get(1), 3)

	closeAll(trs)
	wg.Wait()
}
