package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/numbleroot/pgas/comm"
	"github.com/numbleroot/pgas/config"
	"github.com/numbleroot/pgas/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func testConfig(locations int) *config.Config {

	return &config.Config{
		Runtime: config.Runtime{
			Locations: locations,
			Transport: config.TransportLocal,
		},
		Container: config.Container{
			DirectoryCacheSize: 128,
			SplitThreshold:     8,
		},
		GRPC: config.GRPC{
			Insecure: true,
		},
	}
}

// TestRun drives the workload on an in-process fabric
// and checks that all locations agree on the final size.
func TestRun(t *testing.T) {

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conf := testConfig(3)
	m := NewPgasMetrics("")
	f := comm.NewFabric(conf.Runtime.Locations)
	wg := &sync.WaitGroup{}

	locs := []*location{}
	for _, ep := range f.Endpoints() {

		loc, err := newLocation(ctx, log.NewNopLogger(), conf, m.Distribution, ep, wg)
		require.Nilf(t, err, "expected nil error but received: %v", err)

		locs = append(locs, loc)
	}

	delta, err := run(ctx, locs, 60, 42)
	require.Nilf(t, err, "expected nil error but received: %v", err)

	// Pushes and inserts outnumber erases.
	assert.True(t, delta > 0)

	for _, loc := range locs {
		assert.Equal(t, delta, loc.svc.Size())
	}

	count := int64(0)
	err = locs[1].svc.ForEach(ctx, func(_ domain.GID, _ int64) bool {
		count++
		return true
	})
	assert.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Equal(t, delta, count)

	cancel()
	f.Close()
	wg.Wait()
}

// TestInternalConnection checks listening with and
// without retries on a plain text configuration.
func TestInternalConnection(t *testing.T) {

	conf := testConfig(2)

	internal, err := NewInternalConnection(conf, 0, 10*time.Millisecond, 3)
	require.Nilf(t, err, "expected nil error but received: %v", err)
	assert.Nil(t, internal.config)

	socket, err := internal.ReliableListen(log.NewNopLogger(), "127.0.0.1:0")
	require.Nilf(t, err, "expected nil error but received: %v", err)
	defer socket.Close()

	// The address stays taken, so all tries fail.
	_, err = internal.ReliableListen(log.NewNopLogger(), socket.Addr().String())
	assert.NotNil(t, err)

	_, err = internal.Transport(log.NewNopLogger(), 5, []string{"127.0.0.1:0"})
	assert.NotNil(t, err)

	conf.GRPC.Insecure = false
	conf.GRPC.CertLoc = "does-not-exist.pem"

	_, err = NewInternalConnection(conf, 0, time.Millisecond, 1)
	assert.NotNil(t, err)
}

// TestInitLogger checks the level filter.
func TestInitLogger(t *testing.T) {

	for _, l := range []string{"debug", "info", "warn", "error", "unknown"} {
		assert.NotNil(t, initLogger(l))
	}
}
