package main

import (
	"net"
	"os"
	"strings"
	"time"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/pgas/comm"
	"github.com/numbleroot/pgas/config"
	"github.com/numbleroot/pgas/crypto"
	"github.com/pkg/errors"
)

type internalConnection struct {
	config *tls.Config
	retry  time.Duration
	tries  int
}

// NewInternalConnection returns a configuration object
// containing relevant parts for secure connections in
// the internal network of all locations.
func NewInternalConnection(conf *config.Config, here int, retry time.Duration, tries int) (*internalConnection, error) {

	c := &internalConnection{
		retry: retry,
		tries: tries,
	}

	if conf.GRPC.Insecure {
		return c, nil
	}

	certLoc, keyLoc := conf.GRPC.CertLoc, conf.GRPC.KeyLoc

	// Per-location files are picked from a generated
	// PKI when the config names its directory.
	if info, err := os.Stat(certLoc); err == nil && info.IsDir() {
		certLoc, _ = crypto.LocationPaths(certLoc, here)
	}

	if info, err := os.Stat(keyLoc); err == nil && info.IsDir() {
		_, keyLoc = crypto.LocationPaths(keyLoc, here)
	}

	// Load internal TLS config.
	tlsConfig, err := crypto.NewInternalTLSConfig(certLoc, keyLoc, conf.GRPC.RootCertLoc)
	if err != nil {
		return nil, err
	}

	c.config = tlsConfig

	return c, nil
}

// ReliableListen provides a mechanism for a restarted
// location to take over its address once the previous
// process released it.
func (c *internalConnection) ReliableListen(logger log.Logger, addr string) (net.Listener, error) {

	var err error
	var socket net.Listener

	for try := 0; try < c.tries; try++ {

		socket, err = net.Listen("tcp", addr)
		if err == nil {
			return socket, nil
		}

		// Only an address still in use is worth waiting for.
		if !strings.Contains(err.Error(), "address already in use") {
			break
		}

		level.Warn(logger).Log("msg", "address still in use, retrying", "addr", addr, "try", try+1)
		time.Sleep(c.retry)
	}

	return nil, errors.Wrapf(err, "could not listen on internal address '%s'", addr)
}

// Transport starts the gRPC fabric of location here.
func (c *internalConnection) Transport(logger log.Logger, here int, peers []string) (*comm.GRPC, error) {

	if here < 0 || here >= len(peers) {
		return nil, errors.Errorf("location %d is not among the %d configured peers", here, len(peers))
	}

	socket, err := c.ReliableListen(logger, peers[here])
	if err != nil {
		return nil, err
	}

	g, err := comm.NewGRPC(logger, here, peers, socket, c.config, nil)
	if err != nil {
		socket.Close()
		return nil, err
	}

	return g, nil
}
