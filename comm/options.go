package comm

import (
	"context"
	"net"
	"time"

	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// Set the maximum number of bytes an envelope is allowed
// to carry to (64 * 1024 * 1024 B) + 2048 B (buffer).
// Symmetric - send and receive option.
var maxMsgSize = 67110912

// Functions

func transportCredentials(tlsConfig *tls.Config) credentials.TransportCredentials {

	if tlsConfig == nil {
		return insecure.NewCredentials()
	}

	return credentials.NewTLS(tlsConfig)
}

// ReceiverOptions returns a list of gRPC server options
// the fabric uses to accept envelopes from peers. A nil
// tlsConfig serves without transport security.
func ReceiverOptions(tlsConfig *tls.Config) []grpc.ServerOption {

	enfPolicy := keepalive.EnforcementPolicy{
		// Peers connecting to this receiver should wait
		// at least 30 seconds before sending a keepalive.
		MinTime: 30 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	kaParams := keepalive.ServerParameters{
		// The receiver will ping the other location after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
	}

	return []grpc.ServerOption{
		grpc.Creds(transportCredentials(tlsConfig)),
		grpc.ForceServerCodec(Codec{}),
		grpc.KeepaliveEnforcementPolicy(enfPolicy),
		grpc.KeepaliveParams(kaParams),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}
}

// SenderOptions defines gRPC options for connections from
// a sender to a receiving location. dialer may be nil.
func SenderOptions(tlsConfig *tls.Config, dialer func(context.Context, string) (net.Conn, error)) []grpc.DialOption {

	// These call options will be used for every call
	// via this connection.
	callOpts := []grpc.CallOption{
		grpc.ForceCodec(Codec{}),
		// Envelopes may be large, compress them.
		grpc.UseCompressor(gzip.Name),
		// Queue calls while the peer is still starting up.
		grpc.WaitForReady(true),
		grpc.MaxCallRecvMsgSize(maxMsgSize),
		grpc.MaxCallSendMsgSize(maxMsgSize),
	}

	kaParams := keepalive.ClientParameters{
		// The sender will ping the other location after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithTransportCredentials(transportCredentials(tlsConfig)),
	}

	if dialer != nil {
		opts = append(opts, grpc.WithContextDialer(dialer))
	}

	return opts
}
