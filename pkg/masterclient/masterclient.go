// Package masterclient implements this server's outward-facing RPC stub: the
// one-shot report-for-duty call at startup and the repeated heartbeat call
// the main loop drives thereafter, both over mTLS.
package masterclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shardkeep/regiond/pkg/rpcwire"
	"github.com/shardkeep/regiond/pkg/security"
	"github.com/shardkeep/regiond/pkg/types"
)

// Client is a thin wrapper around a grpc.ClientConn dialed to the master,
// forcing the JSON codec in place of generated protobuf marshaling.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the master at addr. If certDir names a directory holding
// a node certificate and CA (see pkg/security), the connection is mTLS;
// otherwise it falls back to an insecure connection, which callers should
// only do in tests.
func Dial(addr, certDir string) (*Client, error) {
	var creds credentials.TransportCredentials

	if certDir != "" && security.CertExists(certDir) {
		cert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return nil, fmt.Errorf("masterclient: loading node certificate: %w", err)
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return nil, fmt.Errorf("masterclient: loading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)
		creds = credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{*cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("masterclient: dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Startup performs one report-for-duty call with a 30-second timeout. The
// caller (the main loop) repeats it for as long as the master answers that
// the previous lease is still held; an RPC error is returned to it at once.
func (c *Client) Startup(ctx context.Context, req *types.StartupRequest) (*types.StartupResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return rpcwire.CallStartup(ctx, c.conn, req)
}

// Report sends one heartbeat cycle's outbound messages and returns the
// master's instructions.
func (c *Client) Report(ctx context.Context, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return rpcwire.CallReport(ctx, c.conn, req)
}
