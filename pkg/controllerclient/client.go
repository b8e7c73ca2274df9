// Package controllerclient is the node-agent's outbound gRPC client to
// the controller: the node-agent->controller half of the wire (§6), used
// for epilog_complete and abort_job. It has no server-side counterpart in
// this repository the way pkg/dispatcher does, since the controller
// itself is out of scope (§1 Non-goals) — this package only needs to
// speak the two request/response shapes the node-agent originates.
package controllerclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/cuemby/taskd/pkg/rpc"
	"github.com/cuemby/taskd/pkg/security"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const serviceName = "taskd.Controller"

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// Client carries epilog_complete and abort_job to the controller over a
// single long-lived mTLS connection.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens the outbound connection to the controller at addr,
// authenticating with a client certificate issued by ca.
func Dial(addr, nodeID string, ca *security.CertAuthority) (*Client, error) {
	cert, err := ca.IssueClientCertificate(nodeID)
	if err != nil {
		return nil, fmt.Errorf("controllerclient: issue client certificate: %w", err)
	}

	rootDER := ca.GetRootCACert()
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("controllerclient: parse root CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(rootCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}

	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("controllerclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// EpilogComplete sends epilog_complete to the controller.
func (c *Client) EpilogComplete(ctx context.Context, req *rpc.EpilogCompleteRequest) error {
	resp := new(rpc.EpilogCompleteResponse)
	return c.conn.Invoke(ctx, fullMethod("EpilogComplete"), req, resp)
}

// AbortJob sends abort_job to the controller.
func (c *Client) AbortJob(ctx context.Context, req *rpc.AbortJobRequest) error {
	resp := new(rpc.AbortJobResponse)
	return c.conn.Invoke(ctx, fullMethod("AbortJob"), req, resp)
}
