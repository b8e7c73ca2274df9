package dispatcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/metrics"
	"github.com/cuemby/taskd/pkg/rpc"
	"github.com/cuemby/taskd/pkg/security"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Server is the node-agent's RPC front end: one mTLS TCP listener for
// controller RPCs, and one Unix-domain listener per step-agent for
// node-agent -> step-agent control (§4.6), mirroring the teacher's
// pkg/api server shape.
type Server struct {
	agent NodeAgent
	ca    *security.CertAuthority
	grpc  *grpc.Server

	superUID   uint32
	serviceUID uint32
}

// Config holds the identities needed to authorize control RPCs and the
// CA backing this node's server certificate.
type Config struct {
	NodeID     string
	SuperUID   uint32
	ServiceUID uint32
	CA         *security.CertAuthority
}

// NewServer creates the controller-facing gRPC server with mTLS,
// delegating every RPC to agent.
func NewServer(agent NodeAgent, cfg Config) (*Server, error) {
	if !cfg.CA.IsInitialized() {
		return nil, fmt.Errorf("dispatcher: certificate authority not initialized")
	}

	cert, err := cfg.CA.IssueNodeCertificate(cfg.NodeID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: failed to issue node certificate: %w", err)
	}

	rootDER := cfg.CA.GetRootCACert()
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: failed to parse root CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(rootCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			metricsInterceptor,
			AuthorizedUserInterceptor(cfg.SuperUID, cfg.ServiceUID),
		),
	)

	s := &Server{
		agent:      agent,
		ca:         cfg.CA,
		grpc:       grpcServer,
		superUID:   cfg.SuperUID,
		serviceUID: cfg.ServiceUID,
	}
	RegisterNodeAgentServer(grpcServer, agent)
	return s, nil
}

// Serve starts accepting controller RPCs on addr. Blocks until the
// listener errors or Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatcher: failed to listen on %s: %w", addr, err)
	}
	log.WithComponent("dispatcher").Info().Str("addr", addr).Msg("controller RPC listener started")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// StepAgentSocketPath returns the Unix-domain socket path used for
// node-agent -> step-agent control for the given step.
func StepAgentSocketPath(runDir string, jobID, stepID uint32) string {
	return fmt.Sprintf("%s/step-%d.%d.sock", runDir, jobID, stepID)
}

// NewStepAgentServer creates the unauthenticated, loopback-only gRPC
// server a step-agent runs on its Unix-domain control socket. There is
// no controller on the other end of this link, so it carries no TLS:
// the socket's filesystem permissions are the access boundary.
func NewStepAgentServer(agent NodeAgent) *Server {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(metricsInterceptor))
	RegisterNodeAgentServer(grpcServer, agent)
	return &Server{agent: agent, grpc: grpcServer}
}

// ServeUnix starts accepting RPCs on the Unix-domain socket at
// socketPath, removing any stale socket file left behind by a previous
// process first.
func (s *Server) ServeUnix(socketPath string) error {
	_ = os.Remove(socketPath)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dispatcher: failed to listen on %s: %w", socketPath, err)
	}
	return s.grpc.Serve(lis)
}

// DialStepAgent connects to a step-agent's Unix-domain control socket.
func DialStepAgent(socketPath string) (*grpc.ClientConn, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("dispatcher: step-agent socket not found: %w", err)
	}
	return grpc.NewClient(
		"unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
}

// metricsInterceptor records RPCRequestsTotal/RPCRequestDuration for
// every inbound RPC, keyed by the unqualified method name.
func metricsInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	method := info.FullMethod
	if idx := strings.LastIndex(method, "/"); idx >= 0 {
		method = method[idx+1:]
	}

	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	timer.ObserveDurationVec(metrics.RPCRequestDuration, method)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	return resp, err
}
