package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/hyperrange/rangemaster/pkg/balancer"
	"github.com/hyperrange/rangemaster/pkg/connection"
	"github.com/hyperrange/rangemaster/pkg/master"
	"github.com/hyperrange/rangemaster/pkg/operation"
	"github.com/hyperrange/rangemaster/pkg/responsemanager"
	"github.com/hyperrange/rangemaster/pkg/security"
	"github.com/hyperrange/rangemaster/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server implements the Master wire protocol described in the command
// table: one SubmitOperation call per write RPC, with FetchResult as the
// separate pickup step the protocol's two-phase design calls for.
type Server struct {
	proc      *operation.Processor
	responses *responsemanager.Manager
	conns     *connection.Manager
	authority *balancer.Authority
	handlers  *master.Handlers

	nextOpID atomic.Int64

	grpc  *grpc.Server // mTLS TCP listener, full read-write command set
	local *grpc.Server // unauthenticated Unix-socket listener, read-only
}

// NewServer wires the Master gRPC service behind two listeners sharing the
// same business logic: an mTLS TCP listener for range servers and remote
// admin clients, and an unauthenticated Unix-socket listener restricted to
// read-only commands (ReadOnlyInterceptor) for local CLI use without a
// client certificate. Both load the node's certificate and CA from
// certDir the same way the cluster's other internal services do.
func NewServer(certDir string, proc *operation.Processor, responses *responsemanager.Manager, conns *connection.Manager, authority *balancer.Authority, handlers *master.Handlers) (*Server, error) {
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("master certificate not found at %s - ensure the cluster is initialized", certDir)
	}

	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load master certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}

	creds := credentials.NewTLS(tlsConfig)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	localServer := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnaryInterceptor(ReadOnlyInterceptor()),
	)

	s := &Server{
		proc:      proc,
		responses: responses,
		conns:     conns,
		authority: authority,
		handlers:  handlers,
		grpc:      grpcServer,
		local:     localServer,
	}
	RegisterMasterServer(grpcServer, s)
	RegisterMasterServer(localServer, s)
	return s, nil
}

// Start listens on addr and blocks serving RPCs until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// StartLocal listens on the given Unix socket path and blocks serving
// read-only RPCs until Stop is called. socketPath is removed first in case
// a previous run left it behind.
func (s *Server) StartLocal(socketPath string) error {
	_ = os.Remove(socketPath)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	return s.local.Serve(lis)
}

// Stop gracefully drains in-flight RPCs on both listeners before returning.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.local != nil {
		s.local.GracefulStop()
	}
}

// GRPCServer exposes the underlying mTLS *grpc.Server, e.g. for tests that
// need to dial it directly.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

func (s *Server) allocOpID() int64 {
	return s.nextOpID.Add(1)
}

// submit builds and submits an operation of the given type from payload
// (already JSON-encoded by the caller), returning its freshly allocated
// id. Conflicting exclusive requests surface as OPERATION_IN_PROGRESS
// rather than silently queuing.
func (s *Server) submit(opType types.OperationType, exclusivities []string, payload []byte) (int64, error) {
	id := s.allocOpID()
	now := time.Now()
	op := &types.Operation{
		ID:            id,
		Type:          opType,
		Exclusivities: exclusivities,
		Payload:       payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.proc.SubmitOperation(op); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{Status: ok(), Message: "OK"}, nil
}

func (s *Server) SystemStatus(ctx context.Context, req *SystemStatusRequest) (*SystemStatusResponse, error) {
	servers := s.conns.GetConnectedServers()
	return &SystemStatusResponse{
		Status:          ok(),
		ConnectedCount:  s.conns.ConnectedServerCount(),
		TotalCount:      s.conns.ServerCount(),
		PendingOps:      s.authority.PendingCount(),
		UnbalancedCount: len(s.conns.GetUnbalancedServers()),
		Servers:         servers,
	}, nil
}
