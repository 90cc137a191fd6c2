/*
Package api implements the Master gRPC service: the wire protocol range
servers and administrative clients use to submit cluster-mutating
operations and fetch their results.

# Architecture

	┌──────────────── CLIENT (range server / rangemasterctl) ─────┐
	│  gRPC client (mTLS, TLS 1.3)                                 │
	└──────────────────────────┬────────────────────────────────────┘
	                           │ gRPC (port 38050)
	┌──────────────────────────▼──────────────── MASTER NODE ──────┐
	│  pkg/api.Server       - gRPC dispatch, mTLS, JSON wire codec  │
	│  pkg/operation        - dependency-graph operation scheduling │
	│  pkg/responsemanager  - submit/fetch rendezvous               │
	│  pkg/connection       - range-server membership                │
	│  pkg/balancer         - balance plan authority                 │
	│  pkg/master           - per-OperationType business logic       │
	└─────────────────────────────────────────────────────────────┘

# Wire protocol

Every mutating RPC (CreateTable, RegisterServer, Balance, ...) submits a
types.Operation onto the Operation Processor. All of them except
RegisterServer return immediately, most with just an operation id, and a
caller collects the outcome with a separate FetchResult call, the
two-phase submit/fetch split the command table specifies.
RegisterServer instead waits on the response manager for its own
operation's result and returns the assigned proxy name directly. Status and SystemStatus are synchronous reads; they
never touch the processor.

There is no protoc-gen-go output behind this package: request/response
structs live in messages.go as plain Go types, codec.go registers a
grpc encoding.Codec that marshals them as JSON instead of the protobuf
wire format, and service.go hand-builds the grpc.ServiceDesc a .proto
file and protoc would otherwise generate.

# mTLS

The server presents a certificate issued by the cluster CA (pkg/security)
and negotiates TLS 1.3 only. It requests a client certificate
(tls.RequestClientCert) but neither requires one nor verifies it against
the cluster CA during the handshake. ReadOnlyInterceptor restricts a second,
Unix-domain-socket listener to read-only RPCs (Status, SystemStatus,
FetchResult, and any Get/List/Inspect/Watch/Describe/Show-prefixed
method) for local CLI use without a client certificate.

# Error handling

RPCs return a Status{Code,Message} value embedded in their response
rather than relying solely on gRPC status codes, mirroring the error
taxonomy in errors.go: protocol errors, readiness errors (server not
ready / shutting down), operation-conflict errors (an exclusive
operation is already in flight), and environmental errors (clock skew,
disk full, unknown attribute).

# See also

  - pkg/operation for the scheduling semantics behind SubmitOperation
  - pkg/master for what each operation type actually does
  - pkg/security for certificate issuance and rotation
*/
package api
