package api

import "time"

// Message structs for the Master service, one request/response pair per
// wire-protocol command. These are plain Go structs rather than
// protoc-gen-go output: jsonCodec (codec.go) marshals them over the wire
// instead of the protobuf binary format, so a hand-built grpc.ServiceDesc
// can dispatch unary RPCs without a .proto toolchain run.

type StatusRequest struct{}

type StatusResponse struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type SystemStatusRequest struct{}

type SystemStatusResponse struct {
	Status          Status   `json:"status"`
	ConnectedCount  int      `json:"connected_count"`
	TotalCount      int      `json:"total_count"`
	PendingOps      int      `json:"pending_ops"`
	UnbalancedCount int      `json:"unbalanced_count"`
	Servers         []string `json:"servers"`
}

type CompactRequest struct {
	TableName string `json:"table_name"`
	RowKey    string `json:"row_key,omitempty"`
	Flags     uint32 `json:"flags,omitempty"`
}

type OperationIDResponse struct {
	Status      Status `json:"status"`
	OperationID int64  `json:"operation_id"`
}

type CreateTableRequest struct {
	TableName string `json:"table_name"`
	Schema    string `json:"schema,omitempty"`
}

type DropTableRequest struct {
	TableName string `json:"table_name"`
	IfExists  bool   `json:"if_exists,omitempty"`
}

type AlterTableRequest struct {
	TableName string `json:"table_name"`
	Schema    string `json:"schema"`
}

type RenameTableRequest struct {
	TableName string `json:"table_name"`
	NewName   string `json:"new_name"`
}

type RegisterServerRequest struct {
	Proxy       string            `json:"proxy,omitempty"`
	ListenPort  int32             `json:"listen_port"`
	SystemStats map[string]string `json:"system_stats,omitempty"`
	ClientTS    int64             `json:"client_ts"`
	Hostname    string            `json:"hostname"`
	LocalAddr   string            `json:"local_addr"`
	PublicAddr  string            `json:"public_addr"`
}

type RegisterServerResponse struct {
	Status Status `json:"status"`
	Proxy  string `json:"proxy"`
}

type MoveRangeRequest struct {
	Source   string `json:"source"`
	Table    string `json:"table"`
	StartRow string `json:"start_row"`
	EndRow   string `json:"end_row"`
	RangeID  int64  `json:"range_id"`
}

type RelinquishAcknowledgeRequest struct {
	Source   string `json:"source"`
	RangeID  int64  `json:"range_id"`
	Table    string `json:"table"`
	StartRow string `json:"start_row"`
	EndRow   string `json:"end_row"`
}

type AckResponse struct {
	Status Status `json:"status"`
}

type BalanceRequest struct {
	Algorithm string   `json:"algorithm"`
	Args      []string `json:"args,omitempty"`
}

type StateVar struct {
	VarCode int    `json:"var_code"`
	Value   string `json:"value"`
}

type SetStateRequest struct {
	Vars []StateVar `json:"vars"`
}

type StopRequest struct {
	Proxy   string `json:"proxy,omitempty"`
	Recover bool   `json:"recover,omitempty"`
}

type ShutdownRequest struct {
	Recover bool `json:"recover,omitempty"`
}

type CreateNamespaceRequest struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags,omitempty"`
}

type DropNamespaceRequest struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags,omitempty"`
}

type RecreateIndexTablesRequest struct {
	TableName string `json:"table_name"`
	PartsMask uint32 `json:"parts_mask"`
}

type FetchResultRequest struct {
	OperationID int64 `json:"operation_id"`
}

type FetchResultResponse struct {
	Status      Status    `json:"status"`
	OperationID int64     `json:"operation_id"`
	Complete    bool      `json:"complete"`
	ErrorCode   int       `json:"error_code,omitempty"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ReplayStatusRequest struct {
	OperationID int64  `json:"operation_id"`
	Proxy       string `json:"proxy"`
	Generation  uint64 `json:"generation"`
}

type ReplayCompleteRequest struct {
	OperationID int64  `json:"operation_id"`
	Proxy       string `json:"proxy"`
	Generation  uint64 `json:"generation"`
	ErrorCode   int    `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

type PhantomPrepareCompleteRequest struct {
	OperationID int64  `json:"operation_id"`
	Proxy       string `json:"proxy"`
	Generation  uint64 `json:"generation"`
	ErrorCode   int    `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

type PhantomCommitCompleteRequest struct {
	OperationID int64  `json:"operation_id"`
	Proxy       string `json:"proxy"`
	Generation  uint64 `json:"generation"`
	ErrorCode   int    `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}
