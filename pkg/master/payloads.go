package master

// Payload and result structs carried in types.Operation.Payload
// (JSON-encoded) for every OperationType this package handles. These are
// the domain layer's request/result shapes; pkg/api's wire messages are
// translated into these at the RPC boundary rather than sharing the same
// struct, so the wire format and the operation graph's persisted payload
// can evolve independently.

type CreateTablePayload struct {
	TableName string `json:"table_name"`
	Schema    string `json:"schema,omitempty"`
}

type DropTablePayload struct {
	TableName string `json:"table_name"`
	IfExists  bool   `json:"if_exists,omitempty"`
}

type AlterTablePayload struct {
	TableName string `json:"table_name"`
	Schema    string `json:"schema"`
}

type RenameTablePayload struct {
	TableName string `json:"table_name"`
	NewName   string `json:"new_name"`
}

type CompactPayload struct {
	TableName string `json:"table_name"`
	RowKey    string `json:"row_key,omitempty"`
	Flags     uint32 `json:"flags,omitempty"`
}

type RegisterServerPayload struct {
	Proxy      string `json:"proxy,omitempty"`
	Hostname   string `json:"hostname"`
	LocalAddr  string `json:"local_addr"`
	PublicAddr string `json:"public_addr"`
	ListenPort int32  `json:"listen_port"`
	ClientTS   int64  `json:"client_ts"`
}

type RegisterServerResult struct {
	Proxy string `json:"proxy"`
}

type MoveRangePayload struct {
	Source   string `json:"source"`
	Table    string `json:"table"`
	StartRow string `json:"start_row"`
	EndRow   string `json:"end_row"`
	RangeID  int64  `json:"range_id"`
}

type RelinquishAcknowledgePayload struct {
	Source   string `json:"source"`
	Table    string `json:"table"`
	StartRow string `json:"start_row"`
	EndRow   string `json:"end_row"`
	RangeID  int64  `json:"range_id"`
}

type BalancePayload struct {
	Algorithm string   `json:"algorithm"`
	Args      []string `json:"args,omitempty"`
}

type StateVar struct {
	VarCode int    `json:"var_code"`
	Value   string `json:"value"`
}

type SetStatePayload struct {
	Vars []StateVar `json:"vars"`
}

type StopPayload struct {
	Proxy   string `json:"proxy,omitempty"`
	Recover bool   `json:"recover,omitempty"`
}

type CreateNamespacePayload struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags,omitempty"`
}

type DropNamespacePayload struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags,omitempty"`
}

type RecreateIndexTablesPayload struct {
	TableName string `json:"table_name"`
	PartsMask uint32 `json:"parts_mask"`
}

// RecoverPayload is the Recover operation's own payload — unlike the
// others, this operation is never submitted directly by a client; the
// stop handler enqueues it when a Stop request sets Recover.
type RecoverPayload struct {
	Proxy      string `json:"proxy"`
	Generation uint64 `json:"generation"`
}
