// Package types holds the shared data model for the coordination core: the
// Operation graph vertices, range-server connection records, balance plans,
// and the transient per-cycle range/access-group snapshots consumed by the
// maintenance prioritizer.
package types

import "time"

// OperationType tags the 23 operation variants the processor can run. Kept as a string enum (rather than an int) so metalog payloads and
// metric labels stay human readable, matching the Dependency label
// constants below.
type OperationType string

const (
	OpCreateTable            OperationType = "CreateTable"
	OpDropTable              OperationType = "DropTable"
	OpAlterTable             OperationType = "AlterTable"
	OpRenameTable            OperationType = "RenameTable"
	OpMoveRange              OperationType = "MoveRange"
	OpRelinquishAcknowledge  OperationType = "RelinquishAcknowledge"
	OpRegisterServer         OperationType = "RegisterServer"
	OpRecover                OperationType = "Recover"
	OpBalance                OperationType = "Balance"
	OpSetState               OperationType = "SetState"
	OpCompact                OperationType = "Compact"
	OpDropNamespace          OperationType = "DropNamespace"
	OpCreateNamespace        OperationType = "CreateNamespace"
	OpGatherStatistics       OperationType = "GatherStatistics"
	OpCollectGarbage         OperationType = "CollectGarbage"
	OpStatus                 OperationType = "Status"
	OpSystemStatus           OperationType = "SystemStatus"
	OpStop                   OperationType = "Stop"
	OpRecreateIndexTables    OperationType = "RecreateIndexTables"
	OpToggleTableMaintenance OperationType = "ToggleTableMaintenance"
	OpTimedBarrier           OperationType = "TimedBarrier"
	OpWaitForServers         OperationType = "WaitForServers"
	OpRegisterServerBlocker  OperationType = "RegisterServerBlocker"
)

// OperationState is the lifecycle state of an Operation. INITIAL and
// COMPLETE bound every variant; the values in between are type-specific and
// are interpreted by each operation's own state machine.
type OperationState string

const (
	StateInitial  OperationState = "INITIAL"
	StateStarted  OperationState = "STARTED"
	StateComplete OperationState = "COMPLETE"
)

// Dependency label constants, carried over from the original implementation
// so exclusivity/dependency/obstruction strings stay typo-proof and
// consistent across the operation taxonomy.
const (
	DependencyServers  = "servers"
	DependencyMetadata = "Metadata"
	DependencySystem   = "System"
	DependencyRecovery = "Recovery"
	DependencyInit     = "INIT"
)

// RegisterServerBlockerLabel formats the per-proxy dependency label that
// RegisterServer unblocks on successful registration.
func RegisterServerBlockerLabel(proxy string) string {
	return "RegisterServerBlocker " + proxy
}

// SubopObstructionLabel formats the synthetic permanent obstruction a parent
// operation places on a staged sub-operation.
func SubopObstructionLabel(parentName, childName string, childHash int64) string {
	return parentName + " subop " + childName + " " + itoa64(childHash)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Operation is a unit of cluster-mutating work and the vertex type of the
// Operation Processor's dependency graph.
type Operation struct {
	ID   int64         `json:"id"`
	Type OperationType `json:"type"`

	State OperationState `json:"state"`

	Exclusivities []string `json:"exclusivities,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Obstructions  []string `json:"obstructions,omitempty"`

	SubOperations []int64 `json:"sub_operations,omitempty"`
	ParentID      int64   `json:"parent_id,omitempty"`

	RemovalApprovalsNeeded uint32 `json:"removal_approvals_needed,omitempty"`
	RemovalApprovalsGot    uint32 `json:"removal_approvals_got,omitempty"`

	Perpetual bool `json:"perpetual,omitempty"`
	Ephemeral bool `json:"ephemeral,omitempty"`
	Blocked   bool `json:"blocked,omitempty"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`

	ErrorCode int    `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	// Payload carries type-specific request parameters and, once complete,
	// the type-specific result, both JSON-encoded so decode(encode(op)) ==
	// op without a per-variant struct for every operation type.
	Payload []byte `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Complete reports whether the operation has finished (successfully or not).
func (o *Operation) Complete() bool { return o.State == StateComplete }

// HasError reports whether a completed operation ended in failure.
func (o *Operation) HasError() bool { return o.ErrorCode != 0 }

// ConnectionState is a bitmask of independent range-server connection flags
//.
type ConnectionState uint32

const (
	ConnConnected ConnectionState = 1 << iota
	ConnBalanced
	ConnRemoved
	ConnRecovering
)

func (s ConnectionState) Has(flag ConnectionState) bool { return s&flag != 0 }

// Connection is a Range-Server Connection record.
type Connection struct {
	ProxyName   string          `json:"proxy_name"`
	Hostname    string          `json:"hostname"`
	LocalAddr   string          `json:"local_addr"`
	PublicAddr  string          `json:"public_addr"`
	State       ConnectionState `json:"state"`
	DiskFillPct float64         `json:"disk_fill_pct"`
	RemovedAt   time.Time       `json:"removed_at,omitempty"`
	// NameServiceHandle is an opaque reference to the distributed lock
	// service's session handle for this server's run-directory file.
	NameServiceHandle string `json:"name_service_handle,omitempty"`
}

func (c *Connection) Connected() bool  { return c.State.Has(ConnConnected) }
func (c *Connection) Balanced() bool   { return c.State.Has(ConnBalanced) }
func (c *Connection) Removed() bool    { return c.State.Has(ConnRemoved) }
func (c *Connection) Recovering() bool { return c.State.Has(ConnRecovering) }

// MoveSpec is one range relocation within a BalancePlan.
type MoveSpec struct {
	Table       string `json:"table"`
	StartRow    string `json:"start_row"`
	EndRow      string `json:"end_row"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// BalancePlan is a generation-numbered set of in-flight range moves.
type BalancePlan struct {
	Generation uint64     `json:"generation"`
	Algorithm  string     `json:"algorithm"`
	Moves      []MoveSpec `json:"moves"`
}

// RangeData is a transient per-cycle snapshot of one range's maintenance
// signals.
type RangeData struct {
	Table    string
	StartRow string
	EndRow   string
	Level    RangeLevel

	MemUsed                int64
	DiskUsed               int64
	EarliestCachedRevision int64

	NeedsMerging bool
	NeedsSplit   bool
	NeedsGC      bool
	Relinquish   bool
	RowOverflow  bool

	// InitializationPending is set for ranges still loading from metalog
	// replay.
	InitializationPending bool

	// PersistedState mirrors the in-progress-resumption states a range may
	// be found in after a restart.
	PersistedState RangePersistedState

	AccessGroups []AccessGroupData
}

// RangeLevel orders maintenance priority across root/metadata/system/user
// ranges.
type RangeLevel int

const (
	LevelRoot RangeLevel = iota
	LevelMetadata
	LevelSystem
	LevelUser
)

// RangePersistedState names the in-progress resumption states a range may
// be recovering from.
type RangePersistedState string

const (
	RangeStateNone                   RangePersistedState = ""
	RangeStateRelinquishLogInstalled RangePersistedState = "RELINQUISH_LOG_INSTALLED"
	RangeStateSplitLogInstalled      RangePersistedState = "SPLIT_LOG_INSTALLED"
	RangeStateSplitShrunk            RangePersistedState = "SPLIT_SHRUNK"
)

// AccessGroupData is a transient per-cycle snapshot of one access group's
// maintenance signals.
type AccessGroupData struct {
	Name string

	ShadowCacheSize   int64
	ShadowCacheHits   int64
	BlockIndexMemory  int64
	BloomFilterMemory int64
	CellCacheMemory   int64
	InMemory          bool

	GCNeeded      bool
	MergeRunReady bool
	LastAccess    time.Time

	CellStores []CellStoreData
}

// CellStoreData is a per-cell-store shadow-cache hit counter.
type CellStoreData struct {
	Name            string
	ShadowCacheHits int64
}

// MetalogEntity is a versioned persisted record: every non-ephemeral
// Operation and every Connection is one.
type MetalogEntity struct {
	TypeTag   string `json:"type_tag"`
	EntityID  string `json:"entity_id"`
	Sequence  uint64 `json:"sequence"`
	Payload   []byte `json:"payload"`
	Tombstone bool   `json:"tombstone,omitempty"`
}

const (
	EntityTypeOperation  = "operation"
	EntityTypeConnection = "connection"
	EntityTypeCA         = "ca"
)
