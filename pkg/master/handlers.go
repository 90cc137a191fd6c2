// Package master wires the Operation Processor's abstract graph scheduling
// to concrete per-OperationType business logic: register-server's
// proxy-name minting, range moves against the Balance Plan
// Authority, server removal/recovery, and the bookkeeping DDL operations
// (CreateTable and friends) that this coordination core tracks but does
// not itself execute against a range server.
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hyperrange/rangemaster/pkg/balancer"
	"github.com/hyperrange/rangemaster/pkg/config"
	"github.com/hyperrange/rangemaster/pkg/connection"
	"github.com/hyperrange/rangemaster/pkg/log"
	"github.com/hyperrange/rangemaster/pkg/nameservice"
	"github.com/hyperrange/rangemaster/pkg/operation"
	"github.com/hyperrange/rangemaster/pkg/recovery"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// RangeInfoProvider supplies the current metadata-table scan a balance
// pass needs. No range-server/metadata-table subsystem is modeled in this
// repo (the master coordinates range ownership, it does not implement the
// storage engine), so the default provider returns an empty slice and
// Balance degrades to a no-op plan; a real deployment wires this to the
// METADATA range scan.
type RangeInfoProvider func() []balancer.RangeInfo

// Handlers holds every collaborator an OperationType's Execute needs and
// exposes Register to build the map operation.NewProcessor expects.
type Handlers struct {
	Connections  *connection.Manager
	Algorithms   map[string]balancer.Algorithm
	Authority    *balancer.Authority
	NameService  nameservice.Client
	Config       *config.Config
	RangeInfo    RangeInfoProvider
	Coordinators *RecoveryRegistry

	stateMu    sync.Mutex
	state      map[int]string
	balanceGen uint64
}

// NewHandlers wires the default EvenRanges and Load algorithms and an
// empty RangeInfoProvider; callers override either by mutating the
// returned struct's fields before calling Register. Offload is not in the
// default set, so a Balance request naming it fails as an unknown
// algorithm unless a caller adds it to Algorithms.
func NewHandlers(conns *connection.Manager, authority *balancer.Authority, ns nameservice.Client, cfg *config.Config) *Handlers {
	return &Handlers{
		Connections: conns,
		Authority:   authority,
		NameService: ns,
		Config:      cfg,
		RangeInfo:   func() []balancer.RangeInfo { return nil },
		Algorithms: map[string]balancer.Algorithm{
			"EvenRanges": balancer.EvenRanges{DiskThresholdPct: cfg.Hypertable.Master.DiskThreshold.Percentage},
			"Load":       balancer.Load{DiskThresholdPct: cfg.Hypertable.Master.DiskThreshold.Percentage, Threshold: 0.2},
		},
		Coordinators: NewRecoveryRegistry(),
		state:        make(map[int]string),
	}
}

// Register returns the OperationType -> Handler map for operation.NewProcessor.
func (h *Handlers) Register() map[types.OperationType]operation.Handler {
	return map[types.OperationType]operation.Handler{
		types.OpCreateTable:           operation.HandlerFunc(h.createTable),
		types.OpDropTable:             operation.HandlerFunc(h.dropTable),
		types.OpAlterTable:            operation.HandlerFunc(h.alterTable),
		types.OpRenameTable:           operation.HandlerFunc(h.renameTable),
		types.OpCompact:               operation.HandlerFunc(h.compact),
		types.OpCreateNamespace:       operation.HandlerFunc(h.createNamespace),
		types.OpDropNamespace:         operation.HandlerFunc(h.dropNamespace),
		types.OpRecreateIndexTables:   operation.HandlerFunc(h.recreateIndexTables),
		types.OpRegisterServer:        operation.HandlerFunc(h.registerServer),
		types.OpMoveRange:             operation.HandlerFunc(h.moveRange),
		types.OpRelinquishAcknowledge: operation.HandlerFunc(h.relinquishAcknowledge),
		types.OpBalance:               operation.HandlerFunc(h.balance),
		types.OpSetState:              operation.HandlerFunc(h.setState),
		types.OpStop:                  operation.HandlerFunc(h.stop),
		types.OpRecover:               operation.HandlerFunc(h.recover),
	}
}

func complete(op *types.Operation, result interface{}) error {
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		op.Payload = data
	}
	op.State = types.StateComplete
	return nil
}

func failOp(op *types.Operation, code int, msg string) error {
	op.State = types.StateComplete
	op.ErrorCode = code
	op.ErrorMsg = msg
	return nil
}

// decode unmarshals op.Payload into dst, failing the operation with
// PROTOCOL_ERROR on malformed input rather than retrying — a bad payload
// never becomes valid on retry.
func decode(op *types.Operation, dst interface{}) (ok bool, err error) {
	if len(op.Payload) == 0 {
		return true, nil
	}
	if jsonErr := json.Unmarshal(op.Payload, dst); jsonErr != nil {
		return false, failOp(op, 1001, fmt.Sprintf("malformed payload: %v", jsonErr))
	}
	return true, nil
}

// The table DDL operations (CreateTable and friends) are bookkeeping-only
// at this layer: the master tracks that the operation was requested and
// retires it immediately. The physical range split/creation work that the
// original Hypertable master delegates to range servers has no analogue
// in this repo's scope — this is the coordination core, not the
// storage engine.

func (h *Handlers) createTable(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req CreateTablePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	log.WithOperation(op.ID).Info().Str("table", req.TableName).Msg("create table")
	return complete(op, nil)
}

func (h *Handlers) dropTable(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req DropTablePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	log.WithOperation(op.ID).Info().Str("table", req.TableName).Msg("drop table")
	return complete(op, nil)
}

func (h *Handlers) alterTable(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req AlterTablePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

func (h *Handlers) renameTable(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req RenameTablePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

func (h *Handlers) compact(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req CompactPayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

func (h *Handlers) createNamespace(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req CreateNamespacePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

func (h *Handlers) dropNamespace(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req DropNamespacePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

func (h *Handlers) recreateIndexTables(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req RecreateIndexTablesPayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	return complete(op, nil)
}

// registerServer implements proxy-name allocation, clock-skew
// rejection, connect_server, and dependency release.
func (h *Handlers) registerServer(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req RegisterServerPayload
	if ok, err := decode(op, &req); !ok {
		return err
	}

	proxy := req.Proxy
	if proxy == "" {
		if conn, found := h.Connections.FindServerByHostname(req.Hostname); found {
			proxy = conn.ProxyName
		} else if conn, found := h.Connections.FindServerByPublicAddr(req.PublicAddr); found {
			proxy = conn.ProxyName
		}
	}
	if proxy == "" {
		nsCtx, cancel := context.WithTimeout(ctx, nameservice.ProxyNameTimeout)
		id, err := h.NameService.Increment(nsCtx, "/rangemaster/servers", "next_proxy_id")
		cancel()
		if err != nil {
			return err
		}
		proxy = fmt.Sprintf("rs%d", id)
	}

	if h.Config != nil && h.Config.Hypertable.RangeServer.ClockSkew.Max > 0 {
		skew := time.Now().UnixMicro() - req.ClientTS
		if skew < 0 {
			skew = -skew
		}
		if skew > h.Config.Hypertable.RangeServer.ClockSkew.Max {
			return failOp(op, 1005, "clock skew exceeds configured ceiling")
		}
	}

	if _, found := h.Connections.FindServerByProxy(proxy); !found {
		if err := h.Connections.AddServer(&types.Connection{ProxyName: proxy, Hostname: req.Hostname}); err != nil {
			return err
		}
	}
	if err := h.Connections.ConnectServer(proxy, req.Hostname, req.LocalAddr, req.PublicAddr); err != nil {
		return err
	}

	proc.Unblock(types.RegisterServerBlockerLabel(proxy))
	proc.Unblock(types.DependencyServers)

	return complete(op, RegisterServerResult{Proxy: proxy})
}

// moveRange answers a range server's query for where one of its ranges
// should relocate to under the currently active balance plan.
func (h *Handlers) moveRange(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req MoveRangePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	dest, err := h.Authority.GetDestination(req.Table, req.StartRow)
	if err != nil {
		return failOp(op, 1008, err.Error())
	}
	return complete(op, struct {
		Destination string `json:"destination"`
	}{Destination: dest})
}

func (h *Handlers) relinquishAcknowledge(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req RelinquishAcknowledgePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	if err := h.Authority.MoveComplete(req.Table, req.StartRow, nil); err != nil {
		return failOp(op, 1008, err.Error())
	}
	return complete(op, nil)
}

func (h *Handlers) balance(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req BalancePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	algo, found := h.Algorithms[req.Algorithm]
	if !found {
		return failOp(op, 1001, "unknown balance algorithm "+req.Algorithm)
	}

	servers := make([]balancer.ServerInfo, 0)
	for _, conn := range h.Connections.GetServers() {
		if !conn.Connected() {
			continue
		}
		servers = append(servers, balancer.ServerInfo{
			Proxy:       conn.ProxyName,
			Live:        conn.Connected() && !conn.Removed(),
			DiskFillPct: conn.DiskFillPct,
		})
	}

	plan := algo.Plan(h.RangeInfo(), servers)
	h.stateMu.Lock()
	h.balanceGen++
	plan.Generation = h.balanceGen
	h.stateMu.Unlock()
	h.Authority.Register(plan)

	return complete(op, plan)
}

func (h *Handlers) setState(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req SetStatePayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	h.stateMu.Lock()
	for _, v := range req.Vars {
		h.state[v.VarCode] = v.Value
	}
	h.stateMu.Unlock()
	return complete(op, nil)
}

func (h *Handlers) stop(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req StopPayload
	if ok, err := decode(op, &req); !ok {
		return err
	}
	if req.Proxy != "" {
		conn := h.Connections.EraseServer(req.Proxy)
		if conn != nil && req.Recover {
			h.enqueueRecover(proc, req.Proxy)
		}
	}
	return complete(op, nil)
}

// recover drives the three-phase recovery coordinator; the actual
// per-phase RPC reports arrive asynchronously through pkg/api and call
// into the Coordinator this handler registers, so Execute here only
// blocks until all three phases are acknowledged or the operation's
// context is cancelled.
func (h *Handlers) recover(ctx context.Context, proc *operation.Processor, op *types.Operation) error {
	var req RecoverPayload
	if ok, err := decode(op, &req); !ok {
		return err
	}

	coord := h.Coordinators.BeginRecovery(op.ID, req.Generation, []string{req.Proxy})
	defer h.Coordinators.End(op.ID)

	for phase := recovery.PhaseReplayFragments; phase != ""; phase = recovery.NextPhase(phase) {
		if err := coord.WaitPhase(ctx, phase); err != nil {
			return err
		}
		if coord.PhaseFailed(phase) {
			return failOp(op, 1008, "recovery phase "+string(phase)+" failed for "+req.Proxy)
		}
	}

	return complete(op, nil)
}

// enqueueRecover submits a Recover operation directly via AddOperation
// since this is internally generated wiring, not a fresh client request.
// Its only caller is the stop handler, for a Stop request with Recover
// set; no name-service lock-release event triggers it.
func (h *Handlers) enqueueRecover(proc *operation.Processor, proxy string) {
	payload, _ := json.Marshal(RecoverPayload{Proxy: proxy, Generation: 1})
	op := &types.Operation{
		Type:          types.OpRecover,
		Exclusivities: []string{types.DependencyRecovery},
		Payload:       payload,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := proc.AddOperation(op); err != nil {
		log.Logger.Warn().Err(err).Str("proxy", proxy).Msg("failed to enqueue recovery")
	}
}
