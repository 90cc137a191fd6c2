package api

import (
	"context"
	"encoding/json"

	"github.com/hyperrange/rangemaster/pkg/master"
	"github.com/hyperrange/rangemaster/pkg/operation"
	"github.com/hyperrange/rangemaster/pkg/recovery"
	"github.com/hyperrange/rangemaster/pkg/types"
)

// opIDResponse wraps an operation id the way every DDL-style RPC in the
// command table replies: a status plus the id the caller fetches later.
func opIDResponse(id int64, err error) (*OperationIDResponse, error) {
	if err == operation.ErrOperationInProgress {
		return &OperationIDResponse{Status: errStatus(CodeOperationInProgress, err.Error())}, nil
	}
	if err != nil {
		return nil, err
	}
	return &OperationIDResponse{Status: ok(), OperationID: id}, nil
}

func (s *Server) CreateTable(ctx context.Context, req *CreateTableRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.CreateTablePayload{TableName: req.TableName, Schema: req.Schema})
	id, err := s.submit(types.OpCreateTable, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

func (s *Server) DropTable(ctx context.Context, req *DropTableRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.DropTablePayload{TableName: req.TableName, IfExists: req.IfExists})
	id, err := s.submit(types.OpDropTable, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

func (s *Server) AlterTable(ctx context.Context, req *AlterTableRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.AlterTablePayload{TableName: req.TableName, Schema: req.Schema})
	id, err := s.submit(types.OpAlterTable, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

func (s *Server) RenameTable(ctx context.Context, req *RenameTableRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.RenameTablePayload{TableName: req.TableName, NewName: req.NewName})
	id, err := s.submit(types.OpRenameTable, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

func (s *Server) Compact(ctx context.Context, req *CompactRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.CompactPayload{TableName: req.TableName, RowKey: req.RowKey, Flags: req.Flags})
	id, err := s.submit(types.OpCompact, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

func (s *Server) CreateNamespace(ctx context.Context, req *CreateNamespaceRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.CreateNamespacePayload{Path: req.Path, Flags: req.Flags})
	id, err := s.submit(types.OpCreateNamespace, []string{"namespace " + req.Path}, payload)
	return opIDResponse(id, err)
}

func (s *Server) DropNamespace(ctx context.Context, req *DropNamespaceRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.DropNamespacePayload{Path: req.Path, Flags: req.Flags})
	id, err := s.submit(types.OpDropNamespace, []string{"namespace " + req.Path}, payload)
	return opIDResponse(id, err)
}

func (s *Server) RecreateIndexTables(ctx context.Context, req *RecreateIndexTablesRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.RecreateIndexTablesPayload{TableName: req.TableName, PartsMask: req.PartsMask})
	id, err := s.submit(types.OpRecreateIndexTables, []string{"table " + req.TableName}, payload)
	return opIDResponse(id, err)
}

// RegisterServer is the only write RPC a range server itself calls; the
// operation it submits is exclusive per-hostname, so while one registration
// for a host is live a second one for the same host is rejected with
// OPERATION_IN_PROGRESS instead of minting a second proxy name.
func (s *Server) RegisterServer(ctx context.Context, req *RegisterServerRequest) (*RegisterServerResponse, error) {
	payload, _ := json.Marshal(master.RegisterServerPayload{
		Proxy:      req.Proxy,
		Hostname:   req.Hostname,
		LocalAddr:  req.LocalAddr,
		PublicAddr: req.PublicAddr,
		ListenPort: req.ListenPort,
		ClientTS:   req.ClientTS,
	})
	id, err := s.submit(types.OpRegisterServer, []string{"register " + req.Hostname}, payload)
	if err != nil {
		if err == operation.ErrOperationInProgress {
			return &RegisterServerResponse{Status: errStatus(CodeOperationInProgress, err.Error())}, nil
		}
		return nil, err
	}

	ch := s.responses.AddDeliveryInfo(id)
	op := <-ch
	if op == nil {
		return &RegisterServerResponse{Status: errStatus(CodeServerNotReady, "registration timed out")}, nil
	}
	if op.ErrorCode != 0 {
		return &RegisterServerResponse{Status: errStatus(op.ErrorCode, op.ErrorMsg)}, nil
	}

	var result master.RegisterServerResult
	_ = json.Unmarshal(op.Payload, &result)
	return &RegisterServerResponse{Status: ok(), Proxy: result.Proxy}, nil
}

func (s *Server) MoveRange(ctx context.Context, req *MoveRangeRequest) (*AckResponse, error) {
	payload, _ := json.Marshal(master.MoveRangePayload{
		Source: req.Source, Table: req.Table, StartRow: req.StartRow, EndRow: req.EndRow, RangeID: req.RangeID,
	})
	_, err := s.submit(types.OpMoveRange, nil, payload)
	if err != nil {
		return nil, err
	}
	return &AckResponse{Status: ok()}, nil
}

func (s *Server) RelinquishAcknowledge(ctx context.Context, req *RelinquishAcknowledgeRequest) (*AckResponse, error) {
	payload, _ := json.Marshal(master.RelinquishAcknowledgePayload{
		Source: req.Source, Table: req.Table, StartRow: req.StartRow, EndRow: req.EndRow, RangeID: req.RangeID,
	})
	_, err := s.submit(types.OpRelinquishAcknowledge, nil, payload)
	if err != nil {
		return nil, err
	}
	return &AckResponse{Status: ok()}, nil
}

func (s *Server) Balance(ctx context.Context, req *BalanceRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.BalancePayload{Algorithm: req.Algorithm, Args: req.Args})
	id, err := s.submit(types.OpBalance, []string{"balance"}, payload)
	return opIDResponse(id, err)
}

func (s *Server) SetState(ctx context.Context, req *SetStateRequest) (*AckResponse, error) {
	vars := make([]master.StateVar, len(req.Vars))
	for i, v := range req.Vars {
		vars[i] = master.StateVar{VarCode: v.VarCode, Value: v.Value}
	}
	payload, _ := json.Marshal(master.SetStatePayload{Vars: vars})
	_, err := s.submit(types.OpSetState, nil, payload)
	if err != nil {
		return nil, err
	}
	return &AckResponse{Status: ok()}, nil
}

func (s *Server) Stop(ctx context.Context, req *StopRequest) (*OperationIDResponse, error) {
	payload, _ := json.Marshal(master.StopPayload{Proxy: req.Proxy, Recover: req.Recover})
	id, err := s.submit(types.OpStop, []string{"stop " + req.Proxy}, payload)
	return opIDResponse(id, err)
}

func (s *Server) Shutdown(ctx context.Context, req *ShutdownRequest) (*AckResponse, error) {
	payload, _ := json.Marshal(master.StopPayload{Recover: req.Recover})
	if _, err := s.submit(types.OpStop, []string{"shutdown"}, payload); err != nil {
		return nil, err
	}
	return &AckResponse{Status: ok()}, nil
}

// FetchResult is the protocol's second phase: the client blocks (up to the
// rendezvous TTL) for the operation it previously submitted to complete.
func (s *Server) FetchResult(ctx context.Context, req *FetchResultRequest) (*FetchResultResponse, error) {
	ch := s.responses.AddDeliveryInfo(req.OperationID)

	select {
	case op := <-ch:
		if op == nil {
			return &FetchResultResponse{Status: errStatus(CodeOperationNotFound, "result not available"), OperationID: req.OperationID}, nil
		}
		return &FetchResultResponse{
			Status:      ok(),
			OperationID: op.ID,
			Complete:    op.Complete(),
			ErrorCode:   op.ErrorCode,
			ErrorMsg:    op.ErrorMsg,
			Payload:     op.Payload,
			UpdatedAt:   op.UpdatedAt,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReplayStatus lets a range server poll whether the master still expects
// it to participate in a recovery's current phase.
func (s *Server) ReplayStatus(ctx context.Context, req *ReplayStatusRequest) (*AckResponse, error) {
	if _, found := s.handlers.Coordinators.Get(req.OperationID); !found {
		return &AckResponse{Status: errStatus(CodeOperationNotFound, "no recovery in progress for this operation")}, nil
	}
	return &AckResponse{Status: ok()}, nil
}

func (s *Server) ReplayComplete(ctx context.Context, req *ReplayCompleteRequest) (*AckResponse, error) {
	return s.reportPhase(req.OperationID, req.Proxy, req.Generation, req.ErrorCode, req.ErrorMsg, recovery.PhaseReplayFragments)
}

func (s *Server) PhantomPrepareComplete(ctx context.Context, req *PhantomPrepareCompleteRequest) (*AckResponse, error) {
	return s.reportPhase(req.OperationID, req.Proxy, req.Generation, req.ErrorCode, req.ErrorMsg, recovery.PhasePhantomPrepare)
}

func (s *Server) PhantomCommitComplete(ctx context.Context, req *PhantomCommitCompleteRequest) (*AckResponse, error) {
	return s.reportPhase(req.OperationID, req.Proxy, req.Generation, req.ErrorCode, req.ErrorMsg, recovery.PhasePhantomCommit)
}

func (s *Server) reportPhase(operationID int64, proxy string, generation uint64, errorCode int, errorMsg string, phase recovery.Phase) (*AckResponse, error) {
	coord, found := s.handlers.Coordinators.Get(operationID)
	if !found {
		return &AckResponse{Status: errStatus(CodeOperationNotFound, "no recovery in progress for this operation")}, nil
	}
	future := coord.BeginPhase(phase)
	if errorCode != 0 {
		future.Failure(proxy, generation, errorCode, errorMsg)
	} else {
		future.Success(proxy, generation)
	}
	return &AckResponse{Status: ok()}, nil
}
