package server

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/ingestion"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
	"MutualLedger/internal/query"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
)

const ServiceName = "mutualledger.v1.Ledger"

// Applier submits commands to the engine.
type Applier interface {
	Apply(cmd event.Command) (core.Result, error)
}

// --- Messages ---

type SubmitRequest struct {
	Kind    string          `json:"kind"`
	Command json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence  int64           `json:"sequence"`
	Duplicate bool            `json:"duplicate"`
	StateHash string          `json:"state_hash,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type Empty struct{}

type IDRequest struct {
	ID uint64 `json:"id"`
}

type PrincipalRequest struct {
	Principal string `json:"principal"`
}

type TopicRequest struct {
	Topic string `json:"topic"`
}

type ListClaimsRequest struct {
	Status string `json:"status,omitempty"`
}

type JournalHistoryRequest struct {
	Principal      string `json:"principal"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type PoliciesResponse struct {
	Policies []query.PolicyResponse `json:"policies"`
}

type ClaimsResponse struct {
	Claims []query.ClaimResponse `json:"claims"`
}

type ProposalsResponse struct {
	Proposals []query.ProposalResponse `json:"proposals"`
}

type JournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// --- Service ---

// LedgerServer is the handler type registered with grpc.Server.
type LedgerServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
}

// LedgerService implements the command and query RPCs. Errors come back
// as plain Go errors; the status interceptor maps them to gRPC codes.
type LedgerService struct {
	engine Applier
	query  *query.Service
}

func NewLedgerService(engine Applier, qs *query.Service) *LedgerService {
	return &LedgerService{engine: engine, query: qs}
}

// Submit parses and applies one command. Amounts may be decimal strings
// and terms duration strings, as on the NATS command subjects.
func (s *LedgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	kind, ok := event.ParseKind(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown command kind %q", errs.ErrInvalidParameter, req.Kind)
	}
	cmd, err := ingestion.ParseCommand(kind, req.Command)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Apply(cmd)
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return &SubmitResponse{Duplicate: true}, nil
	}

	value, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &SubmitResponse{
		Sequence:  res.Sequence,
		StateHash: hex.EncodeToString(res.StateHash[:]),
		Result:    value,
	}, nil
}

func (s *LedgerService) TotalLiquidity(ctx context.Context, _ *Empty) (*query.LiquidityResponse, error) {
	return s.query.TotalLiquidity(ctx)
}

func (s *LedgerService) UserLiquidity(ctx context.Context, req *PrincipalRequest) (*query.ProviderResponse, error) {
	return s.query.UserLiquidity(ctx, ledger.Principal(req.Principal))
}

func (s *LedgerService) APY(ctx context.Context, _ *Empty) (*query.APYResponse, error) {
	return s.query.APY(ctx)
}

func (s *LedgerService) PolicyDetails(ctx context.Context, req *IDRequest) (*query.PolicyResponse, error) {
	return s.query.PolicyDetails(ctx, req.ID)
}

func (s *LedgerService) UserPolicies(ctx context.Context, req *PrincipalRequest) (*PoliciesResponse, error) {
	out, err := s.query.UserPolicies(ctx, ledger.Principal(req.Principal))
	if err != nil {
		return nil, err
	}
	return &PoliciesResponse{Policies: out}, nil
}

func (s *LedgerService) ClaimStatus(ctx context.Context, req *IDRequest) (*query.ClaimResponse, error) {
	return s.query.ClaimStatus(ctx, req.ID)
}

func (s *LedgerService) UserClaims(ctx context.Context, req *PrincipalRequest) (*ClaimsResponse, error) {
	out, err := s.query.UserClaims(ctx, ledger.Principal(req.Principal))
	if err != nil {
		return nil, err
	}
	return &ClaimsResponse{Claims: out}, nil
}

func (s *LedgerService) ListClaims(ctx context.Context, req *ListClaimsRequest) (*ClaimsResponse, error) {
	out, err := s.query.ListClaims(ctx, req.Status)
	if err != nil {
		return nil, err
	}
	return &ClaimsResponse{Claims: out}, nil
}

func (s *LedgerService) ProposalDetails(ctx context.Context, req *IDRequest) (*query.ProposalResponse, error) {
	return s.query.ProposalDetails(ctx, req.ID)
}

func (s *LedgerService) ListProposals(ctx context.Context, _ *Empty) (*ProposalsResponse, error) {
	out, err := s.query.ListProposals(ctx)
	if err != nil {
		return nil, err
	}
	return &ProposalsResponse{Proposals: out}, nil
}

func (s *LedgerService) TopicVerdict(ctx context.Context, req *TopicRequest) (*query.TopicResponse, error) {
	return s.query.TopicVerdict(ctx, req.Topic)
}

func (s *LedgerService) Params(ctx context.Context, _ *Empty) (*params.Params, error) {
	p, err := s.query.Params(ctx)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *LedgerService) JournalHistory(ctx context.Context, req *JournalHistoryRequest) (*JournalHistoryResponse, error) {
	out, err := s.query.JournalHistory(ctx, ledger.Principal(req.Principal), req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &JournalHistoryResponse{Entries: out}, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return s.query.VerifyIntegrity(ctx)
}

// --- Service descriptor ---

// unary adapts a typed method to grpc.MethodHandler.
func unary[Req, Resp any](method string, call func(*LedgerService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*LedgerService)
			if interceptor == nil {
				return call(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(s, ctx, r.(*Req))
			})
		},
	}
}

// ServiceDesc describes the ledger service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", (*LedgerService).Submit),
		unary("TotalLiquidity", (*LedgerService).TotalLiquidity),
		unary("UserLiquidity", (*LedgerService).UserLiquidity),
		unary("APY", (*LedgerService).APY),
		unary("PolicyDetails", (*LedgerService).PolicyDetails),
		unary("UserPolicies", (*LedgerService).UserPolicies),
		unary("ClaimStatus", (*LedgerService).ClaimStatus),
		unary("UserClaims", (*LedgerService).UserClaims),
		unary("ListClaims", (*LedgerService).ListClaims),
		unary("ProposalDetails", (*LedgerService).ProposalDetails),
		unary("ListProposals", (*LedgerService).ListProposals),
		unary("TopicVerdict", (*LedgerService).TopicVerdict),
		unary("Params", (*LedgerService).Params),
		unary("JournalHistory", (*LedgerService).JournalHistory),
		unary("VerifyIntegrity", (*LedgerService).VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mutualledger/v1/ledger",
}
