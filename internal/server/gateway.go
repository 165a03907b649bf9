package server

import (
	"MutualLedger/internal/errs"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxBodyBytes = 1 << 20

// NewGatewayMux routes HTTP/JSON requests to the ledger service in-process.
//
//	POST /v1/commands/{kind}                  body: the command JSON
//	GET  /v1/pool/liquidity | /v1/pool/apy | /v1/params
//	GET  /v1/providers/{principal}
//	GET  /v1/policies/{id}     /v1/holders/{principal}/policies
//	GET  /v1/claims?status=    /v1/claims/{id}    /v1/claimants/{principal}/claims
//	GET  /v1/proposals         /v1/proposals/{id}
//	GET  /v1/topics/{topic}
//	GET  /v1/principals/{principal}/journal?limit=&before=
//	GET  /v1/admin/integrity
func NewGatewayMux(svc *LedgerService) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{kind}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, fmt.Errorf("%w: read body: %v", errs.ErrInvalidParameter, err))
				return
			}
			respond(w, r.Context(), &SubmitRequest{Kind: p["kind"], Command: body}, svc.Submit)
		}},
		{"GET", "/v1/pool/liquidity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &Empty{}, svc.TotalLiquidity)
		}},
		{"GET", "/v1/pool/apy", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &Empty{}, svc.APY)
		}},
		{"GET", "/v1/params", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &Empty{}, svc.Params)
		}},
		{"GET", "/v1/providers/{principal}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			respond(w, r.Context(), &PrincipalRequest{Principal: p["principal"]}, svc.UserLiquidity)
		}},
		{"GET", "/v1/policies/{id}", withID(svc.PolicyDetails)},
		{"GET", "/v1/holders/{principal}/policies", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			respond(w, r.Context(), &PrincipalRequest{Principal: p["principal"]}, svc.UserPolicies)
		}},
		{"GET", "/v1/claims", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &ListClaimsRequest{Status: r.URL.Query().Get("status")}, svc.ListClaims)
		}},
		{"GET", "/v1/claims/{id}", withID(svc.ClaimStatus)},
		{"GET", "/v1/claimants/{principal}/claims", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			respond(w, r.Context(), &PrincipalRequest{Principal: p["principal"]}, svc.UserClaims)
		}},
		{"GET", "/v1/proposals", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &Empty{}, svc.ListProposals)
		}},
		{"GET", "/v1/proposals/{id}", withID(svc.ProposalDetails)},
		{"GET", "/v1/topics/{topic}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			respond(w, r.Context(), &TopicRequest{Topic: p["topic"]}, svc.TopicVerdict)
		}},
		{"GET", "/v1/principals/{principal}/journal", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req := &JournalHistoryRequest{Principal: p["principal"]}
			q := r.URL.Query()
			if s := q.Get("limit"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil {
					writeError(w, fmt.Errorf("%w: limit %q", errs.ErrInvalidParameter, s))
					return
				}
				req.Limit = n
			}
			if s := q.Get("before"); s != "" {
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					writeError(w, fmt.Errorf("%w: before %q", errs.ErrInvalidParameter, s))
					return
				}
				req.BeforeSequence = &n
			}
			respond(w, r.Context(), req, svc.JournalHistory)
		}},
		{"GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			respond(w, r.Context(), &Empty{}, svc.VerifyIntegrity)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func withID[Resp any](call func(context.Context, *IDRequest) (*Resp, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		id, err := strconv.ParseUint(p["id"], 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: id %q", errs.ErrInvalidParameter, p["id"]))
			return
		}
		respond(w, r.Context(), &IDRequest{ID: id}, call)
	}
}

func respond[Req, Resp any](w http.ResponseWriter, ctx context.Context, req *Req, call func(context.Context, *Req) (*Resp, error)) {
	resp, err := call(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := errs.Code(err)
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{
		Code:    code.String(),
		Reason:  errs.Label(err),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
