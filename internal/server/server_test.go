package server_test

import (
	"MutualLedger/internal/capability"
	"MutualLedger/internal/core"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/persistence"
	"MutualLedger/internal/query"
	"MutualLedger/internal/server"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	srv     *server.GRPCServer
	wallets *capability.Wallets
	health  *observability.HealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wallets := capability.NewWallets()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	eng, err := core.NewEngine(core.Config{
		Admin:    "admin",
		Settler:  wallets,
		Verifier: capability.NewEd25519Verifier(),
		Clock:    capability.NewManualClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)),
		Metrics:  metrics,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	qs := query.NewService(eng, persistence.NewMemoryRecordStore(), nil, metrics)
	health := observability.NewHealthChecker()
	srv, err := server.NewGRPCServer("unused", "unused", &server.ServerDeps{
		Service:       server.NewLedgerService(eng, qs),
		HealthChecker: health,
		Gatherer:      reg,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return &fixture{srv: srv, wallets: wallets, health: health}
}

func (f *fixture) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.srv.ServeGRPC(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return conn
}

func method(name string) string { return "/" + server.ServiceName + "/" + name }

func submit(kind string, body map[string]any) *server.SubmitRequest {
	body["request_id"] = uuid.NewString()
	data, _ := json.Marshal(body)
	return &server.SubmitRequest{Kind: kind, Command: data}
}

func TestGRPC_SubmitAndQuery(t *testing.T) {
	f := newFixture(t)
	f.wallets.Mint("lp", 1_000_000_000)
	conn := f.dial(t)
	ctx := context.Background()

	var resp server.SubmitResponse
	require.NoError(t, conn.Invoke(ctx, method("Submit"),
		submit("Deposit", map[string]any{"provider": "lp", "amount": "250.5"}), &resp))
	assert.Equal(t, int64(0), resp.Sequence)
	assert.Len(t, resp.StateHash, 64)

	var liq query.LiquidityResponse
	require.NoError(t, conn.Invoke(ctx, method("TotalLiquidity"), &server.Empty{}, &liq))
	assert.Equal(t, "250.500000", liq.Capital)
	assert.Equal(t, int64(1), liq.AsOfSequence)

	var acct query.ProviderResponse
	require.NoError(t, conn.Invoke(ctx, method("UserLiquidity"), &server.PrincipalRequest{Principal: "lp"}, &acct))
	assert.Equal(t, "250.500000", acct.Value)
}

func TestGRPC_ErrorsMapToStatusCodes(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	ctx := context.Background()

	var resp server.SubmitResponse
	err := conn.Invoke(ctx, method("Submit"), submit("Deposit", map[string]any{"provider": "lp", "amount": "1"}), &resp)
	assert.Equal(t, codes.Aborted, status.Code(err), "settlement failure: lp has no funds")

	err = conn.Invoke(ctx, method("Submit"), &server.SubmitRequest{Kind: "Rebalance", Command: []byte(`{}`)}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var pol query.PolicyResponse
	err = conn.Invoke(ctx, method("PolicyDetails"), &server.IDRequest{ID: 9}, &pol)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	client := healthpb.NewHealthClient(conn)

	// The health service uses protobuf, not the JSON subtype.
	proto := grpc.CallContentSubtype("proto")
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName}, proto)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	f.srv.SetServing(true)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName}, proto)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	assert.True(t, f.health.IsReady())
}

func TestGateway_Routes(t *testing.T) {
	f := newFixture(t)
	f.wallets.Mint("lp", 1_000_000_000)
	h := f.srv.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("POST", "/v1/commands/Deposit", `{"request_id":"`+uuid.NewString()+`","provider":"lp","amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do("GET", "/v1/providers/lp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var acct query.ProviderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, "100.000000", acct.Shares)

	rec = do("GET", "/v1/policies/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do("GET", "/v1/claims/3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"claim_not_found"`)

	rec = do("GET", "/v1/principals/lp/journal", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no database configured")

	rec = do("GET", "/v1/admin/integrity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_healthy":true`)

	rec = do("GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mutual_engine_commands_applied_total")
}
