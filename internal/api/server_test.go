package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DeFiIntent-Chain/internal/auth"
	"DeFiIntent-Chain/internal/defi"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/internal/observability/metrics"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/internal/turn"
)

func newTestServer(t *testing.T) (*Server, *turn.MemoryStore) {
	t.Helper()
	p := pipeline.New(pipeline.DefaultConfig(), pipeline.WithMarket(market.NewStaticProvider(market.DefaultStaticData())))
	store := turn.NewMemoryStore()
	svc := turn.NewService(store, turn.NewMemoryQueue(16), 3)
	return NewServer(":0", p, svc, WithMetrics(metrics.New(), "/metrics")), store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseReturnsCommand(t *testing.T) {
	server, _ := newTestServer(t)
	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/parse", `{"text": "lend 50% of my USDC", "balances": {"usdc": 10000}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var got pipeline.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != pipeline.StateCommandReady {
		t.Fatalf("state = %s", got.State)
	}
	cmd := got.Command()
	if cmd == nil || cmd.Intent != defi.IntentLend {
		t.Fatalf("command = %+v", cmd)
	}
	if v, _ := cmd.Parameters.Number(defi.ParamAmount); v != 5000 {
		t.Fatalf("amount = %v", v)
	}
}

func TestParseErrors(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	cases := []struct {
		name   string
		method string
		body   string
		status int
		code   string
	}{
		{"empty text", http.MethodPost, `{"text": "  "}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad json", http.MethodPost, `{"text":`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown field", http.MethodPost, `{"text": "lend 1 ETH", "foo": 1}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, "/api/v1/parse", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if tc.code == "" {
				return
			}
			var body map[string]errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"].Code != tc.code {
				t.Fatalf("error = %+v", body["error"])
			}
		})
	}
}

func TestRejectedTurnIsNotAnHTTPError(t *testing.T) {
	server, _ := newTestServer(t)
	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/parse", `{"text": "the weather is nice today"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got pipeline.TurnResult
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.State != pipeline.StateRejected || got.Failure == nil {
		t.Fatalf("result = %+v", got)
	}
}

func TestTurnLifecycleEndpoints(t *testing.T) {
	server, store := newTestServer(t)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/turns", `{"turn_id": "t-1", "session_id": "s1", "text": "lend 1000 USDC"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body = %s", rec.Code, rec.Body.String())
	}
	if err := store.MarkCompleted(context.Background(), "t-1", &pipeline.TurnResult{TurnID: "t-1", State: pipeline.StateCommandReady}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/turns/t-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	var got turn.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "t-1" || got.Status != turn.StatusCompleted || got.State != pipeline.StateCommandReady {
		t.Fatalf("turn = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/turns?status=completed&session_id=s1", "")
	var list struct {
		Turns []turn.Turn `json:"turns"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || list.Count != 1 {
		t.Fatalf("list = %s, %v", rec.Body.String(), err)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/turns/stats", "")
	var stats turn.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || stats.Completed != 1 {
		t.Fatalf("stats = %s, %v", rec.Body.String(), err)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/turns/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/turns?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/turns?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestUninitializedServicesReturnUnavailable(t *testing.T) {
	h := NewServer(":0", nil, nil).Handler()
	if rec := do(t, h, http.MethodPost, "/api/v1/parse", `{"text": "lend 1 ETH"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("parse status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/turns/x", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("detail status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()
	do(t, h, http.MethodGet, "/healthz", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `intentd_http_requests_total{code="200",handler="healthz",method="GET"} 1`) {
		t.Fatalf("metrics = %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeAPIKey,
		Keys: []auth.KeyConfig{{Name: "reader", Key: "r-key", Permissions: []string{auth.PermissionTurnsRead}}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	p := pipeline.New(pipeline.DefaultConfig())
	turns := turn.NewService(turn.NewMemoryStore(), turn.NewMemoryQueue(4), 3)
	h := NewServer(":0", p, turns, WithAuth(svc)).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/turns", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	req.Header.Set("X-API-Key", "r-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reader list status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader(`{"text": "lend 1 ETH"}`))
	req.Header.Set("X-API-Key", "r-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reader parse status = %d", rec.Code)
	}
}
