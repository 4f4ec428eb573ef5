package intentd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DeFiIntent-Chain/internal/api"
	"DeFiIntent-Chain/internal/auth"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/internal/turn"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGetTurnDecodesAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/turns/t-404" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]APIError{"error": {Code: "TURN_NOT_FOUND", Message: "missing"}})
	}))

	_, err := client.GetTurn(context.Background(), "t-404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TURN_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListTurnsSendsQueryAndKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("api key = %q", r.Header.Get("X-API-Key"))
		}
		q := r.URL.Query()
		if q.Get("status") != "failed,pending" || q.Get("session_id") != "s1" || q.Get("limit") != "5" || q.Get("order") != "asc" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"turns": []Turn{{ID: "a"}}, "count": 1})
	}))
	client.SetAPIKey("secret")

	turns, err := client.ListTurns(context.Background(), ListQuery{Limit: 5, Statuses: []string{"failed", "pending"}, SessionID: "s1", Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != "a" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestClientAgainstServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	authSvc, err := auth.NewService(auth.Config{
		Mode: auth.ModeAPIKey,
		Keys: []auth.KeyConfig{{Name: "sdk", Key: "sdk-key", Permissions: []string{auth.PermissionAll}}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	p := pipeline.New(pipeline.DefaultConfig(), pipeline.WithMarket(market.NewStaticProvider(market.DefaultStaticData())))
	store := turn.NewMemoryStore()
	queue := turn.NewMemoryQueue(16)
	turns := turn.NewService(store, queue, 3)
	go func() { _ = turn.NewProcessor(p, store, queue, queue).Start(ctx) }()

	client := newTestClient(t, api.NewServer(":0", p, turns, api.WithAuth(authSvc)).Handler())

	if _, err := client.Parse(ctx, Request{Text: "lend 1000 USDC"}); err == nil {
		t.Fatal("expected unauthorized error")
	}
	client.SetAPIKey("sdk-key")

	result, err := client.Parse(ctx, Request{Text: "lend 50% of my USDC", Balances: map[string]float64{"USDC": 10000}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmd := result.Command()
	if result.State != string(pipeline.StateCommandReady) || cmd == nil || cmd.Intent != "LEND" {
		t.Fatalf("result = %+v", result)
	}
	if v, _ := cmd.Parameters.Lookup("amount"); v != float64(5000) {
		t.Fatalf("amount = %v", v)
	}

	submitted, err := client.SubmitTurn(ctx, Request{SessionID: "s-sdk", Text: "swap 1 ETH for USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := client.WaitForTurn(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusCompleted || done.Result == nil {
		t.Fatalf("turn = %+v", done)
	}

	stats, err := client.TurnStats(ctx, ListQuery{SessionID: "s-sdk"})
	if err != nil || stats.Completed != 1 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}
}
