package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	xerrors "DeFiIntent-Chain/internal/errors"
)

type recordingNotifier struct {
	mu      sync.Mutex
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutFiltersBySeverity(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	d := NewFanout(xerrors.SeverityWarning, rec)

	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityInfo, TurnID: "t-1"})
	if err := d.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical, TurnID: "t-2"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0].TurnID != "t-2" {
		t.Fatalf("events = %+v", rec.events)
	}
	if rec.events[0].OccurredAt.IsZero() {
		t.Fatalf("occurred_at not stamped")
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelWebhook, err: boom}
	err := NewFanout("", ok, bad).Notify(context.Background(), Event{Severity: xerrors.SeverityCritical})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(ok.events) != 1 {
		t.Fatalf("healthy notifier skipped")
	}
}

func TestWebhookFormats(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
	}))
	defer srv.Close()

	event := Event{Code: "TURN_PROCESSING_FAILED", Severity: xerrors.SeverityCritical, TurnID: "t-9", Attempts: 3, MaxRetries: 3}
	for _, n := range []*WebhookNotifier{
		{URL: srv.URL + "/raw", Client: srv.Client()},
		{URL: srv.URL + "/slack", Format: ChannelSlack, Client: srv.Client()},
		{URL: srv.URL + "/ding", Format: ChannelDingTalk, Client: srv.Client()},
	} {
		if err := n.Notify(context.Background(), event); err != nil {
			t.Fatalf("%s: %v", n.Channel(), err)
		}
	}

	if bodies["/raw"]["turn_id"] != "t-9" {
		t.Fatalf("raw body = %v", bodies["/raw"])
	}
	if _, ok := bodies["/slack"]["text"].(string); !ok {
		t.Fatalf("slack body = %v", bodies["/slack"])
	}
	if bodies["/ding"]["msgtype"] != "text" {
		t.Fatalf("dingtalk body = %v", bodies["/ding"])
	}
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{TurnID: "t"}); err == nil {
		t.Fatal("expected error")
	}
}
