package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/internal/observability/alerting"
	"DeFiIntent-Chain/internal/pipeline"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	turns := []*Turn{
		{ID: "t1", SessionID: "s1", Request: pipeline.Request{Text: "lend 1000 USDC"}, Status: StatusPending, MaxRetries: 3},
		{ID: "t2", SessionID: "s2", Request: pipeline.Request{Text: "swap 1 ETH for USDC"}, Status: StatusPending, MaxRetries: 3},
		{ID: "t3", SessionID: "s1", Request: pipeline.Request{Text: "borrow 500 DAI"}, Status: StatusPending, MaxRetries: 3},
	}
	for _, turn := range turns {
		if err := store.Create(ctx, turn); err != nil {
			t.Fatalf("create turn %s: %v", turn.ID, err)
		}
	}
	if err := store.MarkFailed(ctx, "t2", CodeTurnProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "t3", &pipeline.TurnResult{TurnID: "t3", State: pipeline.StateCommandReady}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	store.mu.Lock()
	store.turns["t1"].UpdatedAt = base.Unix()
	store.turns["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.turns["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" {
		t.Fatalf("expected newest turn first, got %+v", all)
	}

	cases := []struct {
		name string
		opts []ListOption
		want []string
	}{
		{"failed", []ListOption{WithStatuses(StatusFailed)}, []string{"t2"}},
		{"with result", []ListOption{WithResultPresence(true)}, []string{"t3"}},
		{"session", []ListOption{WithSession("s1"), WithSortOrder(SortByUpdatedAsc)}, []string{"t1", "t3"}},
		{"query", []ListOption{WithQuery("eth")}, []string{"t2"}},
		{"since", []ListOption{WithUpdatedSince(base.Add(45 * time.Second))}, []string{"t3"}},
		{"page", []ListOption{WithLimit(1), WithOffset(1)}, []string{"t2"}},
		{"unknown status ignored", []ListOption{WithStatuses("bogus")}, []string{"t3", "t2", "t1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, BuildListOptions(tc.opts...))
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, turn := range got {
				ids = append(ids, turn.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v, want %v", ids, tc.want)
			}
		})
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats range: %+v", stats)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Turn{ID: "t1", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Turn{ID: "t1", Status: StatusPending, MaxRetries: 2}); !errors.Is(err, ErrTurnConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "t1")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claim = %+v, %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "t1"); !errors.Is(err, ErrTurnConflict) {
		t.Fatalf("expected running conflict, got %v", err)
	}
	if err := store.MarkFailed(ctx, "t1", CodeTurnProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "t1", CodeTurnProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); !errors.Is(err, ErrTurnExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !IsTurnError(err, CodeTurnNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureStopsRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Turn{ID: "t1", Status: StatusPending, MaxRetries: 3})
	if _, err := store.Claim(ctx, "t1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "t1", xerrors.CodeInvalidArgument, "bad", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	turn, _ := store.Get(ctx, "t1")
	if !turn.Finished() {
		t.Fatalf("terminal failure should finish the turn: %+v", turn)
	}
}

func TestSupersedePendingOnlyTouchesSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Turn{ID: "a1", SessionID: "a", Status: StatusPending, MaxRetries: 3})
	_ = store.Create(ctx, &Turn{ID: "a2", SessionID: "a", Status: StatusPending, MaxRetries: 3})
	_ = store.Create(ctx, &Turn{ID: "b1", SessionID: "b", Status: StatusPending, MaxRetries: 3})
	_ = store.MarkCompleted(ctx, "a2", &pipeline.TurnResult{State: pipeline.StateCommandReady})

	n, err := store.SupersedePending(ctx, "a")
	if err != nil || n != 1 {
		t.Fatalf("superseded = %d, %v", n, err)
	}
	a1, _ := store.Get(ctx, "a1")
	if a1.Status != StatusSuperseded || a1.State != pipeline.StateSuperseded {
		t.Fatalf("a1 = %+v", a1)
	}
	if _, err := store.Claim(ctx, "a1"); !errors.Is(err, defi.ErrTurnSuperseded) {
		t.Fatalf("expected superseded claim error, got %v", err)
	}
	if b1, _ := store.Get(ctx, "b1"); b1.Status != StatusPending {
		t.Fatalf("b1 = %+v", b1)
	}
}

func TestServiceSubmitIsIdempotentAndSupersedes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, pipeline.Request{TurnID: "t1", SessionID: "s1", Text: "lend 1000 USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	again, err := service.Submit(ctx, pipeline.Request{TurnID: "t1", SessionID: "s1", Text: "something else"})
	if err != nil || again.Request.Text != first.Request.Text {
		t.Fatalf("resubmit = %+v, %v", again, err)
	}

	if _, err := service.Submit(ctx, pipeline.Request{SessionID: "s1", Text: "lend 2000 USDC"}); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	older, _ := service.Get(ctx, "t1")
	if older.Status != StatusSuperseded {
		t.Fatalf("older turn status = %s", older.Status)
	}
	stats, _ := service.Stats(ctx, WithSession("s1"))
	if stats.Total != 2 || stats.Pending != 1 || stats.Superseded != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	if _, err := service.Submit(ctx, pipeline.Request{Text: "  "}); xerrors.CodeOf(err) != CodeTurnValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("down") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitMarksPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(ctx, pipeline.Request{TurnID: "t1", Text: "lend 1000 USDC"})
	if xerrors.CodeOf(err) != CodeTurnPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	turn, _ := store.Get(ctx, "t1")
	if turn.Status != StatusFailed || !turn.Finished() {
		t.Fatalf("turn = %+v", turn)
	}
}

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(req pipeline.Request) error
}

func (f *fakeExecutor) Process(ctx context.Context, req pipeline.Request) (*pipeline.TurnResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return nil, err
		}
	}
	return &pipeline.TurnResult{TurnID: req.TurnID, Text: req.Text, State: pipeline.StateCommandReady}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met within %s", timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorHandlesConcurrentTurns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, pipeline.Request{SessionID: fmt.Sprintf("s-%d", i), Text: "lend 1000 USDC"}); err != nil {
			t.Fatalf("提交轮次失败: %v", err)
		}
	}
	waitFor(t, 5*time.Second, func() bool {
		stats, _ := store.Stats(ctx, ListOptions{})
		return stats.Completed == total
	})
	turns, _ := service.List(ctx, WithLimit(1))
	if turns[0].State != pipeline.StateCommandReady || turns[0].Result == nil {
		t.Fatalf("turn = %+v", turns[0])
	}
}

func TestProcessorRetriesOnlyRetryableFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	attempts := map[string]int{}
	executor := &fakeExecutor{fail: func(req pipeline.Request) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[req.TurnID]++
		switch req.TurnID {
		case "flaky":
			if attempts[req.TurnID] < 2 {
				return xerrors.New(xerrors.CodeUpstreamFailure, "price feed down")
			}
		case "broken":
			return xerrors.New(defi.CodeCommandBuilding, "bad template")
		}
		return nil
	}}

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(2))
	go func() { _ = processor.Start(ctx) }()

	for _, id := range []string{"flaky", "broken"} {
		if _, err := service.Submit(ctx, pipeline.Request{TurnID: id, Text: "swap 1 ETH for USDC"}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	waitFor(t, 5*time.Second, func() bool {
		flaky, _ := store.Get(ctx, "flaky")
		broken, _ := store.Get(ctx, "broken")
		return flaky.Status == StatusCompleted && broken.Finished()
	})

	broken, _ := store.Get(ctx, "broken")
	if broken.Status != StatusFailed || broken.ErrorCode != string(defi.CodeCommandBuilding) || broken.Attempts != broken.MaxRetries {
		t.Fatalf("broken = %+v", broken)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts["flaky"] != 2 || attempts["broken"] != 1 {
		t.Fatalf("attempts = %v", attempts)
	}
}

func TestProcessorRunsPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := pipeline.New(pipeline.DefaultConfig(), pipeline.WithMarket(market.NewStaticProvider(market.DefaultStaticData())))
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	processor := NewProcessor(p, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, pipeline.Request{SessionID: "s1", Text: "lend 1000 USDC"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilFinished(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusCompleted || done.State != pipeline.StateCommandReady {
		t.Fatalf("turn = %+v", done)
	}
	if cmd := done.Result.Command(); cmd == nil || cmd.Intent != defi.IntentLend {
		t.Fatalf("command = %+v", cmd)
	}
	if done.Result.TurnID != submitted.ID {
		t.Fatalf("result turn id = %s, want %s", done.Result.TurnID, submitted.ID)
	}
}

func TestProcessorRecordsSupersededExecution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	executor := &fakeExecutor{fail: func(pipeline.Request) error { return defi.ErrTurnSuperseded }}
	processor := NewProcessor(executor, store, queue, queue)

	_ = store.Create(ctx, &Turn{ID: "t1", SessionID: "s1", Request: pipeline.Request{Text: "lend 1 ETH"}, Status: StatusPending, MaxRetries: 3})
	if err := processor.handle(ctx, "t1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	turn, _ := store.Get(ctx, "t1")
	if turn.Status != StatusSuperseded {
		t.Fatalf("turn = %+v", turn)
	}
	// 已取代的轮次不会再次执行。
	if err := processor.handle(ctx, "t1"); err != nil {
		t.Fatalf("handle again: %v", err)
	}
	if executor.processed.Load() != 1 {
		t.Fatalf("processed = %d", executor.processed.Load())
	}
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func TestProcessorAlertsWhenRetriesExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executor := &fakeExecutor{fail: func(pipeline.Request) error {
		return xerrors.New(xerrors.CodeUpstreamFailure, "rpc unavailable", xerrors.WithStage("enrich"))
	}}
	alerts := &recordingAlerts{}
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 2)
	processor := NewProcessor(executor, store, queue, queue, WithAlerts(alerts))
	go func() { _ = processor.Start(ctx) }()

	if _, err := service.Submit(ctx, pipeline.Request{TurnID: "down", SessionID: "s-down", Text: "borrow 100 USDC"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return len(alerts.snapshot()) == 1 })

	event := alerts.snapshot()[0]
	if event.TurnID != "down" || event.SessionID != "s-down" || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("event = %+v", event)
	}
	if event.Attempts != 2 || event.Metadata["stage"] != "enrich" || event.Code != xerrors.CodeUpstreamFailure {
		t.Fatalf("event = %+v", event)
	}
	if executor.processed.Load() != 2 {
		t.Fatalf("processed = %d", executor.processed.Load())
	}
}

func TestMemoryQueueCoalescesQueuedTurns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(4)
	for _, id := range []string{"a", "a", "b"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if queue.Pending() != 2 {
		t.Fatalf("pending = %d", queue.Pending())
	}

	var mu sync.Mutex
	var seen []string
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(consumeCtx, 1, func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, id)
			return nil
		})
	}()
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	// 已被取出的轮次可以再次投递。
	if err := queue.Publish(ctx, "a"); err != nil {
		t.Fatalf("republish: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
	stop()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("consume returned %v", err)
	}

	_ = queue.Close()
	if err := queue.Publish(ctx, "c"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("publish after close = %v", err)
	}
}
