package pipeline

import (
	"context"
	"errors"
	"sync"

	"DeFiIntent-Chain/internal/defi"
)

// Tracker 记录每个会话正在处理的轮次。同一会话的新轮次开始时取消旧轮次的 ctx。
type Tracker struct {
	mu       sync.Mutex
	seq      uint64
	sessions map[string]inflight
}

type inflight struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// NewTracker 创建轮次跟踪器。
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]inflight)}
}

// Begin 登记一轮处理并返回其 ctx。调用方必须在处理结束后调用返回的 done。
// sessionID 为空时不参与取代。
func (t *Tracker) Begin(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if sessionID == "" {
		return ctx, func() { cancel(nil) }
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	if prev, ok := t.sessions[sessionID]; ok {
		prev.cancel(defi.ErrTurnSuperseded)
	}
	t.sessions[sessionID] = inflight{seq: seq, cancel: cancel}
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if cur, ok := t.sessions[sessionID]; ok && cur.seq == seq {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// InFlight 返回正在处理的会话数量。
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Superseded 判断 ctx 是否因同一会话的新轮次而被取消。
func Superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), defi.ErrTurnSuperseded)
}
