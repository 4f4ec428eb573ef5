package turn

import (
	"context"
	"sort"
	"sync"
	"time"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
)

// MemoryStore 以内存方式保存轮次状态，用于单机部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string]*Turn
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string]*Turn)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, t *Turn) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "turn 不能为空")
	}
	if t.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.turns[t.ID]; ok {
		return ErrTurnConflict
	}
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.turns[t.ID] = cloneTurn(t)
	return nil
}

// Get 返回轮次。
func (m *MemoryStore) Get(_ context.Context, id string) (*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrTurnNotFound
	}
	return cloneTurn(t), nil
}

// Claim 将轮次状态更新为处理中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrTurnNotFound
	}
	switch t.Status {
	case StatusCompleted:
		return cloneTurn(t), ErrTurnCompleted
	case StatusSuperseded:
		return cloneTurn(t), defi.ErrTurnSuperseded
	case StatusRunning:
		return cloneTurn(t), ErrTurnConflict
	}
	if t.Attempts >= t.MaxRetries {
		return cloneTurn(t), ErrTurnExhausted
	}
	t.Status = StatusRunning
	t.Attempts++
	t.LastError = ""
	t.ErrorCode = ""
	t.UpdatedAt = time.Now().Unix()
	return cloneTurn(t), nil
}

// MarkCompleted 记录流水线结果。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, result *pipeline.TurnResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return ErrTurnNotFound
	}
	t.Status = StatusCompleted
	t.Result = result
	if result != nil {
		t.State = result.State
	}
	t.LastError = ""
	t.ErrorCode = ""
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记轮次失败。terminal 为真时不再允许重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return ErrTurnNotFound
	}
	t.Status = StatusFailed
	t.LastError = lastError
	t.ErrorCode = string(code)
	if terminal && t.Attempts < t.MaxRetries {
		t.Attempts = t.MaxRetries
	}
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkSuperseded 记录被新轮次取代的轮次。
func (m *MemoryStore) MarkSuperseded(_ context.Context, id string, result *pipeline.TurnResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[id]
	if !ok {
		return ErrTurnNotFound
	}
	t.Status = StatusSuperseded
	t.State = pipeline.StateSuperseded
	t.ErrorCode = string(defi.CodeTurnSuperseded)
	if result != nil {
		t.Result = result
	}
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// SupersedePending 实现 Store 接口。
func (m *MemoryStore) SupersedePending(_ context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	count := 0
	for _, t := range m.turns {
		if t.SessionID != sessionID || (t.Status != StatusPending && t.Status != StatusFailed) {
			continue
		}
		if t.Status == StatusFailed && t.Attempts >= t.MaxRetries {
			continue
		}
		t.Status = StatusSuperseded
		t.State = pipeline.StateSuperseded
		t.ErrorCode = string(defi.CodeTurnSuperseded)
		t.UpdatedAt = now
		count++
	}
	return count, nil
}

// List 返回符合条件的轮次。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Turn, 0, len(m.turns))
	for _, t := range m.turns {
		if !matchesListFilters(t, opts) {
			continue
		}
		results = append(results, t)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UpdatedAt != b.UpdatedAt {
			if opts.Order == SortByUpdatedAsc {
				return a.UpdatedAt < b.UpdatedAt
			}
			return a.UpdatedAt > b.UpdatedAt
		}
		if opts.Order == SortByUpdatedAsc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Turn{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	out := make([]*Turn, 0, len(results))
	for _, t := range results {
		out = append(out, cloneTurn(t))
	}
	return out, nil
}

// Stats 返回过滤后轮次的聚合信息，忽略分页参数。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()
	var stats Stats
	for _, t := range m.turns {
		if matchesListFilters(t, opts) {
			stats.add(t)
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
