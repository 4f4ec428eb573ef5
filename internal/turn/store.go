package turn

import (
	"context"

	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
)

// Store 抽象了轮次状态的持久化接口。
type Store interface {
	Create(ctx context.Context, t *Turn) error
	Get(ctx context.Context, id string) (*Turn, error)
	Claim(ctx context.Context, id string) (*Turn, error)
	MarkCompleted(ctx context.Context, id string, result *pipeline.TurnResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	MarkSuperseded(ctx context.Context, id string, result *pipeline.TurnResult) error
	// SupersedePending 将会话中仍在排队的轮次标记为已取代，返回受影响的数量。
	SupersedePending(ctx context.Context, sessionID string) (int, error)
	List(ctx context.Context, opts ListOptions) ([]*Turn, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
