package turn

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/pkg/logger"
)

// MemoryQueue 使用 channel 实现进程内队列，适用于单机部署与测试。
//
// 同一轮次在被取出之前只排队一次，重复投递会被合并。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool

	queuedMu sync.Mutex
	queued   map[string]struct{}

	logger *slog.Logger
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:     make(chan string, size),
		queued: make(map[string]struct{}),
		logger: logger.Named("turn.queue"),
	}
}

// Publish 将轮次投递到队列。队列已满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, turnID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	q.queuedMu.Lock()
	if _, ok := q.queued[turnID]; ok {
		q.queuedMu.Unlock()
		return nil
	}
	q.queued[turnID] = struct{}{}
	q.queuedMu.Unlock()

	select {
	case q.ch <- turnID:
		return nil
	case <-ctx.Done():
		q.release(turnID)
		return ctx.Err()
	}
}

// Pending 返回尚未被取出的轮次数量。
func (q *MemoryQueue) Pending() int {
	q.queuedMu.Lock()
	defer q.queuedMu.Unlock()
	return len(q.queued)
}

// Consume 启动指定数量的工作协程消费队列中的轮次，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case turnID, ok := <-q.ch:
					if !ok {
						return nil
					}
					q.release(turnID)
					if err := handler(gctx, turnID); err != nil {
						q.logger.Warn("处理轮次出错", slog.String("turn_id", turnID), slog.Any("error", err))
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (q *MemoryQueue) release(turnID string) {
	q.queuedMu.Lock()
	delete(q.queued, turnID)
	q.queuedMu.Unlock()
}

// Close 关闭内存队列，已排队的轮次仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
