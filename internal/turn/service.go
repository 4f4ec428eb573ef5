package turn

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/pkg/logger"
)

// Service 负责轮次的提交与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	logger     *slog.Logger
}

// NewService 构造轮次服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries, logger: logger.Named("turn")}
}

// Submit 创建一个新的轮次并推送到队列。
//
// 同一会话中仍在排队的旧轮次会先被标记为已取代；已在处理中的旧轮次由
// 流水线的取代跟踪器在新轮次开始时取消。携带已存在 ID 的请求直接返回原轮次。
func (s *Service) Submit(ctx context.Context, req pipeline.Request) (*Turn, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, xerrors.New(CodeTurnValidation, "输入文本不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化")
	}

	turnID := strings.TrimSpace(req.TurnID)
	if turnID != "" {
		existing, err := s.store.Get(ctx, turnID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTurnNotFound) {
			return nil, err
		}
	} else {
		turnID = uuid.NewString()
	}
	req.TurnID = turnID
	sessionID := req.Session()

	if sessionID != "" {
		superseded, err := s.store.SupersedePending(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if superseded > 0 {
			s.logger.Debug("旧轮次已被取代", slog.String("session_id", sessionID), slog.Int("count", superseded))
		}
	}

	t := &Turn{
		ID:         turnID,
		SessionID:  sessionID,
		Request:    cloneRequest(req),
		Status:     StatusPending,
		State:      pipeline.StateReceived,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, t); err != nil {
		if stdErrors.Is(err, ErrTurnConflict) {
			existing, getErr := s.store.Get(ctx, turnID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrTurnNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, turnID); err != nil {
		s.logger.Error("轮次入队失败", slog.Any("error", err), slog.String("turn_id", turnID))
		wrapped := xerrors.Wrap(CodeTurnPublish, err, "发布轮次到队列失败")
		_ = s.store.MarkFailed(ctx, turnID, CodeTurnPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.ForTurn(logger.Audit(), sessionID, turnID).Info("轮次入队成功",
		slog.Int("text_length", len(t.Request.Text)),
		slog.Int("max_retries", t.MaxRetries),
	)
	return t, nil
}

// Get 返回指定轮次的状态。
func (s *Service) Get(ctx context.Context, id string) (*Turn, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的轮次列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Turn, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的轮次统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilFinished 轮询直到轮次不再会被处理或 ctx 结束。
func (s *Service) WaitUntilFinished(ctx context.Context, id string, interval time.Duration) (*Turn, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Finished() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
