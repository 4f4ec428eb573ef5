package turn

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/observability/alerting"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/pkg/logger"
)

// Executor 定义了处理器所需的流水线能力。
type Executor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.TurnResult, error)
}

var _ Executor = (*pipeline.Pipeline)(nil)

// Processor 负责从队列消费轮次并交给流水线处理。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	alerts      alerting.Dispatcher
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlerts 在轮次最终失败时发送告警。
func WithAlerts(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = d
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("turn.processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动轮次处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置轮次消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, turnID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	t, err := p.store.Claim(ctx, turnID)
	if err != nil {
		if stdErrors.Is(err, ErrTurnNotFound) || stdErrors.Is(err, ErrTurnCompleted) ||
			stdErrors.Is(err, ErrTurnExhausted) || stdErrors.Is(err, defi.ErrTurnSuperseded) {
			p.logger.Debug("跳过轮次", slog.String("turn_id", turnID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取轮次失败", slog.Any("error", err), slog.String("turn_id", turnID))
		return err
	}

	req := t.Request
	req.TurnID = t.ID
	if req.SessionID == "" {
		req.SessionID = t.SessionID
	}
	result, execErr := p.executor.Process(ctx, req)
	if stdErrors.Is(execErr, defi.ErrTurnSuperseded) {
		if err := p.store.MarkSuperseded(ctx, t.ID, result); err != nil {
			p.logger.Error("标记轮次取代失败", slog.Any("error", err), slog.String("turn_id", t.ID))
			return err
		}
		p.logger.Debug("处理中的轮次被取代", slog.String("turn_id", t.ID), slog.String("session_id", t.SessionID))
		return nil
	}
	if execErr != nil {
		return p.handleExecutionFailure(ctx, t, execErr)
	}

	if err := p.store.MarkCompleted(ctx, t.ID, result); err != nil {
		p.logger.Error("标记轮次完成失败", slog.Any("error", err), slog.String("turn_id", t.ID))
		if storeErr := p.store.MarkFailed(ctx, t.ID, CodeTurnProcessing, err.Error(), false); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("turn_id", t.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, t.ID); pubErr != nil {
			return xerrors.Wrap(CodeTurnPublish, pubErr, fmt.Sprintf("轮次 %s 在标记完成失败后重投失败", t.ID))
		}
		return nil
	}
	p.logger.Debug("轮次处理完成",
		slog.String("turn_id", t.ID),
		slog.String("state", string(result.State)),
		slog.Duration("elapsed", result.Elapsed),
	)
	return nil
}

// handleExecutionFailure 仅对可重试错误码重新排队，其余直接终止。
func (p *Processor) handleExecutionFailure(ctx context.Context, t *Turn, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTurnProcessing
	}
	retryable := xerrors.RetryableError(execErr) || code == CodeTurnProcessing
	terminal := t.Attempts >= t.MaxRetries || !retryable

	// 关闭过程中被取消的轮次保留为可重试，由下次启动后重新投递。
	if ctx.Err() != nil {
		return p.store.MarkFailed(context.WithoutCancel(ctx), t.ID, code, execErr.Error(), false)
	}

	if storeErr := p.store.MarkFailed(ctx, t.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记轮次失败状态出错", slog.Any("error", storeErr), slog.String("turn_id", t.ID))
		return storeErr
	}
	logger.ForTurn(logger.Audit(), t.SessionID, t.ID).Warn("轮次处理失败",
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", t.Attempts),
		slog.Int("max_retries", t.MaxRetries),
	)

	if terminal {
		p.alert(ctx, t, code, execErr, retryable)
		return nil
	}
	if pubErr := p.producer.Publish(ctx, t.ID); pubErr != nil {
		return xerrors.Wrap(CodeTurnPublish, pubErr, fmt.Sprintf("轮次 %s 重投失败", t.ID))
	}
	p.logger.Debug("轮次已重新排队", slog.String("turn_id", t.ID), slog.Int("attempts", t.Attempts))
	return nil
}

// alert 上报最终失败。可重试错误耗尽重试次数时按 critical 上报。
func (p *Processor) alert(ctx context.Context, t *Turn, code xerrors.Code, execErr error, retryable bool) {
	if p.alerts == nil {
		return
	}
	severity := xerrors.SeverityOf(execErr)
	if retryable {
		severity = xerrors.SeverityCritical
	}
	event := alerting.Event{
		Code:       code,
		Message:    execErr.Error(),
		Severity:   severity,
		TurnID:     t.ID,
		SessionID:  t.SessionID,
		Attempts:   t.Attempts,
		MaxRetries: t.MaxRetries,
		OccurredAt: time.Now().UTC(),
	}
	if stage, ok := stageOf(execErr); ok {
		event.Metadata = map[string]string{"stage": stage}
	}
	if err := p.alerts.Notify(ctx, event); err != nil {
		p.logger.Warn("发送告警失败", slog.Any("error", err), slog.String("turn_id", t.ID))
	}
}

func stageOf(err error) (string, bool) {
	e, ok := xerrors.From(err)
	if !ok {
		return "", false
	}
	stage, ok := e.Metadata()["stage"]
	return stage, ok
}
