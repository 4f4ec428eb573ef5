// Package turn queues user turns for asynchronous processing by the intent
// pipeline and keeps their lifecycle in a pluggable store.
package turn

import (
	stdErrors "errors"
	"net/http"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
)

// Status 表示轮次在异步处理生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// Turn 描述一轮排队处理的用户输入。
type Turn struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id,omitempty"`
	Request    pipeline.Request     `json:"request"`
	Status     Status               `json:"status"`
	State      pipeline.State       `json:"state,omitempty"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"max_retries"`
	LastError  string               `json:"last_error,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	Result     *pipeline.TurnResult `json:"result,omitempty"`
	CreatedAt  int64                `json:"created_at"`
	UpdatedAt  int64                `json:"updated_at"`
}

// Finished 判断轮次是否不再会被处理。
func (t *Turn) Finished() bool {
	switch t.Status {
	case StatusCompleted, StatusSuperseded:
		return true
	case StatusFailed:
		return t.Attempts >= t.MaxRetries
	}
	return false
}

var (
	// ErrTurnNotFound 表示指定的轮次不存在。
	ErrTurnNotFound = xerrors.New(CodeTurnNotFound, "turn not found")
	// ErrTurnConflict 表示轮次在当前状态下无法进行所请求的操作。
	ErrTurnConflict = xerrors.New(CodeTurnConflict, "turn conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTurnCompleted 表示轮次已经处理完成。
	ErrTurnCompleted = xerrors.New(CodeTurnCompleted, "turn already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTurnExhausted 表示轮次的重试次数已经耗尽。
	ErrTurnExhausted = xerrors.New(CodeTurnExhausted, "turn retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTurnNotFound   xerrors.Code = "TURN_NOT_FOUND"
	CodeTurnConflict   xerrors.Code = "TURN_CONFLICT"
	CodeTurnCompleted  xerrors.Code = "TURN_COMPLETED"
	CodeTurnExhausted  xerrors.Code = "TURN_RETRIES_EXHAUSTED"
	CodeTurnValidation xerrors.Code = "TURN_VALIDATION_FAILED"
	CodeTurnPublish    xerrors.Code = "TURN_PUBLISH_FAILED"
	CodeTurnProcessing xerrors.Code = "TURN_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTurnNotFound, xerrors.Attributes{
		Message:    "turn not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeTurnConflict, xerrors.Attributes{
		Message:    "turn conflict",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTurnCompleted, xerrors.Attributes{
		Message:    "turn already completed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTurnExhausted, xerrors.Attributes{
		Message:    "turn retries exhausted",
		Severity:   xerrors.SeverityCritical,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTurnValidation, xerrors.Attributes{
		Message:    "turn validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeTurnPublish, xerrors.Attributes{
		Message:    "failed to publish turn",
		Severity:   xerrors.SeverityCritical,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeTurnProcessing, xerrors.Attributes{
		Message:    "turn processing failed",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusInternalServerError,
	})
}

// IsTurnError 判断错误是否为指定的轮次错误。
func IsTurnError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrTurnNotFound):
		return target == CodeTurnNotFound
	case stdErrors.Is(err, ErrTurnConflict):
		return target == CodeTurnConflict
	case stdErrors.Is(err, ErrTurnCompleted):
		return target == CodeTurnCompleted
	case stdErrors.Is(err, ErrTurnExhausted):
		return target == CodeTurnExhausted
	case stdErrors.Is(err, defi.ErrTurnSuperseded):
		return target == defi.CodeTurnSuperseded
	}
	return false
}

// IsValidStatus 检查给定的轮次状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSuperseded:
		return true
	default:
		return false
	}
}

func cloneTurn(t *Turn) *Turn {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Request = cloneRequest(t.Request)
	if t.Result != nil {
		result := *t.Result
		result.History = append([]pipeline.State(nil), t.Result.History...)
		clone.Result = &result
	}
	return &clone
}

func cloneRequest(req pipeline.Request) pipeline.Request {
	if req.Balances != nil {
		balances := make(map[string]float64, len(req.Balances))
		for k, v := range req.Balances {
			balances[k] = v
		}
		req.Balances = balances
	}
	return req
}
