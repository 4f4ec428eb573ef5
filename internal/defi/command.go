package defi

import "time"

// RiskLevel 是命令的风险等级。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank 返回风险等级的序数，便于比较。
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// Severity 是校验错误的严重程度。
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationStatus 描述命令的校验结论。
type ValidationStatus string

const (
	ValidationValid        ValidationStatus = "valid"
	ValidationWithWarnings ValidationStatus = "valid_with_warnings"
	ValidationInvalid      ValidationStatus = "invalid"
)

// ValidationError 是字段级的校验结果，总是被收集而不是抛出。
type ValidationError struct {
	Field    string   `json:"field"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationErrors 为校验结果列表提供辅助方法。
type ValidationErrors []ValidationError

// HasErrors 判断是否存在 error 级别的结果。
func (v ValidationErrors) HasErrors() bool {
	return v.count(SeverityError) > 0
}

// Warnings 返回 warning 级别的结果。
func (v ValidationErrors) Warnings() ValidationErrors {
	return v.filter(SeverityWarning)
}

// Errors 返回 error 级别的结果。
func (v ValidationErrors) Errors() ValidationErrors {
	return v.filter(SeverityError)
}

func (v ValidationErrors) count(sev Severity) int {
	n := 0
	for _, e := range v {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

func (v ValidationErrors) filter(sev Severity) ValidationErrors {
	var out ValidationErrors
	for _, e := range v {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// Status 根据结果推导命令的校验状态。
func (v ValidationErrors) Status() ValidationStatus {
	switch {
	case v.HasErrors():
		return ValidationInvalid
	case v.count(SeverityWarning) > 0:
		return ValidationWithWarnings
	default:
		return ValidationValid
	}
}

// DisambiguationOptions 在缺少必要参数时代替命令返回，请求用户澄清。
type DisambiguationOptions struct {
	Question          string        `json:"question"`
	Options           []string      `json:"options,omitempty"`
	MissingParameters []ParamName   `json:"missing_parameters"`
	Timeout           time.Duration `json:"timeout"`
}

// ExecutableCommand 是交给执行层签名提交的操作描述。构造后不再修改。
type ExecutableCommand struct {
	ID                   string           `json:"id"`
	Intent               Intent           `json:"intent"`
	SubIntent            string           `json:"sub_intent,omitempty"`
	Action               string           `json:"action"`
	Parameters           Parameters       `json:"parameters"`
	RiskLevel            RiskLevel        `json:"risk_level"`
	RiskScore            int              `json:"risk_score"`
	ConfirmationRequired bool             `json:"confirmation_required"`
	EstimatedGas         *uint64          `json:"estimated_gas,omitempty"`
	ValidationStatus     ValidationStatus `json:"validation_status"`
	CreatedAt            time.Time        `json:"created_at"`
}

// CommandProcessingResult 是命令构建阶段的完整输出。
//
// Command 只有在 ValidationErrors 不含 error 级别结果且不需要澄清时才非空。
type CommandProcessingResult struct {
	Command                *ExecutableCommand     `json:"command,omitempty"`
	ValidationErrors       ValidationErrors       `json:"validation_errors,omitempty"`
	RequiresDisambiguation bool                   `json:"requires_disambiguation"`
	Disambiguation         *DisambiguationOptions `json:"disambiguation,omitempty"`
	Suggestions            []string               `json:"suggestions,omitempty"`
}

// StrategyName 标识产生候选意图的分类策略。
type StrategyName string

const (
	StrategyPattern   StrategyName = "pattern"
	StrategyKeyword   StrategyName = "keyword"
	StrategyContext   StrategyName = "context"
	StrategyStructure StrategyName = "structure"
)

// Order 返回策略的固定顺序，合并平局时使用。
func (s StrategyName) Order() int {
	switch s {
	case StrategyPattern:
		return 0
	case StrategyKeyword:
		return 1
	case StrategyContext:
		return 2
	case StrategyStructure:
		return 3
	}
	return 4
}

// IntentClassification 是一轮输入的意图分类结果。
type IntentClassification struct {
	Intent            Intent                   `json:"intent"`
	Confidence        float64                  `json:"confidence"`
	SubIntent         string                   `json:"sub_intent,omitempty"`
	Entities          EntitySet                `json:"entities"`
	PerStrategyScores map[StrategyName]float64 `json:"per_strategy_scores"`
	Strategy          StrategyName             `json:"strategy"`
}
