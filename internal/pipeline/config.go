package pipeline

import (
	"time"

	"DeFiIntent-Chain/internal/nlp/classifier"
)

const (
	defaultTimeoutMs   = 1500
	defaultMaxEntities = 32

	defaultMinConfidence = 0.5
	strictEntityFloor    = 0.7
)

// Config 是流水线对外暴露的配置项。
type Config struct {
	Mode                 string   `json:"mode" validate:"omitempty,oneof=strict flexible experimental"`
	MinConfidence        *float64 `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinEntityConfidence  *float64 `json:"min_entity_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	EnableDisambiguation *bool    `json:"enable_disambiguation,omitempty"`
	MaxEntities          int      `json:"max_entities" validate:"gte=0,lte=256"`
	TimeoutMs            int      `json:"timeout_ms" validate:"gte=0,lte=60000"`
	FallbackToKeywords   *bool    `json:"fallback_to_keywords,omitempty"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	enabled := true
	fallback := true
	minConfidence := defaultMinConfidence
	minEntityConfidence := defaultMinConfidence
	return Config{
		Mode:                 "flexible",
		MinConfidence:        &minConfidence,
		MinEntityConfidence:  &minEntityConfidence,
		EnableDisambiguation: &enabled,
		MaxEntities:          defaultMaxEntities,
		TimeoutMs:            defaultTimeoutMs,
		FallbackToKeywords:   &fallback,
	}
}

// ClassifierMinConfidence 返回意图分类的基础阈值，未配置时为 0.5。显式的 0 表示不设下限。
// 模式调整由分类器完成。
func (c Config) ClassifierMinConfidence() float64 {
	if c.MinConfidence == nil {
		return defaultMinConfidence
	}
	return *c.MinConfidence
}

// EntityMinConfidence 返回实体保留的最低置信度，未配置时为 0.5，strict 模式下不低于 0.7。
func (c Config) EntityMinConfidence() float64 {
	v := defaultMinConfidence
	if c.MinEntityConfidence != nil {
		v = *c.MinEntityConfidence
	}
	if classifier.ParseMode(c.Mode) == classifier.ModeStrict {
		return max(v, strictEntityFloor)
	}
	return v
}

// DisambiguationEnabled 未配置时默认启用。
func (c Config) DisambiguationEnabled() bool {
	return c.EnableDisambiguation == nil || *c.EnableDisambiguation
}

// KeywordFallback 未配置时默认启用。
func (c Config) KeywordFallback() bool {
	return c.FallbackToKeywords == nil || *c.FallbackToKeywords
}

// Timeout 返回派生参数计算的时限。
func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return defaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
