// Package classifier merges four independent intent strategies (pattern,
// keyword, context and structure) into a single classification.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/nlp/contextual"
	"DeFiIntent-Chain/internal/nlp/registry"
	"DeFiIntent-Chain/internal/nlp/textnorm"
	"DeFiIntent-Chain/pkg/logger"
)

// Mode 控制置信度阈值的松紧。
type Mode string

const (
	ModeStrict       Mode = "strict"
	ModeFlexible     Mode = "flexible"
	ModeExperimental Mode = "experimental"
)

const (
	defaultMinConfidence    = 0.5
	strictConfidenceFloor   = 0.7
	experimentalRelaxFactor = 0.8
)

// Classifier 并发执行全部策略并合并候选。实例构建后只读。
type Classifier struct {
	registry           *registry.Registry
	strategies         []Strategy
	minConfidence      float64
	mode               Mode
	fallbackToKeywords bool
	logger             *slog.Logger
}

// Option 定义 Classifier 的可选配置。
type Option func(*Classifier)

// WithRegistry 指定模式与关键字注册表。
func WithRegistry(r *registry.Registry) Option {
	return func(c *Classifier) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithMinConfidence 设置最低置信度。
func WithMinConfidence(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 && v <= 1 {
			c.minConfidence = v
		}
	}
}

// WithMode 设置分类模式。
func WithMode(m Mode) Option {
	return func(c *Classifier) {
		switch m {
		case ModeStrict, ModeFlexible, ModeExperimental:
			c.mode = m
		}
	}
}

// WithFallbackToKeywords 控制关键字策略是否参与合并。
func WithFallbackToKeywords(enabled bool) Option {
	return func(c *Classifier) {
		c.fallbackToKeywords = enabled
	}
}

// WithStrategies 替换策略列表，主要用于测试。
func WithStrategies(strategies ...Strategy) Option {
	return func(c *Classifier) {
		if len(strategies) > 0 {
			c.strategies = append([]Strategy(nil), strategies...)
		}
	}
}

// New 创建意图分类器。
func New(opts ...Option) *Classifier {
	c := &Classifier{
		registry:           registry.Default(),
		strategies:         DefaultStrategies(),
		minConfidence:      defaultMinConfidence,
		mode:               ModeFlexible,
		fallbackToKeywords: true,
		logger:             logger.Named("classifier"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// EffectiveMinConfidence 返回按模式调整后的阈值。
func (c *Classifier) EffectiveMinConfidence() float64 {
	switch c.mode {
	case ModeStrict:
		return max(c.minConfidence, strictConfidenceFloor)
	case ModeExperimental:
		return c.minConfidence * experimentalRelaxFactor
	}
	return c.minConfidence
}

// Classify 对预处理后的文本和实体进行分类。analysis 可以为空。
// 所有候选都低于阈值时返回 INTENT_CLASSIFICATION_FAILED。
func (c *Classifier) Classify(ctx context.Context, text string, entities defi.EntitySet, analysis *contextual.Analysis) (*defi.IntentClassification, error) {
	in := Input{
		Text:     textnorm.Preprocess(text),
		Entities: entities,
		Analysis: analysis,
		Registry: c.registry,
	}

	strategies := c.activeStrategies()
	results := make([]*Candidate, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range strategies {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = xerrors.New(defi.CodeIntentClassification,
						fmt.Sprintf("策略 %s 异常: %v", s.Name, r), xerrors.WithStage("classify"))
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			if cand, ok := s.Run(in); ok {
				cand.Strategy = s.Name
				cand.Confidence = clamp(cand.Confidence)
				results[i] = &cand
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(defi.CodeIntentClassification, err, "意图分类被中断", xerrors.WithStage("classify"))
	}

	scores := make(map[defi.StrategyName]float64, len(results))
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		scores[r.Strategy] = r.Confidence
		candidates = append(candidates, *r)
	}

	threshold := c.EffectiveMinConfidence()
	best, ok := merge(candidates, analysis)
	if !ok || best.final < threshold {
		opts := []xerrors.Option{xerrors.WithStage("classify")}
		msg := "没有策略给出候选意图"
		if ok {
			msg = fmt.Sprintf("最佳候选 %s 的得分 %.3f 低于阈值 %.3f", best.Intent, best.final, threshold)
			opts = append(opts, xerrors.WithMetadata("best_intent", string(best.Intent)))
		}
		c.logger.Debug("意图分类未达阈值", slog.String("text", in.Text), slog.Any("scores", scores))
		return nil, xerrors.New(defi.CodeIntentClassification, msg, opts...)
	}

	c.logger.Debug("意图分类完成",
		slog.String("intent", string(best.Intent)),
		slog.String("strategy", string(best.Strategy)),
		slog.Float64("score", best.final),
		slog.Any("scores", scores),
	)

	return &defi.IntentClassification{
		Intent:            best.Intent,
		Confidence:        clamp(best.final),
		SubIntent:         refineSubIntent(best.Candidate, in.Text, entities),
		Entities:          entities,
		PerStrategyScores: scores,
		Strategy:          best.Strategy,
	}, nil
}

func (c *Classifier) activeStrategies() []Strategy {
	if c.fallbackToKeywords {
		return c.strategies
	}
	out := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if s.Name != defi.StrategyKeyword {
			out = append(out, s)
		}
	}
	return out
}

// ParseMode 解析配置中的模式字符串，未知值回退为 flexible。
func ParseMode(value string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeStrict:
		return ModeStrict
	case ModeExperimental:
		return ModeExperimental
	}
	return ModeFlexible
}
