// Package entity extracts typed financial entities (amounts, tokens,
// protocols, percentages, leverage, ...) from user text.
package entity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/nlp/textnorm"
)

const (
	defaultMinConfidence = 0.5
	defaultMaxEntities   = 32
	defaultMaxInputBytes = 4096

	maxAmount       = 1e15
	maxLeverage     = 100
	maxSlippage     = 50
	maxDurationDays = 3650

	confidenceEpsilon = 1e-9
)

// Extractor 按类别并发执行抽取规则，并对结果去重、校验。实例构建后只读，可并发使用。
type Extractor struct {
	catalog       *defi.Catalog
	rules         map[defi.EntityType][]Rule
	types         []defi.EntityType
	minConfidence float64
	maxEntities   int
	maxInputBytes int
	extraRules    []Rule
}

// Option 定义 Extractor 的可选配置。
type Option func(*Extractor)

// WithCatalog 指定代币、协议与链目录。
func WithCatalog(c *defi.Catalog) Option {
	return func(e *Extractor) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithMinConfidence 设置实体保留的最低置信度。
func WithMinConfidence(v float64) Option {
	return func(e *Extractor) {
		if v >= 0 && v <= 1 {
			e.minConfidence = v
		}
	}
}

// WithMaxEntities 设置单次抽取保留的实体上限。
func WithMaxEntities(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxEntities = n
		}
	}
}

// WithMaxInputBytes 设置允许的最大输入长度。
func WithMaxInputBytes(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxInputBytes = n
		}
	}
}

// WithRule 追加一条自定义规则。
func WithRule(rule Rule) Option {
	return func(e *Extractor) {
		if rule.Expr != nil && rule.Normalize != nil {
			e.extraRules = append(e.extraRules, rule)
		}
	}
}

// New 构建实体抽取器。
func New(opts ...Option) *Extractor {
	e := &Extractor{
		catalog:       defi.DefaultCatalog(),
		minConfidence: defaultMinConfidence,
		maxEntities:   defaultMaxEntities,
		maxInputBytes: defaultMaxInputBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.rules = make(map[defi.EntityType][]Rule)
	for _, rule := range append(buildRules(e.catalog), e.extraRules...) {
		e.rules[rule.Type] = append(e.rules[rule.Type], rule)
	}
	for _, t := range defi.EntityTypes() {
		if len(e.rules[t]) > 0 {
			e.types = append(e.types, t)
		}
	}
	return e
}

// MinConfidence 返回当前生效的最低置信度。
func (e *Extractor) MinConfidence() float64 { return e.minConfidence }

// Extract 从文本中抽取实体。没有命中时返回空列表；仅在输入非法或规则内部故障时返回错误。
// 返回实体的区间基于预处理后的文本，互不重叠且按起点升序。
func (e *Extractor) Extract(ctx context.Context, text string) (defi.EntitySet, error) {
	if !utf8.ValidString(text) {
		return nil, xerrors.New(defi.CodeEntityExtraction, "输入不是合法的 UTF-8 文本", xerrors.WithStage("extract"))
	}
	if len(text) > e.maxInputBytes {
		return nil, xerrors.New(defi.CodeEntityExtraction,
			fmt.Sprintf("输入长度 %d 超过上限 %d", len(text), e.maxInputBytes), xerrors.WithStage("extract"))
	}
	normalized := textnorm.Preprocess(text)
	if strings.TrimSpace(normalized) == "" {
		return defi.EntitySet{}, nil
	}

	perType := make([][]defi.Entity, len(e.types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range e.types {
		g.Go(func() error {
			found, err := e.runRules(gctx, normalized, e.rules[t])
			if err != nil {
				return err
			}
			perType[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(defi.CodeEntityExtraction, err, "实体抽取被中断", xerrors.WithStage("extract"))
	}

	var candidates []defi.Entity
	for _, found := range perType {
		candidates = append(candidates, found...)
	}

	accepted := dedupe(candidates)
	valid, err := e.validate(accepted)
	if err != nil {
		return nil, err
	}
	return e.limit(valid), nil
}

// runRules 执行同一类别的全部规则。规则内部的 panic 会被转换为抽取错误。
func (e *Extractor) runRules(ctx context.Context, text string, rules []Rule) (found []defi.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = xerrors.New(defi.CodeEntityExtraction, fmt.Sprintf("抽取规则异常: %v", r), xerrors.WithStage("extract"))
		}
	}()

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range rule.Expr.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if g := rule.Group; g > 0 && 2*g+1 < len(loc) && loc[2*g] >= 0 {
				start, end = loc[2*g], loc[2*g+1]
			}
			groups := make([]string, len(loc)/2)
			for i := range groups {
				if loc[2*i] >= 0 {
					groups[i] = text[loc[2*i]:loc[2*i+1]]
				}
			}
			m := Match{Raw: text[start:end], Groups: groups}
			norm, value, nerr := rule.Normalize(m)
			if nerr != nil {
				continue
			}
			found = append(found, defi.Entity{
				Type:            rule.Type,
				RawValue:        m.Raw,
				NormalizedValue: norm,
				Value:           value,
				Confidence:      score(rule.Base, m.Raw, norm, rule.Canonical),
				Span:            defi.Span{Start: start, End: end},
			})
		}
	}
	return found, nil
}

// dedupe 按起点扫描候选实体。与已接受实体重叠的候选只有在置信度严格高于每一个重叠实体时才替换它们；
// 置信度相同时区间更长者胜出，仍相同则保留已接受的实体。
func dedupe(candidates []defi.Entity) []defi.Entity {
	sorted := append([]defi.Entity(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.Len() != b.Span.Len() {
			return a.Span.Len() > b.Span.Len()
		}
		return a.Type.Priority() < b.Type.Priority()
	})

	accepted := make([]defi.Entity, 0, len(sorted))
	for _, c := range sorted {
		wins := true
		overlapping := false
		for _, a := range accepted {
			if !c.Span.Overlaps(a.Span) {
				continue
			}
			overlapping = true
			if !beats(c, a) {
				wins = false
				break
			}
		}
		if !overlapping {
			accepted = append(accepted, c)
			continue
		}
		if !wins {
			continue
		}
		kept := accepted[:0]
		for _, a := range accepted {
			if !c.Span.Overlaps(a.Span) {
				kept = append(kept, a)
			}
		}
		accepted = append(kept, c)
	}
	return accepted
}

func beats(candidate, incumbent defi.Entity) bool {
	diff := candidate.Confidence - incumbent.Confidence
	if diff > confidenceEpsilon {
		return true
	}
	if diff < -confidenceEpsilon {
		return false
	}
	return candidate.Span.Len() > incumbent.Span.Len()
}

// validate 执行各类别的语义校验，并丢弃低于最低置信度的实体。
func (e *Extractor) validate(entities []defi.Entity) (out []defi.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = xerrors.New(defi.CodeEntityExtraction, fmt.Sprintf("实体校验异常: %v", r), xerrors.WithStage("validate"))
		}
	}()

	out = make([]defi.Entity, 0, len(entities))
	for _, ent := range entities {
		ent.IsValid = e.isValid(ent)
		if !ent.IsValid || ent.Confidence < e.minConfidence {
			continue
		}
		out = append(out, ent)
	}
	return out, nil
}

func (e *Extractor) isValid(ent defi.Entity) bool {
	switch ent.Type {
	case defi.EntityAmount:
		return !math.IsNaN(ent.Value) && !math.IsInf(ent.Value, 0) && ent.Value > 0 && ent.Value < maxAmount
	case defi.EntityToken:
		_, ok := e.catalog.Token(ent.NormalizedValue)
		return ok
	case defi.EntityProtocol:
		_, ok := e.catalog.Protocol(ent.NormalizedValue)
		return ok
	case defi.EntityChain:
		_, ok := e.catalog.Chain(ent.NormalizedValue)
		return ok
	case defi.EntityPercentage:
		return ent.Value >= 0 && ent.Value <= 100
	case defi.EntityRelativeAmount:
		return ent.Value > 0 && ent.Value <= 1
	case defi.EntityLeverage:
		return ent.Value > 1 && ent.Value <= maxLeverage
	case defi.EntitySlippage:
		return ent.Value >= 0 && ent.Value <= maxSlippage
	case defi.EntityDuration:
		return ent.Value > 0 && ent.Value <= maxDurationDays
	case defi.EntityAddress:
		return common.IsHexAddress(ent.NormalizedValue)
	}
	return true
}

// limit 保留置信度最高的 maxEntities 个实体，再按起点排序。
func (e *Extractor) limit(entities []defi.Entity) defi.EntitySet {
	if len(entities) > e.maxEntities {
		sort.SliceStable(entities, func(i, j int) bool {
			return entities[i].Confidence > entities[j].Confidence
		})
		entities = entities[:e.maxEntities]
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Span.Start < entities[j].Span.Start
	})
	return defi.EntitySet(entities)
}
