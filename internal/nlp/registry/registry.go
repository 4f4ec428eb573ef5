// Package registry holds the immutable per-intent pattern and keyword tables
// used by the classifier. A Registry is built once and shared by reference;
// none of its methods mutate state.
package registry

import (
	"fmt"
	"regexp"
	"sync"

	"DeFiIntent-Chain/internal/defi"
)

// PatternDef 是未编译的意图模式定义。
type PatternDef struct {
	Intent         defi.Intent
	Expr           string
	BaseConfidence float64
	Required       []defi.EntityType
	Optional       []defi.EntityType
	SubIntent      string
	Examples       []string
}

// Pattern 是编译后的意图模式。
type Pattern struct {
	Intent         defi.Intent
	Expr           *regexp.Regexp
	BaseConfidence float64
	Required       []defi.EntityType
	Optional       []defi.EntityType
	SubIntent      string
	Examples       []string
	order          int
}

// Order 返回模式在注册表中的序号。
func (p Pattern) Order() int { return p.order }

// Registry 是意图模式与关键字的只读表。
type Registry struct {
	patterns []Pattern
	keywords map[defi.Intent][]string
	intents  []defi.Intent
}

// New 编译模式定义并构建注册表。
func New(defs []PatternDef, keywords map[defi.Intent][]string) (*Registry, error) {
	r := &Registry{
		patterns: make([]Pattern, 0, len(defs)),
		keywords: make(map[defi.Intent][]string, len(keywords)),
	}
	for i, def := range defs {
		if !def.Intent.Valid() {
			return nil, fmt.Errorf("模式 %d 引用了未知意图 %q", i, def.Intent)
		}
		if def.BaseConfidence <= 0 || def.BaseConfidence > 1 {
			return nil, fmt.Errorf("模式 %d 的基础置信度 %.2f 超出范围", i, def.BaseConfidence)
		}
		expr, err := regexp.Compile("(?i)" + def.Expr)
		if err != nil {
			return nil, fmt.Errorf("编译模式 %d 失败: %w", i, err)
		}
		r.patterns = append(r.patterns, Pattern{
			Intent:         def.Intent,
			Expr:           expr,
			BaseConfidence: def.BaseConfidence,
			Required:       append([]defi.EntityType(nil), def.Required...),
			Optional:       append([]defi.EntityType(nil), def.Optional...),
			SubIntent:      def.SubIntent,
			Examples:       append([]string(nil), def.Examples...),
			order:          i,
		})
	}
	for _, intent := range defi.Intents() {
		words, ok := keywords[intent]
		if !ok {
			continue
		}
		r.keywords[intent] = append([]string(nil), words...)
		r.intents = append(r.intents, intent)
	}
	for intent := range keywords {
		if !intent.Valid() {
			return nil, fmt.Errorf("关键字表引用了未知意图 %q", intent)
		}
	}
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := New(defaultPatterns, defaultKeywords)
	if err != nil {
		panic(err)
	}
	return r
})

// Default 返回内置的注册表，首次调用时构建。
func Default() *Registry {
	return defaultRegistry()
}

// Patterns 返回全部模式。返回的切片由调用方持有，底层正则可并发使用。
func (r *Registry) Patterns() []Pattern {
	return append([]Pattern(nil), r.patterns...)
}

// PatternsFor 返回指定意图的模式。
func (r *Registry) PatternsFor(intent defi.Intent) []Pattern {
	var out []Pattern
	for _, p := range r.patterns {
		if p.Intent == intent {
			out = append(out, p)
		}
	}
	return out
}

// Keywords 返回指定意图的关键字。
func (r *Registry) Keywords(intent defi.Intent) []string {
	return append([]string(nil), r.keywords[intent]...)
}

// KeywordIntents 返回登记了关键字的意图，按注册顺序排列。
func (r *Registry) KeywordIntents() []defi.Intent {
	return append([]defi.Intent(nil), r.intents...)
}

// Examples 返回指定意图的示例短语，用于帮助信息与澄清提示。
func (r *Registry) Examples(intent defi.Intent) []string {
	var out []string
	for _, p := range r.patterns {
		if p.Intent == intent {
			out = append(out, p.Examples...)
		}
	}
	return out
}
