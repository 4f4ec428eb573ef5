package entity

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DeFiIntent-Chain/internal/defi"
)

// Match 是规则命中的原始文本及捕获组。
type Match struct {
	Raw    string
	Groups []string
}

// Normalizer 将命中结果转换为规范值。返回错误表示该命中不是有效候选。
type Normalizer func(m Match) (normalized string, value float64, err error)

// Rule 是单个实体类别的一条抽取规则。
type Rule struct {
	Type       defi.EntityType
	Expr       *regexp.Regexp
	Group      int
	Base       float64
	Canonical  *regexp.Regexp
	Normalize  Normalizer
	Descriptor string
}

const (
	exactMatchBonus    = 1.1
	shortMatchPenalty  = 0.8
	commonPatternBonus = 1.2
	shortMatchLength   = 3
)

// score 计算命中的置信度，结果截断到 [0,1]。
func score(base float64, raw, normalized string, canonical *regexp.Regexp) float64 {
	conf := base
	if raw == normalized {
		conf *= exactMatchBonus
	}
	if len(raw) < shortMatchLength {
		conf *= shortMatchPenalty
	}
	if canonical != nil && canonical.MatchString(raw) {
		conf *= commonPatternBonus
	}
	if conf > 1 {
		return 1
	}
	if conf < 0 {
		return 0
	}
	return conf
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("无法解析数值 %q: %w", raw, err)
	}
	return v, nil
}

func numberFromGroup(i int) Normalizer {
	return func(m Match) (string, float64, error) {
		if i >= len(m.Groups) || m.Groups[i] == "" {
			return "", 0, fmt.Errorf("缺少数值分组")
		}
		v, err := parseNumber(m.Groups[i])
		if err != nil {
			return "", 0, err
		}
		return formatNumber(v), v, nil
	}
}

// firstNumber 使用第一个非空的数值分组，适用于多种写法合并成一条规则的情况。
func firstNumber(m Match) (string, float64, error) {
	for _, g := range m.Groups[1:] {
		if g != "" {
			v, err := parseNumber(g)
			if err != nil {
				return "", 0, err
			}
			return formatNumber(v), v, nil
		}
	}
	return "", 0, fmt.Errorf("缺少数值分组")
}

var relativeFractions = map[string]struct {
	canonical string
	fraction  float64
}{
	"all":        {"all", 1},
	"everything": {"all", 1},
	"entire":     {"all", 1},
	"max":        {"all", 1},
	"maximum":    {"all", 1},
	"half":       {"half", 0.5},
	"quarter":    {"quarter", 0.25},
}

var durationDays = map[string]float64{
	"d": 1, "day": 1, "days": 1,
	"w": 7, "week": 7, "weeks": 7,
	"mo": 30, "month": 30, "months": 30,
	"y": 365, "year": 365, "years": 365,
}

// buildRules 根据目录生成全部内置规则。代币、协议与链的正则由目录内容生成。
func buildRules(catalog *defi.Catalog) []Rule {
	rules := []Rule{
		{
			Type:       defi.EntityAmount,
			Expr:       regexp.MustCompile(`\b\d+(?:\.\d+)?\b`),
			Base:       0.8,
			Canonical:  regexp.MustCompile(`^\d+(?:\.\d+)?$`),
			Normalize:  numberFromGroup(0),
			Descriptor: "decimal",
		},
		{
			Type:       defi.EntityPercentage,
			Expr:       regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s?(?:%|percent\b|pct\b)`),
			Base:       0.9,
			Canonical:  regexp.MustCompile(`^\d+(?:\.\d+)?%$`),
			Normalize:  numberFromGroup(1),
			Descriptor: "percent",
		},
		{
			Type:       defi.EntityRelativeAmount,
			Expr:       regexp.MustCompile(`(?i)\b(all|everything|entire|max|maximum|half|quarter)\b`),
			Base:       0.7,
			Canonical:  regexp.MustCompile(`^(?:all|everything|entire|max|maximum|half|quarter)$`),
			Normalize:  normalizeRelative,
			Descriptor: "quantifier",
		},
		{
			Type:       defi.EntityLeverage,
			Expr:       regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s?x\b(?:\s+(?:leverage|leveraged))?|\bleverage\s+(?:of\s+)?(\d+(?:\.\d+)?)x?\b`),
			Base:       0.85,
			Canonical:  regexp.MustCompile(`(?i)^(?:\d+(?:\.\d+)?x(?:\s+leveraged?)?|leverage\s+(?:of\s+)?\d+(?:\.\d+)?x?)$`),
			Normalize:  firstNumber,
			Descriptor: "multiplier",
		},
		{
			Type:       defi.EntitySlippage,
			Expr:       regexp.MustCompile(`(?i)\b(?:max(?:imum)?\s+)?slip(?:page)?(?:\s+(?:of|at|to|tolerance))*\s*(\d+(?:\.\d+)?)\s?%?|\b(\d+(?:\.\d+)?)\s?%\s+(?:max(?:imum)?\s+)?slip(?:page)?\b`),
			Base:       0.9,
			Canonical:  regexp.MustCompile(`(?i)^(?:(?:max(?:imum)?\s+)?slip(?:page)?(?:\s+(?:of|at|to|tolerance))*\s*\d+(?:\.\d+)?\s?%?|\d+(?:\.\d+)?\s?%\s+(?:max(?:imum)?\s+)?slip(?:page)?)$`),
			Normalize:  firstNumber,
			Descriptor: "tolerance",
		},
		{
			Type:       defi.EntityDuration,
			Expr:       regexp.MustCompile(`(?i)\b(\d+)\s?(days?|d|weeks?|w|months?|mo|years?|y)\b`),
			Base:       0.8,
			Canonical:  regexp.MustCompile(`(?i)^\d+\s(?:day|week|month|year)s?$`),
			Normalize:  normalizeDuration,
			Descriptor: "period",
		},
		{
			Type:       defi.EntityAddress,
			Expr:       regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`),
			Base:       0.9,
			Canonical:  regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
			Normalize:  normalizeAddress,
			Descriptor: "hex",
		},
	}

	if catalog == nil {
		return rules
	}
	if symbols := catalog.TokenSymbols(); len(symbols) > 0 {
		rules = append(rules, Rule{
			Type:       defi.EntityToken,
			Expr:       regexp.MustCompile(`(?i)\b(` + alternation(symbols) + `)\b`),
			Base:       0.85,
			Canonical:  regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`),
			Normalize:  func(m Match) (string, float64, error) { return strings.ToUpper(m.Raw), 0, nil },
			Descriptor: "symbol",
		})
	}
	if names := catalog.ProtocolNames(); len(names) > 0 {
		rules = append(rules, Rule{
			Type:       defi.EntityProtocol,
			Expr:       regexp.MustCompile(`(?i)\b(` + alternation(names) + `)(?:\s?v[1-4])?\b`),
			Base:       0.85,
			Canonical:  regexp.MustCompile(`(?i)^[a-z0-9]+(?:\s?v[1-4])?$`),
			Normalize:  func(m Match) (string, float64, error) { return strings.ToLower(m.Groups[1]), 0, nil },
			Descriptor: "name",
		})
	}
	if names := catalog.ChainNames(); len(names) > 0 {
		normalizeChain := func(m Match) (string, float64, error) {
			chain, ok := catalog.Chain(m.Raw)
			if !ok {
				return "", 0, fmt.Errorf("未知链 %q", m.Raw)
			}
			return chain.Name, 0, nil
		}
		rules = append(rules,
			Rule{
				Type:       defi.EntityChain,
				Expr:       regexp.MustCompile(`(?i)\b(?:on|via|using|over)\s+(?:the\s+)?(` + alternation(names) + `)\b`),
				Group:      1,
				Base:       0.8,
				Canonical:  regexp.MustCompile(`^[a-z]+(?: [a-z]+)?$`),
				Normalize:  normalizeChain,
				Descriptor: "venue",
			},
			Rule{
				Type:       defi.EntityChain,
				Expr:       regexp.MustCompile(`(?i)\b(` + alternation(standaloneChains(names)) + `)\b`),
				Group:      1,
				Base:       0.7,
				Canonical:  regexp.MustCompile(`^[a-z]+$`),
				Normalize:  normalizeChain,
				Descriptor: "bare",
			},
		)
	}
	return rules
}

// standaloneChains 过滤掉容易与普通单词混淆的短链名，这些名称只在介词之后识别。
func standaloneChains(names []string) []string {
	var out []string
	for _, name := range names {
		if len(name) >= 6 && name != "mainnet" && !strings.Contains(name, " ") {
			out = append(out, name)
		}
	}
	return out
}

func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func normalizeRelative(m Match) (string, float64, error) {
	rel, ok := relativeFractions[strings.ToLower(m.Raw)]
	if !ok {
		return "", 0, fmt.Errorf("未知相对量词 %q", m.Raw)
	}
	return rel.canonical, rel.fraction, nil
}

func normalizeDuration(m Match) (string, float64, error) {
	n, err := parseNumber(m.Groups[1])
	if err != nil {
		return "", 0, err
	}
	unit, ok := durationDays[strings.ToLower(m.Groups[2])]
	if !ok {
		return "", 0, fmt.Errorf("未知时间单位 %q", m.Groups[2])
	}
	days := n * unit
	return formatNumber(days) + " days", days, nil
}

func normalizeAddress(m Match) (string, float64, error) {
	if !common.IsHexAddress(m.Raw) {
		return "", 0, fmt.Errorf("非法地址 %q", m.Raw)
	}
	return common.HexToAddress(m.Raw).Hex(), 0, nil
}
