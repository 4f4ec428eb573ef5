package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/pkg/logger"
)

// Builder 把解析结果组装为可执行命令：派生参数、校验、风险、gas、确认与澄清。
type Builder struct {
	catalog               *defi.Catalog
	provider              market.Provider
	enrichTimeout         time.Duration
	enableDisambiguation  bool
	disambiguationTimeout time.Duration
	now                   func() time.Time
	newID                 func() string

	validator *Validator
	enricher  *Enricher
	logger    *slog.Logger
}

// Option 自定义 Builder 行为。
type Option func(*Builder)

// WithCatalog 替换内置的代币与协议目录。
func WithCatalog(c *defi.Catalog) Option {
	return func(b *Builder) {
		if c != nil {
			b.catalog = c
		}
	}
}

// WithMarket 配置派生参数所用的行情数据源。
func WithMarket(p market.Provider) Option {
	return func(b *Builder) {
		b.provider = p
	}
}

// WithEnrichTimeout 设置派生参数计算的总时限。
func WithEnrichTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.enrichTimeout = d
		}
	}
}

// WithDisambiguation 控制缺少必选参数时是否返回澄清问题。
func WithDisambiguation(enabled bool) Option {
	return func(b *Builder) {
		b.enableDisambiguation = enabled
	}
}

// WithDisambiguationTimeout 设置澄清问题的等待时限。
func WithDisambiguationTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.disambiguationTimeout = d
		}
	}
}

// WithClock 替换时间来源，测试时使用。
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator 替换命令 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(b *Builder) {
		if gen != nil {
			b.newID = gen
		}
	}
}

// NewBuilder 创建命令构建器，默认启用澄清。
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		catalog:               defi.DefaultCatalog(),
		enrichTimeout:         defaultEnrichTimeout,
		enableDisambiguation:  true,
		disambiguationTimeout: defaultDisambiguationTimeout,
		now:                   time.Now,
		newID:                 uuid.NewString,
		logger:                logger.Named("command"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.validator = NewValidator(b.catalog)
	b.enricher = NewEnricher(b.provider, b.catalog, b.enrichTimeout)
	return b
}

// Enricher 返回构建器使用的派生参数计算器。
func (b *Builder) Enricher() *Enricher {
	return b.enricher
}

// Process 依次执行解析与构建。
func (b *Builder) Process(ctx context.Context, classification *defi.IntentClassification, rawText string, pctx *defi.ParsingContext) (*defi.CommandProcessingResult, error) {
	parsed, err := Parse(classification, rawText, pctx)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, parsed, pctx)
}

// Build 组装命令。校验问题收集在结果中，只有解析结果缺失或 ctx 被取消时返回错误。
func (b *Builder) Build(ctx context.Context, parsed *ParsedCommand, pctx *defi.ParsingContext) (*defi.CommandProcessingResult, error) {
	if parsed == nil || parsed.Template == nil {
		return nil, xerrors.New(defi.CodeCommandBuilding, "缺少解析结果", xerrors.WithStage("build"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	notes := append(defi.ValidationErrors(nil), parsed.Notes...)

	if len(parsed.Missing) > 0 {
		if b.enableDisambiguation {
			result := &defi.CommandProcessingResult{
				ValidationErrors:       notes,
				RequiresDisambiguation: true,
				Disambiguation:         Disambiguate(parsed, pctx, b.catalog, b.disambiguationTimeout),
			}
			b.logger.Debug("缺少必选参数，请求澄清",
				slog.String("intent", string(parsed.Template.Intent)),
				slog.Any("missing", parsed.Missing))
			return result, nil
		}
		notes = append(notes, MissingAsErrors(parsed.Missing)...)
	}

	enrichment := b.enricher.Enrich(ctx, parsed, pctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	issues := append(notes, b.validator.Validate(parsed, enrichment.Derived, pctx)...)
	issues = append(issues, enrichment.Notes...)

	params := parsed.Parameters()
	params.Derived = enrichment.Derived
	amount, _ := params.Number(defi.ParamAmount)
	leverage, _ := params.Number(defi.ParamLeverage)
	impact, _ := params.Number(defi.ParamPriceImpact)
	hops, _ := params.Number(defi.ParamRouteHops)

	intent := parsed.Template.Intent
	score, level := AssessRisk(RiskInput{Intent: intent, Amount: amount, Leverage: leverage, PriceImpact: impact})
	if level == defi.RiskHigh {
		issues = append(issues, defi.ValidationError{
			Field:    "riskLevel",
			Code:     CodeHighRisk,
			Message:  fmt.Sprintf("risk score %d is high; review the command carefully", score),
			Severity: defi.SeverityWarning,
		})
	}

	result := &defi.CommandProcessingResult{
		ValidationErrors: issues,
		Suggestions:      b.suggestions(intent, issues, pctx),
	}
	if issues.HasErrors() {
		b.logger.Debug("命令校验未通过",
			slog.String("intent", string(intent)),
			slog.Int("errors", len(issues.Errors())))
		return result, nil
	}

	result.Command = &defi.ExecutableCommand{
		ID:                   b.newID(),
		Intent:               intent,
		SubIntent:            parsed.Classification.SubIntent,
		Action:               parsed.Template.Action,
		Parameters:           params,
		RiskLevel:            level,
		RiskScore:            score,
		ConfirmationRequired: RequiresConfirmation(intent, level, amount, leverage),
		EstimatedGas:         EstimateGas(intent, hops, leverage),
		ValidationStatus:     issues.Status(),
		CreatedAt:            b.now().UTC(),
	}
	b.logger.Debug("命令已生成",
		slog.String("command_id", result.Command.ID),
		slog.String("intent", string(intent)),
		slog.String("risk", string(level)),
		slog.Bool("confirm", result.Command.ConfirmationRequired))
	return result, nil
}

var codeSuggestions = map[string]string{
	CodeInvalidAmount:       "Enter an amount greater than zero.",
	CodeInsufficientBalance: "Reduce the amount or top up your balance first.",
	CodeSameToken:           "Choose two different tokens.",
	CodeUnknownToken:        "Check the token symbol.",
	CodeHighLeverage:        "Consider 5x leverage or lower.",
	CodeHighSlippage:        "Consider a slippage tolerance of 1% or lower.",
	CodeHighPriceImpact:     "Consider splitting the trade into smaller orders.",
	CodeLowHealthFactor:     "Add collateral or borrow less to keep the health factor above 1.5.",
	CodeUnknownProtocol:     "Check the protocol name.",
	CodeUnsupportedChain:    "Pick a chain the protocol is deployed on.",
	CodeApprovalRequired:    "Approve the token before executing.",
	CodeHighRisk:            "Review the command carefully before confirming.",
	CodeMissingParameter:    "Provide the missing parameters and try again.",
}

// suggestions 按校验结果生成去重后的建议。
func (b *Builder) suggestions(intent defi.Intent, issues defi.ValidationErrors, pctx *defi.ParsingContext) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, issue := range issues {
		switch issue.Code {
		case CodeProtocolMismatch:
			add(b.protocolSuggestion(intent))
		case CodeNotPreferredProtocol:
			if conv := pctxConversation(pctx); conv != nil {
				add(fmt.Sprintf("Your preferred protocols: %s.", strings.Join(conv.PreferredProtocols, ", ")))
			}
		default:
			add(codeSuggestions[issue.Code])
		}
	}
	return out
}

func (b *Builder) protocolSuggestion(intent defi.Intent) string {
	category := intent.ProtocolCategory()
	if category == "" {
		return ""
	}
	var names []string
	for _, p := range b.catalog.ProtocolsFor(category) {
		names = append(names, p.Name)
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf("Try a %s protocol such as %s.", category, strings.Join(names, ", "))
}
