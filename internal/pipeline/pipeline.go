package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"DeFiIntent-Chain/internal/command"
	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/market"
	"DeFiIntent-Chain/internal/nlp/classifier"
	"DeFiIntent-Chain/internal/nlp/contextual"
	"DeFiIntent-Chain/internal/nlp/entity"
	"DeFiIntent-Chain/pkg/logger"
)

// Request 描述一轮用户输入及其只读上下文。
type Request struct {
	TurnID      string                    `json:"turn_id,omitempty"`
	SessionID   string                    `json:"session_id,omitempty"`
	Text        string                    `json:"text"`
	Context     *defi.ConversationContext `json:"context,omitempty"`
	Balances    map[string]float64        `json:"balances,omitempty"`
	Chain       string                    `json:"chain,omitempty"`
	UserAddress string                    `json:"user_address,omitempty"`
}

// Session 返回请求所属会话，未显式给出时取上下文中的会话 ID。
func (r Request) Session() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	if r.Context != nil {
		return r.Context.SessionID
	}
	return ""
}

// Failure 描述被拒绝的轮次的原因。
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TurnResult 是一轮处理的完整输出。Rejected、Invalid 等非致命结论也通过它返回。
type TurnResult struct {
	TurnID         string                        `json:"turn_id"`
	SessionID      string                        `json:"session_id,omitempty"`
	Text           string                        `json:"text"`
	State          State                         `json:"state"`
	History        []State                       `json:"history"`
	Entities       defi.EntitySet                `json:"entities,omitempty"`
	Classification *defi.IntentClassification    `json:"classification,omitempty"`
	Analysis       *contextual.Analysis          `json:"analysis,omitempty"`
	Result         *defi.CommandProcessingResult `json:"result,omitempty"`
	Failure        *Failure                      `json:"failure,omitempty"`
	Suggestions    []string                      `json:"suggestions,omitempty"`
	StartedAt      time.Time                     `json:"started_at"`
	Elapsed        time.Duration                 `json:"elapsed"`
}

// Command 返回已生成的命令，没有时返回 nil。
func (r *TurnResult) Command() *defi.ExecutableCommand {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.Command
}

// Observer 接收每轮处理的结果，用于指标统计。
type Observer interface {
	ObserveTurn(state, intent string, elapsed time.Duration)
}

// Pipeline 串联实体抽取、意图分类与命令构建。实例可被多个会话并发使用。
type Pipeline struct {
	cfg      Config
	catalog  *defi.Catalog
	provider market.Provider
	tracker  *Tracker
	observer Observer
	now      func() time.Time

	extractor  *entity.Extractor
	analyzer   *contextual.Analyzer
	classifier *classifier.Classifier
	builder    *command.Builder
	logger     *slog.Logger
}

// Option 定义 Pipeline 的可选配置。
type Option func(*Pipeline)

// WithCatalog 指定代币、协议与链目录。
func WithCatalog(c *defi.Catalog) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.catalog = c
		}
	}
}

// WithMarket 指定行情与账户数据源。
func WithMarket(provider market.Provider) Option {
	return func(p *Pipeline) {
		p.provider = provider
	}
}

// WithTracker 共享轮次跟踪器。
func WithTracker(t *Tracker) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracker = t
		}
	}
}

// WithObserver 配置指标观察者。
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New 按配置构建流水线。
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		catalog: defi.DefaultCatalog(),
		tracker: NewTracker(),
		now:     time.Now,
		logger:  logger.Named("pipeline"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	extractorOpts := []entity.Option{
		entity.WithCatalog(p.catalog),
		entity.WithMinConfidence(cfg.EntityMinConfidence()),
	}
	if cfg.MaxEntities > 0 {
		extractorOpts = append(extractorOpts, entity.WithMaxEntities(cfg.MaxEntities))
	}
	classifierOpts := []classifier.Option{
		classifier.WithMode(classifier.ParseMode(cfg.Mode)),
		classifier.WithFallbackToKeywords(cfg.KeywordFallback()),
		classifier.WithMinConfidence(cfg.ClassifierMinConfidence()),
	}

	p.extractor = entity.New(extractorOpts...)
	p.analyzer = contextual.NewAnalyzer()
	p.classifier = classifier.New(classifierOpts...)
	p.builder = command.NewBuilder(
		command.WithCatalog(p.catalog),
		command.WithMarket(p.provider),
		command.WithEnrichTimeout(cfg.Timeout()),
		command.WithDisambiguation(cfg.DisambiguationEnabled()),
	)
	return p
}

// turn 记录单轮处理中的状态迁移。
type turn struct {
	result *TurnResult
	logger *slog.Logger
}

func (t *turn) advance(to State) error {
	from := t.result.State
	if !CanTransition(from, to) {
		return xerrors.New(defi.CodeCommandBuilding,
			fmt.Sprintf("非法状态迁移 %s -> %s", from, to), xerrors.WithStage("pipeline"))
	}
	t.result.State = to
	t.result.History = append(t.result.History, to)
	t.logger.Debug("状态迁移", slog.String("from", string(from)), slog.String("to", string(to)))
	return nil
}

// Process 处理一轮输入。
//
// 拒绝、校验失败与澄清都作为 TurnResult 返回，error 为空。
// 同一会话的新轮次到达时，本轮返回状态为 Superseded 的结果与 ErrTurnSuperseded。
func (p *Pipeline) Process(ctx context.Context, req Request) (*TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "输入文本不能为空", xerrors.WithStage("pipeline"))
	}
	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	sessionID := req.Session()

	ctx, done := p.tracker.Begin(ctx, sessionID)
	defer done()

	started := p.now()
	t := &turn{
		result: &TurnResult{
			TurnID:    turnID,
			SessionID: sessionID,
			Text:      req.Text,
			State:     StateReceived,
			History:   []State{StateReceived},
			StartedAt: started,
		},
		logger: logger.ForTurn(p.logger, sessionID, turnID),
	}

	err := p.run(ctx, t, req)
	res := t.result
	res.Elapsed = p.now().Sub(started)

	intent := ""
	if res.Classification != nil {
		intent = string(res.Classification.Intent)
	}
	if p.observer != nil {
		p.observer.ObserveTurn(string(res.State), intent, res.Elapsed)
	}
	if err != nil {
		return res, err
	}
	p.logOutcome(t)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, t *turn, req Request) error {
	res := t.result

	entities, err := p.extractor.Extract(ctx, req.Text)
	if err := p.interrupted(ctx, t); err != nil {
		return err
	}
	if err != nil {
		return p.reject(t, err)
	}
	res.Entities = entities
	if err := t.advance(StateEntitiesExtracted); err != nil {
		return err
	}

	analysis, _ := p.analyzer.Analyze(req.Context, entities)
	res.Analysis = analysis
	classification, err := p.classifier.Classify(ctx, req.Text, entities, analysis)
	if err := p.interrupted(ctx, t); err != nil {
		return err
	}
	if err != nil {
		return p.reject(t, err)
	}
	res.Classification = classification
	if err := t.advance(StateClassified); err != nil {
		return err
	}

	pctx := p.parsingContext(ctx, req, entities)
	parsed, err := command.Parse(classification, req.Text, pctx)
	if err != nil {
		return p.reject(t, err)
	}
	if err := t.advance(StateParametersExtracted); err != nil {
		return err
	}

	built, err := p.builder.Build(ctx, parsed, pctx)
	if err := p.interrupted(ctx, t); err != nil {
		return err
	}
	if err != nil {
		return xerrors.Wrap(defi.CodeCommandBuilding, err, "构建命令失败", xerrors.WithStage("build"))
	}
	res.Result = built
	res.Suggestions = mergeSuggestions(built.Suggestions, analysis)

	if built.RequiresDisambiguation {
		return t.advance(StateDisambiguation)
	}
	if err := t.advance(StateValidated); err != nil {
		return err
	}
	if built.Command == nil {
		return t.advance(StateInvalid)
	}
	if err := t.advance(StateCommandReady); err != nil {
		return err
	}
	if built.Command.ConfirmationRequired {
		return t.advance(StateAwaitingConfirmation)
	}
	return nil
}

// interrupted 在 ctx 被取代或取消时结束本轮。
func (p *Pipeline) interrupted(ctx context.Context, t *turn) error {
	if ctx.Err() == nil {
		return nil
	}
	if Superseded(ctx) {
		t.result.State = StateSuperseded
		t.result.History = append(t.result.History, StateSuperseded)
		t.logger.Debug("轮次已被取代")
		return defi.ErrTurnSuperseded
	}
	return xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "轮次处理被取消", xerrors.WithStage("pipeline"))
}

// reject 把抽取、分类或参数映射错误记为 Rejected 状态。
func (p *Pipeline) reject(t *turn, cause error) error {
	code := xerrors.CodeOf(cause)
	message := cause.Error()
	if e, ok := xerrors.From(cause); ok {
		message = e.Message()
	}
	t.result.Failure = &Failure{Code: string(code), Message: message}
	return t.advance(StateRejected)
}

// parsingContext 合并请求携带的余额与数据源查询到的余额，请求中的值优先。
func (p *Pipeline) parsingContext(ctx context.Context, req Request, entities defi.EntitySet) *defi.ParsingContext {
	pctx := &defi.ParsingContext{
		Conversation: req.Context,
		Chain:        req.Chain,
		UserAddress:  req.UserAddress,
	}
	if len(req.Balances) > 0 {
		pctx.Balances = make(map[string]float64, len(req.Balances))
		for k, v := range req.Balances {
			pctx.Balances[strings.ToUpper(k)] = v
		}
	}
	if req.UserAddress == "" || p.provider == nil {
		return pctx
	}

	var missing []string
	for _, e := range entities.OfType(defi.EntityToken) {
		if _, ok := pctx.Balance(e.NormalizedValue); !ok {
			missing = append(missing, e.NormalizedValue)
		}
	}
	if len(missing) == 0 {
		return pctx
	}
	chain := req.Chain
	if c, ok := entities.First(defi.EntityChain); ok {
		chain = c.NormalizedValue
	}
	fetched := p.builder.Enricher().FetchBalances(ctx, chain, req.UserAddress, missing)
	if len(fetched) > 0 && pctx.Balances == nil {
		pctx.Balances = make(map[string]float64, len(fetched))
	}
	for k, v := range fetched {
		pctx.Balances[k] = v
	}
	return pctx
}

func (p *Pipeline) logOutcome(t *turn) {
	res := t.result
	switch res.State {
	case StateRejected, StateInvalid:
		attrs := []any{slog.String("state", string(res.State))}
		if res.Failure != nil {
			attrs = append(attrs, slog.String("code", res.Failure.Code), slog.String("reason", res.Failure.Message))
		}
		if res.Result != nil {
			attrs = append(attrs, slog.Int("errors", len(res.Result.ValidationErrors.Errors())))
		}
		t.logger.Info("轮次未生成命令", attrs...)
	case StateCommandReady, StateAwaitingConfirmation:
		cmd := res.Command()
		logger.ForTurn(logger.Audit(), res.SessionID, res.TurnID).Info("命令已就绪",
			slog.String("command_id", cmd.ID),
			slog.String("intent", string(cmd.Intent)),
			slog.String("action", cmd.Action),
			slog.String("risk_level", string(cmd.RiskLevel)),
			slog.Int("risk_score", cmd.RiskScore),
			slog.Bool("confirmation_required", cmd.ConfirmationRequired),
		)
	}
}

func mergeSuggestions(base []string, analysis *contextual.Analysis) []string {
	out := append([]string(nil), base...)
	if analysis == nil {
		return out
	}
	seen := make(map[string]struct{}, len(out))
	for _, s := range out {
		seen[s] = struct{}{}
	}
	for _, rec := range analysis.Recommendations {
		if _, ok := seen[rec.Message]; ok || rec.Message == "" {
			continue
		}
		seen[rec.Message] = struct{}{}
		out = append(out, rec.Message)
	}
	return out
}
