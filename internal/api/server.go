package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DeFiIntent-Chain/internal/auth"
	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/observability/metrics"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/internal/turn"
	"DeFiIntent-Chain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Parser 同步处理一轮输入。
type Parser interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.TurnResult, error)
}

// Server 负责暴露 REST 接口，供前端与执行层提交和查询轮次。
type Server struct {
	addr        string
	parser      Parser
	turns       *turn.Service
	metrics     *metrics.Metrics
	metricsPath string
	auth        *auth.Service
	logger      *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 暴露 Prometheus 指标并为每个路由记录请求指标。
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithAuth 要求 API 路由携带有效的 API Key。健康检查与指标路由不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。parser 或 turns 为空时对应接口返回 503。
func NewServer(addr string, parser Parser, turns *turn.Service, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		parser:      parser,
		turns:       turns,
		metricsPath: "/metrics",
		logger:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/parse", "parse", auth.PermissionParse, s.handleParse)
	s.route(mux, "POST /api/v1/turns", "turns_create", auth.PermissionTurnsWrite, s.handleCreateTurn)
	s.route(mux, "GET /api/v1/turns", "turns_list", auth.PermissionTurnsRead, s.handleListTurns)
	s.route(mux, "GET /api/v1/turns/stats", "turns_stats", auth.PermissionTurnsRead, s.handleTurnStats)
	s.route(mux, "GET /api/v1/turns/{id}", "turns_detail", auth.PermissionTurnsRead, s.handleTurnDetail)
	s.route(mux, "GET /healthz", "healthz", "", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
	return mux
}

// route 注册路由，permission 非空时先经过认证中间件。
func (s *Server) route(mux *http.ServeMux, pattern, name, permission string, handler http.HandlerFunc) {
	var h http.Handler = handler
	if permission != "" && s.auth.Enabled() {
		h = s.auth.Middleware(auth.MiddlewareConfig{Permissions: []string{permission}, AuditEvent: name})(h)
	}
	if s.metrics != nil {
		h = s.metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleParse 同步运行流水线并返回完整结果。
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if s.parser == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "流水线未初始化"))
		return
	}
	var req pipeline.Request
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.parser.Process(r.Context(), req)
	if err != nil {
		if errors.Is(err, defi.ErrTurnSuperseded) && result != nil {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateTurn 异步提交一轮输入。
func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化"))
		return
	}
	var req pipeline.Request
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.turns.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleTurnDetail(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少轮次 ID"))
		return
	}
	t, err := s.turns.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	turns, err := s.turns.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns, "count": len(turns)})
}

func (s *Server) handleTurnStats(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.turns.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseListOptions 将查询参数转换为列表过滤条件。
func parseListOptions(r *http.Request) ([]turn.ListOption, error) {
	q := r.URL.Query()
	var opts []turn.ListOption

	intParam := func(name string, apply func(int) turn.ListOption) error {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "参数 %s 必须为非负整数", name)
		}
		opts = append(opts, apply(v))
		return nil
	}
	timeParam := func(name string, apply func(time.Time) turn.ListOption) error {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "参数 %s 必须为 Unix 秒", name)
		}
		opts = append(opts, apply(time.Unix(v, 0)))
		return nil
	}

	if err := intParam("limit", turn.WithLimit); err != nil {
		return nil, err
	}
	if err := intParam("offset", turn.WithOffset); err != nil {
		return nil, err
	}
	if err := timeParam("updated_since", turn.WithUpdatedSince); err != nil {
		return nil, err
	}
	if err := timeParam("updated_until", turn.WithUpdatedUntil); err != nil {
		return nil, err
	}

	if raw := q.Get("status"); raw != "" {
		var statuses []turn.Status
		for _, part := range strings.Split(raw, ",") {
			status := turn.Status(strings.ToLower(strings.TrimSpace(part)))
			if !turn.IsValidStatus(status) {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的轮次状态 %q", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, turn.WithStatuses(statuses...))
	}
	if session := q.Get("session_id"); session != "" {
		opts = append(opts, turn.WithSession(session))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, turn.WithQuery(query))
	}
	if raw := q.Get("has_result"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "参数 has_result 必须为布尔值")
		}
		opts = append(opts, turn.WithResultPresence(v))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, turn.WithSortOrder(turn.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "参数 order 只能为 asc 或 desc")
	}
	return opts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return false
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: string(code), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
