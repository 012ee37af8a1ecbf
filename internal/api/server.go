// Package api 暴露运行管理的 REST 接口。
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentFlows/internal/auth"
	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/observability/metrics"
	"AgentFlows/internal/run"
)

const runsPrefix = "/api/v1/runs"

// Server 对外提供运行的提交与查询能力。
type Server struct {
	addr    string
	service *run.Service
	auth    *auth.Service
}

// Option 配置 Server 的可选能力。
type Option func(*Server)

// WithAuth 启用认证中间件。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *run.Service, opts ...Option) *Server {
	s := &Server{addr: addr, service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或监听出错。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Handler 组装全部路由，便于测试复用。
func (s *Server) Handler() http.Handler {
	guard := func(next http.Handler) http.Handler { return next }
	if s.auth.Enabled() {
		guard = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:  {"runs:read"},
				http.MethodPost: {"runs:write"},
			},
		})
	}

	mux := http.NewServeMux()
	mux.Handle(runsPrefix, guard(instrument("runs", http.HandlerFunc(s.handleRuns))))
	mux.Handle(runsPrefix+"/", guard(instrument("run_detail", http.HandlerFunc(s.handleRunDetail))))
	mux.Handle("/api/v1/stats", guard(instrument("stats", http.HandlerFunc(s.handleStats))))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	var req run.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	record, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.service.List(r.Context(), opts...)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, runsPrefix+"/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "缺少合法的运行 ID")
		return
	}
	record, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.service.Stats(r.Context(), opts...)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listOptionsFromQuery 把查询参数翻译为存储层的过滤选项。
func listOptionsFromQuery(r *http.Request) ([]run.ListOption, error) {
	var opts []run.ListOption
	query := r.URL.Query()

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, stdErrors.New("limit 必须是正整数")
		}
		opts = append(opts, run.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, stdErrors.New("offset 必须是非负整数")
		}
		opts = append(opts, run.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			status := run.Status(strings.TrimSpace(part))
			if !run.IsValidStatus(status) {
				return nil, stdErrors.New("不支持的运行状态: " + string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, stdErrors.New("has_result 必须是布尔值")
		}
		opts = append(opts, run.WithResultPresence(hasResult))
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, stdErrors.New("since 必须是 RFC3339 时间")
		}
		opts = append(opts, run.WithUpdatedSince(since))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, run.WithQuery(raw))
	}
	return opts, nil
}

// writeRunError 将运行域错误翻译为 HTTP 状态码。
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case run.IsRunError(err, run.CodeRunNotFound):
		writeError(w, http.StatusNotFound, "运行不存在")
	case run.IsRunError(err, run.CodeRunConflict):
		writeError(w, http.StatusConflict, err.Error())
	case xerrors.CodeOf(err) == run.CodeRunValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// instrument 记录请求耗时与状态码指标。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(mw, r)
		metrics.ObserveHTTPRequest(name, r.Method, mw.status, time.Since(start))
	})
}

type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 让请求处理感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
