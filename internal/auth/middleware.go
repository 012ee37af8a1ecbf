package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "AgentFlows/pkg/logger"
)

// MiddlewareConfig 配置认证中间件。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法声明所需权限，"*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志的事件名，为空时使用请求路径。
	AuditEvent string
}

// Middleware 返回处理认证、授权与请求审计的 HTTP 中间件。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrPermissionDenied) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				loggerpkg.Audit().Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()),
				)
				return
			}
			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				loggerpkg.Audit().Warn("permission_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("caller", subject.Name),
					slog.String("error", err.Error()),
				)
				return
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			loggerpkg.Audit().Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("caller", subject.Name),
			)
		})
	}
}

// auditWriter 包装 ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
