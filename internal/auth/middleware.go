package auth

import (
	"net/http"
	"time"
)

// Middleware attaches the stored user to the request context and writes an
// audit line per request. With Config.Required, requests without a session
// are answered with 401.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := s.Current(r.Context())
			if !ok && s.cfg.Required {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusUnauthorized,
				)
				return
			}

			ctx := r.Context()
			if ok {
				ctx = WithUser(ctx, user)
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(ctx))

			if r.Method == http.MethodGet {
				return
			}
			s.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", user.Email+user.Address,
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
