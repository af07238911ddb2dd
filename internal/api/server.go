package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"CoinKeep/internal/auth"
	"CoinKeep/internal/dashboard"
	"CoinKeep/internal/notify"
	"CoinKeep/internal/observability/metrics"
	"CoinKeep/internal/web3"
)

// Dependencies 汇总 API 需要的服务。
type Dependencies struct {
	Dashboard *dashboard.Service
	Auth      *auth.Service
	// Provider 用于 SIWE 签名，可为空。
	Provider      web3.Provider
	Notifications *notify.Recorder
	Metrics       bool
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr string
	deps Dependencies
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	return &Server{addr: addr, deps: deps}
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

// Handler 返回完整的路由。登录与链目录接口不经过登录校验。
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	s.handle(protected, "GET /api/v1/wallet", s.handleWallet)
	s.handle(protected, "POST /api/v1/wallet/connect", s.handleConnect)
	s.handle(protected, "POST /api/v1/wallet/disconnect", s.handleDisconnect)
	s.handle(protected, "POST /api/v1/wallet/chain", s.handleSwitchChain)
	s.handle(protected, "GET /api/v1/agents", s.handleMyAgents)
	s.handle(protected, "POST /api/v1/agents", s.handleRegisterAgent)
	s.handle(protected, "GET /api/v1/agents/{id}", s.handleAgent)
	s.handle(protected, "PATCH /api/v1/agents/{id}", s.handleUpdateAgent)
	s.handle(protected, "POST /api/v1/agents/{id}/merchants", s.handleAddMerchant)
	s.handle(protected, "DELETE /api/v1/agents/{id}/merchants/{address}", s.handleRemoveMerchant)
	s.handle(protected, "GET /api/v1/notifications", s.handleNotifications)

	mux := http.NewServeMux()
	s.handle(mux, "GET /api/v1/health", s.handleHealth)
	s.handle(mux, "GET /api/v1/chains", s.handleChains)
	s.handle(mux, "GET /api/v1/session", s.handleSession)
	s.handle(mux, "POST /api/v1/session", s.handleLogin)
	s.handle(mux, "DELETE /api/v1/session", s.handleLogout)
	s.handle(mux, "POST /api/v1/session/siwe", s.handleSIWE)
	if s.deps.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var inner http.Handler = protected
	if s.deps.Auth != nil {
		inner = s.deps.Auth.Middleware()(protected)
	}
	mux.Handle("/", inner)
	return mux
}

// handle 注册路由并记录请求指标，路由模式作为 handler 标签。
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
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
