package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ContractReview/internal/llm"
	"ContractReview/internal/observability/metrics"
	"ContractReview/internal/storage/mysql"
	"ContractReview/internal/task"
	"ContractReview/internal/upload"
	"ContractReview/pkg/logger"
)

const (
	corsAllowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token"
	corsAllowMethods = "OPTIONS,POST"
	corsReadMethods  = "OPTIONS,GET,POST"
)

// Generator 对应模型调用网关。
type Generator interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Uploader 对应文档上传服务。
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
	List(ctx context.Context, limit int) ([]mysql.DocumentRecord, error)
}

// Jobs 对应异步生成任务服务。
type Jobs interface {
	Submit(ctx context.Context, req llm.Request) (*task.Job, error)
	Get(ctx context.Context, id string) (*task.Job, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Job, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.Stats, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr          string
	generator     Generator
	uploads       Uploader
	jobs          Jobs
	metrics       *metrics.Collector
	metricsPath   string
	allowedOrigin string
	hideMetrics   bool
	maxUpload     int64
	logger        *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithUploader 启用上传与文档查询接口。
func WithUploader(u Uploader) Option {
	return func(s *Server) { s.uploads = u }
}

// WithJobs 启用异步任务接口。
func WithJobs(j Jobs) Option {
	return func(s *Server) { s.jobs = j }
}

// WithMetrics 启用 HTTP 指标与 /metrics 暴露。
func WithMetrics(c *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = c
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithAllowedOrigin 设置 Access-Control-Allow-Origin。
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) {
		if origin != "" {
			s.allowedOrigin = origin
		}
	}
}

// WithoutMetricsRoute 只做 HTTP 埋点，不在 API 端口挂载指标路由。
func WithoutMetricsRoute() Option {
	return func(s *Server) { s.hideMetrics = true }
}

// WithMaxUploadBytes 限制上传请求体大小。
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, generator Generator, opts ...Option) *Server {
	s := &Server{
		addr:          addr,
		generator:     generator,
		metricsPath:   "/metrics",
		allowedOrigin: "*",
		maxUpload:     32 << 20,
		logger:        logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "generate", "/api/v1/generate", corsAllowMethods, s.handleGenerate)
	s.route(mux, "upload", "/api/v1/upload", corsAllowMethods, s.handleUpload)
	s.route(mux, "documents", "/api/v1/documents", corsReadMethods, s.handleDocuments)
	s.route(mux, "generations", "/api/v1/generations", corsReadMethods, s.handleGenerations)
	s.route(mux, "generation_detail", "/api/v1/generations/", corsReadMethods, s.handleGenerationDetail)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil && !s.hideMetrics {
		mux.Handle(s.metricsPath, s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern, methods string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Instrument(name, s.withCORS(methods, h)))
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

// withCORS 为每个响应附加跨域头，OPTIONS 预检直接返回 200。
func (s *Server) withCORS(methods string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", methods)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
