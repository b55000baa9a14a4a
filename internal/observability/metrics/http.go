package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"ContractReview/internal/llm"
	"ContractReview/internal/task"
)

const namespace = "reviewd"

// Collector 汇总服务的全部 Prometheus 指标，使用独立的 Registry。
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec

	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter

	jobs *prometheus.CounterVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// New 创建并注册所有指标。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_invocations_total",
			Help:      "Model invocations grouped by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		invocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_invocation_duration_seconds",
			Help:      "End-to-end model invocation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"adapter"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_uploads_total",
			Help:      "Document uploads grouped by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_upload_bytes_total",
			Help:      "Bytes of successfully stored documents.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_jobs_total",
			Help:      "Generation job state transitions.",
		}, []string{"status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per breaker name (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions per breaker name.",
		}, []string{"breaker", "to"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpErrors, c.httpLatency,
		c.invocations, c.invocationLatency,
		c.uploads, c.uploadBytes,
		c.jobs,
		c.breakerState, c.breakerTransitions,
	)
	return c
}

// Registry 返回底层 Registry，便于测试读取。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveInvocation 实现 llm.Observer。
func (c *Collector) ObserveInvocation(adapter llm.Kind, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.invocations.WithLabelValues(adapter.String(), outcome).Inc()
	c.invocationLatency.WithLabelValues(adapter.String()).Observe(duration.Seconds())
}

// ObserveUpload 实现 upload.Observer。
func (c *Collector) ObserveUpload(outcome string, size int) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(outcome).Inc()
	if outcome == "success" && size > 0 {
		c.uploadBytes.Add(float64(size))
	}
}

// ObserveJob 实现 task.Observer。
func (c *Collector) ObserveJob(status task.Status) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(string(status)).Inc()
}

// ObserveBreakerState 可直接作为 breaker.StateListener 使用。name 取自有上界的熔断器集合。
func (c *Collector) ObserveBreakerState(name string, _, to gobreaker.State) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
	c.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Handler 以 Prometheus 文本格式暴露指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer 在独立端口上暴露指标，直到上下文取消。path 为空时使用 /metrics。
func (c *Collector) StartServer(ctx context.Context, addr, path string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
