package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	xerrors "ContractReview/internal/errors"
	"ContractReview/pkg/logger"
)

// Observer 接收每次调用的结果，用于指标统计。
type Observer interface {
	ObserveInvocation(adapter Kind, outcome string, duration time.Duration)
}

// Gateway 把路由、适配器与后端调用串成统一的调用契约。
type Gateway struct {
	invoker  Invoker
	router   *Router
	logger   *slog.Logger
	observer Observer
}

// Option 定义可选配置。
type Option func(*Gateway)

// WithRouter 替换默认路由器。
func WithRouter(router *Router) Option {
	return func(g *Gateway) {
		if router != nil {
			g.router = router
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver 配置指标观察者。
func WithObserver(observer Observer) Option {
	return func(g *Gateway) {
		g.observer = observer
	}
}

// NewGateway 构造网关。
func NewGateway(invoker Invoker, opts ...Option) *Gateway {
	g := &Gateway{invoker: invoker}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.router == nil {
		g.router = NewRouter()
	}
	if g.logger == nil {
		g.logger = logger.Named("gateway")
	}
	return g
}

// Invoke 执行一次生成请求。成功时只返回 Result，失败时只返回 *errors.Error，
// 每次调用最多向后端发起一次请求，不做重试。
func (g *Gateway) Invoke(ctx context.Context, req Request) (result *Result, err error) {
	started := time.Now()
	adapter, decision := g.router.Adapter(req.ModelID)
	log := g.logger.With(
		slog.String("model_id", req.ModelID),
		slog.String("adapter", decision.Kind.String()),
	)

	// 记录当前所处阶段，panic 时据此归类错误码。
	panicCode := CodeMalformedResponse
	defer func() {
		if r := recover(); r != nil {
			log.Error("模型调用出现 panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			result = nil
			err = xerrors.Wrap(panicCode, fmt.Errorf("%v", r), "model invocation aborted")
		}
		g.observe(decision.Kind, result, err, time.Since(started))
	}()

	if err := validate(req); err != nil {
		log.Info("生成请求校验失败", slog.String("error", err.Error()))
		return nil, err
	}
	if g.invoker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "model invoker is not configured")
	}

	if decision.Defaulted {
		log.Warn("未识别的模型标识，按默认分支路由到 Claude 适配器")
	} else {
		log.Debug("模型路由完成")
	}

	body, err := json.Marshal(adapter.BuildPayload(req.Prompt, req.Temperature, req.MaxTokens))
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidRequest, err, "encode model payload")
	}

	panicCode = CodeBackendInvocation
	raw, err := g.invoker.InvokeModel(ctx, req.ModelID, body)
	panicCode = CodeMalformedResponse
	if err != nil {
		wrapped := asBackendFailure(err)
		log.Error("模型调用失败", slog.Any("error", err), slog.String("error_code", string(wrapped.Code())))
		return nil, wrapped
	}

	extraction, err := adapter.ExtractAnswer(raw)
	if err != nil {
		log.Error("解析模型响应失败",
			slog.Any("error", err),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Int("response_bytes", len(raw)),
		)
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(CodeMalformedResponse, err, "extract answer")
	}
	if extraction.Outcome == OutcomeBestEffort {
		log.Warn("模型响应结构不符合预期，返回原始响应内容", slog.Int("response_bytes", len(raw)))
	}

	return &Result{
		Answer:  extraction.Answer,
		ModelID: req.ModelID,
		Adapter: decision.Kind,
		Outcome: extraction.Outcome,
	}, nil
}

func (g *Gateway) observe(kind Kind, result *Result, err error, elapsed time.Duration) {
	if g.observer == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = strings.ToLower(string(xerrors.CodeOf(err)))
	case result != nil && result.Outcome == OutcomeBestEffort:
		outcome = OutcomeBestEffort.String()
	}
	g.observer.ObserveInvocation(kind, outcome, elapsed)
}

func validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return xerrors.New(CodeInvalidRequest, "query must not be empty")
	}
	if req.MaxTokens <= 0 {
		return xerrors.New(CodeInvalidRequest, fmt.Sprintf("max_tokens must be positive, got %d", req.MaxTokens))
	}
	return nil
}

// asBackendFailure 把后端调用错误统一为 BACKEND_INVOCATION_FAILURE。
func asBackendFailure(err error) *xerrors.Error {
	if e, ok := xerrors.From(err); ok && e.Code() == CodeBackendInvocation {
		return e
	}
	return xerrors.Wrap(CodeBackendInvocation, err, "model invocation failed")
}
