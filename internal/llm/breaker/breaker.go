package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
	"ContractReview/pkg/logger"
)

// SharedKey 是未识别模型标识以及超出 MaxBreakers 的标识共用的熔断器名称。
const SharedKey = "unrecognized"

// Config 描述熔断器参数，零值字段使用默认值。
type Config struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	// MaxBreakers 限制按模型标识独立维护的熔断器数量，不含共享熔断器。
	MaxBreakers int
}

func (c Config) withDefaults() Config {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.MaxBreakers <= 0 {
		c.MaxBreakers = 32
	}
	return c
}

// StateListener 在熔断器状态变化时被调用。
type StateListener func(modelID string, from, to gobreaker.State)

// Invoker 为路由器识别的模型标识维护独立的熔断器，熔断打开时直接拒绝调用。
// 未识别的标识共用 SharedKey 熔断器，因此熔断器数量与指标标签都有上界。
// 它不做重试：每次 InvokeModel 最多转发一次。
type Invoker struct {
	next     llm.Invoker
	cfg      Config
	router   *llm.Router
	listener StateListener
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	warned   bool
}

// Option 定义可选配置。
type Option func(*Invoker)

// WithStateListener 注册状态变化回调。
func WithStateListener(listener StateListener) Option {
	return func(i *Invoker) {
		i.listener = listener
	}
}

// WithRouter 指定判断模型标识是否被识别的路由器，需与网关使用同一份配置。
func WithRouter(r *llm.Router) Option {
	return func(i *Invoker) {
		if r != nil {
			i.router = r
		}
	}
}

// New 包装一个后端调用器。
func New(next llm.Invoker, cfg Config, opts ...Option) *Invoker {
	inv := &Invoker{
		next:     next,
		cfg:      cfg.withDefaults(),
		router:   llm.NewRouter(),
		logger:   logger.Named("breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// InvokeModel 实现 llm.Invoker 接口。
func (i *Invoker) InvokeModel(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	cb := i.breakerFor(modelID)
	out, err := cb.Execute(func() (interface{}, error) {
		return i.next.InvokeModel(ctx, modelID, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, xerrors.Wrap(llm.CodeBackendInvocation, err, "model backend temporarily unavailable",
				xerrors.WithMetadata("model_id", modelID),
				xerrors.WithMetadata("circuit", cb.State().String()),
			)
		}
		return nil, err
	}
	raw, _ := out.([]byte)
	return raw, nil
}

// State 返回指定模型当前的熔断状态。
func (i *Invoker) State(modelID string) gobreaker.State {
	return i.breakerFor(modelID).State()
}

// Len 返回当前维护的熔断器数量。
func (i *Invoker) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.breakers)
}

func (i *Invoker) breakerFor(modelID string) *gobreaker.CircuitBreaker {
	key := modelID
	if i.router.Select(modelID).Defaulted {
		key = SharedKey
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if cb, ok := i.breakers[key]; ok {
		return cb
	}
	if key != SharedKey && i.namedLocked() >= i.cfg.MaxBreakers {
		if !i.warned {
			i.warned = true
			i.logger.Warn("熔断器数量已达上限，后续模型共用共享熔断器",
				slog.Int("max_breakers", i.cfg.MaxBreakers),
				slog.String("model_id", modelID),
			)
		}
		key = SharedKey
		if cb, ok := i.breakers[key]; ok {
			return cb
		}
	}
	cb := i.newBreaker(key)
	i.breakers[key] = cb
	return cb
}

// namedLocked 返回独立熔断器的数量，调用方需持有 i.mu。
func (i *Invoker) namedLocked() int {
	n := len(i.breakers)
	if _, ok := i.breakers[SharedKey]; ok {
		n--
	}
	return n
}

func (i *Invoker) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := i.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: i.cfg.MaxRequests,
		Interval:    i.cfg.Interval,
		Timeout:     i.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// 调用方主动取消不计入后端失败。
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			i.logger.Warn("熔断器状态变化",
				slog.String("model_id", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if i.listener != nil {
				i.listener(name, from, to)
			}
		},
	})
}
