package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
	"ContractReview/internal/observability/alerting"
	"ContractReview/pkg/logger"
)

// Generator 定义了处理器所需的网关能力。
type Generator interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Processor 负责从队列消费任务并交给网关执行。
type Processor struct {
	generator   Generator
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	observer    Observer
	alerts      alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithProcessorObserver 配置指标观察者。
func WithProcessorObserver(observer Observer) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// WithAlertDispatcher 配置告警分发器，失败错误码标记了告警时触发。
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = d
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(generator Generator, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		generator:   generator,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动任务处理循环，阻塞到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.generator == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		return err
	}
	p.observe(StatusRunning)

	result, invokeErr := p.generator.Invoke(ctx, job.Request)
	// 之后的状态回写不受关停影响，否则任务会停留在 running。
	writeCtx := context.WithoutCancel(ctx)
	if invokeErr != nil && ctx.Err() != nil {
		return p.release(writeCtx, job, ctx.Err())
	}
	if invokeErr != nil {
		code := xerrors.CodeOf(invokeErr)
		if err := p.store.MarkFailed(writeCtx, job.ID, code, xerrors.SummaryOf(invokeErr)); err != nil {
			p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
			return err
		}
		p.observe(StatusFailed)
		logger.Audit().Warn("任务执行失败",
			slog.String("job_id", job.ID),
			slog.String("model_id", job.Request.ModelID),
			slog.String("error_code", string(code)),
		)
		p.alert(writeCtx, job, invokeErr)
		return nil
	}

	if err := p.store.MarkSucceeded(writeCtx, job.ID, result.Answer); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	p.observe(StatusSucceeded)
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("model_id", job.Request.ModelID),
		slog.String("outcome", result.Outcome.String()),
	)
	return nil
}

// release 在关停打断模型调用时把任务退回 pending，不记失败也不告警。
// 返回的错误让支持重投的队列保留该消息。
func (p *Processor) release(ctx context.Context, job *Job, cause error) error {
	if err := p.store.Release(ctx, job.ID); err != nil {
		p.logger.Error("退回任务失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	p.observe(StatusPending)
	p.logger.Info("关停中断任务，已退回 pending", slog.String("job_id", job.ID))
	return xerrors.Wrap(CodeJobInterrupted, cause, "任务被关停打断")
}

func (p *Processor) observe(status Status) {
	if p.observer != nil {
		p.observer.ObserveJob(status)
	}
}

func (p *Processor) alert(ctx context.Context, job *Job, cause error) {
	if p.alerts == nil {
		return
	}
	event, ok := alerting.EventFromError(cause, time.Now().UTC())
	if !ok {
		return
	}
	event.JobID = job.ID
	event.ModelID = job.Request.ModelID
	if err := p.alerts.Notify(ctx, event); err != nil {
		p.logger.Warn("告警发送失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}
