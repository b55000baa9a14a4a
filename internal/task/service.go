package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
	"ContractReview/pkg/logger"
)

// Observer 接收任务状态变化，用于指标统计。
type Observer interface {
	ObserveJob(status Status)
}

// Service 负责任务的创建与查询。
type Service struct {
	store    Store
	producer Producer
	observer Observer
	newID    func() string
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithServiceObserver 配置指标观察者。
func WithServiceObserver(observer Observer) ServiceOption {
	return func(s *Service) {
		s.observer = observer
	}
}

// WithIDGenerator 替换任务 ID 生成方式。
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{store: store, producer: producer, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建一个新的任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req llm.Request) (*Job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(CodeJobValidation, "query must not be empty")
	}
	if req.MaxTokens <= 0 {
		return nil, xerrors.New(CodeJobValidation, fmt.Sprintf("max_tokens must be positive, got %d", req.MaxTokens))
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	job := &Job{
		ID:      s.newID(),
		Request: req,
		Status:  StatusPending,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, job.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		if markErr := s.store.MarkFailed(ctx, job.ID, CodeJobPublish, wrapped.Summary()); markErr != nil {
			logger.L().Error("回写任务失败状态出错", slog.Any("error", markErr), slog.String("job_id", job.ID))
		}
		s.observe(StatusFailed)
		return nil, wrapped
	}
	s.observe(StatusPending)
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", job.ID),
		slog.String("model_id", req.ModelID),
		slog.Int("max_tokens", req.MaxTokens),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// PendingJobIDs 分页收集全部 pending 任务的 ID。
// 需在处理器与 API 启动前调用，否则状态变化会让分页跳过任务。
func (s *Service) PendingJobIDs(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	var ids []string
	for offset := 0; ; offset += maxListLimit {
		page, err := s.store.List(ctx, buildListOptions([]ListOption{
			WithStatuses(StatusPending),
			WithLimit(maxListLimit),
			WithOffset(offset),
		}))
		if err != nil {
			return ids, err
		}
		for _, job := range page {
			ids = append(ids, job.ID)
		}
		if len(page) < maxListLimit {
			return ids, nil
		}
	}
}

// Requeue 重新投递任务 ID，返回成功投递的数量。
// 重复投递是安全的：Claim 只会让其中一次真正执行。
func (s *Service) Requeue(ctx context.Context, ids []string) (int, error) {
	if s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务队列未初始化")
	}
	for i, id := range ids {
		if err := s.producer.Publish(ctx, id); err != nil {
			return i, xerrors.Wrap(xerrors.CodeQueueFailure, err, "重新投递任务失败")
		}
	}
	return len(ids), nil
}

// WaitUntilFinished 轮询任务状态直到结束或 ctx 超时。
func (s *Service) WaitUntilFinished(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			if stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待任务 "+id+" 结束超时")
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var firstErr error
	if s.producer != nil {
		firstErr = s.producer.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) observe(status Status) {
	if s.observer != nil {
		s.observer.ObserveJob(status)
	}
}
