package task

import (
	"context"
	"log/slog"
	"sync"

	xerrors "ContractReview/internal/errors"
)

// Handler 处理来自消息队列的任务 ID。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。Consume 阻塞到 ctx 结束。
// Handler 返回可重试错误时，支持重投的队列会保留该消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// runWorkers 启动 workers 个协程从 msgs 中取消息并交给 handle，
// 直到 ctx 结束或 msgs 被关闭后返回。
func runWorkers[M any](ctx context.Context, workers int, msgs <-chan M, handle func(context.Context, M)) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					handle(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
}

// shouldRequeue 判断 Handler 失败后消息是否应保留。模型调用失败已在存储中落为终态，
// Handler 对其返回 nil；这里只会遇到存储故障或关停打断这类可重试错误。
func shouldRequeue(err error) bool {
	return err != nil && xerrors.RetryableError(err)
}

// logHandlerError 记录 Handler 返回的错误。
func logHandlerError(log *slog.Logger, jobID string, err error, requeued bool) {
	if err == nil {
		return
	}
	log.Warn("处理任务失败",
		slog.String("job_id", jobID),
		slog.Bool("requeued", requeued),
		slog.Any("error", err),
	)
}
