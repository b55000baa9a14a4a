package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ContractReview/pkg/logger"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("队列已关闭")

const defaultMemoryQueueBuffer = 64

// MemoryQueue 是进程内的任务队列，单实例部署与测试使用。
// 进程退出时缓冲中尚未消费的任务会丢失，存储中它们仍为 pending。
type MemoryQueue struct {
	jobs   chan string
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewMemoryQueue 创建缓冲大小为 buffer 的内存队列。
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryQueueBuffer
	}
	return &MemoryQueue{
		jobs:   make(chan string, buffer),
		logger: logger.Named("queue").With(slog.String("driver", "memory")),
	}
}

// Publish 投递任务；缓冲已满时阻塞到有空位或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 阻塞消费，直到 ctx 结束或队列关闭。内存队列不重投，
// 退回 pending 的任务在下次启动时由 Service.Requeue 补投。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	runWorkers(ctx, workerCount, q.jobs, func(ctx context.Context, jobID string) {
		logHandlerError(q.logger, jobID, handler(ctx, jobID), false)
	})
	return ctx.Err()
}

// Close 关闭队列，之后的 Publish 返回 ErrQueueClosed。可重复调用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.jobs)
	return nil
}
