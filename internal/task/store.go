package task

import (
	"context"

	xerrors "ContractReview/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 把 pending 任务置为 running；已结束返回 ErrJobCompleted，运行中返回 ErrJobConflict。
	Claim(ctx context.Context, id string) (*Job, error)
	// Release 把 running 任务退回 pending，用于模型调用被关停打断的情况。
	Release(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string, answer string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, message string) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
