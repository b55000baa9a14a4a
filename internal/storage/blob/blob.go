package blob

import (
	"context"
	"errors"
)

// ErrNotConfigured 表示对象存储的目标位置未配置。
var ErrNotConfigured = errors.New("blob store target not configured")

// Object 描述一次写入。
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// Store 抽象对象存储。
type Store interface {
	Put(ctx context.Context, obj Object) error
	// Location 返回写入目标的描述，例如桶名或目录。
	Location() string
}
