package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore 把对象写入本地目录，元数据保存在同名的 .meta.json 文件中。
type FileStore struct {
	root string
}

// NewFileStore 创建本地目录存储。
func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrNotConfigured
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put 写入对象。键中不允许出现跳出根目录的路径。
func (f *FileStore) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.resolve(obj.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建对象目录失败: %w", err)
	}
	if err := os.WriteFile(path, obj.Body, 0o644); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}

	meta := map[string]any{"content_type": obj.ContentType}
	if len(obj.Metadata) > 0 {
		meta["metadata"] = obj.Metadata
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("序列化对象元数据失败: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", encoded, 0o644); err != nil {
		return fmt.Errorf("写入对象元数据失败: %w", err)
	}
	return nil
}

// Location 返回根目录。
func (f *FileStore) Location() string {
	return f.root
}

func (f *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("对象键无效: %q", key)
	}
	return filepath.Join(f.root, clean), nil
}
