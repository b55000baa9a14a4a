package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultListLimit = 20
	maxCachedRecords = 512
)

// DocumentRecord 记录一次成功上传的文档。
type DocumentRecord struct {
	Key         string `json:"s3_key"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  int64  `json:"uploaded_at"`
}

// DocumentRepository 抽象文档登记信息的持久化接口。
type DocumentRepository interface {
	Save(ctx context.Context, record DocumentRecord) error
	ListLatest(ctx context.Context, limit int) ([]DocumentRecord, error)
}

// FileDocumentRepository 以 JSON Lines 追加写本地文件，重启后可恢复最近的记录。
type FileDocumentRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []DocumentRecord
}

// NewFileDocumentRepository 创建基于本地文件的文档仓库。
func NewFileDocumentRepository(dataDir string) (*FileDocumentRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileDocumentRepository{dataFile: filepath.Join(dataDir, "documents.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录文档。
func (m *FileDocumentRepository) Save(_ context.Context, record DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开文档日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化文档记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入文档日志失败: %w", err)
	}

	m.records = append([]DocumentRecord{record}, m.records...)
	if len(m.records) > maxCachedRecords {
		m.records = m.records[:maxCachedRecords]
	}
	return nil
}

// ListLatest 返回最近登记的文档，最新的在前。
func (m *FileDocumentRepository) ListLatest(_ context.Context, limit int) ([]DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]DocumentRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *FileDocumentRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取文档日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []DocumentRecord
	for scanner.Scan() {
		var record DocumentRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			// 跳过写入中断留下的残行。
			continue
		}
		restored = append([]DocumentRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析文档日志失败: %w", err)
	}

	if len(restored) > maxCachedRecords {
		restored = restored[:maxCachedRecords]
	}
	m.records = restored
	return nil
}

// SQLDocumentRepository 使用 MySQL 存储文档登记信息。
type SQLDocumentRepository struct {
	db *sql.DB
}

// NewSQLDocumentRepository 建立连接池并执行迁移。
func NewSQLDocumentRepository(ctx context.Context, cfg Config) (*SQLDocumentRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDocumentRepository{db: db}, nil
}

// NewSQLDocumentRepositoryWithDB 复用已有连接池，调用方负责迁移。
func NewSQLDocumentRepositoryWithDB(db *sql.DB) *SQLDocumentRepository {
	return &SQLDocumentRepository{db: db}
}

const insertDocumentSQL = `INSERT INTO documents
        (object_key, filename, content_type, size_bytes, uploaded_by, uploaded_at)
        VALUES (?, ?, ?, ?, ?, ?)`

// Save 将文档记录写入 MySQL。
func (s *SQLDocumentRepository) Save(ctx context.Context, record DocumentRecord) error {
	if _, err := s.db.ExecContext(ctx, insertDocumentSQL,
		record.Key,
		record.Filename,
		record.ContentType,
		record.Size,
		record.UploadedBy,
		record.UploadedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

const listDocumentsSQL = `SELECT object_key, filename, content_type, size_bytes, uploaded_by, uploaded_at
        FROM documents ORDER BY uploaded_at DESC, id DESC LIMIT ?`

// ListLatest 查询最近的若干条文档记录。
func (s *SQLDocumentRepository) ListLatest(ctx context.Context, limit int) ([]DocumentRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, listDocumentsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var record DocumentRecord
		if err := rows.Scan(&record.Key, &record.Filename, &record.ContentType, &record.Size, &record.UploadedBy, &record.UploadedAt); err != nil {
			return nil, fmt.Errorf("解析文档记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历文档记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLDocumentRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
