package upload

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/storage/blob"
	"ContractReview/internal/storage/mysql"
	"ContractReview/pkg/logger"
)

// UploadedBy 写入对象元数据，标识上传来源。
const UploadedBy = "legal-chatbot"

// Request 是一次上传请求。
type Request struct {
	Body []byte
	// Filename 为客户端提供的原始文件名，可为空。
	Filename string
	// Base64 为 true 时 Body 是 base64 文本，需要先解码。
	Base64 bool
}

// Result 描述上传成功后的对象信息。
type Result struct {
	Filename    string `json:"filename"`
	Key         string `json:"s3_key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"-"`
}

// Observer 接收上传结果，用于指标统计。
type Observer interface {
	ObserveUpload(outcome string, size int)
}

// Service 负责把上传内容写入对象存储并登记。
type Service struct {
	store    blob.Store
	registry mysql.DocumentRepository
	now      func() time.Time
	random   func() string
	logger   *slog.Logger
	observer Observer
}

// Option 定义可选配置。
type Option func(*Service)

// WithRegistry 配置文档登记仓库。
func WithRegistry(repo mysql.DocumentRepository) Option {
	return func(s *Service) {
		s.registry = repo
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom 替换随机后缀来源。
func WithRandom(random func() string) Option {
	return func(s *Service) {
		if random != nil {
			s.random = random
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver 配置指标观察者。
func WithObserver(observer Observer) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

// NewService 构造上传服务。store 为 nil 表示未配置存储桶，所有上传都会失败。
func NewService(store blob.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		random: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("upload")
	}
	return s
}

// Upload 写入一个文档。
func (s *Service) Upload(ctx context.Context, req Request) (result *Result, err error) {
	defer func() {
		s.observe(len(req.Body), err)
	}()

	if s.store == nil {
		return nil, xerrors.New(CodeNotConfigured, "")
	}
	if len(req.Body) == 0 {
		return nil, xerrors.New(CodeEmptyBody, "")
	}

	body := req.Body
	if req.Base64 {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
		n, decodeErr := base64.StdEncoding.Decode(decoded, body)
		if decodeErr != nil {
			return nil, xerrors.Wrap(CodeFailed, decodeErr, "Upload failed")
		}
		body = decoded[:n]
	}

	now := s.now()
	key := BuildKey(now, s.random(), req.Filename)
	contentType := ContentTypeFor(key)

	if err := s.store.Put(ctx, blob.Object{
		Key:         key,
		Body:        body,
		ContentType: contentType,
		Metadata: map[string]string{
			"uploaded-by":      UploadedBy,
			"upload-timestamp": now.Format(time.RFC3339),
		},
	}); err != nil {
		s.logger.Error("写入对象存储失败",
			slog.String("key", key),
			slog.String("location", s.store.Location()),
			slog.Any("error", err),
		)
		return nil, xerrors.Wrap(CodeFailed, err, "Upload failed")
	}

	result = &Result{Filename: key, Key: key, ContentType: contentType, Size: int64(len(body))}
	s.record(ctx, result, now)

	logger.Audit().Info("document_uploaded",
		slog.String("key", key),
		slog.String("content_type", contentType),
		slog.Int("size_bytes", len(body)),
		slog.String("location", s.store.Location()),
	)
	return result, nil
}

// record 登记失败不影响上传结果，对象已经写入存储。
func (s *Service) record(ctx context.Context, result *Result, now time.Time) {
	if s.registry == nil {
		return
	}
	err := s.registry.Save(ctx, mysql.DocumentRecord{
		Key:         result.Key,
		Filename:    result.Filename,
		ContentType: result.ContentType,
		Size:        result.Size,
		UploadedBy:  UploadedBy,
		UploadedAt:  now.Unix(),
	})
	if err != nil {
		s.logger.Warn("登记上传文档失败", slog.String("key", result.Key), slog.Any("error", err))
	}
}

// List 返回最近登记的文档。
func (s *Service) List(ctx context.Context, limit int) ([]mysql.DocumentRecord, error) {
	if s.registry == nil {
		return []mysql.DocumentRecord{}, nil
	}
	records, err := s.registry.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list documents")
	}
	if records == nil {
		records = []mysql.DocumentRecord{}
	}
	return records, nil
}

func (s *Service) observe(size int, err error) {
	if s.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(xerrors.CodeOf(err)))
	}
	s.observer.ObserveUpload(outcome, size)
}
