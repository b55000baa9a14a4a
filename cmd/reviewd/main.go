package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ContractReview/internal/api"
	"ContractReview/internal/config"
	"ContractReview/internal/llm"
	"ContractReview/internal/llm/bedrock"
	"ContractReview/internal/llm/breaker"
	"ContractReview/internal/llm/rest"
	"ContractReview/internal/observability/alerting"
	"ContractReview/internal/observability/metrics"
	"ContractReview/internal/storage/blob"
	"ContractReview/internal/storage/mysql"
	"ContractReview/internal/task"
	"ContractReview/internal/upload"
	"ContractReview/pkg/logger"
)

// main 是 reviewd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("reviewd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("REVIEWD_CONFIG"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
			Compress:   cfg.Log.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	collector := metrics.New()

	router := llm.NewRouter(cfg.LLM.AlternateSchemaModels...)
	invoker, err := createInvoker(ctx, cfg, router, collector)
	if err != nil {
		return err
	}
	gateway := llm.NewGateway(invoker,
		llm.WithRouter(router),
		llm.WithObserver(collector),
	)

	uploads, closeRegistry, err := createUploadService(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeRegistry()

	opts := []api.Option{
		api.WithUploader(uploads),
		api.WithMetrics(collector, cfg.Server.MetricsPath),
		api.WithAllowedOrigin(cfg.Server.AllowedOrigin),
		api.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	}
	if addr := cfg.Server.MetricsAddress; addr != "" {
		opts = append(opts, api.WithoutMetricsRoute())
		go func() {
			if err := collector.StartServer(ctx, addr, cfg.Server.MetricsPath); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Jobs.Enabled {
		jobsCtx, stopJobs := context.WithCancel(ctx)
		jobs, wait, err := startJobs(jobsCtx, cfg, gateway, collector)
		if err != nil {
			stopJobs()
			return err
		}
		// defer 逆序执行：停止消费，等待在途任务落库，再关闭队列与存储。
		defer func() {
			if err := jobs.Close(); err != nil {
				logger.L().Warn("关闭任务服务失败", slog.Any("error", err))
			}
		}()
		defer wait()
		defer stopJobs()
		opts = append(opts, api.WithJobs(jobs))
	}

	server := api.NewServer(cfg.Server.Address, gateway, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createInvoker(ctx context.Context, cfg *config.Config, router *llm.Router, collector *metrics.Collector) (llm.Invoker, error) {
	var invoker llm.Invoker
	switch cfg.LLM.Backend {
	case "", "bedrock":
		client, err := bedrock.NewClient(ctx, bedrock.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
		if err != nil {
			return nil, err
		}
		invoker = client
	case "rest":
		client, err := rest.NewClient(rest.Config{
			BaseURL: cfg.LLM.REST.BaseURL,
			APIKey:  cfg.LLM.REST.APIKey,
			Timeout: time.Duration(cfg.LLM.REST.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		invoker = client
	default:
		return nil, fmt.Errorf("未知的模型后端: %s", cfg.LLM.Backend)
	}

	cb := cfg.LLM.CircuitBreaker
	if !cb.Enabled {
		return invoker, nil
	}
	return breaker.New(invoker, breaker.Config{
		MaxRequests:      cb.MaxRequests,
		Interval:         time.Duration(cb.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(cb.TimeoutSeconds) * time.Second,
		FailureThreshold: cb.FailureThreshold,
		MaxBreakers:      cb.MaxBreakers,
	},
		breaker.WithRouter(router),
		breaker.WithStateListener(collector.ObserveBreakerState),
	), nil
}

// createUploadService 在未配置存储桶时仍返回服务，上传请求会得到 500 与明确的错误信息。
func createUploadService(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*upload.Service, func(), error) {
	var store blob.Store
	switch cfg.Blob.Driver {
	case "", "s3":
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.AWS.Region,
			Endpoint:  cfg.Blob.Endpoint,
			PathStyle: cfg.Blob.PathStyle,
		})
		switch {
		case errors.Is(err, blob.ErrNotConfigured):
			logger.L().Warn("未配置 S3_BUCKET_NAME，上传接口将返回错误")
		case err != nil:
			return nil, nil, err
		default:
			store = s3Store
		}
	case "file":
		fileStore, err := blob.NewFileStore(cfg.Blob.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
	default:
		return nil, nil, fmt.Errorf("未知的对象存储驱动: %s", cfg.Blob.Driver)
	}

	closeFn := func() {}
	var registry mysql.DocumentRepository
	switch cfg.Registry.Driver {
	case "", "memory":
		repo, err := mysql.NewFileDocumentRepository(cfg.Registry.DataDir)
		if err != nil {
			return nil, nil, err
		}
		registry = repo
	case "mysql":
		repo, err := mysql.NewSQLDocumentRepository(ctx, mysql.Config{DSN: cfg.Registry.DSN})
		if err != nil {
			return nil, nil, err
		}
		registry = repo
		closeFn = func() { _ = repo.Close() }
	default:
		return nil, nil, fmt.Errorf("未知的文档登记驱动: %s", cfg.Registry.Driver)
	}

	svc := upload.NewService(store, upload.WithRegistry(registry), upload.WithObserver(collector))
	return svc, closeFn, nil
}

// startJobs 启动任务处理器，返回的 wait 阻塞到处理器退出。
func startJobs(ctx context.Context, cfg *config.Config, gateway *llm.Gateway, collector *metrics.Collector) (*task.Service, func(), error) {
	var store task.Store
	switch cfg.Jobs.Store.Driver {
	case "", "memory":
		store = task.NewMemoryStore()
	case "mysql":
		mysqlStore, err := task.NewMySQLStore(ctx, mysql.Config{DSN: cfg.Jobs.Store.DSN})
		if err != nil {
			return nil, nil, err
		}
		store = mysqlStore
	default:
		return nil, nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Jobs.Store.Driver)
	}

	queue, err := createQueue(ctx, cfg.Jobs.Queue)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	var notifiers []alerting.Notifier
	if cfg.Alerting.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	service := task.NewService(store, queue, task.WithServiceObserver(collector))
	processor := task.NewProcessor(gateway, store, queue,
		task.WithWorkerCount(cfg.Jobs.Workers),
		task.WithProcessorObserver(collector),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)
	// 上次关停退回的任务已不在队列中，启动时补投。
	pending, err := service.PendingJobIDs(ctx)
	if err != nil {
		logger.L().Warn("查询 pending 任务失败", slog.Any("error", err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if len(pending) > 0 {
		n, err := service.Requeue(ctx, pending)
		if err != nil {
			logger.L().Warn("重新投递 pending 任务失败", slog.Any("error", err), slog.Int("requeued", n))
		} else {
			logger.L().Info("已重新投递 pending 任务", slog.Int("count", n))
		}
	}
	return service, func() { <-done }, nil
}

func createQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}
