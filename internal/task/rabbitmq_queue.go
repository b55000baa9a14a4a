package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "ContractReview/internal/errors"
	"ContractReview/pkg/logger"
)

const defaultRabbitMQQueue = "reviewd.generation_jobs"

var errRabbitMQNotReady = errors.New("RabbitMQ 队列未初始化")

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
	Durable  bool
}

// RabbitMQQueue 通过默认交换机把任务 ID 投递到同名队列。
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	name := cfg.Queue
	if name == "" {
		name = defaultRabbitMQQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	q := &RabbitMQQueue{
		conn:   conn,
		queue:  name,
		logger: logger.Named("queue").With(slog.String("driver", "rabbitmq"), slog.String("queue", name)),
	}
	if err := q.openChannel(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) openChannel(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	q.ch = ch
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 RabbitMQ QoS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(q.queue, cfg.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", q.queue, err)
	}
	return nil
}

// Publish 以持久化消息投递任务 ID，消息 ID 与任务 ID 相同。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.ch == nil {
		return errRabbitMQNotReady
	}
	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now().UTC(),
		AppId:        "reviewd",
		Body:         []byte(jobID),
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, fmt.Sprintf("RabbitMQ 发布任务 %s 失败", jobID))
	}
	return nil
}

// Consume 以手动确认模式消费。可重试错误 Nack 并重新入队，其余情况 Ack。
// 重投不会重复调用模型：已被领取的任务在 Claim 阶段即被跳过。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errRabbitMQNotReady
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	runWorkers(ctx, workerCount, deliveries, func(ctx context.Context, d amqp.Delivery) {
		jobID := string(d.Body)
		err := handler(ctx, jobID)
		requeue := shouldRequeue(err)
		logHandlerError(q.logger, jobID, err, requeue)
		var ackErr error
		if requeue {
			ackErr = d.Nack(false, true)
		} else {
			ackErr = d.Ack(false)
		}
		if ackErr != nil {
			q.logger.Error("确认消息失败", slog.String("job_id", jobID), slog.Any("error", ackErr))
		}
	})
	if ctx.Err() == nil {
		// deliveries 在 ctx 结束前被关闭，说明连接或 channel 已断开。
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
	}
	return ctx.Err()
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	var errs []error
	if q.ch != nil {
		if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
