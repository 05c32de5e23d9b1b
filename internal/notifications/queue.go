package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zeh237/taskly/internal/cache"
)

// Task types handled by the worker.
const (
	TypeEmailDelivery = "email:deliver"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

const (
	defaultMaxRetry = 5
	defaultTimeout  = 30 * time.Second
)

// EmailDeliveryPayload is the JSON body of an email:deliver task.
type EmailDeliveryPayload struct {
	Kind      Kind   `json:"kind"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notification converts the payload back into a notification.
func (p EmailDeliveryPayload) Notification() Notification {
	return Notification{Kind: p.Kind, Recipient: p.Recipient, Subject: p.Subject, Body: p.Body}
}

// NewEmailDeliveryTask creates a task carrying n.
func NewEmailDeliveryTask(n Notification) (*asynq.Task, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(EmailDeliveryPayload{
		Kind:      n.Kind,
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Body:      n.Body,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailDelivery, payload), nil
}

// Enqueuer is the subset of *asynq.Client used by QueueNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

// QueueOptions tune how notifications are enqueued.
type QueueOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// QueueNotifier hands notifications to the background worker. A failed enqueue is a failed
// dispatch; delivery errors after that point are retried by the worker.
type QueueNotifier struct {
	client Enqueuer
	opts   QueueOptions
}

// NewQueueNotifier builds a QueueNotifier on top of client.
func NewQueueNotifier(client Enqueuer, opts QueueOptions) (*QueueNotifier, error) {
	if client == nil {
		return nil, errors.New("queue notifier: client is required")
	}
	if opts.Queue == "" {
		opts.Queue = QueueCritical
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = defaultMaxRetry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &QueueNotifier{client: client, opts: opts}, nil
}

func (q *QueueNotifier) Send(ctx context.Context, n Notification) error {
	task, err := NewEmailDeliveryTask(n)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.opts.Queue),
		asynq.MaxRetry(q.opts.MaxRetry),
		asynq.Timeout(q.opts.Timeout),
	); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeEmailDelivery, err)
	}
	return nil
}

// RedisClientOpt converts the shared redis configuration into asynq connection options.
func RedisClientOpt(cfg cache.RedisConfig) asynq.RedisClientOpt {
	opts := cfg.Options()
	return asynq.RedisClientOpt{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		TLSConfig:    opts.TLSConfig,
	}
}

// NewClient creates an asynq client for cfg.
func NewClient(cfg cache.RedisConfig) *asynq.Client {
	return asynq.NewClient(RedisClientOpt(cfg))
}

// NewServer creates the worker server. Email delivery runs on the critical queue.
func NewServer(cfg cache.RedisConfig, concurrency int, logger asynq.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(RedisClientOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		Logger: logger,
	})
}
