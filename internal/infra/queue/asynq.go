package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/delivery"

	"github.com/hibiken/asynq"
)

// QueueRedelivery is the asynq queue holding failed deliveries.
const QueueRedelivery = "redelivery"

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewServer creates a new asynq server connected to Redis. Retries back off
// linearly: n * retryDelay.
func NewServer(redisAddr, password string, db int, concurrency int, retryDelay time.Duration) *asynq.Server {
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueRedelivery: 10, // priority weight
				"default":       1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return RetryDelay(n, retryDelay)
			},
			Logger: slogLogger{},
		},
	)
}

// RetryDelay returns the wait before retry n (counted from 1).
func RetryDelay(n int, unit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * unit
}

// EnqueueRedelivery enqueues a redelivery task for msg.
func EnqueueRedelivery(client *asynq.Client, msg *delivery.Message, maxRetry int, delay time.Duration) error {
	task, err := delivery.NewRedeliverTask(msg)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	_, err = client.Enqueue(task,
		asynq.MaxRetry(maxRetry),
		asynq.Queue(QueueRedelivery),
		asynq.ProcessIn(delay),
	)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}

	return nil
}

// Redeliverer adapts the asynq client to the delivery.Redeliverer interface.
type Redeliverer struct {
	client   *asynq.Client
	maxRetry int
	delay    time.Duration
}

var _ delivery.Redeliverer = (*Redeliverer)(nil)

// NewRedeliverer creates a redeliverer. The first retry runs after delay.
func NewRedeliverer(client *asynq.Client, maxRetry int, delay time.Duration) *Redeliverer {
	return &Redeliverer{client: client, maxRetry: maxRetry, delay: delay}
}

func (r *Redeliverer) EnqueueRedelivery(msg *delivery.Message) error {
	return EnqueueRedelivery(r.client, msg, r.maxRetry, r.delay)
}

// RedeliverFunc retries one message; see delivery.Dispatcher.Redeliver.
type RedeliverFunc func(ctx context.Context, msg *delivery.Message) error

// NewMux routes redelivery tasks to redeliver. Malformed payloads and failures
// that retrying cannot fix are not retried.
func NewMux(redeliver RedeliverFunc) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(delivery.TaskTypeRedeliver, func(ctx context.Context, task *asynq.Task) error {
		return handleRedeliver(ctx, task, redeliver)
	})
	return mux
}

func handleRedeliver(ctx context.Context, task *asynq.Task, redeliver RedeliverFunc) error {
	payload, err := delivery.ParseRedeliverPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err = redeliver(ctx, &payload.Message)
	if err == nil {
		slog.Info("redelivery succeeded", "destination", payload.Message.Destination)
		return nil
	}

	var derr *common.DeliveryError
	if errors.As(err, &derr) && !retryable(derr.Kind) {
		slog.Error("redelivery abandoned", "destination", payload.Message.Destination, "kind", derr.Kind, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func retryable(kind common.DeliveryKind) bool {
	switch kind {
	case common.KindTransportFailure, common.KindNotConnected, common.KindRateLimited:
		return true
	default:
		return false
	}
}

// slogLogger routes asynq's internal logging through slog.
type slogLogger struct{}

func (slogLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (slogLogger) Fatal(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
