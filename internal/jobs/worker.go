package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker wraps the asynq server processing settlement tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// WorkerConfig collects what the worker needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Settlement  *SettlementHandler
	Logger      *zap.Logger
}

// NewWorker builds the server and registers the task handlers.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Settlement == nil {
		return nil, errors.New("worker: settlement handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", zap.String("type", task.Type()), zap.ByteString("payload", task.Payload()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskSettlePending, cfg.Settlement)

	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.logger.Info("worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return nil
}

// Client enqueues settlement tasks. It implements sales.SettlementQueue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueSettlement queues a settlement of ref. A task already queued for ref is not an error.
func (c *Client) EnqueueSettlement(ctx context.Context, ref string) error {
	task, err := NewSettlePendingTask(ref)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("failed to enqueue settlement of %s: %w", ref, err)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
