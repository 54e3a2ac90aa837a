package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// QueueDefault is the queue settlement tasks run on.
	QueueDefault = "default"
	// TaskSettlePending resolves a pending sale or credit sale left by an interrupted transaction.
	TaskSettlePending = "sale:settle"

	settleMaxRetry = 10
	settleTimeout  = 30 * time.Second
)

// SettlePendingPayload names the transaction to settle.
type SettlePendingPayload struct {
	TransactionRef string `json:"transaction_ref"`
}

// NewSettlePendingTask builds the task. The task id is derived from the reference so that a
// transaction is queued at most once at a time.
func NewSettlePendingTask(ref string) (*asynq.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("settle task: empty transaction reference")
	}
	body, err := json.Marshal(SettlePendingPayload{TransactionRef: ref})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlePending, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskSettlePending+":"+ref),
		asynq.MaxRetry(settleMaxRetry),
		asynq.Timeout(settleTimeout),
	), nil
}

// Settler settles one pending transaction.
type Settler interface {
	SettlePending(ctx context.Context, ref string) (string, error)
}

// SettlementHandler processes TaskSettlePending.
type SettlementHandler struct {
	settler Settler
	logger  *zap.Logger
}

// NewSettlementHandler wires the handler.
func NewSettlementHandler(settler Settler, logger *zap.Logger) *SettlementHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementHandler{settler: settler, logger: logger}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *SettlementHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SettlePendingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TransactionRef == "" {
		h.logger.Error("dropping malformed settle task", zap.ByteString("payload", t.Payload()), zap.Error(err))
		return fmt.Errorf("settle task payload: %w", asynq.SkipRetry)
	}

	result, err := h.settler.SettlePending(ctx, payload.TransactionRef)
	if err != nil {
		h.logger.Warn("settlement attempt failed", zap.String("transaction_ref", payload.TransactionRef), zap.Error(err))
		return err
	}
	h.logger.Info("settlement done", zap.String("transaction_ref", payload.TransactionRef), zap.String("result", result))
	return nil
}
