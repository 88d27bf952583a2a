package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	JobIDSessionReconcile = "sessions.reconcile"

	jobParamAppID   = "app_id"
	jobParamAttempt = "attempt"
)

type ReconcileWorkerConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultReconcileWorkerConfig() ReconcileWorkerConfig {
	return ReconcileWorkerConfig{
		BatchSize:      10,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     2 * time.Minute,
	}
}

type ReconcileStats struct {
	Dequeued   int
	Reconciled int
	Retried    int
	Failed     int
}

// SessionReconciler is the slice of the engine the worker drives.
type SessionReconciler interface {
	CurrentSession(ctx context.Context, req CurrentSessionRequest) (*Session, error)
}

// attemptNacker is implemented by deliveries that bound retries themselves.
type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts JobNackOptions, attempt int) error
}

// ReconcileWorker drains sessions.reconcile jobs and runs a reconciliation
// for each. Unavailable providers are retried with exponential backoff.
type ReconcileWorker struct {
	reconciler SessionReconciler
	dequeuer   JobDequeuer
	hook       JobWorkerHook
	config     ReconcileWorkerConfig
	now        func() time.Time
}

func NewReconcileWorker(
	reconciler SessionReconciler,
	dequeuer JobDequeuer,
	config ReconcileWorkerConfig,
) (*ReconcileWorker, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("core: session reconciler is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("core: job dequeuer is required")
	}
	defaults := DefaultReconcileWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &ReconcileWorker{
		reconciler: reconciler,
		dequeuer:   dequeuer,
		config:     config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (w *ReconcileWorker) WithHook(hook JobWorkerHook) *ReconcileWorker {
	if w != nil {
		w.hook = hook
	}
	return w
}

// ProcessBatch handles up to batchSize deliveries. A nil delivery ends the
// batch early.
func (w *ReconcileWorker) ProcessBatch(ctx context.Context, batchSize int) (ReconcileStats, error) {
	if w == nil || w.dequeuer == nil {
		return ReconcileStats{}, fmt.Errorf("core: reconcile worker is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = w.config.BatchSize
	}

	stats := ReconcileStats{}
	var batchErr error
	for range limit {
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			return stats, errors.Join(batchErr, err)
		}
		if delivery == nil {
			break
		}
		stats.Dequeued++
		if err := w.handle(ctx, delivery, &stats); err != nil {
			batchErr = errors.Join(batchErr, err)
		}
	}
	return stats, batchErr
}

func (w *ReconcileWorker) handle(ctx context.Context, delivery JobDelivery, stats *ReconcileStats) error {
	msg := delivery.Message()
	attempt := jobAttempt(msg)
	startedAt := w.now()
	event := JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.onStart(ctx, event)

	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDSessionReconcile {
		stats.Failed++
		event.Err = fmt.Errorf("core: unexpected job %q", jobID(msg))
		event.Duration = w.now().Sub(startedAt)
		w.onFailure(ctx, event)
		return errors.Join(event.Err, w.nack(ctx, delivery, JobNackOptions{
			DeadLetter: true,
			Reason:     "unsupported job",
		}, attempt))
	}

	_, err := w.reconciler.CurrentSession(ctx, CurrentSessionRequest{})
	event.Duration = w.now().Sub(startedAt)
	if err == nil {
		stats.Reconciled++
		w.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = err
	if attempt+1 >= w.config.MaxAttempts || !IsErrorKind(err, ErrAuthorizationUnavailable) {
		stats.Failed++
		w.onFailure(ctx, event)
		return errors.Join(err, w.nack(ctx, delivery, JobNackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}, attempt))
	}

	stats.Retried++
	event.Delay = w.backoff(attempt + 1)
	w.onRetry(ctx, event)
	if msg.Parameters == nil {
		msg.Parameters = map[string]any{}
	}
	msg.Parameters[jobParamAttempt] = attempt + 1
	return w.nack(ctx, delivery, JobNackOptions{
		Delay:   event.Delay,
		Requeue: true,
		Reason:  err.Error(),
	}, attempt+1)
}

func (w *ReconcileWorker) nack(ctx context.Context, delivery JobDelivery, opts JobNackOptions, attempt int) error {
	if nacker, ok := delivery.(attemptNacker); ok {
		return nacker.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, opts)
}

func (w *ReconcileWorker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := time.Duration(float64(w.config.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > w.config.MaxBackoff {
		return w.config.MaxBackoff
	}
	return next
}

func (w *ReconcileWorker) onStart(ctx context.Context, event JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *ReconcileWorker) onSuccess(ctx context.Context, event JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *ReconcileWorker) onFailure(ctx context.Context, event JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *ReconcileWorker) onRetry(ctx context.Context, event JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

// NewReconcileMessage builds the job message that schedules a background
// reconciliation for appID.
func NewReconcileMessage(appID string) *JobExecutionMessage {
	appID = strings.TrimSpace(appID)
	return &JobExecutionMessage{
		JobID: JobIDSessionReconcile,
		Parameters: map[string]any{
			jobParamAppID:   appID,
			jobParamAttempt: 0,
		},
		IdempotencyKey: JobIDSessionReconcile + ":" + appID,
	}
}

func EnqueueReconcile(ctx context.Context, enqueuer JobEnqueuer, appID string) error {
	if enqueuer == nil {
		return fmt.Errorf("core: job enqueuer is required")
	}
	return enqueuer.Enqueue(ctx, NewReconcileMessage(appID))
}

func jobAttempt(msg *JobExecutionMessage) int {
	if msg == nil || msg.Parameters == nil {
		return 0
	}
	switch value := msg.Parameters[jobParamAttempt].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func jobID(msg *JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.JobID)
}
