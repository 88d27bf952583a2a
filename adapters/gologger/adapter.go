package gologger

import (
	"context"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-sessions/core"
)

const DefaultLoggerName = "sessions"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// EngineOptions resolves the pair once and returns the matching engine options.
func EngineOptions(provider glog.LoggerProvider, logger glog.Logger) []core.Option {
	resolvedProvider, resolvedLogger := Resolve(DefaultLoggerName, provider, logger)
	return []core.Option{
		core.WithLoggerProvider(resolvedProvider),
		core.WithLogger(resolvedLogger),
	}
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// WorkerHook logs reconcile worker lifecycle events.
type WorkerHook struct {
	logger glog.Logger
}

func NewWorkerHook(logger glog.Logger) *WorkerHook {
	return &WorkerHook{logger: glog.Ensure(logger)}
}

func (h *WorkerHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Debug("sessions reconcile started", workerFields(event)...)
}

func (h *WorkerHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Info("sessions reconcile succeeded", workerFields(event)...)
}

func (h *WorkerHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Error("sessions reconcile failed", workerFields(event)...)
}

func (h *WorkerHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Warn("sessions reconcile retry scheduled", workerFields(event)...)
}

func workerFields(event core.JobWorkerEvent) []any {
	fields := []any{"attempt", event.Attempt}
	if event.Message != nil {
		fields = append(fields, "job_id", event.Message.JobID)
		if appID, ok := event.Message.Parameters["app_id"].(string); ok {
			fields = append(fields, "app_id", appID)
		}
	}
	if event.Delay > 0 {
		fields = append(fields, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Duration > 0 {
		fields = append(fields, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

var _ core.JobWorkerHook = (*WorkerHook)(nil)
