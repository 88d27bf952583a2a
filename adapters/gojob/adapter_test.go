package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-sessions/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDSessionReconcile,
		ScriptPath:     ScriptPathReconcile,
		Parameters:     map[string]any{"app_id": "app1"},
		IdempotencyKey: "idem-1",
		DedupPolicy:    "drop",
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.ScriptPath != original.ScriptPath {
		t.Fatalf("expected script path %q, got %q", original.ScriptPath, roundTrip.ScriptPath)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, roundTrip.DedupPolicy)
	}
	if roundTrip.Parameters["app_id"] != "app1" {
		t.Fatalf("expected parameters to survive mapping")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	msg := core.NewReconcileMessage("app1")
	if err := enqueueAdapter.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDSessionReconcile {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.JobID != JobIDSessionReconcile {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{
			JobID:      JobIDSessionReconcile,
			ScriptPath: ScriptPathReconcile,
		},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	evt := worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDSessionReconcile,
			ScriptPath:     ScriptPathReconcile,
			IdempotencyKey: "sessions.reconcile:app1",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	}

	adapter.OnRetry(context.Background(), evt)
	if coreHook.last.Message == nil {
		t.Fatalf("expected worker message mapping")
	}
	if coreHook.last.Message.JobID != JobIDSessionReconcile {
		t.Fatalf("expected job id mapping, got %q", coreHook.last.Message.JobID)
	}
	if coreHook.last.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", coreHook.last.Attempt)
	}
	if coreHook.last.Delay != 5*time.Second {
		t.Fatalf("expected delay 5s, got %s", coreHook.last.Delay)
	}
	if coreHook.last.Duration != 250*time.Millisecond {
		t.Fatalf("expected duration mapping")
	}
	if coreHook.last.StartedAt.IsZero() {
		t.Fatalf("expected started_at mapping")
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

type stubReconciler struct {
	calls int
	err   error
}

func (r *stubReconciler) CurrentSession(context.Context, core.CurrentSessionRequest) (*core.Session, error) {
	r.calls++
	return nil, r.err
}

type drainingQueueDequeuer struct {
	deliveries []*stubQueueDelivery
}

func (d *drainingQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if len(d.deliveries) == 0 {
		return nil, nil
	}
	next := d.deliveries[0]
	d.deliveries = d.deliveries[1:]
	return next, nil
}

func TestNewReconcileWorker_DrivesReconcilerThroughGoJob(t *testing.T) {
	first := &stubQueueDelivery{msg: NewReconcileMessage("app1")}
	second := &stubQueueDelivery{msg: NewReconcileMessage("app2")}
	reconciler := &stubReconciler{}

	worker, err := NewReconcileWorker(reconciler, &drainingQueueDequeuer{
		deliveries: []*stubQueueDelivery{first, second},
	}, core.ReconcileWorkerConfig{}, &capturingHook{})
	if err != nil {
		t.Fatalf("new reconcile worker: %v", err)
	}
	stats, err := worker.ProcessBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if stats.Dequeued != 2 || stats.Reconciled != 2 || reconciler.calls != 2 {
		t.Fatalf("unexpected stats %+v (calls=%d)", stats, reconciler.calls)
	}
	if !first.acked || !second.acked {
		t.Fatalf("expected both deliveries acked")
	}
	if first.msg.ScriptPath != ScriptPathReconcile || first.msg.IdempotencyKey != "sessions.reconcile:app1" {
		t.Fatalf("unexpected reconcile message %+v", first.msg)
	}
}

func TestNewReconcileWorker_DeadLettersAtPolicyBound(t *testing.T) {
	msg := NewReconcileMessage("app1")
	msg.Parameters["attempt"] = 1
	delivery := &stubQueueDelivery{msg: msg}
	reconciler := &stubReconciler{err: core.ErrAuthorizationUnavailable}

	worker, err := NewReconcileWorker(reconciler, &drainingQueueDequeuer{
		deliveries: []*stubQueueDelivery{delivery},
	}, core.ReconcileWorkerConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new reconcile worker: %v", err)
	}
	if _, err := worker.ProcessBatch(context.Background(), 1); err == nil {
		t.Fatalf("expected terminal failure once attempts are exhausted")
	}
	if delivery.nackOpts.Requeue || !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter, got %+v", delivery.nackOpts)
	}
}

func TestRetryPolicyFor_UsesWorkerDefaults(t *testing.T) {
	policy := RetryPolicyFor(core.ReconcileWorkerConfig{})
	defaults := core.DefaultReconcileWorkerConfig()
	if policy.MaxAttempts != defaults.MaxAttempts || policy.MaxDelay != defaults.MaxBackoff || !policy.DeadLetterOnMax {
		t.Fatalf("unexpected policy %+v", policy)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}
