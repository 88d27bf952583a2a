package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IdentityHandler receives raw identity values from the provider notification
// channel. It may be called zero or more times, at any time.
type IdentityHandler func(identity Identity)

type Subscription interface {
	Unsubscribe()
}

// IdentityProvider wraps the external authorization capability. It owns the
// authorization state; the engine only observes and drives it.
type IdentityProvider interface {
	IsAuthorized() bool
	// Authorize returns once the provider granted or denied authorization.
	// Declines wrap ErrAuthorizationDenied.
	Authorize(ctx context.Context, req AuthorizeRequest) error
	LoadPriorAuthorization(appID string) bool
	ClearAuthorization(appID string) error
	SubscribeIdentityChanges(handler IdentityHandler) (Subscription, error)
	// CurrentIdentity is a best-effort snapshot and may lag the notification
	// channel. A nil return means no identity is selected.
	CurrentIdentity() Identity
}

// SessionStore persists one normalized session per application identity.
// Load returns nil, nil when no record exists. Clear is idempotent.
type SessionStore interface {
	Load(ctx context.Context, appID string) (*Session, error)
	Save(ctx context.Context, appID string, session Session) error
	Clear(ctx context.Context, appID string) error
}

// IdentityCodec maps a raw provider identity into a Session. A nil session
// with a nil error means "no identity"; an error means the identity could not
// be parsed and must be treated as no identity.
type IdentityCodec interface {
	Encode(identity Identity, app AppInfo) (*Session, error)
}

type EventHandler func(ctx context.Context, event Event) error

type SessionCallback func(ctx context.Context, session *Session)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
