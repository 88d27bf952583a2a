package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testWait = 2 * time.Second

type fakeSubscription struct {
	provider *fakeProvider
	index    int
}

func (s fakeSubscription) Unsubscribe() {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	s.provider.handlers[s.index] = nil
}

// fakeProvider blocks Authorize until the test grants or denies it.
type fakeProvider struct {
	mu             sync.Mutex
	authorized     bool
	current        Identity
	priorOK        bool
	handlers       []IdentityHandler
	requests       []AuthorizeRequest
	clearCalls     int
	priorCalls     int
	started        chan struct{}
	decisions      chan error
	subscribeError error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		started:   make(chan struct{}, 16),
		decisions: make(chan error, 16),
	}
}

func (p *fakeProvider) IsAuthorized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

func (p *fakeProvider) Authorize(ctx context.Context, req AuthorizeRequest) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	p.started <- struct{}{}
	select {
	case err := <-p.decisions:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakeProvider) LoadPriorAuthorization(string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priorCalls++
	if p.priorOK {
		p.authorized = true
	}
	return p.priorOK
}

func (p *fakeProvider) ClearAuthorization(string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearCalls++
	p.authorized = false
	p.current = nil
	return nil
}

func (p *fakeProvider) SubscribeIdentityChanges(handler IdentityHandler) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeError != nil {
		return nil, p.subscribeError
	}
	p.handlers = append(p.handlers, handler)
	return fakeSubscription{provider: p, index: len(p.handlers) - 1}, nil
}

func (p *fakeProvider) CurrentIdentity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *fakeProvider) grant() {
	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
	p.decisions <- nil
}

func (p *fakeProvider) deny() {
	p.decisions <- fmt.Errorf("user declined: %w", ErrAuthorizationDenied)
}

func (p *fakeProvider) setAuthorized(value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = value
}

func (p *fakeProvider) setCurrent(identity Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = identity
}

// notify updates the selected identity and fans it out like the provider's
// notification channel.
func (p *fakeProvider) notify(identity Identity) {
	p.setCurrent(identity)
	p.notifyOnly(identity)
}

// notifyOnly fans out without updating CurrentIdentity, modelling a lagging
// snapshot.
func (p *fakeProvider) notifyOnly(identity Identity) {
	p.mu.Lock()
	handlers := append([]IdentityHandler(nil), p.handlers...)
	p.mu.Unlock()
	for _, handler := range handlers {
		if handler != nil {
			handler(identity)
		}
	}
}

func (p *fakeProvider) waitAuthorizeStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(testWait):
		t.Fatalf("authorize was not called")
	}
}

func (p *fakeProvider) authorizeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) clearCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearCalls
}

type recordedEvent struct {
	name    EventName
	session *Session
	url     string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func recordEvents(t *testing.T, engine *Engine) *eventRecorder {
	t.Helper()
	recorder := &eventRecorder{}
	for _, name := range []EventName{EventRequest, EventLogin, EventLogout, EventSession} {
		if _, err := engine.On(name, recorder.handle); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}
	return recorder
}

func (r *eventRecorder) handle(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event.Name, session: event.Session, url: event.URL})
	return nil
}

func (r *eventRecorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) names() []EventName {
	events := r.snapshot()
	out := make([]EventName, 0, len(events))
	for _, event := range events {
		out = append(out, event.name)
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func assertEventNames(t *testing.T, recorder *eventRecorder, want ...EventName) {
	t.Helper()
	got := recorder.names()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

type loginOutcome struct {
	session *Session
	err     error
}

func startLogin(engine *Engine, req LoginRequest) <-chan loginOutcome {
	out := make(chan loginOutcome, 1)
	go func() {
		session, err := engine.Login(context.Background(), req)
		out <- loginOutcome{session: session, err: err}
	}()
	return out
}

func waitLogin(t *testing.T, pending <-chan loginOutcome) loginOutcome {
	t.Helper()
	select {
	case outcome := <-pending:
		return outcome
	case <-time.After(testWait):
		t.Fatalf("login did not settle")
		return loginOutcome{}
	}
}

// flush waits until every task queued so far has run on the loop.
func flush(t *testing.T, engine *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	if err := engine.exec(ctx, func(context.Context) {}); err != nil {
		t.Fatalf("flush engine loop: %v", err)
	}
}

func waitFor(t *testing.T, description string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

type engineFixture struct {
	engine   *Engine
	provider *fakeProvider
	store    *MemorySessionStore
	events   *eventRecorder
	logger   *captureLogger
	metrics  *captureMetricsRecorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppInfo = AppInfoConfig{ID: "app1", Name: "App One", Vendor: "Acme"}
	return cfg
}

func newEngineFixture(t *testing.T, cfg Config, opts ...Option) *engineFixture {
	t.Helper()
	provider := newFakeProvider()
	store := NewMemorySessionStore()
	logger := newCaptureLogger()
	metrics := &captureMetricsRecorder{}
	base := []Option{
		WithIdentityProvider(provider),
		WithSessionStore(store),
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithMetricsRecorder(metrics),
	}
	engine, err := NewEngine(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return &engineFixture{
		engine:   engine,
		provider: provider,
		store:    store,
		events:   recordEvents(t, engine),
		logger:   logger,
		metrics:  metrics,
	}
}

// establish drives the fixture into an authorized session for webID.
func (f *engineFixture) establish(t *testing.T, webID string) {
	t.Helper()
	pending := startLogin(f.engine, LoginRequest{})
	f.provider.waitAuthorizeStarted(t)
	f.provider.grant()
	if outcome := waitLogin(t, pending); outcome.err != nil {
		t.Fatalf("login: %v", outcome.err)
	}
	f.provider.notify(map[string]any{"uri": webID})
	flush(t, f.engine)
	if _, session := f.engine.Snapshot(); session == nil || session.WebID != webID {
		t.Fatalf("expected established session for %s, got %+v", webID, session)
	}
	f.events.reset()
}

type failingStore struct {
	err error
}

func (s failingStore) Load(context.Context, string) (*Session, error) { return nil, s.err }

func (s failingStore) Save(context.Context, string, Session) error { return s.err }

func (s failingStore) Clear(context.Context, string) error { return s.err }

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, counter := range m.counters {
		if counter.name != name {
			continue
		}
		if status == "" || counter.tags["status"] == status {
			return true
		}
	}
	return false
}

func (m *captureMetricsRecorder) hasHistogram(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, histogram := range m.histograms {
		if histogram.name == name && histogram.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func (l *captureLogger) has(level string, msg string) bool {
	for _, record := range l.snapshot() {
		if record.level == level && record.msg == msg {
			return true
		}
	}
	return false
}

var errStoreDown = errors.New("store down")
