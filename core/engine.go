package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Engine owns the session lifecycle. All state transitions, store writes and
// event emissions run on a single loop goroutine, in arrival order.
//
// Event handlers run on that loop. The context a handler receives marks the
// loop, so engine calls made with it run inline; the context must not be
// retained past the handler. Close must not be called from a handler.
type Engine struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	provider        IdentityProvider
	codec           IdentityCodec
	httpDoer        HTTPDoer
	now             func() time.Time
	events          *EventChannel

	queue        *taskQueue
	loopExited   chan struct{}
	closeOnce    sync.Once
	subscription Subscription
	snapshot     atomic.Pointer[engineSnapshot]

	// loop-owned state
	store           SessionStore
	appInfo         AppInfo
	phase           Phase
	session         *Session
	pending         *loginOp
	inflight        uint64
	lastCallID      uint64
	started         bool
	lastIdentity    Identity
	hasLastIdentity bool
}

type EngineDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	IdentityProvider IdentityProvider
	IdentityCodec    IdentityCodec
	HTTPDoer         HTTPDoer
}

type engineSnapshot struct {
	phase   Phase
	session *Session
	appInfo AppInfo
}

type loginResult struct {
	session *Session
	err     error
}

// loginOp is the single outstanding authorization. Later callers join it.
type loginOp struct {
	callID  uint64
	waiters []chan loginResult
	timer   *time.Timer
}

func (op *loginOp) join() chan loginResult {
	waiter := make(chan loginResult, 1)
	op.waiters = append(op.waiters, waiter)
	return waiter
}

func (op *loginOp) resolve(session *Session, err error) {
	op.stop()
	for _, waiter := range op.waiters {
		waiter <- loginResult{session: session.Clone(), err: err}
	}
	op.waiters = nil
}

func (op *loginOp) stop() {
	if op.timer != nil {
		op.timer.Stop()
	}
}

// opOutcome is either an immediate result or a waiter on the pending login.
type opOutcome struct {
	session *Session
	err     error
	wait    chan loginResult
}

type loopContextKey struct{}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("sessions", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("sessions"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.codec == nil {
		builder.codec = URIIdentityCodec{}
	}
	if builder.store == nil {
		builder.store = NewMemorySessionStore()
	}
	if builder.httpDoer == nil {
		builder.httpDoer = defaultHTTPDoer()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.provider == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: identity provider is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	engine := &Engine{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		provider:        builder.provider,
		codec:           builder.codec,
		httpDoer:        builder.httpDoer,
		now:             builder.now,
		events:          NewEventChannel(logger),
		queue:           newTaskQueue(),
		loopExited:      make(chan struct{}),
		store:           builder.store,
		appInfo:         finalConfig.ResolvedAppInfo(),
		phase:           PhaseLoggedOut,
	}
	engine.publish()
	go engine.run()

	subscription, err := engine.provider.SubscribeIdentityChanges(engine.onIdentityChange)
	if err != nil {
		_ = engine.Close()
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: subscribe identity changes: %w", err))
	}
	engine.subscription = subscription
	return engine, nil
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return NewEngine(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) Dependencies() EngineDependencies {
	if e == nil {
		return EngineDependencies{}
	}
	return EngineDependencies{
		Logger:           e.logger,
		LoggerProvider:   e.loggerProvider,
		MetricsRecorder:  e.metricsRecorder,
		ErrorFactory:     e.errorFactory,
		ErrorMapper:      e.errorMapper,
		ConfigProvider:   e.configProvider,
		OptionsResolver:  e.optionsResolver,
		IdentityProvider: e.provider,
		IdentityCodec:    e.codec,
		HTTPDoer:         e.httpDoer,
	}
}

// Snapshot returns the last settled phase and session without touching the
// loop. It is safe to call from event handlers.
func (e *Engine) Snapshot() (Phase, *Session) {
	snap := e.snapshot.Load()
	if snap == nil {
		return PhaseLoggedOut, nil
	}
	return snap.phase, snap.session.Clone()
}

func (e *Engine) AppInfo() AppInfo {
	snap := e.snapshot.Load()
	if snap == nil {
		return e.config.ResolvedAppInfo()
	}
	return snap.appInfo
}

// Login starts an authorization flow and waits until it settles. A call made
// while an authorization is outstanding joins it. The returned session is nil
// when the provider granted authorization without selecting an identity yet.
//
// Called from an event handler, Login starts the flow but cannot wait for it
// and returns ErrLoginInProgress.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	ctx = ensureContext(ctx)
	startedAt := time.Now()

	var outcome opOutcome
	var session *Session
	err := e.exec(ctx, func(loopCtx context.Context) {
		outcome = e.beginLogin(loopCtx, req)
	})
	if err == nil {
		session, err = e.await(ctx, outcome)
	}
	e.observeOperation(ctx, startedAt, "login", err, e.operationFields())
	return session, e.mapError(err)
}

// CurrentSession reconciles the stored session with live provider state and
// returns the result. It is safe to call without a prior Login; on a fresh
// process it attempts silent re-authorization.
func (e *Engine) CurrentSession(ctx context.Context, req CurrentSessionRequest) (*Session, error) {
	ctx = ensureContext(ctx)
	startedAt := time.Now()

	var outcome opOutcome
	var session *Session
	err := e.exec(ctx, func(loopCtx context.Context) {
		outcome = e.reconcileCurrent(loopCtx, req)
	})
	if err == nil {
		session, err = e.await(ctx, outcome)
		if errors.Is(err, ErrAuthorizationDenied) {
			session, err = nil, nil
		}
	}
	e.observeOperation(ctx, startedAt, "current_session", err, e.operationFields())
	return session, e.mapError(err)
}

// TrackSession invokes callback with the current session, then with the
// payload of every later session event. Both happen in one loop step, so no
// event can slip between the snapshot and the registration.
func (e *Engine) TrackSession(ctx context.Context, callback SessionCallback) (Subscription, error) {
	ctx = ensureContext(ctx)
	startedAt := time.Now()
	if callback == nil {
		err := fmt.Errorf("core: session callback is required")
		e.observeOperation(ctx, startedAt, "track_session", err, e.operationFields())
		return nil, e.mapError(err)
	}

	var subscription Subscription
	var subscribeErr error
	err := e.exec(ctx, func(loopCtx context.Context) {
		if ctx.Err() != nil {
			// the caller gave up while the task was queued
			return
		}
		if !e.started && e.phase == PhaseLoggedOut {
			e.reconcileStartup(loopCtx, e.loadStore(loopCtx))
		}
		e.invokeSessionCallback(loopCtx, callback, e.session)
		subscription, subscribeErr = e.events.On(EventSession, func(handlerCtx context.Context, event Event) error {
			callback(handlerCtx, event.Session)
			return nil
		})
	})
	if err != nil && !e.onLoop(ctx) {
		// the task may still register after exec gave up; drop it on the loop
		e.post(func(context.Context) {
			if subscription != nil {
				subscription.Unsubscribe()
			}
		})
	}
	if err == nil {
		err = subscribeErr
	}
	e.observeOperation(ctx, startedAt, "track_session", err, e.operationFields())
	if err != nil {
		return nil, e.mapError(err)
	}
	return subscription, nil
}

// Logout revokes provider authorization, clears the store and cancels any
// pending login. It emits logout and session only when a session existed.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	ctx = ensureContext(ctx)
	startedAt := time.Now()
	err := e.exec(ctx, func(loopCtx context.Context) {
		e.logout(loopCtx, req)
	})
	e.observeOperation(ctx, startedAt, "logout", err, e.operationFields())
	return e.mapError(err)
}

// Fetch emits a request event for req and forwards it to the HTTP client
// unchanged. Transport errors are returned as is.
func (e *Engine) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx = ensureContext(ctx)
	startedAt := time.Now()
	if req == nil {
		err := fmt.Errorf("core: request is required")
		e.observeOperation(ctx, startedAt, "fetch", err, e.operationFields())
		return nil, e.mapError(err)
	}
	target := NormalizeURL(req)
	if err := e.exec(ctx, func(loopCtx context.Context) {
		e.emit(loopCtx, Event{Name: EventRequest, URL: target})
	}); err != nil {
		e.observeOperation(ctx, startedAt, "fetch", err, e.operationFields())
		return nil, e.mapError(err)
	}

	resp, err := e.httpDoer.Do(req)
	fields := e.operationFields()
	fields["url"] = target
	e.observeOperation(ctx, startedAt, "fetch", err, fields)
	return resp, err
}

func (e *Engine) On(name EventName, handler EventHandler) (Subscription, error) {
	if e == nil {
		return nil, fmt.Errorf("core: session engine is not configured")
	}
	sub, err := e.events.On(name, handler)
	if err != nil {
		return nil, e.mapError(err)
	}
	return sub, nil
}

// SetAppInfo replaces the app identity presented on the next login. It is
// rejected once a login flow has started.
func (e *Engine) SetAppInfo(ctx context.Context, info AppInfo) error {
	ctx = ensureContext(ctx)
	info = info.Normalize()
	if info.ID == "" {
		return e.errorFactory("core: app info id is required", goerrors.CategoryBadInput).
			WithTextCode(SessionErrorBadInput)
	}
	var rejected error
	err := e.exec(ctx, func(loopCtx context.Context) {
		if e.phase != PhaseLoggedOut || e.pending != nil {
			rejected = e.errorFactory("core: app info cannot change once a login flow has started", goerrors.CategoryConflict).
				WithTextCode(SessionErrorLoginInProgress)
			return
		}
		e.appInfo = info
		e.publish()
	})
	if err != nil {
		return e.mapError(err)
	}
	return rejected
}

// Close detaches from the provider, fails any pending login with
// ErrEngineClosed and stops the loop once queued work has drained.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		if e.subscription != nil {
			e.subscription.Unsubscribe()
		}
		e.queue.close(func() {
			if op := e.pending; op != nil {
				e.pending = nil
				e.phase = PhaseLoggedOut
				e.publish()
				op.resolve(nil, ErrEngineClosed)
			}
		})
		<-e.loopExited
	})
	return nil
}

func (e *Engine) run() {
	defer close(e.loopExited)
	for {
		task, ok := e.queue.next()
		if !ok {
			return
		}
		e.runTask(task)
	}
}

func (e *Engine) runTask(task func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logError(context.Background(), "session engine task panicked", map[string]any{
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	task()
}

// exec runs fn on the loop and waits for it. Calls already on the loop run
// inline.
func (e *Engine) exec(ctx context.Context, fn func(context.Context)) error {
	if e == nil {
		return fmt.Errorf("core: session engine is not configured")
	}
	if e.onLoop(ctx) {
		fn(ctx)
		return nil
	}
	done := make(chan struct{})
	loopCtx := e.loopContext(ctx)
	if !e.queue.push(func() {
		defer close(done)
		fn(loopCtx)
	}) {
		return ErrEngineClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) await(ctx context.Context, outcome opOutcome) (*Session, error) {
	if outcome.wait == nil {
		return outcome.session, outcome.err
	}
	if e.onLoop(ctx) {
		return nil, ErrLoginInProgress
	}
	select {
	case result := <-outcome.wait:
		return result.session, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) loopContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	} else {
		ctx = context.WithoutCancel(ctx)
	}
	return context.WithValue(ctx, loopContextKey{}, e)
}

func (e *Engine) onLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(loopContextKey{}).(*Engine)
	return owner == e
}

func (e *Engine) post(task func(ctx context.Context)) {
	ctx := e.loopContext(nil)
	if !e.queue.push(func() { task(ctx) }) {
		e.logDebug(ctx, "session engine closed, dropping task", nil)
	}
}

func (e *Engine) onIdentityChange(identity Identity) {
	e.post(func(ctx context.Context) {
		e.handleIdentityChange(ctx, identity)
	})
}

func (e *Engine) beginLogin(ctx context.Context, req LoginRequest) opOutcome {
	if req.Store != nil {
		e.store = req.Store
	}
	if e.pending != nil {
		e.logDebug(ctx, "joining pending authorization", e.operationFields())
		return opOutcome{wait: e.pending.join()}
	}
	if e.phase.Authorized() {
		if e.provider.IsAuthorized() {
			return opOutcome{session: e.session.Clone()}
		}
		e.dropAuthorization(ctx)
	}

	if req.AppInfo != nil && !req.AppInfo.IsZero() {
		info := req.AppInfo.Normalize()
		if info.ID == "" {
			return opOutcome{err: fmt.Errorf("core: app info id is required")}
		}
		e.appInfo = info
	}
	e.warnIfUntrusted(ctx)
	e.started = true

	if e.provider.IsAuthorized() {
		e.phase = PhaseAuthorizedNoIdentity
		e.applyIdentity(ctx, e.seedIdentity(), false)
		return opOutcome{session: e.session.Clone()}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.AuthorizeTimeout
	}
	op := &loginOp{}
	waiter := op.join()
	if e.inflight != 0 {
		// an abandoned authorize call is still running; adopt it
		op.callID = e.inflight
		e.logDebug(ctx, "adopting in-flight authorization", e.operationFields())
	} else {
		e.lastCallID++
		op.callID = e.lastCallID
		e.inflight = op.callID
		e.startAuthorize(op.callID, AuthorizeRequest{
			AppInfo:      e.appInfo,
			ProviderHint: strings.TrimSpace(req.ProviderHint),
			CallbackURI:  StripFragment(req.CallbackURI),
			PopupURI:     strings.TrimSpace(req.PopupURI),
		}, timeout)
	}
	if timeout > 0 {
		op.timer = time.AfterFunc(timeout, func() {
			e.post(func(ctx context.Context) {
				e.expireAuthorize(ctx, op, timeout)
			})
		})
	}
	e.pending = op
	e.phase = PhaseAuthorizing
	e.publish()
	return opOutcome{wait: waiter}
}

func (e *Engine) startAuthorize(callID uint64, req AuthorizeRequest, timeout time.Duration) {
	authCtx, cancel := context.Background(), context.CancelFunc(func() {})
	if timeout > 0 {
		authCtx, cancel = context.WithTimeout(authCtx, timeout)
	}
	go func() {
		defer cancel()
		err := e.callAuthorize(authCtx, req)
		e.post(func(ctx context.Context) {
			e.completeAuthorize(ctx, callID, err)
		})
	}()
}

func (e *Engine) callAuthorize(ctx context.Context, req AuthorizeRequest) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: provider authorize panicked: %v", ErrAuthorizationUnavailable, recovered)
		}
	}()
	return e.provider.Authorize(ctx, req)
}

func (e *Engine) completeAuthorize(ctx context.Context, callID uint64, err error) {
	if e.inflight == callID {
		e.inflight = 0
	}
	op := e.pending
	if op == nil || op.callID != callID {
		if err == nil && op == nil && e.phase == PhaseLoggedOut {
			// the login was abandoned; do not let a late grant resurrect it
			e.lastIdentity, e.hasLastIdentity = nil, false
			if clearErr := e.provider.ClearAuthorization(e.appInfo.ID); clearErr != nil {
				e.logWarn(ctx, "clear late authorization failed", map[string]any{
					"app_id": e.appInfo.ID,
					"error":  clearErr.Error(),
				})
			}
		}
		e.logDebug(ctx, "stale authorization result ignored", map[string]any{
			"app_id": e.appInfo.ID,
			"phase":  e.phase.String(),
		})
		return
	}

	e.pending = nil
	switch {
	case err != nil:
		err = classifyAuthorizeError(err)
	case !e.provider.IsAuthorized():
		err = fmt.Errorf("%w: provider did not grant authorization", ErrAuthorizationDenied)
	}
	if err != nil {
		e.phase = PhaseLoggedOut
		e.lastIdentity, e.hasLastIdentity = nil, false
		e.publish()
		op.resolve(nil, err)
		return
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		// a panicking reconciliation must not strand the login waiters
		e.phase = PhaseLoggedOut
		e.session = nil
		e.publish()
		op.resolve(nil, fmt.Errorf("core: authorization completion failed"))
	}()
	e.phase = PhaseAuthorizedNoIdentity
	e.applyIdentity(ctx, e.seedIdentity(), false)
	settled = true
	op.resolve(e.session, nil)
}

func (e *Engine) expireAuthorize(ctx context.Context, op *loginOp, timeout time.Duration) {
	if e.pending != op {
		return
	}
	e.pending = nil
	e.phase = PhaseLoggedOut
	e.publish()
	e.logWarn(ctx, "authorization timed out", map[string]any{
		"app_id":  e.appInfo.ID,
		"timeout": timeout.String(),
	})
	op.resolve(nil, fmt.Errorf("%w: authorization did not settle within %s", ErrAuthorizationUnavailable, timeout))
}

func (e *Engine) handleIdentityChange(ctx context.Context, identity Identity) {
	if !e.provider.IsAuthorized() {
		if e.phase.Authorized() {
			e.dropAuthorization(ctx)
			return
		}
		// may arrive before authorize resolves; seeds the completion
		e.lastIdentity, e.hasLastIdentity = identity, true
		e.logDebug(ctx, "identity change held until authorization", e.operationFields())
		return
	}

	if e.phase == PhaseLoggedOut {
		if e.inflight != 0 {
			// an abandoned authorize call is about to be revoked
			e.lastIdentity, e.hasLastIdentity = identity, true
			e.logDebug(ctx, "identity change held for abandoned authorization", e.operationFields())
			return
		}
		e.started = true
		e.logInfo(ctx, "provider authorized outside a login flow", e.operationFields())
	}
	if !e.phase.Authorized() {
		e.phase = PhaseAuthorizedNoIdentity
	}
	e.lastIdentity, e.hasLastIdentity = nil, false
	e.applyIdentity(ctx, identity, true)

	if op := e.pending; op != nil {
		e.pending = nil
		op.resolve(e.session, nil)
	}
}

func (e *Engine) reconcileCurrent(ctx context.Context, req CurrentSessionRequest) opOutcome {
	if req.Store != nil {
		e.store = req.Store
	}
	stored := e.loadStore(ctx)
	if e.phase == PhaseAuthorizing && e.pending == nil {
		e.logWarn(ctx, "authorizing without a pending login, resetting", e.operationFields())
		e.phase = PhaseLoggedOut
		e.publish()
	}
	switch e.phase {
	case PhaseAuthorizing:
		return opOutcome{wait: e.pending.join()}
	case PhaseLoggedOut:
		return opOutcome{session: e.reconcileStartup(ctx, stored)}
	}

	if !e.provider.IsAuthorized() {
		e.dropAuthorization(ctx)
		return opOutcome{}
	}
	if e.session == nil {
		e.applyIdentity(ctx, e.seedIdentity(), true)
		return opOutcome{session: e.session.Clone()}
	}
	if !SameIdentity(stored, e.session) {
		e.logDebug(ctx, "session store out of date, rewriting", e.operationFields())
	}
	e.saveStore(ctx, *e.session)
	e.emit(ctx, Event{Name: EventSession, Session: e.session})
	return opOutcome{session: e.session.Clone()}
}

// reconcileStartup settles a logged out engine against provider truth,
// attempting silent re-authorization on first use or when a record was
// stored by an earlier process.
func (e *Engine) reconcileStartup(ctx context.Context, stored *Session) *Session {
	firstRun := !e.started
	e.started = true

	if !e.provider.IsAuthorized() {
		if stored == nil && !firstRun {
			e.emit(ctx, Event{Name: EventSession})
			return nil
		}
		if !e.provider.LoadPriorAuthorization(e.appInfo.ID) {
			if stored != nil {
				e.clearStore(ctx)
				e.logInfo(ctx, "cleared stale session record", map[string]any{
					"app_id": e.appInfo.ID,
					"web_id": stored.WebID,
				})
			}
			e.emit(ctx, Event{Name: EventSession})
			return nil
		}
		e.logInfo(ctx, "restored prior authorization", e.operationFields())
	}

	e.phase = PhaseAuthorizedNoIdentity
	e.applyIdentity(ctx, e.seedIdentity(), true)
	return e.session.Clone()
}

func (e *Engine) logout(ctx context.Context, req LogoutRequest) {
	if req.Store != nil {
		e.store = req.Store
	}
	if err := e.provider.ClearAuthorization(e.appInfo.ID); err != nil {
		e.logWarn(ctx, "clear provider authorization failed", map[string]any{
			"app_id": e.appInfo.ID,
			"error":  err.Error(),
		})
	}
	prev := e.session
	e.clearStore(ctx)
	if op := e.pending; op != nil {
		e.pending = nil
		op.resolve(nil, fmt.Errorf("%w: login cancelled by logout", ErrAuthorizationDenied))
	}
	e.phase = PhaseLoggedOut
	e.session = nil
	e.lastIdentity, e.hasLastIdentity = nil, false
	e.started = true
	e.publish()

	if prev == nil {
		return
	}
	e.emit(ctx, Event{Name: EventLogout})
	e.emit(ctx, Event{Name: EventSession})
}

// dropAuthorization handles the provider losing authorization behind the
// engine's back.
func (e *Engine) dropAuthorization(ctx context.Context) {
	prev := e.session
	e.phase = PhaseLoggedOut
	e.session = nil
	e.clearStore(ctx)
	e.publish()
	e.logInfo(ctx, "provider authorization lost", map[string]any{
		"app_id": e.appInfo.ID,
	})
	if prev != nil {
		e.emit(ctx, Event{Name: EventLogout})
	}
	e.emit(ctx, Event{Name: EventSession})
}

// applyIdentity is the single reconciliation step. The store write always
// precedes the events it causes. A swap between two identities emits login
// for the new one and never a logout.
func (e *Engine) applyIdentity(ctx context.Context, identity Identity, announceEmpty bool) {
	next, err := EncodeSession(e.codec, identity, e.appInfo)
	if err != nil {
		e.logWarn(ctx, "malformed identity treated as no identity", map[string]any{
			"app_id": e.appInfo.ID,
			"error":  err.Error(),
		})
		e.recordCounter(ctx, "sessions.malformed_identity.total", 1, map[string]string{
			"app_id": e.appInfo.ID,
		})
		next = nil
	}
	prev := e.session

	if next == nil {
		e.phase = PhaseAuthorizedNoIdentity
		e.session = nil
		e.clearStore(ctx)
		e.publish()
		if prev != nil {
			e.emit(ctx, Event{Name: EventLogout})
		} else if !announceEmpty {
			return
		}
		e.emit(ctx, Event{Name: EventSession})
		return
	}

	next = next.Clone()
	if next.AppInfo.IsZero() {
		next.AppInfo = e.appInfo
	}
	if SameIdentity(prev, next) {
		next.IssuedAt = prev.IssuedAt
	} else {
		next.IssuedAt = e.now()
	}
	e.phase = PhaseAuthorizedWithIdentity
	e.session = next
	e.saveStore(ctx, *next)
	e.publish()
	if !SameIdentity(prev, next) {
		e.emit(ctx, Event{Name: EventLogin, Session: next})
	}
	e.emit(ctx, Event{Name: EventSession, Session: next})
}

func (e *Engine) seedIdentity() Identity {
	identity := e.provider.CurrentIdentity()
	if identity == nil && e.hasLastIdentity {
		identity = e.lastIdentity
	}
	e.lastIdentity, e.hasLastIdentity = nil, false
	return identity
}

func (e *Engine) warnIfUntrusted(ctx context.Context) {
	if !e.appInfo.Untrusted() || !e.config.WarnUntrustedApp {
		return
	}
	e.logWarn(ctx, "authorizing with the default untrusted app identity; configure app_info", map[string]any{
		"app_id":   e.appInfo.ID,
		"app_name": e.appInfo.Name,
	})
	e.recordCounter(ctx, "sessions.untrusted_app.total", 1, map[string]string{
		"app_id": e.appInfo.ID,
	})
}

func (e *Engine) invokeSessionCallback(ctx context.Context, callback SessionCallback, session *Session) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logWarn(ctx, "session callback panicked", map[string]any{
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	callback(ctx, session.Clone())
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	_ = e.events.Emit(ctx, event)
}

func (e *Engine) publish() {
	e.snapshot.Store(&engineSnapshot{
		phase:   e.phase,
		session: e.session.Clone(),
		appInfo: e.appInfo,
	})
}

func (e *Engine) loadStore(ctx context.Context) *Session {
	if e.store == nil {
		return nil
	}
	session, err := e.store.Load(ctx, e.appInfo.ID)
	if err != nil {
		e.storeFailure(ctx, "load", err)
		return nil
	}
	return session
}

func (e *Engine) saveStore(ctx context.Context, session Session) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, e.appInfo.ID, session); err != nil {
		e.storeFailure(ctx, "save", err)
	}
}

func (e *Engine) clearStore(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.Clear(ctx, e.appInfo.ID); err != nil {
		e.storeFailure(ctx, "clear", err)
	}
}

func (e *Engine) storeFailure(ctx context.Context, action string, err error) {
	wrapped := fmt.Errorf("%w: %s: %v", ErrStoreFailure, action, err)
	e.logWarn(ctx, "session store "+action+" failed", map[string]any{
		"app_id": e.appInfo.ID,
		"error":  wrapped.Error(),
	})
	e.recordCounter(ctx, "sessions.store_failure.total", 1, map[string]string{
		"app_id": e.appInfo.ID,
		"action": action,
	})
}

func (e *Engine) operationFields() map[string]any {
	phase, _ := e.Snapshot()
	return map[string]any{
		"app_id": e.AppInfo().ID,
		"phase":  phase.String(),
	}
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	if isCallerContextError(err) {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// isCallerContextError reports the caller's own cancellation or deadline, as
// opposed to a provider timeout classified as ErrAuthorizationUnavailable.
func isCallerContextError(err error) bool {
	if errors.Is(err, ErrAuthorizationUnavailable) || errors.Is(err, ErrAuthorizationDenied) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
