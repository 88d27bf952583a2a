package sessions

import "github.com/goliatone/go-sessions/core"

type Config = core.Config

type AppInfoConfig = core.AppInfoConfig

type StoreConfig = core.StoreConfig

type Option = core.Option

type Engine = core.Engine

type EngineDependencies = core.EngineDependencies

type AppInfo = core.AppInfo
type Session = core.Session
type Identity = core.Identity
type Phase = core.Phase
type Event = core.Event
type EventName = core.EventName
type IdentityProvider = core.IdentityProvider
type SessionStore = core.SessionStore
type IdentityCodec = core.IdentityCodec
type Subscription = core.Subscription

type LoginRequest = core.LoginRequest

type LogoutRequest = core.LogoutRequest

type CurrentSessionRequest = core.CurrentSessionRequest

type ReconcileWorkerConfig = core.ReconcileWorkerConfig

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorFactory     = core.WithErrorFactory
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithIdentityProvider = core.WithIdentityProvider
	WithSessionStore     = core.WithSessionStore
	WithIdentityCodec    = core.WithIdentityCodec
	WithHTTPDoer         = core.WithHTTPDoer
	WithClock            = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	return core.NewEngine(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return core.Setup(cfg, opts...)
}
