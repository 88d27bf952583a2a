package sessions

import (
	"fmt"

	sessionscommand "github.com/goliatone/go-sessions/command"
	"github.com/goliatone/go-sessions/core"
	sessionsquery "github.com/goliatone/go-sessions/query"
)

type CommandQueryService interface {
	sessionscommand.MutatingService
	sessionsquery.SessionReader
	sessionsquery.SnapshotReader
}

type Commands struct {
	Login             *sessionscommand.LoginCommand
	Logout            *sessionscommand.LogoutCommand
	SetAppInfo        *sessionscommand.SetAppInfoCommand
	ScheduleReconcile *sessionscommand.ScheduleReconcileCommand
}

type Queries struct {
	CurrentSession *sessionsquery.CurrentSessionQuery
	Snapshot       *sessionsquery.SnapshotQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	enqueuer core.JobEnqueuer
}

// WithReconcileEnqueuer backs the ScheduleReconcile command. Without it the
// command reports a missing dependency.
func WithReconcileEnqueuer(enqueuer core.JobEnqueuer) FacadeOption {
	return func(options *facadeOptions) {
		options.enqueuer = enqueuer
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("sessions: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Login:             sessionscommand.NewLoginCommand(service),
		Logout:            sessionscommand.NewLogoutCommand(service),
		SetAppInfo:        sessionscommand.NewSetAppInfoCommand(service),
		ScheduleReconcile: sessionscommand.NewScheduleReconcileCommand(cfg.enqueuer),
	}
	facade.queries = Queries{
		CurrentSession: sessionsquery.NewCurrentSessionQuery(service),
		Snapshot:       sessionsquery.NewSnapshotQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Engine)(nil)
