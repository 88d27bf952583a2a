package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-sessions/core"
)

type MutatingService interface {
	Login(ctx context.Context, req core.LoginRequest) (*core.Session, error)
	Logout(ctx context.Context, req core.LogoutRequest) error
	SetAppInfo(ctx context.Context, info core.AppInfo) error
}

type LoginCommand struct {
	service MutatingService
}

func NewLoginCommand(service MutatingService) *LoginCommand {
	return &LoginCommand{service: service}
}

// Execute stores the resulting *core.Session in the context result collector,
// when one is attached.
func (c *LoginCommand) Execute(ctx context.Context, msg LoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	session, err := c.service.Login(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, session)
	return nil
}

type LogoutCommand struct {
	service MutatingService
}

func NewLogoutCommand(service MutatingService) *LogoutCommand {
	return &LogoutCommand{service: service}
}

func (c *LogoutCommand) Execute(ctx context.Context, msg LogoutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: logout service is required")
	}
	return c.service.Logout(ctx, msg.Request)
}

type SetAppInfoCommand struct {
	service MutatingService
}

func NewSetAppInfoCommand(service MutatingService) *SetAppInfoCommand {
	return &SetAppInfoCommand{service: service}
}

func (c *SetAppInfoCommand) Execute(ctx context.Context, msg SetAppInfoMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: app info service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.SetAppInfo(ctx, msg.AppInfo)
}

type ScheduleReconcileCommand struct {
	enqueuer core.JobEnqueuer
}

func NewScheduleReconcileCommand(enqueuer core.JobEnqueuer) *ScheduleReconcileCommand {
	return &ScheduleReconcileCommand{enqueuer: enqueuer}
}

func (c *ScheduleReconcileCommand) Execute(ctx context.Context, msg ScheduleReconcileMessage) error {
	if c == nil || c.enqueuer == nil {
		return commandDependencyError("command: reconcile enqueuer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return core.EnqueueReconcile(ctx, c.enqueuer, msg.AppID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
