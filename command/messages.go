package command

import (
	"net/url"
	"strings"

	"github.com/goliatone/go-sessions/core"
)

const (
	TypeLogin             = "sessions.command.login"
	TypeLogout            = "sessions.command.logout"
	TypeSetAppInfo        = "sessions.command.app_info.set"
	TypeScheduleReconcile = "sessions.command.reconcile.schedule"
)

type LoginMessage struct {
	Request core.LoginRequest
}

func (LoginMessage) Type() string { return TypeLogin }

func (m LoginMessage) Validate() error {
	if m.Request.Timeout < 0 {
		return commandValidationError("timeout", "must be >= 0")
	}
	if err := validateAppInfo("app_info", m.Request.AppInfo); err != nil {
		return err
	}
	if uri := strings.TrimSpace(m.Request.CallbackURI); uri != "" {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() {
			return commandValidationError("callback_uri", "must be an absolute url")
		}
	}
	return nil
}

type LogoutMessage struct {
	Request core.LogoutRequest
}

func (LogoutMessage) Type() string { return TypeLogout }

type SetAppInfoMessage struct {
	AppInfo core.AppInfo
}

func (SetAppInfoMessage) Type() string { return TypeSetAppInfo }

func (m SetAppInfoMessage) Validate() error {
	return validateAppInfo("app_info", &m.AppInfo)
}

type ScheduleReconcileMessage struct {
	AppID string
}

func (ScheduleReconcileMessage) Type() string { return TypeScheduleReconcile }

func (m ScheduleReconcileMessage) Validate() error {
	if strings.TrimSpace(m.AppID) == "" {
		return commandValidationError("app_id", "is required")
	}
	return nil
}

// validateAppInfo accepts nil or an app info carrying an id.
func validateAppInfo(field string, info *core.AppInfo) error {
	if info == nil {
		return nil
	}
	if strings.TrimSpace(info.ID) == "" {
		return commandValidationError(field+".id", "is required")
	}
	return nil
}
