package query

import "github.com/goliatone/go-sessions/core"

const (
	TypeCurrentSession = "sessions.query.current_session"
	TypeSnapshot       = "sessions.query.snapshot"
)

type CurrentSessionMessage struct {
	Request core.CurrentSessionRequest
}

func (CurrentSessionMessage) Type() string { return TypeCurrentSession }

type SnapshotMessage struct{}

func (SnapshotMessage) Type() string { return TypeSnapshot }

// SessionSnapshot is the last settled engine state. It never triggers a
// reconciliation.
type SessionSnapshot struct {
	Phase     core.Phase    `json:"-"`
	PhaseName string        `json:"phase"`
	Session   *core.Session `json:"session,omitempty"`
	AppInfo   core.AppInfo  `json:"app_info"`
	Untrusted bool          `json:"untrusted_app"`
}
