package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-sessions/core"
)

var (
	_ gocmd.Querier[CurrentSessionMessage, *core.Session] = (*CurrentSessionQuery)(nil)
	_ gocmd.Querier[SnapshotMessage, SessionSnapshot]     = (*SnapshotQuery)(nil)
	_ SessionReader                                      = (*core.Engine)(nil)
	_ SnapshotReader                                     = (*core.Engine)(nil)
)
