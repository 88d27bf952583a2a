package query

import (
	"context"

	"github.com/goliatone/go-sessions/core"
)

type SessionReader interface {
	CurrentSession(ctx context.Context, req core.CurrentSessionRequest) (*core.Session, error)
}

type SnapshotReader interface {
	Snapshot() (core.Phase, *core.Session)
	AppInfo() core.AppInfo
}

type CurrentSessionQuery struct {
	reader SessionReader
}

func NewCurrentSessionQuery(reader SessionReader) *CurrentSessionQuery {
	return &CurrentSessionQuery{reader: reader}
}

func (q *CurrentSessionQuery) Query(ctx context.Context, msg CurrentSessionMessage) (*core.Session, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: session reader is required")
	}
	return q.reader.CurrentSession(ctx, msg.Request)
}

type SnapshotQuery struct {
	reader SnapshotReader
}

func NewSnapshotQuery(reader SnapshotReader) *SnapshotQuery {
	return &SnapshotQuery{reader: reader}
}

func (q *SnapshotQuery) Query(_ context.Context, _ SnapshotMessage) (SessionSnapshot, error) {
	if q == nil || q.reader == nil {
		return SessionSnapshot{}, queryDependencyError("query: snapshot reader is required")
	}
	phase, session := q.reader.Snapshot()
	info := q.reader.AppInfo()
	return SessionSnapshot{
		Phase:     phase,
		PhaseName: phase.String(),
		Session:   session.Clone(),
		AppInfo:   info,
		Untrusted: info.Untrusted(),
	}, nil
}
