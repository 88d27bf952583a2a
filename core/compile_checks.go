package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ SessionReconciler = (*Engine)(nil)
	_ SessionStore      = (*MemorySessionStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
