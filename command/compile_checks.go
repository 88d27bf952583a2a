package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[LoginMessage]             = (*LoginCommand)(nil)
	_ gocmd.Commander[LogoutMessage]            = (*LogoutCommand)(nil)
	_ gocmd.Commander[SetAppInfoMessage]        = (*SetAppInfoCommand)(nil)
	_ gocmd.Commander[ScheduleReconcileMessage] = (*ScheduleReconcileCommand)(nil)
)
