package scheduler

import "errors"

// ErrSchedulerNotRunning is returned when triggering a stopped scheduler
var ErrSchedulerNotRunning = errors.New("scheduler is not running")
