// Package scheduler runs periodic housekeeping jobs on robfig/cron.
//
// Jobs never overlap with themselves; a tick that arrives while the previous
// run is still going is skipped. Panics are recovered and logged.
package scheduler
