// Package scheduler registers named cron or interval triggers and enqueues
// each firing as a task on the task engine.
//
// The scheduler only computes trigger times. Execution, timeouts, retries and
// panics are the engine's concern. A schedule whose previous run is still
// queued or running skips the trigger.
package scheduler
