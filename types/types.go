package types

import (
	"context"
)

type StatusType int32

const (
	None     StatusType = 0
	Pending  StatusType = 1
	Running  StatusType = 2
	Paused   StatusType = 3
	Retrying StatusType = 4
	Failed   StatusType = 5
	Fatal    StatusType = 9
	Finished StatusType = 10
)

var statusNames = map[StatusType]string{
	None:     "none",
	Pending:  "pending",
	Running:  "running",
	Paused:   "paused",
	Retrying: "retrying",
	Failed:   "failed",
	Fatal:    "fatal",
	Finished: "finished",
}

func (s StatusType) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether a request in this status will never run again.
func (s StatusType) IsTerminal() bool {
	return s == Failed || s == Fatal || s == Finished
}

// TaskState is the state of one task inside one request.
type TaskState string

const (
	TaskNone           TaskState = ""
	TaskRunning        TaskState = "running"
	TaskSuccess        TaskState = "success"
	TaskFailed         TaskState = "failed"
	TaskUpForRetry     TaskState = "up_for_retry"
	TaskSkipped        TaskState = "skipped"
	TaskUpstreamFailed TaskState = "upstream_failed"
)

func (s TaskState) String() string {
	if s == TaskNone {
		return "none"
	}
	return string(s)
}

// IsFinished reports whether the task reached a state it can not leave.
func (s TaskState) IsFinished() bool {
	switch s {
	case TaskSuccess, TaskFailed, TaskSkipped, TaskUpstreamFailed:
		return true
	}
	return false
}

func (s TaskState) IsFailure() bool {
	return s == TaskFailed || s == TaskUpstreamFailed
}

// Context is handed to every task handler.
type Context interface {
	context.Context

	GetRequestID() string
	GetTaskID() string
	// GetTryNumber starts from 1.
	GetTryNumber() int
	GetParams() Data

	/**
	 * XComPull reads the value pushed by taskID under key in the same request.
	 * The value is always the deserialized copy, never the object the producer returned.
	 */
	XComPull(taskID, key string) (any, bool, error)
	XComPush(key string, value any) error
}
