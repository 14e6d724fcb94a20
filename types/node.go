package types

import "time"

type TaskTraceRecord struct {
	TaskID    string
	Try       int
	State     TaskState
	StartTime time.Time
	EndTime   time.Time
	Error     string
	Input     Data
	Output    any
}

type TaskHandler func(ctx Context, input Data) (any, error)

// BranchHandler returns the ids of the direct downstream tasks to follow.
type BranchHandler func(ctx Context, input Data) ([]string, error)
type BooleanHandler func(ctx Context, input Data) (bool, error)
