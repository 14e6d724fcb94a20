package runtime

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

const (
	RecordPath = "/record/"
)

var (
	_ types.Context = &taskContext{}
)

type taskContext struct {
	context.Context

	requestID string
	taskID    string
	try       int
	params    types.Data

	xcom *xcomStore
}

func recordSavePath(requestID string) string {
	return RecordPath + requestID
}

func newTaskContext(ctx context.Context, xcom *xcomStore, taskID string, try int, params types.Data) *taskContext {
	return &taskContext{
		Context:   ctx,
		requestID: xcom.requestID,
		taskID:    taskID,
		try:       try,
		params:    params,
		xcom:      xcom,
	}
}

func (t *taskContext) GetRequestID() string {
	return t.requestID
}

func (t *taskContext) GetTaskID() string {
	return t.taskID
}

func (t *taskContext) GetTryNumber() int {
	return t.try
}

func (t *taskContext) GetParams() types.Data {
	return t.params.Clone()
}

func (t *taskContext) XComPull(taskID, key string) (any, bool, error) {
	if key == "" {
		key = types.ReturnValueKey
	}
	return t.xcom.pull(t, taskID, key)
}

func (t *taskContext) XComPush(key string, value any) error {
	if key == "" {
		return errors.BadRequestf("xcom key of %s is empty", t.taskID)
	}
	return t.xcom.push(t, t.taskID, key, value)
}

func saveRecord(ctx context.Context, s store.Store, requestID string, record *types.TaskTraceRecord) {
	b, err := utils.Serialize(record)
	if err != nil {
		// outputs are pushed as xcom already, keep the record without it
		record.Output = nil
		if b, err = utils.Serialize(record); err != nil {
			log.Errorf("%s failed to serialize record of %s: %v", requestID, record.TaskID, err)
			return
		}
	}
	if err := s.Set(ctx, recordSavePath(requestID), record.TaskID, b); err != nil {
		log.Errorf("%s failed to save record of %s: %v", requestID, record.TaskID, err)
	}
}

func newTaskRecord(res *taskResult, state types.TaskState) *types.TaskTraceRecord {
	record := &types.TaskTraceRecord{
		TaskID:    res.id,
		Try:       res.try,
		State:     state,
		StartTime: res.startTime,
		EndTime:   res.endTime,
		Input:     res.input,
		Output:    res.output,
	}
	if res.err != nil {
		record.Error = errors.ErrorStack(res.err)
	}
	if record.EndTime.IsZero() {
		record.EndTime = time.Now()
	}
	return record
}
