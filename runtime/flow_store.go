package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

func (c *flowRerunContext) taskStates() map[string]types.TaskState {
	states := make(map[string]types.TaskState, len(c.Tasks))
	for id, ti := range c.Tasks {
		states[id] = ti.State
	}
	return states
}

func (f *flow) savePlan(ctx context.Context, requestID string, plan *dagExecutePlan) error {
	b, err := utils.Serialize(plan)
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(f.store.Set(ctx, DAGPlanPath, requestID, b))
}

func (f *flow) removePlan(ctx context.Context, requestID string) error {
	if err := f.store.Remove(ctx, RunContextPath, requestID); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(f.store.Remove(ctx, DAGPlanPath, requestID))
}

func (f *flow) loadRunContext(ctx context.Context, requestID string) (*flowRerunContext, error) {
	b, err := f.store.Get(ctx, RunContextPath, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, nil
	}
	reRC := &flowRerunContext{}
	if err := utils.Unserialize(b, reRC); err != nil {
		return nil, errors.Annotatef(err, "run context of %s", requestID)
	}
	return reRC, nil
}

func (f *flow) loadPlan(ctx context.Context, requestID string) (*dagExecutePlan, *flowRerunContext, error) {
	b, err := f.store.Get(ctx, DAGPlanPath, requestID)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if b == nil {
		return nil, nil, errors.NotFoundf("DAG plan requestID: %s", requestID)
	}

	dag := &dagExecutePlan{}
	if err := utils.Unserialize(b, dag); err != nil {
		return nil, nil, errors.Trace(err)
	}

	reRC, err := f.loadRunContext(ctx, requestID)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return dag, reRC, nil
}

func (f *flow) loadRecords(ctx context.Context, requestID string) (map[string]*types.TaskTraceRecord, error) {
	records := make(map[string]*types.TaskTraceRecord)
	recordPath := recordSavePath(requestID)
	err := f.store.List(ctx, recordPath, func(taskID string) bool {
		b, err := f.store.Get(ctx, recordPath, taskID)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, taskID, err)
			return true
		}
		record := &types.TaskTraceRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, taskID, string(b), err)
			return true
		}
		records[taskID] = record
		return true
	})
	return records, errors.Trace(err)
}

func latestRecord(records map[string]*types.TaskTraceRecord) *types.TaskTraceRecord {
	var latest *types.TaskTraceRecord
	for _, id := range utils.SortedKeys(records) {
		if r := records[id]; latest == nil || r.EndTime.After(latest.EndTime) {
			latest = r
		}
	}
	return latest
}

func (f *flow) ReloadRequests(ctx context.Context) (map[string]error, error) {
	return f.reloadPlans(ctx)
}
