package runtime

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/taskflow/types"
)

func joinPlan(rule types.TriggerRule) *dagExecutePlan {
	return &dagExecutePlan{
		Name: "join",
		Vertex: map[string]*vertexInfo{
			"u1": {Type: vertexTask, TriggerRule: types.AllSuccess},
			"u2": {Type: vertexTask, TriggerRule: types.AllSuccess},
			"x":  {Type: vertexTask, TriggerRule: rule},
		},
		Links: map[string][]string{
			"u1": {"x"},
			"u2": {"x"},
		},
	}
}

func TestTriggerRules(t *testing.T) {
	const (
		none    = types.TaskNone
		success = types.TaskSuccess
		failed  = types.TaskFailed
		skipped = types.TaskSkipped
		upFail  = types.TaskUpstreamFailed
		retry   = types.TaskUpForRetry
	)
	cases := []struct {
		rule   types.TriggerRule
		u1, u2 types.TaskState
		expect triggerDecision
	}{
		{types.AllSuccess, success, success, triggerRun},
		{types.AllSuccess, success, none, triggerWait},
		{types.AllSuccess, success, retry, triggerWait},
		{types.AllSuccess, failed, none, triggerUpstreamFailed},
		{types.AllSuccess, upFail, success, triggerUpstreamFailed},
		{types.AllSuccess, skipped, none, triggerSkip},

		{types.AllDone, success, none, triggerWait},
		{types.AllDone, failed, skipped, triggerRun},

		{types.AllSkipped, skipped, none, triggerWait},
		{types.AllSkipped, skipped, skipped, triggerRun},
		{types.AllSkipped, skipped, success, triggerSkip},

		{types.OneSuccess, success, none, triggerRun},
		{types.OneSuccess, failed, none, triggerWait},
		{types.OneSuccess, failed, skipped, triggerUpstreamFailed},
		{types.OneSuccess, skipped, skipped, triggerSkip},

		{types.NoneFailed, skipped, success, triggerRun},
		{types.NoneFailed, skipped, none, triggerWait},
		{types.NoneFailed, failed, none, triggerUpstreamFailed},

		{types.NoneFailedMinOneSuccess, skipped, success, triggerRun},
		{types.NoneFailedMinOneSuccess, skipped, skipped, triggerSkip},
		{types.NoneFailedMinOneSuccess, success, upFail, triggerUpstreamFailed},
	}
	for _, c := range cases {
		plan := joinPlan(c.rule)
		order, err := plan.topoOrder()
		assert.Nil(t, err)
		dr := newDAGRuntime(plan, order)
		dr.tasks["u1"].State = c.u1
		dr.tasks["u2"].State = c.u2
		assert.Equal(t, c.expect, dr.evaluate("x"), "%s with %s, %s", c.rule, c.u1, c.u2)
	}
}

func TestDAGRuntimeSchedule(t *testing.T) {
	plan := joinPlan(types.AllSuccess)
	order, err := plan.topoOrder()
	assert.Nil(t, err)
	assert.Equal(t, []string{"u1", "u2", "x"}, order)
	assert.Equal(t, []string{"x"}, plan.leaves())

	dr := newDAGRuntime(plan, order)
	now := time.Now()
	assert.Equal(t, []string{"u1", "u2"}, dr.schedule(now))

	dr.markRunning("u1")
	dr.markRunning("u2")
	assert.Empty(t, dr.schedule(now))
	assert.False(t, dr.complete(&taskResult{id: "u1"}, now))
	assert.False(t, dr.complete(&taskResult{id: "u2", err: types.NewRetryError(errors.Errorf("later"), time.Minute)}, now))
	assert.Equal(t, types.TaskUpForRetry, dr.tasks["u2"].State)
	assert.True(t, dr.retrying())
	assert.Empty(t, dr.schedule(now))
	assert.Equal(t, []string{"u2"}, dr.schedule(now.Add(time.Minute)))

	dr.markRunning("u2")
	assert.Equal(t, 2, dr.tasks["u2"].Try)
	assert.True(t, dr.complete(&taskResult{id: "u2", err: types.NewPauseError(nil)}, now))
	assert.Equal(t, types.TaskNone, dr.tasks["u2"].State)
	assert.Equal(t, 1, dr.tasks["u2"].Try)

	dr.markRunning("u2")
	assert.False(t, dr.complete(&taskResult{id: "u2", err: errors.Errorf("boom")}, now))
	assert.Equal(t, types.TaskFailed, dr.tasks["u2"].State)
	assert.Equal(t, "boom", dr.tasks["u2"].Error)
	assert.False(t, dr.finished())

	dr.propagate()
	assert.Equal(t, types.TaskUpstreamFailed, dr.tasks["x"].State)
	assert.True(t, dr.finished())
	assert.Equal(t, types.Failed, dr.outcome())
}

func TestDAGRuntimeRestore(t *testing.T) {
	plan := joinPlan(types.AllSuccess)
	order, err := plan.topoOrder()
	assert.Nil(t, err)
	dr := newDAGRuntime(plan, order)

	assert.Nil(t, dr.restore(map[string]*taskInstance{
		"u1": {State: types.TaskSuccess, Try: 1},
		"u2": {State: types.TaskRunning, Try: 2},
	}))
	assert.Equal(t, types.TaskSuccess, dr.tasks["u1"].State)
	assert.Equal(t, types.TaskNone, dr.tasks["u2"].State)
	assert.Equal(t, 1, dr.tasks["u2"].Try)
	assert.Equal(t, []string{"u2"}, dr.schedule(time.Now()))

	exported := dr.export()
	exported["u1"].State = types.TaskFailed
	assert.Equal(t, types.TaskSuccess, dr.tasks["u1"].State)

	assert.True(t, errors.IsNotFound(dr.restore(map[string]*taskInstance{
		"ghost": {State: types.TaskSuccess},
	})))
}

func TestDAGPlanTopoOrder(t *testing.T) {
	plan := &dagExecutePlan{
		Name: "cycle",
		Vertex: map[string]*vertexInfo{
			"a": {Type: vertexTask},
			"b": {Type: vertexTask},
		},
		Links: map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
	}
	_, err := plan.topoOrder()
	assert.True(t, errors.IsForbidden(err))
	assert.True(t, plan.reachable("a", "a"))

	plan.Links = map[string][]string{"a": {"c"}}
	_, err = plan.topoOrder()
	assert.True(t, errors.IsNotFound(err))
}
