package runtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/taskflow/store/mem"
	"github.com/warriorguo/taskflow/types"
)

func newOptions() *types.FlowOptions {
	opts := types.NewFlowOptions()
	opts.AutoStart = false
	opts.MemStore = true
	opts.TaskRunAsync = false
	return opts
}

func requestStatus(t *testing.T, f *flow, requestID string) types.StatusType {
	status, err := f.GetRequestStatus(context.Background(), requestID)
	require.Nil(t, err)
	return status.Status
}

func taskStates(t *testing.T, f *flow, requestID string) map[string]types.TaskState {
	states, err := f.GetTaskStates(context.Background(), requestID)
	require.Nil(t, err)
	return states
}

type singleDAG struct {
	t *testing.T

	node1Trigger int
	node2Trigger int
	node3Trigger int
}

func (d *singleDAG) node1(ctx types.Context, input types.Data) (any, error) {
	assert.True(d.t, len(ctx.GetRequestID()) > 0)
	assert.Equal(d.t, "node1", ctx.GetTaskID())
	assert.Equal(d.t, 1, ctx.GetTryNumber())
	s1, _ := input.GetString("test_param1")
	s2, _ := input.GetString("test_param2")
	fmt.Printf("in node1:%s %s\n", s1, s2)
	assert.Equal(d.t, "show me the money", s1)
	assert.Equal(d.t, "black sheep wall", s2)
	d.node1Trigger++
	return types.Data{"node1": "food for thought"}, nil
}

func (d *singleDAG) node2(ctx types.Context, input types.Data) (any, error) {
	s1, _ := input.GetString("test_param1")
	assert.Equal(d.t, "show me the money", s1)
	prev, exists := input.GetData("prev")
	assert.True(d.t, exists)
	s3, _ := prev.GetString("node1")
	fmt.Printf("in node2:%s %s\n", s1, s3)
	assert.Equal(d.t, "food for thought", s3)
	d.node2Trigger++
	return nil, ctx.XComPush("extra", 7)
}

func (d *singleDAG) node3(ctx types.Context, input types.Data) (any, error) {
	extra, _ := input.GetInt("extra")
	assert.Equal(d.t, 7, extra)
	_, exists, err := ctx.XComPull("node2", "")
	assert.Nil(d.t, err)
	assert.False(d.t, exists)
	fmt.Printf("in node3\n")
	d.node3Trigger++
	return "done", nil
}

func (d *singleDAG) testDAG(dag types.DAG) error {
	node1, err := dag.Task("node1", d.node1)
	if err != nil {
		return errors.Trace(err)
	}
	node2, err := dag.Task("node2", d.node2, types.WithArg("prev", node1))
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := dag.Task("node3", d.node3, types.WithXComArg("extra", node2, "extra")); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *singleDAG) assertTrigger(n1, n2, n3 int) {
	assert.Equal(d.t, n1, d.node1Trigger)
	assert.Equal(d.t, n2, d.node2Trigger)
	assert.Equal(d.t, n3, d.node3Trigger)
}

func singleParams() types.Data {
	inputData := types.Data{}
	inputData.Set("test_param1", "show me the money")
	inputData.Set("test_param2", "black sheep wall")
	return inputData
}

func TestSingleFlow(t *testing.T) {
	ctx := context.Background()
	s := mem.NewMemStore()
	flow := newFlow(s, newOptions())

	singlef := &singleDAG{t: t}
	assert.Nil(t, flow.RegisterDAG("test", singlef.testDAG))
	d, exists := flow.GetDAG("test")
	assert.True(t, exists)
	assert.Equal(t, []string{"node1", "node2", "node3"}, d.Tasks())
	assert.Equal(t, []string{"node1"}, d.Upstream("node2"))
	assert.Equal(t, []string{"node3"}, d.Downstream("node2"))

	assert.Nil(t, flow.RunDAG(ctx, "test", "test-require-id", singleParams()))
	assert.False(t, flow.isRunningEmpty())
	assert.Equal(t, types.Pending, requestStatus(t, flow, "test-require-id"))

	assert.Nil(t, flow.runOnce())
	fmt.Printf("store: %v\n", s)
	singlef.assertTrigger(1, 0, 0)
	assert.Equal(t, types.Running, requestStatus(t, flow, "test-require-id"))
	assert.Equal(t, types.TaskSuccess, taskStates(t, flow, "test-require-id")["node1"])

	assert.Nil(t, flow.runOnce())
	singlef.assertTrigger(1, 1, 0)

	assert.Nil(t, flow.runOnce())
	singlef.assertTrigger(1, 1, 1)
	assert.True(t, flow.isRunningEmpty())

	assert.Nil(t, flow.runOnce())
	singlef.assertTrigger(1, 1, 1)

	status, err := flow.GetRequestStatus(ctx, "test-require-id")
	assert.Nil(t, err)
	assert.Equal(t, types.Finished, status.Status)
	assert.Equal(t, "test", status.DAGName)
	assert.Equal(t, map[string]types.TaskState{
		"node1": types.TaskSuccess,
		"node2": types.TaskSuccess,
		"node3": types.TaskSuccess,
	}, status.TaskStates)
	if assert.NotNil(t, status.LastVertexRecord) {
		assert.Equal(t, "node3", status.LastVertexRecord.TaskID)
	}

	value, exists, err := flow.GetXCom(ctx, "test-require-id", "node1", "")
	assert.Nil(t, err)
	assert.True(t, exists)
	assert.Equal(t, map[string]any{"node1": "food for thought"}, value)

	value, exists, err = flow.GetXCom(ctx, "test-require-id", "node2", "extra")
	assert.Nil(t, err)
	assert.True(t, exists)
	assert.Equal(t, float64(7), value)

	_, _, err = flow.GetXCom(ctx, "unknown-id", "node1", "")
	assert.True(t, errors.IsNotFound(err))

	err = flow.RunDAG(ctx, "test", "test-require-id", singleParams())
	assert.True(t, errors.IsAlreadyExists(err))
	assert.True(t, errors.IsNotFound(flow.RunDAG(ctx, "unknown", "test-require-id-2", nil)))
	assert.True(t, errors.IsBadRequest(flow.RunDAG(ctx, "test", "", nil)))

	assert.Nil(t, flow.Close(ctx))
	assert.True(t, errors.IsMethodNotAllowed(flow.RunDAG(ctx, "test", "test-require-id-3", nil)))
}

type branchDAG struct {
	t *testing.T

	selected []string
	ran      map[string]int
}

func newBranchDAG(t *testing.T, selected ...string) *branchDAG {
	return &branchDAG{t: t, selected: selected, ran: map[string]int{}}
}

func (d *branchDAG) task(ctx types.Context, input types.Data) (any, error) {
	d.ran[ctx.GetTaskID()]++
	return ctx.GetTaskID(), nil
}

func (d *branchDAG) pick(ctx types.Context, input types.Data) ([]string, error) {
	d.ran[ctx.GetTaskID()]++
	start, _ := input.GetString("start")
	assert.Equal(d.t, "start", start)
	return d.selected, nil
}

func (d *branchDAG) testDAG(dag types.DAG) error {
	start, err := dag.Task("start", d.task)
	if err != nil {
		return errors.Trace(err)
	}
	pick, err := dag.Branch("pick", d.pick, types.WithArg("start", start))
	if err != nil {
		return errors.Trace(err)
	}
	left, err := dag.Task("left", d.task)
	if err != nil {
		return errors.Trace(err)
	}
	right, err := dag.Task("right", d.task)
	if err != nil {
		return errors.Trace(err)
	}
	if err := pick.Downstream(left, right); err != nil {
		return errors.Trace(err)
	}
	_, err = dag.Task("join", d.task,
		types.DependsOn(left, right),
		types.WithTriggerRule(types.NoneFailedMinOneSuccess))
	return errors.Trace(err)
}

func runUntilEmpty(t *testing.T, f *flow, maxSteps int) int {
	steps := 0
	for !f.isRunningEmpty() {
		require.Less(t, steps, maxSteps)
		require.Nil(t, f.runOnce())
		steps++
	}
	return steps
}

func TestBranchFlow(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())
	branchf := newBranchDAG(t, "right")
	assert.Nil(t, flow.RegisterDAG("branch", branchf.testDAG))

	assert.Nil(t, flow.RunDAG(ctx, "branch", "branch-1", nil))
	assert.Nil(t, flow.runOnce())
	assert.Nil(t, flow.runOnce())
	states := taskStates(t, flow, "branch-1")
	assert.Equal(t, types.TaskSuccess, states["pick"])
	assert.Equal(t, types.TaskSkipped, states["left"])
	assert.Equal(t, types.TaskNone, states["right"])
	assert.Equal(t, types.TaskNone, states["join"])

	assert.Equal(t, 2, runUntilEmpty(t, flow, 10))
	assert.Equal(t, map[string]int{"start": 1, "pick": 1, "right": 1, "join": 1}, branchf.ran)
	assert.Equal(t, types.Finished, requestStatus(t, flow, "branch-1"))

	value, exists, err := flow.GetXCom(ctx, "branch-1", "pick", types.ReturnValueKey)
	assert.Nil(t, err)
	assert.True(t, exists)
	assert.Equal(t, []any{"right"}, value)
	assert.Nil(t, flow.Close(ctx))
}

func TestBranchFlowFollowNothing(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())
	branchf := newBranchDAG(t)
	assert.Nil(t, flow.RegisterDAG("branch", branchf.testDAG))

	assert.Nil(t, flow.RunDAG(ctx, "branch", "branch-1", nil))
	runUntilEmpty(t, flow, 10)
	assert.Equal(t, map[string]types.TaskState{
		"start": types.TaskSuccess,
		"pick":  types.TaskSuccess,
		"left":  types.TaskSkipped,
		"right": types.TaskSkipped,
		"join":  types.TaskSkipped,
	}, taskStates(t, flow, "branch-1"))
	assert.Equal(t, types.Finished, requestStatus(t, flow, "branch-1"))
}

func TestBranchFlowInvalidSelection(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())
	branchf := newBranchDAG(t, "join")
	assert.Nil(t, flow.RegisterDAG("branch", branchf.testDAG))

	assert.Nil(t, flow.RunDAG(ctx, "branch", "branch-1", nil))
	assert.Equal(t, 2, runUntilEmpty(t, flow, 10))

	status, err := flow.GetRequestStatus(ctx, "branch-1")
	assert.Nil(t, err)
	assert.Equal(t, types.Failed, status.Status)
	assert.Contains(t, status.LastError, "not one of its downstream tasks")
	assert.Equal(t, map[string]types.TaskState{
		"start": types.TaskSuccess,
		"pick":  types.TaskFailed,
		"left":  types.TaskUpstreamFailed,
		"right": types.TaskUpstreamFailed,
		"join":  types.TaskUpstreamFailed,
	}, status.TaskStates)
	assert.Zero(t, branchf.ran["join"])
}

type condDAG struct {
	condFlag    bool
	condTrigger int
	ran         map[string]int
}

func (d *condDAG) task(ctx types.Context, input types.Data) (any, error) {
	d.ran[ctx.GetTaskID()]++
	return nil, nil
}

func (d *condDAG) condNode(ctx types.Context, input types.Data) (bool, error) {
	d.condTrigger++
	return d.condFlag, nil
}

func (d *condDAG) testDAG(dag types.DAG) error {
	node1, err := dag.Task("node1", d.task)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := dag.Task("node2", d.task); err != nil {
		return errors.Trace(err)
	}
	if _, err := dag.Task("node3", d.task); err != nil {
		return errors.Trace(err)
	}
	if _, err := dag.Condition("cond", "node2", "node3", d.condNode, types.DependsOn(node1)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func TestCondFlow(t *testing.T) {
	for _, flag := range []bool{true, false} {
		t.Run(fmt.Sprintf("cond=%v", flag), func(t *testing.T) {
			ctx := context.Background()
			flow := newFlow(mem.NewMemStore(), newOptions())
			condf := &condDAG{condFlag: flag, ran: map[string]int{}}
			assert.Nil(t, flow.RegisterDAG("cond", condf.testDAG))

			d, _ := flow.GetDAG("cond")
			assert.Equal(t, []string{"node2", "node3"}, d.Downstream("cond"))
			assert.True(t, errors.IsMethodNotAllowed(d.Edge("cond", "node1")))

			assert.Nil(t, flow.RunDAG(ctx, "cond", "cond-1", nil))
			assert.Equal(t, 3, runUntilEmpty(t, flow, 10))
			assert.Equal(t, 1, condf.condTrigger)

			followed, skipped := "node2", "node3"
			if !flag {
				followed, skipped = skipped, followed
			}
			states := taskStates(t, flow, "cond-1")
			assert.Equal(t, types.TaskSuccess, states[followed])
			assert.Equal(t, types.TaskSkipped, states[skipped])
			assert.Equal(t, 1, condf.ran[followed])
			assert.Zero(t, condf.ran[skipped])
			assert.Equal(t, types.Finished, requestStatus(t, flow, "cond-1"))

			value, exists, err := flow.GetXCom(ctx, "cond-1", "cond", "")
			assert.Nil(t, err)
			assert.True(t, exists)
			assert.Equal(t, flag, value)
		})
	}
}

func TestFanOutFlow(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())

	ran := map[string]int{}
	count := func(ctx types.Context, input types.Data) (any, error) {
		ran[ctx.GetTaskID()]++
		return len(ran), nil
	}
	assert.Nil(t, flow.RegisterDAG("fanout", func(dag types.DAG) error {
		root, err := dag.Task("root", count)
		if err != nil {
			return errors.Trace(err)
		}
		ups := make([]types.TaskHandle, 0, 3)
		for _, id := range []string{"b", "a", "c"} {
			h, err := dag.Task(id, count, types.WithArg("root", root))
			if err != nil {
				return errors.Trace(err)
			}
			ups = append(ups, h)
		}
		_, err = dag.Task("sink", func(ctx types.Context, input types.Data) (any, error) {
			a, _ := input.GetInt("a")
			b, _ := input.GetInt("b")
			c, _ := input.GetInt("c")
			return a + b + c, nil
		}, types.WithArg("a", ups[1]), types.WithArg("b", ups[0]), types.WithArg("c", ups[2]))
		return errors.Trace(err)
	}))

	assert.Nil(t, flow.RunDAG(ctx, "fanout", "fanout-1", nil))
	assert.Equal(t, 3, runUntilEmpty(t, flow, 10))
	assert.Equal(t, map[string]int{"root": 1, "a": 1, "b": 1, "c": 1}, ran)

	// a, b, c run in one step in task id order
	value, _, err := flow.GetXCom(ctx, "fanout-1", "sink", "")
	assert.Nil(t, err)
	assert.Equal(t, float64(2+3+4), value)
}

func TestSkipPropagation(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())

	ok := func(ctx types.Context, input types.Data) (any, error) {
		return nil, nil
	}
	assert.Nil(t, flow.RegisterDAG("skip", func(dag types.DAG) error {
		skipper, err := dag.Task("skipper", func(ctx types.Context, input types.Data) (any, error) {
			return nil, types.NewSkipErrorf("nothing to do")
		})
		if err != nil {
			return errors.Trace(err)
		}
		other, err := dag.Task("other", ok)
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := dag.Task("strict", ok, types.DependsOn(skipper, other)); err != nil {
			return errors.Trace(err)
		}
		if _, err := dag.Task("lenient", ok, types.DependsOn(skipper, other),
			types.WithTriggerRule(types.NoneFailed)); err != nil {
			return errors.Trace(err)
		}
		_, err = dag.Task("cleanup", ok, types.DependsOn(skipper),
			types.WithTriggerRule(types.AllSkipped))
		return errors.Trace(err)
	}))

	assert.Nil(t, flow.RunDAG(ctx, "skip", "skip-1", nil))
	runUntilEmpty(t, flow, 10)
	assert.Equal(t, map[string]types.TaskState{
		"skipper": types.TaskSkipped,
		"other":   types.TaskSuccess,
		"strict":  types.TaskSkipped,
		"lenient": types.TaskSuccess,
		"cleanup": types.TaskSuccess,
	}, taskStates(t, flow, "skip-1"))
	assert.Equal(t, types.Finished, requestStatus(t, flow, "skip-1"))
}

func TestParamsAreNotShared(t *testing.T) {
	ctx := context.Background()
	flow := newFlow(mem.NewMemStore(), newOptions())

	assert.Nil(t, flow.RegisterDAG("params", func(dag types.DAG) error {
		first, err := dag.Task("first", func(ctx types.Context, input types.Data) (any, error) {
			input.Set("key", "changed")
			params := ctx.GetParams()
			params.Set("key", "changed")
			return nil, nil
		})
		if err != nil {
			return errors.Trace(err)
		}
		_, err = dag.Task("second", func(ctx types.Context, input types.Data) (any, error) {
			v, _ := input.GetString("key")
			assert.Equal(t, "origin", v)
			params := ctx.GetParams()
			v, _ = params.GetString("key")
			return v, nil
		}, types.DependsOn(first))
		return errors.Trace(err)
	}))

	params := types.Data{"key": "origin"}
	assert.Nil(t, flow.RunDAG(ctx, "params", "params-1", params))
	params.Set("key", "changed after run")
	runUntilEmpty(t, flow, 10)

	value, _, err := flow.GetXCom(ctx, "params-1", "second", "")
	assert.Nil(t, err)
	assert.Equal(t, "origin", value)
}

func TestListDAGNames(t *testing.T) {
	flow := newFlow(mem.NewMemStore(), newOptions())
	names, err := flow.ListDAGNames()
	assert.Nil(t, err)
	assert.Empty(t, names)

	assert.Nil(t, flow.RegisterDAG("single", (&singleDAG{t: t}).testDAG))
	assert.Nil(t, flow.RegisterDAG("branch", newBranchDAG(t, "left").testDAG))
	names, err = flow.ListDAGNames()
	assert.Nil(t, err)
	assert.Equal(t, []string{"branch", "single"}, names)

	// registering again replaces the DAG
	assert.Nil(t, flow.RegisterDAG("single", newBranchDAG(t, "left").testDAG))
	d, exists := flow.GetDAG("single")
	assert.True(t, exists)
	assert.Equal(t, "single", d.Name())
	assert.Contains(t, d.Tasks(), "pick")

	_, exists = flow.GetDAG("unknown")
	assert.False(t, exists)
}
