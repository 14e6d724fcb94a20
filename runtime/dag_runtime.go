package runtime

import (
	"slices"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/types"
)

// taskInstance is the storeable state of one task in one request.
type taskInstance struct {
	State     types.TaskState `json:",omitempty"`
	Try       int             `json:",omitempty"`
	NextRunAt time.Time
	Error     string `json:",omitempty"`
}

type triggerDecision int

const (
	triggerWait           triggerDecision = 0
	triggerRun            triggerDecision = 1
	triggerSkip           triggerDecision = 2
	triggerUpstreamFailed triggerDecision = 3
)

// taskResult is what running a task produced, applied to the dagRuntime by the runner.
type taskResult struct {
	id        string
	try       int
	input     types.Data
	output    any
	follow    []string
	err       error
	startTime time.Time
	endTime   time.Time
}

type dagRuntime struct {
	plan     *dagExecutePlan
	order    []string
	upstream map[string][]string
	leaves   []string

	nodes map[string]*nodeRuntime
	tasks map[string]*taskInstance
}

func newDAGRuntime(plan *dagExecutePlan, order []string) *dagRuntime {
	dr := &dagRuntime{
		plan:     plan,
		order:    order,
		upstream: plan.upstream(),
		leaves:   plan.leaves(),
		nodes:    make(map[string]*nodeRuntime, len(order)),
		tasks:    make(map[string]*taskInstance, len(order)),
	}
	for _, vertex := range order {
		dr.tasks[vertex] = &taskInstance{}
	}
	return dr
}

// restore loads task states saved by a previous process. Tasks that were
// running when it stopped are run again.
func (d *dagRuntime) restore(saved map[string]*taskInstance) error {
	for vertex, ti := range saved {
		if _, exists := d.tasks[vertex]; !exists {
			return errors.NotFoundf("saved task %s in DAG %s", vertex, d.plan.Name)
		}
		restored := *ti
		if restored.State == types.TaskRunning {
			restored.State = types.TaskNone
			restored.Try--
		}
		d.tasks[vertex] = &restored
	}
	return nil
}

func (d *dagRuntime) export() map[string]*taskInstance {
	exported := make(map[string]*taskInstance, len(d.tasks))
	for vertex, ti := range d.tasks {
		c := *ti
		exported[vertex] = &c
	}
	return exported
}

func (d *dagRuntime) states() map[string]types.TaskState {
	states := make(map[string]types.TaskState, len(d.tasks))
	for vertex, ti := range d.tasks {
		states[vertex] = ti.State
	}
	return states
}

func (d *dagRuntime) evaluate(vertex string) triggerDecision {
	ups := d.upstream[vertex]
	if len(ups) == 0 {
		return triggerRun
	}

	var success, skipped, failed, done int
	for _, up := range ups {
		state := d.tasks[up].State
		switch {
		case state == types.TaskSuccess:
			success++
		case state == types.TaskSkipped:
			skipped++
		case state.IsFailure():
			failed++
		}
		if state.IsFinished() {
			done++
		}
	}
	allDone := done == len(ups)

	switch d.plan.Vertex[vertex].TriggerRule {
	case types.AllDone:
		if allDone {
			return triggerRun
		}
	case types.AllSkipped:
		if success > 0 || failed > 0 {
			return triggerSkip
		}
		if allDone {
			return triggerRun
		}
	case types.OneSuccess:
		if success > 0 {
			return triggerRun
		}
		if allDone {
			if failed > 0 {
				return triggerUpstreamFailed
			}
			return triggerSkip
		}
	case types.NoneFailed:
		if failed > 0 {
			return triggerUpstreamFailed
		}
		if allDone {
			return triggerRun
		}
	case types.NoneFailedMinOneSuccess:
		if failed > 0 {
			return triggerUpstreamFailed
		}
		if allDone {
			if success > 0 {
				return triggerRun
			}
			return triggerSkip
		}
	default:
		if failed > 0 {
			return triggerUpstreamFailed
		}
		if skipped > 0 {
			return triggerSkip
		}
		if success == len(ups) {
			return triggerRun
		}
	}
	return triggerWait
}

// propagate settles skipped and upstream_failed tasks. The order is topological
// so a single pass reaches every descendant.
func (d *dagRuntime) propagate() {
	for _, vertex := range d.order {
		ti := d.tasks[vertex]
		if ti.State != types.TaskNone {
			continue
		}
		switch d.evaluate(vertex) {
		case triggerSkip:
			ti.State = types.TaskSkipped
		case triggerUpstreamFailed:
			ti.State = types.TaskUpstreamFailed
		}
	}
}

// schedule returns the tasks that may run at now, in topological order.
func (d *dagRuntime) schedule(now time.Time) []string {
	d.propagate()

	ready := make([]string, 0)
	for _, vertex := range d.order {
		ti := d.tasks[vertex]
		switch ti.State {
		case types.TaskNone:
			if d.evaluate(vertex) == triggerRun {
				ready = append(ready, vertex)
			}
		case types.TaskUpForRetry:
			if !now.Before(ti.NextRunAt) {
				ready = append(ready, vertex)
			}
		}
	}
	return ready
}

func (d *dagRuntime) markRunning(vertex string) {
	ti := d.tasks[vertex]
	ti.State = types.TaskRunning
	ti.Try++
	ti.Error = ""
}

// complete applies a task result and reports whether the request should pause.
func (d *dagRuntime) complete(res *taskResult, now time.Time) bool {
	ti := d.tasks[res.id]
	info := d.plan.Vertex[res.id]

	if res.err == nil {
		ti.State = types.TaskSuccess
		if info.Type == vertexBranch || info.Type == vertexCond {
			d.skipUnselected(res.id, res.follow)
		}
		return false
	}

	ti.Error = res.err.Error()

	var (
		skipErr  *types.SkipError
		fatalErr *types.FatalError
		pauseErr *types.PauseError
		retryErr *types.RetryError
	)
	switch {
	case errors.As(res.err, &skipErr):
		ti.State = types.TaskSkipped
	case errors.As(res.err, &fatalErr):
		ti.State = types.TaskFailed
	case errors.As(res.err, &pauseErr):
		ti.State = types.TaskNone
		ti.Try--
		return true
	case errors.As(res.err, &retryErr):
		ti.State = types.TaskUpForRetry
		ti.NextRunAt = now.Add(retryErr.Backoff)
	case ti.Try <= info.Retries:
		ti.State = types.TaskUpForRetry
		ti.NextRunAt = now.Add(info.RetryDelay)
	default:
		ti.State = types.TaskFailed
	}
	return false
}

func (d *dagRuntime) skipUnselected(vertex string, follow []string) {
	for _, next := range d.plan.Links[vertex] {
		if slices.Contains(follow, next) {
			continue
		}
		if ti := d.tasks[next]; ti.State == types.TaskNone {
			log.Debugf("%s.%s not selected by %s, skipped", d.plan.Name, next, vertex)
			ti.State = types.TaskSkipped
		}
	}
}

func (d *dagRuntime) finished() bool {
	for _, ti := range d.tasks {
		if !ti.State.IsFinished() {
			return false
		}
	}
	return true
}

// outcome is Failed when any leaf task failed, otherwise Finished.
func (d *dagRuntime) outcome() types.StatusType {
	for _, leaf := range d.leaves {
		if d.tasks[leaf].State.IsFailure() {
			return types.Failed
		}
	}
	return types.Finished
}

func (d *dagRuntime) retrying() bool {
	for _, ti := range d.tasks {
		if ti.State == types.TaskUpForRetry {
			return true
		}
	}
	return false
}
