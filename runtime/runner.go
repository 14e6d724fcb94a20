package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

const (
	RunContextPath = "/run_context/"
)

func newBatchRunner(concurrency int, asyncFlag bool) *batchRunner {
	return &batchRunner{
		wp:        workerpool.New(concurrency),
		asyncFlag: asyncFlag,
	}
}

type batchRunner struct {
	mu sync.Mutex

	wp        *workerpool.WorkerPool
	asyncFlag bool
	runners   map[string]*contextRunner
	// keys being launched, not runnable yet
	reserved map[string]struct{}
}

func (b *batchRunner) exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, exists := b.runners[key]
	_, reserved := b.reserved[key]
	return exists || reserved
}

// reserve claims key until add or release is called with it.
func (b *batchRunner) reserve(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runners[key]; exists {
		return errors.AlreadyExistsf("key: %s", key)
	}
	if _, exists := b.reserved[key]; exists {
		return errors.AlreadyExistsf("key: %s", key)
	}
	if b.reserved == nil {
		b.reserved = make(map[string]struct{})
	}
	b.reserved[key] = struct{}{}
	return nil
}

func (b *batchRunner) release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.reserved, key)
}

func (b *batchRunner) get(key string) *contextRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.runners[key]
}

func (b *batchRunner) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.runners)
}

func (b *batchRunner) add(key string, r *contextRunner) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runners == nil {
		b.runners = make(map[string]*contextRunner)
	}
	if _, exists := b.runners[key]; exists {
		return errors.AlreadyExistsf("key: %s", key)
	}
	delete(b.reserved, key)
	b.runners[key] = r
	return nil
}

// stopWait waits the submitted steps and leaves every unfinished request Paused.
func (b *batchRunner) stopWait(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wp.StopWait()

	var retErr error
	for _, key := range utils.SortedKeys(b.runners) {
		err := b.runners[key].pause(ctx)
		if err != nil {
			retErr = errors.Wrapf(retErr, err, "failed on %s", key)
		}
	}
	return retErr
}

func (b *batchRunner) runOnce(ctx context.Context, maxRunAmount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.runners) == 0 {
		return nil
	}

	runAmount := 0
	for _, key := range utils.SortedKeys(b.runners) {
		r := b.runners[key]
		if !r.canRun(ctx) {
			continue
		}
		if runAmount++; runAmount > maxRunAmount {
			break
		}

		var err error
		if b.asyncFlag {
			err = errors.Trace(r.tryAsyncRunOnce(ctx, b.wp))
		} else {
			err = errors.Trace(r.runOnce(ctx))
		}
		if err != nil {
			return errors.Annotatef(err, "request %s", key)
		}
	}

	keyToRemoved := make([]string, 0, len(b.runners))
	for key, r := range b.runners {
		if r.tryCheckCanRemove() {
			keyToRemoved = append(keyToRemoved, key)
		}
	}
	for _, key := range keyToRemoved {
		delete(b.runners, key)
	}
	return nil
}

// contextRunner drives one request of a DAG, one step per runOnce.
type contextRunner struct {
	mu    sync.Mutex
	store store.Store

	errMu sync.Mutex
	errCh chan error

	requestID string
	dagName   string
	params    types.Data
	parallel  int

	dr   *dagRuntime
	xcom *xcomStore

	runningStatus types.StatusType
	lastErr       error
	lastRecord    *types.TaskTraceRecord
	// the stored run context is behind the in-memory one
	unsaved bool

	nextStatusMu sync.Mutex
	nextStatus   types.StatusType
}

type flowRerunContext struct {
	DAGName   string                   `json:",omitempty"`
	Status    types.StatusType         `json:",omitempty"`
	Params    types.Data               `json:",omitempty"`
	Tasks     map[string]*taskInstance `json:",omitempty"`
	LastError string                   `json:",omitempty"`
}

func newContextRunner(store store.Store, requestID string, dr *dagRuntime, params types.Data, parallel int) *contextRunner {
	if parallel < 1 {
		parallel = 1
	}
	cr := &contextRunner{}
	cr.store = store
	cr.requestID = requestID
	cr.dagName = dr.plan.Name
	cr.params = params.Clone()
	cr.parallel = parallel
	cr.dr = dr
	cr.xcom = newXComStore(store, requestID)
	cr.runningStatus = types.Pending
	return cr
}

func (r *contextRunner) exportRerunContext() *flowRerunContext {
	rerunC := &flowRerunContext{
		DAGName: r.dagName,
		Status:  r.runningStatus,
		Params:  r.params,
		Tasks:   r.dr.export(),
	}
	if r.lastErr != nil {
		rerunC.LastError = r.lastErr.Error()
	}
	return rerunC
}

func (r *contextRunner) saveContext(ctx context.Context) error {
	b, err := utils.Serialize(r.exportRerunContext())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, RunContextPath, r.requestID, b))
}

// persist saves the run context and remembers a failure so the next step saves it again.
func (r *contextRunner) persist(ctx context.Context) error {
	err := r.saveContext(ctx)
	r.unsaved = err != nil
	return errors.Trace(err)
}

func (r *contextRunner) setNextStatus(status types.StatusType) error {
	r.nextStatusMu.Lock()
	defer r.nextStatusMu.Unlock()

	currentStatus := r.runningStatus
	if !canSetStatus(currentStatus, status) {
		return errors.Forbiddenf("unsupport to set status from %v to %v",
			currentStatus, status)
	}
	r.nextStatus = status
	return nil
}

func canSetStatus(currentStatus, status types.StatusType) bool {
	switch status {
	case types.Paused, types.Retrying:
		return currentStatus == types.Pending ||
			currentStatus == types.Retrying ||
			currentStatus == types.Paused ||
			currentStatus == types.Running

	case types.Fatal:
		return !currentStatus.IsTerminal()

	default:
		return false
	}
}

// assignNextStatus applies the status asked by Pause/Resume/Terminate, it reports whether the status changed.
func (r *contextRunner) assignNextStatus() bool {
	r.nextStatusMu.Lock()
	defer r.nextStatusMu.Unlock()

	if r.nextStatus == types.None {
		return false
	}
	defer func() { r.nextStatus = types.None }()

	currentStatus := r.runningStatus
	if !canSetStatus(currentStatus, r.nextStatus) {
		log.Errorf("%s failed to set status from %v to %v", r.requestID, currentStatus, r.nextStatus)
		return false
	}
	r.runningStatus = r.nextStatus
	return currentStatus != r.nextStatus
}

func (r *contextRunner) canRun(ctx context.Context) bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	if r.assignNextStatus() || r.unsaved {
		if err := r.persist(ctx); err != nil {
			log.Errorf("%s failed to save context: %v", r.requestID, err)
		}
	}

	return r.runningStatus == types.Pending ||
		r.runningStatus == types.Running ||
		r.runningStatus == types.Retrying
}

func (r *contextRunner) tryCheckCanRemove() bool {
	if !r.mu.TryLock() {
		return false
	}
	defer r.mu.Unlock()

	return r.runningStatus.IsTerminal() && !r.unsaved
}

func (r *contextRunner) tryAsyncRunOnce(ctx context.Context, wp *workerpool.WorkerPool) error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	if r.errCh == nil {
		r.errCh = make(chan error, 1)
		wp.Submit(func() {
			r.errCh <- r.runOnce(ctx)
		})
	}

	select {
	case err := <-r.errCh:
		close(r.errCh)
		r.errCh = nil
		return errors.Trace(err)
	default:
		return nil
	}
}

func (r *contextRunner) pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningStatus.IsTerminal() {
		return nil
	}
	r.runningStatus = types.Paused
	return errors.Trace(r.persist(ctx))
}

func (r *contextRunner) runOnce(ctx context.Context) error {
	if !r.canRun(ctx) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	ready := r.dr.schedule(now)
	if len(ready) == 0 {
		if !r.dr.finished() {
			return nil
		}
		r.runningStatus = r.dr.outcome()
		return errors.Trace(r.persist(ctx))
	}

	r.runningStatus = types.Running
	for _, id := range ready {
		r.dr.markRunning(id)
	}

	pause := false
	for _, res := range r.runTasks(ctx, ready) {
		if r.dr.complete(res, time.Now()) {
			pause = true
		}
		if res.err != nil {
			r.lastErr = res.err
		}
		r.lastRecord = newTaskRecord(res, r.dr.tasks[res.id].State)
		saveRecord(ctx, r.store, r.requestID, r.lastRecord)
	}
	r.dr.propagate()

	switch {
	case pause:
		r.runningStatus = types.Paused
	case r.dr.finished():
		r.runningStatus = r.dr.outcome()
	case r.dr.retrying():
		r.runningStatus = types.Retrying
	}

	r.assignNextStatus()
	return errors.Trace(r.persist(ctx))
}

// runTasks runs the ready tasks of one step, results keep the order of ready.
func (r *contextRunner) runTasks(ctx context.Context, ready []string) []*taskResult {
	results := make([]*taskResult, len(ready))
	if r.parallel <= 1 || len(ready) == 1 {
		for i, id := range ready {
			results[i] = r.runTask(ctx, id)
		}
		return results
	}

	g := &errgroup.Group{}
	g.SetLimit(r.parallel)
	for i, id := range ready {
		i, id := i, id
		g.Go(func() error {
			results[i] = r.runTask(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *contextRunner) runTask(ctx context.Context, id string) *taskResult {
	try := r.dr.tasks[id].Try
	res := &taskResult{id: id, try: try, startTime: time.Now()}
	logger := log.WithFields(log.Fields{
		"request": r.requestID,
		"dag":     r.dagName,
		"task":    id,
		"try":     try,
	})
	logger.Debugf("task running")

	tc := newTaskContext(ctx, r.xcom, id, try, r.params)
	res.input, res.err = r.prepare(tc, id)
	if res.err != nil {
		// the handler never ran, retry it whatever its retries are
		res.err = types.NewRetryError(res.err, r.dr.plan.Vertex[id].RetryDelay)
	} else {
		res.output, res.follow, res.err = r.dr.nodes[id].runOnce(tc, res.input)
	}
	if res.err == nil && res.output != nil {
		res.err = r.xcom.push(tc, id, types.ReturnValueKey, res.output)
	}
	res.endTime = time.Now()

	if res.err != nil {
		logger.Infof("task failed after %v: %v", res.endTime.Sub(res.startTime), res.err)
	} else {
		logger.Debugf("task done after %v", res.endTime.Sub(res.startTime))
	}
	return res
}

func (r *contextRunner) prepare(ctx context.Context, id string) (types.Data, error) {
	if err := r.xcom.clear(ctx, id); err != nil {
		return nil, errors.Annotatef(err, "clear xcom of %s", id)
	}
	return r.resolveInput(ctx, id)
}

// resolveInput overlays the params of the request with the args pulled from upstream tasks.
func (r *contextRunner) resolveInput(ctx context.Context, id string) (types.Data, error) {
	input := r.params.Clone()
	args := r.dr.plan.Vertex[id].Args
	for _, name := range utils.SortedKeys(args) {
		ref := args[name]
		value, _, err := r.xcom.pull(ctx, ref.TaskID, ref.Key)
		if err != nil {
			return nil, errors.Annotatef(err, "arg %s of %s", name, id)
		}
		input[name] = value
	}
	return input, nil
}

func (r *contextRunner) getStatus() *types.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := &types.RequestStatus{
		DAGName:          r.dagName,
		Status:           r.runningStatus,
		TaskStates:       r.dr.states(),
		LastVertexRecord: r.lastRecord,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

func (r *contextRunner) getTaskStates() map[string]types.TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dr.states()
}
