package runtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

func NewFlowEngine(store store.Store, opts *types.FlowOptions) types.FlowEngine {
	flow := newFlow(store, opts)
	return flow
}

type flow struct {
	flowExecute

	gl *globalVertex

	dagMu       sync.Mutex
	dagEntities map[string]*dagEntity
}

func newFlow(store store.Store, opts *types.FlowOptions) *flow {
	f := &flow{}
	f.ctx, f.cancel = context.WithCancel(opts.Ctx)
	f.store = store
	f.running.Store(true)
	f.batchRunner = newBatchRunner(opts.MaxNodeConcurrency, opts.TaskRunAsync)
	f.concurrency = opts.MaxNodeConcurrency
	f.parallel = 1
	if opts.TaskRunAsync {
		f.parallel = opts.MaxActiveTasks
	}
	f.pollInterval = opts.PollInterval
	f.gl = newGlobalVertex()
	f.dagEntities = make(map[string]*dagEntity)

	if opts.AutoStart {
		f.asyncRun()
	}
	return f
}

func (f *flow) asyncRun() {
	f.exitCh = make(chan struct{})

	go func() {
		defer close(f.exitCh)

		for f.running.Load() {
			if err := f.runOnce(); err != nil {
				log.Errorf("run once failed: %v", err)
			}
			time.Sleep(f.pollInterval)
		}
	}()
}

func checkName(kind, name string) error {
	if name == "" {
		return errors.BadRequestf("%s is empty", kind)
	}
	if strings.ContainsAny(name, "|/") {
		return errors.BadRequestf("%s %q contains '|' or '/'", kind, name)
	}
	return nil
}

// RegisterDAG builds the DAG with handler, registering a name again replaces the previous DAG.
func (f *flow) RegisterDAG(name string, handler types.DAGHandler) error {
	if !f.running.Load() {
		return errors.MethodNotAllowedf("not running")
	}
	if err := checkName("DAG name", name); err != nil {
		return errors.Trace(err)
	}
	if handler == nil {
		return errors.BadRequestf("DAG %s handler is nil", name)
	}

	dag := newDAGEntity(name)
	if err := handler(dag); err != nil {
		return errors.Annotatef(err, "DAG %s", name)
	}
	if err := dag.build(); err != nil {
		return errors.Annotatef(err, "DAG %s", name)
	}

	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	f.gl.registerDAG(name, dag.entities)
	f.dagEntities[name] = dag
	log.Debugf("DAG %s registered with tasks %v", name, dag.Tasks())
	return nil
}

func (f *flow) GetDAG(name string) (types.DAG, bool) {
	dag, exists := f.getDAG(name)
	if !exists {
		return nil, false
	}
	return dag, true
}

func (f *flow) RenderDAG(name string) (string, error) {
	dag, exists := f.getDAG(name)
	if !exists {
		return "", errors.NotFoundf("DAG name: %s", name)
	}
	return f.renderDOT(&dag.dagExecutePlan, nil, nil)
}

func (f *flow) RenderRequestStatus(ctx context.Context, requestID string) (string, error) {
	return f.loadRequestAndRender(ctx, requestID)
}

func (f *flow) GetRequestStatus(ctx context.Context, requestID string) (*types.RequestStatus, error) {
	if status, exists := f.getExecutePlanStatus(requestID); exists {
		return status, nil
	}

	reRC, err := f.loadRunContext(ctx, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if reRC == nil {
		return nil, errors.NotFoundf("request id: %s", requestID)
	}
	records, err := f.loadRecords(ctx, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &types.RequestStatus{
		DAGName:          reRC.DAGName,
		Status:           reRC.Status,
		LastError:        reRC.LastError,
		TaskStates:       reRC.taskStates(),
		LastVertexRecord: latestRecord(records),
	}, nil
}

func (f *flow) GetTaskStates(ctx context.Context, requestID string) (map[string]types.TaskState, error) {
	if cr := f.batchRunner.get(requestID); cr != nil {
		return cr.getTaskStates(), nil
	}

	reRC, err := f.loadRunContext(ctx, requestID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if reRC == nil {
		return nil, errors.NotFoundf("request id: %s", requestID)
	}
	return reRC.taskStates(), nil
}

func (f *flow) GetXCom(ctx context.Context, requestID, taskID, key string) (any, bool, error) {
	if key == "" {
		key = types.ReturnValueKey
	}
	if !f.hasExecutePlan(requestID) {
		reRC, err := f.loadRunContext(ctx, requestID)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if reRC == nil {
			return nil, false, errors.NotFoundf("request id: %s", requestID)
		}
	}
	return newXComStore(f.store, requestID).pull(ctx, taskID, key)
}

func (f *flow) ListDAGNames() ([]string, error) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()

	return utils.SortedKeys(f.dagEntities), nil
}

func (f *flow) getDAG(name string) (*dagEntity, bool) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	dag, exists := f.dagEntities[name]
	return dag, exists
}

// reloadPlans resumes every unfinished request found in the store.
func (f *flow) reloadPlans(ctx context.Context) (map[string]error, error) {
	requestIDs := make([]string, 0)
	err := f.store.List(ctx, RunContextPath, func(requestID string) bool {
		requestIDs = append(requestIDs, requestID)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	errs := make(map[string]error)
	for _, requestID := range requestIDs {
		resumed, err := f.rerunPlan(ctx, requestID)
		if err != nil {
			errs[requestID] = errors.Trace(err)
		} else if resumed {
			errs[requestID] = nil
		}
	}
	if len(errs) == 0 {
		errs = nil
	}
	return errs, nil
}

func (f *flow) rerunPlan(ctx context.Context, requestID string) (resumed bool, retErr error) {
	if err := f.batchRunner.reserve(requestID); err != nil {
		return false, errors.AlreadyExistsf("request already running: %s", requestID)
	}
	defer func() {
		if !resumed {
			f.batchRunner.release(requestID)
		}
	}()

	plan, reRC, err := f.loadPlan(ctx, requestID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if reRC == nil {
		return false, errors.NotFoundf("rerun context: %s", requestID)
	}
	if reRC.Status.IsTerminal() {
		return false, nil
	}

	log.Infof("resume request %s of DAG %s from %v", requestID, plan.Name, reRC.Status)
	if err := f.launchDAG(ctx, plan, requestID, reRC.Params, reRC, nil); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (f *flow) RunDAG(ctx context.Context, dagName string, requestID string, params types.Data) error {
	if !f.running.Load() {
		return errors.MethodNotAllowedf("not running")
	}
	if err := checkName("request id", requestID); err != nil {
		return errors.Trace(err)
	}
	dag, exists := f.getDAG(dagName)
	if !exists {
		return errors.NotFoundf("DAG name: %s", dagName)
	}
	if err := f.batchRunner.reserve(requestID); err != nil {
		return errors.AlreadyExistsf("request id: %s", requestID)
	}
	launched := false
	defer func() {
		if !launched {
			f.batchRunner.release(requestID)
		}
	}()

	reRC, err := f.loadRunContext(ctx, requestID)
	if err != nil {
		return errors.Trace(err)
	}
	if reRC != nil {
		return errors.AlreadyExistsf("request id: %s", requestID)
	}

	plan := &dag.dagExecutePlan
	planSaved := false
	err = f.launchDAG(ctx, plan, requestID, params, nil, func(cr *contextRunner) error {
		if err := f.savePlan(ctx, requestID, plan); err != nil {
			return errors.Trace(err)
		}
		planSaved = true
		return errors.Trace(cr.saveContext(ctx))
	})
	if err != nil {
		// only this call wrote the plan, the request id is still reserved
		if planSaved {
			if lerr := f.removePlan(context.Background(), requestID); lerr != nil {
				err = errors.Wrapf(err, lerr, "remove plan %s failed after launch DAG", requestID)
			}
		}
		return errors.Trace(err)
	}
	launched = true
	return nil
}

// launchDAG hands the runner to the batch runner, the caller must have reserved requestID.
func (f *flow) launchDAG(ctx context.Context, plan *dagExecutePlan, requestID string, params types.Data,
	reRC *flowRerunContext, preRunHandler func(*contextRunner) error) error {
	dr, err := plan.generateRuntime(f.gl)
	if err != nil {
		return errors.Trace(err)
	}
	if reRC != nil {
		if err := dr.restore(reRC.Tasks); err != nil {
			return errors.Trace(err)
		}
	}

	cr := newContextRunner(f.store, requestID, dr, params, f.parallel)
	if reRC != nil && reRC.LastError != "" {
		cr.lastErr = errors.New(reRC.LastError)
	}
	if preRunHandler != nil {
		if err := preRunHandler(cr); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(f.startExecutePlan(cr))
}

// Close stops the background loop and leaves every unfinished request Paused.
func (f *flow) Close(ctx context.Context) error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}

	if f.exitCh != nil {
		<-f.exitCh
	}
	f.cancel()

	return f.batchRunner.stopWait(ctx)
}

func (f *flow) RunOnce() error {
	return f.runOnce()
}
