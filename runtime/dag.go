package runtime

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

var (
	_ types.DAG        = &dagEntity{}
	_ types.TaskHandle = &taskHandle{}
)

type vertexType int

const (
	vertexTask   vertexType = 1
	vertexCond   vertexType = 2
	vertexBranch vertexType = 3
)

func (t vertexType) String() string {
	switch t {
	case vertexTask:
		return "task"
	case vertexCond:
		return "condition"
	case vertexBranch:
		return "branch"
	}
	return fmt.Sprintf("vertexType(%d)", int(t))
}

// vertexEntity is the part of a task that can not be serialized: its handler.
type vertexEntity struct {
	name string
	typ  vertexType

	handler       types.TaskHandler
	branchHandler types.BranchHandler
	condHandler   types.BooleanHandler
}

type globalVertex struct {
	mu sync.Mutex

	vertex map[string]*vertexEntity
}

func newGlobalVertex() *globalVertex {
	return &globalVertex{vertex: map[string]*vertexEntity{}}
}

func (gv *globalVertex) formatKey(dagName, vertexName string) string {
	return fmt.Sprintf("%s.%s", dagName, vertexName)
}

// registerDAG replaces every vertex previously registered under dagName.
func (gv *globalVertex) registerDAG(dagName string, entities map[string]*vertexEntity) {
	gv.mu.Lock()
	defer gv.mu.Unlock()

	prefix := dagName + "."
	for key := range gv.vertex {
		if strings.HasPrefix(key, prefix) {
			delete(gv.vertex, key)
		}
	}
	for name, entity := range entities {
		gv.vertex[gv.formatKey(dagName, name)] = entity
	}
}

func (gv *globalVertex) get(dagName, vertexName string) *vertexEntity {
	gv.mu.Lock()
	defer gv.mu.Unlock()

	return gv.vertex[gv.formatKey(dagName, vertexName)]
}

type taskHandle struct {
	id  string
	dag *dagEntity
}

func (h *taskHandle) TaskID() string {
	return h.id
}

func (h *taskHandle) Downstream(tasks ...types.TaskHandle) error {
	for _, t := range tasks {
		if err := h.dag.Edge(h.id, t.TaskID()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (h *taskHandle) Upstream(tasks ...types.TaskHandle) error {
	for _, t := range tasks {
		if err := h.dag.Edge(t.TaskID(), h.id); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

/**
 * dagEntity is the builder handed to a types.DAGHandler.
 * Once built it is sealed, further changes are rejected.
 */
type dagEntity struct {
	dagExecutePlan

	sealed   bool
	entities map[string]*vertexEntity
}

func newDAGEntity(name string) *dagEntity {
	dag := &dagEntity{entities: make(map[string]*vertexEntity)}
	dag.dagExecutePlan.Name = name
	dag.Vertex = make(map[string]*vertexInfo)
	dag.Links = make(map[string][]string)
	return dag
}

func (de *dagEntity) Name() string {
	return de.dagExecutePlan.Name
}

func (de *dagEntity) Task(id string, handler types.TaskHandler, options ...types.TaskOption) (types.TaskHandle, error) {
	if handler == nil {
		return nil, errors.BadRequestf("task:%s handler is nil", id)
	}
	return de.addVertex(id, &vertexEntity{typ: vertexTask, handler: handler}, options)
}

func (de *dagEntity) Branch(id string, handler types.BranchHandler, options ...types.TaskOption) (types.TaskHandle, error) {
	if handler == nil {
		return nil, errors.BadRequestf("branch:%s handler is nil", id)
	}
	return de.addVertex(id, &vertexEntity{typ: vertexBranch, branchHandler: handler}, options)
}

func (de *dagEntity) Condition(id, trueTask, falseTask string, handler types.BooleanHandler, options ...types.TaskOption) (types.TaskHandle, error) {
	if handler == nil {
		return nil, errors.BadRequestf("condition:%s handler is nil", id)
	}
	if _, exists := de.Vertex[trueTask]; !exists {
		return nil, errors.NotFoundf("true task: %v", trueTask)
	}
	if _, exists := de.Vertex[falseTask]; !exists {
		return nil, errors.NotFoundf("false task: %v", falseTask)
	}
	if trueTask == falseTask {
		return nil, errors.BadRequestf("condition:%s true and false task are both %s", id, trueTask)
	}

	h, err := de.addVertex(id, &vertexEntity{typ: vertexCond, condHandler: handler}, options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	info := de.Vertex[id]
	info.TrueVertex = trueTask
	info.FalseVertex = falseTask

	if err := de.SetDownstream(id, trueTask, falseTask); err != nil {
		de.removeVertex(id)
		return nil, errors.Trace(err)
	}
	return h, nil
}

func checkTaskID(id string) error {
	if id == "" {
		return errors.BadRequestf("task id is empty")
	}
	if strings.ContainsAny(id, "|/") {
		return errors.BadRequestf("task id %q contains '|' or '/'", id)
	}
	return nil
}

func (de *dagEntity) addVertex(id string, v *vertexEntity, options []types.TaskOption) (types.TaskHandle, error) {
	if de.sealed {
		return nil, errors.MethodNotAllowedf("DAG %s is already built", de.Name())
	}
	if err := checkTaskID(id); err != nil {
		return nil, errors.Trace(err)
	}
	if _, exists := de.Vertex[id]; exists {
		return nil, errors.AlreadyExistsf("task: %s", id)
	}

	opts := types.NewTaskOptions(options...)
	if !opts.TriggerRule.Valid() {
		return nil, errors.NotValidf("trigger rule %q of task %s", opts.TriggerRule, id)
	}
	if opts.Retries < 0 || opts.RetryDelay < 0 {
		return nil, errors.NotValidf("retries of task %s", id)
	}

	upstream := make([]string, 0, len(opts.Args)+len(opts.Upstream))
	for _, name := range utils.SortedKeys(opts.Args) {
		upstream = append(upstream, opts.Args[name].TaskID)
	}
	upstream = append(upstream, opts.Upstream...)
	upstream = utils.UniqueSlice(upstream)
	for _, up := range upstream {
		if _, exists := de.Vertex[up]; !exists {
			return nil, errors.NotFoundf("upstream task %s of %s", up, id)
		}
	}

	v.name = id
	de.entities[id] = v
	de.Vertex[id] = &vertexInfo{
		Type:        v.typ,
		Args:        opts.Args,
		TriggerRule: opts.TriggerRule,
		Retries:     opts.Retries,
		RetryDelay:  opts.RetryDelay,
	}
	for _, up := range upstream {
		if err := de.Edge(up, id); err != nil {
			de.removeVertex(id)
			return nil, errors.Trace(err)
		}
	}
	return &taskHandle{id: id, dag: de}, nil
}

func (de *dagEntity) removeVertex(id string) {
	delete(de.entities, id)
	delete(de.Vertex, id)
	delete(de.Links, id)
	for from, to := range de.Links {
		de.Links[from] = slices.DeleteFunc(to, func(v string) bool { return v == id })
	}
}

func (de *dagEntity) Edge(from, to string) error {
	if de.sealed {
		return errors.MethodNotAllowedf("DAG %s is already built", de.Name())
	}
	fromInfo, exists := de.Vertex[from]
	if !exists {
		return errors.NotFoundf("from: %v", from)
	}
	if _, exists := de.Vertex[to]; !exists {
		return errors.NotFoundf("to: %v", to)
	}
	if from == to {
		return errors.Forbiddenf("%s -> %s is a self link", from, to)
	}
	if fromInfo.Type == vertexCond && to != fromInfo.TrueVertex && to != fromInfo.FalseVertex {
		return errors.BadRequestf("from: %v can not set edge", from)
	}
	if slices.Contains(de.Links[from], to) {
		return errors.AlreadyExistsf("from %s to %s", from, to)
	}
	if de.reachable(to, from) {
		return errors.Forbiddenf("%s -> %s is linked", to, from)
	}

	links := append(de.Links[from], to)
	slices.Sort(links)
	de.Links[from] = links
	return nil
}

func (de *dagEntity) SetDownstream(from string, to ...string) error {
	for _, t := range to {
		if err := de.Edge(from, t); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (de *dagEntity) Tasks() []string {
	return utils.SortedKeys(de.Vertex)
}

func (de *dagEntity) Upstream(id string) []string {
	return de.upstream()[id]
}

func (de *dagEntity) Downstream(id string) []string {
	return slices.Clone(de.Links[id])
}

// build validates the DAG and seals it.
func (de *dagEntity) build() error {
	if len(de.Vertex) == 0 {
		return errors.BadRequestf("DAG %s has no task", de.Name())
	}
	if _, err := de.topoOrder(); err != nil {
		return errors.Trace(err)
	}
	up := de.upstream()
	for id, info := range de.Vertex {
		for name, ref := range info.Args {
			if !slices.Contains(up[id], ref.TaskID) {
				return errors.NotValidf("arg %s of %s reads %s which is not upstream", name, id, ref.TaskID)
			}
		}
	}
	de.sealed = true
	return nil
}
