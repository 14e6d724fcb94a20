package runtime

import (
	"fmt"
	"slices"

	"github.com/juju/errors"

	"github.com/warriorguo/taskflow/types"
)

var (
	shouldNotReach = errors.New("should not reach here")
)

// nodeRuntime runs the handler of one task. It keeps no per request state.
type nodeRuntime struct {
	name       string
	typ        vertexType
	downstream []string

	handler       types.TaskHandler
	branchHandler types.BranchHandler
	cond          struct {
		handler     types.BooleanHandler
		trueVertex  string
		falseVertex string
	}
}

func newNodeRuntime(v *vertexEntity, info *vertexInfo, downstream []string) *nodeRuntime {
	nr := &nodeRuntime{
		name:          v.name,
		typ:           v.typ,
		downstream:    slices.Clone(downstream),
		handler:       v.handler,
		branchHandler: v.branchHandler,
	}
	nr.cond.handler = v.condHandler
	nr.cond.trueVertex = info.TrueVertex
	nr.cond.falseVertex = info.FalseVertex
	return nr
}

func (n *nodeRuntime) runCond(tc *taskContext, input types.Data) (any, []string, error) {
	boolRet, err := n.cond.handler(tc, input)
	if err != nil {
		return nil, nil, err
	}
	if boolRet {
		return boolRet, []string{n.cond.trueVertex}, nil
	}
	return boolRet, []string{n.cond.falseVertex}, nil
}

func (n *nodeRuntime) runBranch(tc *taskContext, input types.Data) (any, []string, error) {
	follow, err := n.branchHandler(tc, input)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range follow {
		if !slices.Contains(n.downstream, id) {
			return nil, nil, types.NewFatalErrorf("branch %s selected %q which is not one of its downstream tasks %v",
				n.name, id, n.downstream)
		}
	}
	if follow == nil {
		follow = []string{}
	}
	return follow, follow, nil
}

func (n *nodeRuntime) runTask(tc *taskContext, input types.Data) (any, []string, error) {
	output, err := n.handler(tc, input)
	if err != nil {
		return nil, nil, err
	}
	return output, nil, nil
}

// runOnce returns the task output and, for branch and condition tasks, the downstream tasks to follow.
func (n *nodeRuntime) runOnce(tc *taskContext, input types.Data) (output any, follow []string, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = types.NewFatalError(fmt.Errorf("panic on %s: %v", n.name, r))
		}
	}()
	switch n.typ {
	case vertexTask:
		return n.runTask(tc, input)
	case vertexBranch:
		return n.runBranch(tc, input)
	case vertexCond:
		return n.runCond(tc, input)
	}
	return nil, nil, types.NewFatalError(shouldNotReach)
}
