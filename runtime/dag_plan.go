package runtime

import (
	"slices"
	"time"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

const (
	DAGPlanPath = "/dag/"
)

type vertexInfo struct {
	Type vertexType `json:",omitempty"`

	TrueVertex  string `json:",omitempty"`
	FalseVertex string `json:",omitempty"`

	Args        map[string]types.XComRef `json:",omitempty"`
	TriggerRule types.TriggerRule        `json:",omitempty"`
	Retries     int                      `json:",omitempty"`
	RetryDelay  time.Duration            `json:",omitempty"`
}

/**
 * dagExecutePlan structure support storeable and also
 * aims to dynamically generates runtime context.
 */
type dagExecutePlan struct {
	Name string `json:",omitempty"`

	Vertex map[string]*vertexInfo `json:",omitempty"`
	/**
	 * Links store relationship of each vertex
	 * if 2 vertex has links `a -> b` and `a -> c`
	 * then in this map `a` would be Key and `[b, c]` would be Value
	 */
	Links map[string][]string `json:",omitempty"`
}

func (dt *dagExecutePlan) upstream() map[string][]string {
	up := make(map[string][]string, len(dt.Vertex))
	for _, from := range utils.SortedKeys(dt.Links) {
		for _, to := range dt.Links[from] {
			up[to] = append(up[to], from)
		}
	}
	return up
}

// reachable reports whether to can be reached from `from` following links.
func (dt *dagExecutePlan) reachable(from, to string) bool {
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v == to {
			return true
		}
		if visited[v] {
			continue
		}
		visited[v] = true
		stack = append(stack, dt.Links[v]...)
	}
	return false
}

// topoOrder returns the vertex in dependency order, ties broken by name.
func (dt *dagExecutePlan) topoOrder() ([]string, error) {
	pending := make(map[string]int, len(dt.Vertex))
	for vertex := range dt.Vertex {
		pending[vertex] = 0
	}
	for from, links := range dt.Links {
		if _, exists := dt.Vertex[from]; !exists {
			return nil, errors.NotFoundf("link from unknown vertex %s", from)
		}
		for _, to := range links {
			if _, exists := dt.Vertex[to]; !exists {
				return nil, errors.NotFoundf("link to unknown vertex %s", to)
			}
			pending[to]++
		}
	}

	queue := make([]string, 0, len(dt.Vertex))
	for _, vertex := range utils.SortedKeys(pending) {
		if pending[vertex] == 0 {
			queue = append(queue, vertex)
		}
	}

	order := make([]string, 0, len(dt.Vertex))
	for len(queue) > 0 {
		vertex := queue[0]
		queue = queue[1:]
		order = append(order, vertex)

		released := make([]string, 0)
		for _, next := range dt.Links[vertex] {
			if pending[next]--; pending[next] == 0 {
				released = append(released, next)
			}
		}
		slices.Sort(released)
		queue = append(queue, released...)
		slices.Sort(queue)
	}

	if len(order) != len(dt.Vertex) {
		return nil, errors.Forbiddenf("DAG %s has a cycle", dt.Name)
	}
	return order, nil
}

func (dt *dagExecutePlan) leaves() []string {
	leaves := make([]string, 0)
	for _, vertex := range utils.SortedKeys(dt.Vertex) {
		if len(dt.Links[vertex]) == 0 {
			leaves = append(leaves, vertex)
		}
	}
	return leaves
}

func (dt *dagExecutePlan) generateRuntime(gl *globalVertex) (*dagRuntime, error) {
	order, err := dt.topoOrder()
	if err != nil {
		return nil, errors.Trace(err)
	}

	rt := newDAGRuntime(dt, order)
	for _, vertex := range order {
		info := dt.Vertex[vertex]
		v := gl.get(dt.Name, vertex)
		if v == nil {
			return nil, errors.NotFoundf("dag:%s vertex:%s", dt.Name, vertex)
		}
		if v.typ != info.Type {
			return nil, errors.Errorf("unexpected unmatch type:%v!=%v on %s.%s", v.typ, info.Type, dt.Name, vertex)
		}
		rt.nodes[vertex] = newNodeRuntime(v, info, dt.Links[vertex])
	}
	return rt, nil
}
