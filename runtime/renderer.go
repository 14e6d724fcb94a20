package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

var stateColors = map[types.TaskState]string{
	types.TaskRunning:        "yellow",
	types.TaskSuccess:        "green",
	types.TaskFailed:         "red",
	types.TaskUpstreamFailed: "red",
	types.TaskSkipped:        "lightgrey",
	types.TaskUpForRetry:     "orange",
}

func (f *flow) renderDOT(plan *dagExecutePlan, states map[string]types.TaskState,
	records map[string]*types.TaskTraceRecord) (string, error) {
	renderer := newDAGRenderer(states, records)
	return renderer.generateDOT(plan)
}

func (f *flow) loadRequestAndRender(ctx context.Context, requestID string) (string, error) {
	plan, reRC, err := f.loadPlan(ctx, requestID)
	if err != nil {
		return "", errors.Trace(err)
	}

	var states map[string]types.TaskState
	if cr := f.batchRunner.get(requestID); cr != nil {
		states = cr.getTaskStates()
	} else if reRC != nil {
		states = reRC.taskStates()
	}

	records, err := f.loadRecords(ctx, requestID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return f.renderDOT(plan, states, records)
}

func newDAGRenderer(states map[string]types.TaskState, records map[string]*types.TaskTraceRecord) *dagRenderer {
	if states == nil {
		states = make(map[string]types.TaskState)
	}
	if records == nil {
		records = make(map[string]*types.TaskTraceRecord)
	}
	return &dagRenderer{states: states, records: records, sb: &strings.Builder{}}
}

type dagRenderer struct {
	states  map[string]types.TaskState
	records map[string]*types.TaskTraceRecord
	sb      *strings.Builder
}

func (d *dagRenderer) generateDOT(plan *dagExecutePlan) (string, error) {
	d.write("digraph D {")
	d.drawDAG(plan.Name+".", plan)
	d.write("label=%s", quoteString(plan.Name))
	d.write("}")
	return d.sb.String(), nil
}

func packToComment(r *types.TaskTraceRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *dagRenderer) calcAttr(name string) string {
	state, exists := d.states[name]
	if !exists || state == types.TaskNone {
		return ""
	}

	attr := fmt.Sprintf(" style=\"filled\" fillcolor=\"%s\" tooltip=%s", stateColors[state], quoteString(state.String()))
	if record, exists := d.records[name]; exists {
		attr += fmt.Sprintf(" comment=\"%s\"", packToComment(record))
	}
	return attr
}

func (d *dagRenderer) drawDAG(prefix string, dag *dagExecutePlan) {
	for _, vertex := range utils.SortedKeys(dag.Vertex) {
		v := dag.Vertex[vertex]
		shape := "record"
		if v.Type == vertexBranch || v.Type == vertexCond {
			shape = "diamond"
		}
		d.write("%s [label=%s shape=\"%s\"%s]", idString(prefix+vertex), quoteString(vertex), shape, d.calcAttr(vertex))
	}

	for _, from := range utils.SortedKeys(dag.Links) {
		v := dag.Vertex[from]
		for _, to := range dag.Links[from] {
			label := ""
			if v != nil && v.Type == vertexCond {
				switch to {
				case v.TrueVertex:
					label = " [label=\"True\"]"
				case v.FalseVertex:
					label = " [label=\"False\"]"
				}
			}
			d.write("%s -> %s%s", idString(prefix+from), idString(prefix+to), label)
		}
	}
}

func (d *dagRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
