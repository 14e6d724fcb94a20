package types

const (
	// ReturnValueKey is the inter-task value key a task's returned value is stored under.
	ReturnValueKey = "return_value"
)

// TaskHandle is returned by task registration and is used to wire dependencies.
type TaskHandle interface {
	TaskID() string
	// Downstream adds an edge from this task to each of the given tasks.
	Downstream(tasks ...TaskHandle) error
	// Upstream adds an edge from each of the given tasks to this task.
	Upstream(tasks ...TaskHandle) error
}

type DAG interface {
	Name() string

	Task(id string, handler TaskHandler, options ...TaskOption) (TaskHandle, error)
	Branch(id string, handler BranchHandler, options ...TaskOption) (TaskHandle, error)
	Condition(id, trueTask, falseTask string, handler BooleanHandler, options ...TaskOption) (TaskHandle, error)

	Edge(from, to string) error
	SetDownstream(from string, to ...string) error

	Tasks() []string
	Upstream(id string) []string
	Downstream(id string) []string
}

type DAGHandler func(dag DAG) error
