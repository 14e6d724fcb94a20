package dags

import (
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/types"
)

const (
	BranchDAGName = "branch"

	TaskA           = "a"
	TaskB           = "b"
	TaskEqualOne    = "equal_1"
	TaskNotEqualOne = "not_equal_one"
)

func A() int {
	return 1
}

// B picks the task to follow for val.
func B(val int) string {
	if val == 2 {
		return TaskEqualOne
	}
	return TaskNotEqualOne
}

func EqualOne(w io.Writer, val int) {
	fmt.Fprintf(w, "equal to %d\n", val)
}

func NotEqualOne(w io.Writer, val int) {
	fmt.Fprintf(w, "not equal %d\n", val)
}

func printVal(out io.Writer, show func(io.Writer, int)) types.TaskHandler {
	return func(ctx types.Context, input types.Data) (any, error) {
		val, err := intArg(input, "val")
		if err != nil {
			return nil, err
		}
		show(out, val)
		return nil, nil
	}
}

/**
 * Branch builds:
 *
 *	a -> b -> [equal_1, not_equal_one]
 *
 * both leaves also read the value of a. Only the leaf b picks runs,
 * the other one is skipped.
 */
func Branch(out io.Writer) types.DAGHandler {
	return func(dag types.DAG) error {
		a, err := dag.Task(TaskA, func(ctx types.Context, input types.Data) (any, error) {
			return A(), nil
		})
		if err != nil {
			return errors.Trace(err)
		}

		b, err := dag.Branch(TaskB, func(ctx types.Context, input types.Data) ([]string, error) {
			val, err := intArg(input, "val")
			if err != nil {
				return nil, err
			}
			return []string{B(val)}, nil
		}, types.WithArg("val", a))
		if err != nil {
			return errors.Trace(err)
		}

		equalOne, err := dag.Task(TaskEqualOne, printVal(out, EqualOne), types.WithArg("val", a))
		if err != nil {
			return errors.Trace(err)
		}
		notEqualOne, err := dag.Task(TaskNotEqualOne, printVal(out, NotEqualOne), types.WithArg("val", a))
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(b.Downstream(equalOne, notEqualOne))
	}
}
