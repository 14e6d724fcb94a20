package dags

import (
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/types"
)

const (
	XComDogDAGName = "xcom_dog"

	TaskT1 = "t1"
	TaskT2 = "t2"
)

func T1() types.Data {
	return types.Data{
		"my_sentence": "Hello, World",
		"my_val":      42,
	}
}

// T2 prints the sentence then the value of data, one per line.
func T2(w io.Writer, data types.Data) error {
	sentence, exists := data.Get("my_sentence")
	if !exists {
		return errors.NotFoundf("my_sentence")
	}
	val, exists := data.Get("my_val")
	if !exists {
		return errors.NotFoundf("my_val")
	}
	if _, err := fmt.Fprintln(w, sentence); err != nil {
		return errors.Trace(err)
	}
	_, err := fmt.Fprintln(w, val)
	return errors.Trace(err)
}

// XComDog builds t1 -> t2, t2 reads the mapping t1 returned.
func XComDog(out io.Writer) types.DAGHandler {
	return func(dag types.DAG) error {
		t1, err := dag.Task(TaskT1, func(ctx types.Context, input types.Data) (any, error) {
			return T1(), nil
		})
		if err != nil {
			return errors.Trace(err)
		}

		_, err = dag.Task(TaskT2, func(ctx types.Context, input types.Data) (any, error) {
			data, err := dataArg(input, "data")
			if err != nil {
				return nil, err
			}
			if err := T2(out, data); err != nil {
				return nil, types.NewFatalError(err)
			}
			return nil, nil
		}, types.WithArg("data", t1))
		return errors.Trace(err)
	}
}
