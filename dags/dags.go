// Package dags holds the workflow definitions shipped with taskflow.
// Nothing is registered on import, call Register with an engine.
package dags

import (
	"io"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/taskflow/types"
)

// Register registers every DAG of the package, printing task output to out.
func Register(engine types.FlowEngine, out io.Writer) error {
	if err := engine.RegisterDAG(BranchDAGName, Branch(out)); err != nil {
		return errors.Trace(err)
	}
	if err := engine.RegisterDAG(XComDogDAGName, XComDog(out)); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// intArg reads an int input filled from an upstream task, a missing upstream value can not be retried away.
func intArg(input types.Data, name string) (int, error) {
	v, exists := input.Get(name)
	if !exists || v == nil {
		return 0, types.NewFatalError(errors.NotFoundf("input %s", name))
	}
	val, err := cast.ToIntE(v)
	if err != nil {
		return 0, types.NewFatalError(errors.NotValidf("input %s=%v", name, v))
	}
	// values read back from JSON are float64, 2.5 is not an int
	if f, err := cast.ToFloat64E(v); err == nil && f != float64(val) {
		return 0, types.NewFatalError(errors.NotValidf("input %s=%v", name, v))
	}
	return val, nil
}

func dataArg(input types.Data, name string) (types.Data, error) {
	data, exists := input.GetData(name)
	if !exists {
		return nil, types.NewFatalError(errors.NotFoundf("input %s", name))
	}
	return data, nil
}
