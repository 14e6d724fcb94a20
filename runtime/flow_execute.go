package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
)

type flowExecute struct {
	ctx    context.Context
	cancel context.CancelFunc

	exitCh  chan struct{}
	running atomic.Bool

	store store.Store

	concurrency  int
	parallel     int
	pollInterval time.Duration
	batchRunner  *batchRunner
}

func (fe *flowExecute) startExecutePlan(cr *contextRunner) error {
	return fe.batchRunner.add(cr.requestID, cr)
}

func (fe *flowExecute) hasExecutePlan(requestID string) bool {
	return fe.batchRunner.exists(requestID)
}

func (fe *flowExecute) runOnce() error {
	return fe.batchRunner.runOnce(fe.ctx, fe.concurrency)
}

func (fe *flowExecute) isRunningEmpty() bool {
	return fe.batchRunner.size() == 0
}

func (fe *flowExecute) setExecutePlanStatus(requestID string, newStatus types.StatusType) error {
	cr := fe.batchRunner.get(requestID)
	if cr == nil {
		return errors.NotFoundf("request ID:%s", requestID)
	}

	return cr.setNextStatus(newStatus)
}

func (fe *flowExecute) getExecutePlanStatus(requestID string) (*types.RequestStatus, bool) {
	cr := fe.batchRunner.get(requestID)
	if cr == nil {
		return nil, false
	}
	return cr.getStatus(), true
}

func (fe *flowExecute) PauseRequest(ctx context.Context, requestID string) error {
	return fe.setExecutePlanStatus(requestID, types.Paused)
}

func (fe *flowExecute) ResumeRequest(ctx context.Context, requestID string) error {
	return fe.setExecutePlanStatus(requestID, types.Retrying)
}

func (fe *flowExecute) TerminateRequest(ctx context.Context, requestID string) error {
	return fe.setExecutePlanStatus(requestID, types.Fatal)
}
