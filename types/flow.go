package types

import "context"

type FlowEngine interface {
	RegisterDAG(name string, handler DAGHandler) error
	GetDAG(name string) (DAG, bool)
	/**
	 * RenderDAG will return the DOT string that generate by the DAG given the name.
	 * the name is the same as RegisterDAG parameter.
	 * If error is not nil, then it indicates error happened.
	 */
	RenderDAG(name string) (string, error)

	ListDAGNames() ([]string, error)

	RunDAG(ctx context.Context, dagName string, requestID string, params Data) error

	GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error)
	GetTaskStates(ctx context.Context, requestID string) (map[string]TaskState, error)
	/**
	 * GetXCom returns the deserialized value taskID pushed under key in the request.
	 */
	GetXCom(ctx context.Context, requestID, taskID, key string) (any, bool, error)
	RenderRequestStatus(ctx context.Context, requestID string) (string, error)

	PauseRequest(ctx context.Context, requestID string) error
	ResumeRequest(ctx context.Context, requestID string) error
	TerminateRequest(ctx context.Context, requestID string) error
	/**
	 * close the flowengine, and left all ongoing requests Paused status
	 */
	Close(ctx context.Context) error
	/**
	 * caller self invoking RunOnce, FlowOption.AutoStart should be false.
	 */
	RunOnce() error
	/**
	 * ReloadRequests will load unfinished requests from store.
	 * Notice: requests already loaded (checked by request ID) are reported as AlreadyExists.
	 */
	ReloadRequests(ctx context.Context) (map[string]error, error)
}

type RequestStatus struct {
	DAGName   string
	Status    StatusType
	LastError string

	TaskStates       map[string]TaskState
	LastVertexRecord *TaskTraceRecord
}
