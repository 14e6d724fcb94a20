package runtime

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/store"
	"github.com/warriorguo/taskflow/types"
	"github.com/warriorguo/taskflow/utils"
)

const (
	XComPath = "/xcom/"

	xcomKeySep = "|"
)

// xcomStore keeps the values tasks of one request hand to each other.
// Values always round trip through JSON so a reader never shares memory with the producer.
type xcomStore struct {
	store     store.Store
	requestID string
}

func xcomSavePath(requestID string) string {
	return XComPath + requestID
}

func xcomKey(taskID, key string) string {
	return taskID + xcomKeySep + key
}

func newXComStore(store store.Store, requestID string) *xcomStore {
	return &xcomStore{store: store, requestID: requestID}
}

func (x *xcomStore) push(ctx context.Context, taskID, key string, value any) error {
	b, err := utils.Serialize(value)
	if err != nil {
		return types.NewFatalError(errors.Annotatef(err, "xcom %s of %s is not serializable", key, taskID))
	}
	return errors.Trace(x.store.Set(ctx, xcomSavePath(x.requestID), xcomKey(taskID, key), b))
}

func (x *xcomStore) pull(ctx context.Context, taskID, key string) (any, bool, error) {
	b, err := x.store.Get(ctx, xcomSavePath(x.requestID), xcomKey(taskID, key))
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	if b == nil {
		return nil, false, nil
	}
	var value any
	if err := utils.Unserialize(b, &value); err != nil {
		return nil, false, errors.Annotatef(err, "xcom %s of %s", key, taskID)
	}
	return value, true, nil
}

// clear drops everything taskID pushed, so a retried task starts clean.
func (x *xcomStore) clear(ctx context.Context, taskID string) error {
	path := xcomSavePath(x.requestID)
	prefix := taskID + xcomKeySep

	keys := make([]string, 0)
	err := x.store.List(ctx, path, func(key string) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, key := range keys {
		if err := x.store.Remove(ctx, path, key); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
