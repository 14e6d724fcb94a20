package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/taskflow/store"
)

var (
	_ store.Store = &memStore{}
)

const keySep = "|"

func NewMemStore() store.Store {
	return NewMemStoreWithErrHandler(defaultNoErr)
}

// NewMemStoreWithErrHandler lets tests inject store failures, errHandler is
// consulted after every operation.
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		m:              make(map[string][]byte),
		mockErrHandler: errHandler,
	}
}

func defaultNoErr() error {
	return nil
}

/**
 * memStore is store implementation based on pure memory, it aims to provide a method for debug & testing
 * NEVER use it in the Production!
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler func() error

	m map[string][]byte
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.m))
	for key := range m.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sb := &strings.Builder{}
	sb.WriteString("\n----------\n")
	for _, key := range keys {
		fmt.Fprintf(sb, "%s: %s\n", key, string(m.m[key]))
	}
	sb.WriteString("----------\n")
	return sb.String()
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return nil, err
	}
	return m.m[prefix+keySep+key], nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.m[prefix+keySep+key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mockErrHandler(); err != nil {
		return err
	}
	delete(m.m, prefix+keySep+key)
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()
	if err := m.mockErrHandler(); err != nil {
		m.mu.Unlock()
		return err
	}

	prefix += keySep
	matchedKeys := make([]string, 0)
	for key := range m.m {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matchedKeys = append(matchedKeys, strings.TrimPrefix(key, prefix))
	}
	m.mu.Unlock()

	sort.Strings(matchedKeys)
	for _, key := range matchedKeys {
		if !iterator(key) {
			break
		}
	}
	return nil
}
