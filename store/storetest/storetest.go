// Package storetest holds the behaviour every store.Store implementation must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/taskflow/store"
)

// Run exercises s under prefixes derived from namespace, and removes what it wrote.
func Run(t *testing.T, s store.Store, namespace string) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s, namespace) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, s, namespace) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, s, namespace) })
	t.Run("List", func(t *testing.T) { testList(t, s, namespace) })
	t.Run("ListEmpty", func(t *testing.T) { testListEmpty(t, s, namespace) })
	t.Run("BinaryData", func(t *testing.T) { testBinaryData(t, s, namespace) })
}

func testSetAndGet(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	prefix := "/" + ns + "/get/"

	require.Nil(t, s.Set(ctx, prefix, "key1", []byte("value1")))

	value, err := s.Get(ctx, prefix, "key1")
	assert.Nil(t, err)
	assert.Equal(t, []byte("value1"), value)

	value, err = s.Get(ctx, prefix, "non-existent")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Remove(ctx, prefix, "key1"))
}

func testUpdate(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	prefix := "/" + ns + "/update/"

	require.Nil(t, s.Set(ctx, prefix, "key1", []byte("value1")))
	require.Nil(t, s.Set(ctx, prefix, "key1", []byte("value2")))

	value, err := s.Get(ctx, prefix, "key1")
	assert.Nil(t, err)
	assert.Equal(t, []byte("value2"), value)

	assert.Nil(t, s.Remove(ctx, prefix, "key1"))
}

func testRemove(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	prefix := "/" + ns + "/remove/"

	require.Nil(t, s.Set(ctx, prefix, "key1", []byte("value1")))
	assert.Nil(t, s.Remove(ctx, prefix, "key1"))

	value, err := s.Get(ctx, prefix, "key1")
	assert.Nil(t, err)
	assert.Nil(t, value)

	// Remove non-existent key should not error
	assert.Nil(t, s.Remove(ctx, prefix, "non-existent"))
}

func testList(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	prefix := "/" + ns + "/list/"
	other := "/" + ns + "/list-other/"

	// keys shaped like the inter-task value keys
	keys := []string{"a|return_value", "b|return_value", "t1|custom"}
	for _, key := range keys {
		require.Nil(t, s.Set(ctx, prefix, key, []byte(key)))
	}
	require.Nil(t, s.Set(ctx, other, "a|return_value", []byte("other")))

	listed := make([]string, 0)
	err := s.List(ctx, prefix, func(key string) bool {
		listed = append(listed, key)
		return true
	})
	assert.Nil(t, err)
	assert.ElementsMatch(t, keys, listed)

	count := 0
	err = s.List(ctx, prefix, func(key string) bool {
		count++
		return count < 2
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, count)

	for _, key := range keys {
		assert.Nil(t, s.Remove(ctx, prefix, key))
	}
	assert.Nil(t, s.Remove(ctx, other, "a|return_value"))
}

func testListEmpty(t *testing.T, s store.Store, ns string) {
	listed := make([]string, 0)
	err := s.List(context.Background(), "/"+ns+"/non-existent/", func(key string) bool {
		listed = append(listed, key)
		return true
	})
	assert.Nil(t, err)
	assert.Empty(t, listed)
}

func testBinaryData(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	prefix := "/" + ns + "/binary/"

	binaryData := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}
	require.Nil(t, s.Set(ctx, prefix, "binary", binaryData))

	value, err := s.Get(ctx, prefix, "binary")
	assert.Nil(t, err)
	assert.Equal(t, binaryData, value)

	assert.Nil(t, s.Remove(ctx, prefix, "binary"))
}
