package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int{1}, UniqueSlice([]int{1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1}))
	assert.Equal(t, []int{1}, UniqueSlice([]int{1, 1, 1}))
	assert.Equal(t, []int{1, 2}, UniqueSlice([]int{1, 1, 2}))
	assert.Equal(t, []int{1, 2}, UniqueSlice([]int{1, 2, 2}))
	assert.Equal(t, []int{1, 2, 3}, UniqueSlice([]int{1, 2, 2, 3, 3}))
	assert.Equal(t, []int{1, 2, 3, 4}, UniqueSlice([]int{1, 2, 2, 3, 3, 3, 3, 3, 4}))
	assert.Equal(t, []string{"b", "a"}, UniqueSlice([]string{"b", "a", "b"}))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestCloneMap(t *testing.T) {
	m := map[string]int{"a": 1}
	c := CloneMap(m)
	c["b"] = 2
	assert.Len(t, m, 1)
	assert.Len(t, c, 2)
}

func TestSerialize(t *testing.T) {
	b, err := Serialize(map[string]any{"my_val": 42})
	assert.Nil(t, err)

	m := map[string]any{}
	assert.Nil(t, Unserialize(b, &m))
	// numbers come back as float64
	assert.Equal(t, float64(42), m["my_val"])

	_, err = Serialize(make(chan int))
	assert.NotNil(t, err)
}
