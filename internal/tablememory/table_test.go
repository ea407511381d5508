package tablememory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intCompare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestPutTracksSortedFlag(t *testing.T) {
	tbl := New[int](8, intCompare)
	require.NoError(t, tbl.Put(1))
	require.NoError(t, tbl.Put(2))
	assert.True(t, tbl.Sorted())

	require.NoError(t, tbl.Put(0))
	assert.False(t, tbl.Sorted())
}

func TestPutFailsWhenFull(t *testing.T) {
	tbl := New[int](2, intCompare)
	require.NoError(t, tbl.Put(1))
	require.NoError(t, tbl.Put(2))
	assert.ErrorIs(t, tbl.Put(3), ErrFull)
}

func TestMakeImmutableSortsUnsortedValues(t *testing.T) {
	tbl := New[int](8, intCompare)
	require.NoError(t, tbl.Put(3))
	require.NoError(t, tbl.Put(1))
	require.NoError(t, tbl.Put(2))
	require.False(t, tbl.Sorted())

	tbl.MakeImmutable(100)
	assert.True(t, tbl.Sorted())
	assert.Equal(t, []int{1, 2, 3}, tbl.Values())
	assert.False(t, tbl.Mutable())
}

func TestMakeImmutableSkipsSortWhenAlreadySorted(t *testing.T) {
	tbl := New[int](8, intCompare)
	require.NoError(t, tbl.Put(1))
	require.NoError(t, tbl.Put(2))
	require.True(t, tbl.Sorted())

	tbl.MakeImmutable(0)
	assert.Equal(t, []int{1, 2}, tbl.Values())
}

func TestKeyMinMaxRequireImmutable(t *testing.T) {
	tbl := New[int](8, intCompare)
	_, err := tbl.KeyMin()
	assert.ErrorIs(t, err, ErrNotImmutable)

	require.NoError(t, tbl.Put(5))
	require.NoError(t, tbl.Put(9))
	tbl.MakeImmutable(0)

	min, err := tbl.KeyMin()
	require.NoError(t, err)
	assert.Equal(t, 5, min)

	max, err := tbl.KeyMax()
	require.NoError(t, err)
	assert.Equal(t, 9, max)
}

func TestKeyMinMaxOnEmptyImmutableTable(t *testing.T) {
	tbl := New[int](8, intCompare)
	tbl.MakeImmutable(0)
	_, err := tbl.KeyMin()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMakeMutableRequiresFlushed(t *testing.T) {
	tbl := New[int](8, intCompare)
	require.NoError(t, tbl.Put(1))
	tbl.MakeImmutable(0)

	err := tbl.MakeMutable()
	assert.ErrorIs(t, err, ErrNotFlushed)

	require.NoError(t, tbl.MarkFlushed())
	require.NoError(t, tbl.MakeMutable())
	assert.True(t, tbl.Mutable())
	assert.Equal(t, 0, tbl.Len())
}

func TestMakeMutableRequiresImmutable(t *testing.T) {
	tbl := New[int](8, intCompare)
	assert.ErrorIs(t, tbl.MakeMutable(), ErrNotImmutable)
}

func TestPutRejectedWhileImmutable(t *testing.T) {
	tbl := New[int](8, intCompare)
	tbl.MakeImmutable(0)
	assert.Error(t, tbl.Put(1))
}
