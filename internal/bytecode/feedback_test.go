package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyCacheStateTransitions(t *testing.T) {
	var c PropertyCache
	require.Equal(t, ICUninitialized, c.State())

	c.Record(10, 2)
	require.Equal(t, ICMonomorphic, c.State())
	off, ok := c.Lookup(10)
	require.True(t, ok)
	require.Equal(t, 2, off)

	c.Record(10, 2) // repeat hit on same shape must not change state
	require.Equal(t, ICMonomorphic, c.State())

	c.Record(20, 0)
	require.Equal(t, ICPolymorphic, c.State())

	c.Record(30, 1)
	c.Record(40, 3)
	require.Equal(t, ICPolymorphic, c.State())

	c.Record(50, 4) // 5th distinct shape overflows the 4-entry table
	require.Equal(t, ICMegamorphic, c.State())
}

func TestArithCacheMonomorphicInt32FastPath(t *testing.T) {
	var c ArithCache
	c.Record(NumericInt32, NumericInt32)
	require.True(t, c.IsMonomorphicInt32())

	c.Record(NumericFloat64, NumericInt32)
	require.False(t, c.IsMonomorphicInt32())
	require.Equal(t, ICPolymorphic, c.State())
}

func TestCallSiteCacheMegamorphic(t *testing.T) {
	var c CallSiteCache
	for i := uint32(1); i <= 5; i++ {
		c.Record(i)
	}
	require.Equal(t, ICMegamorphic, c.State())
}
