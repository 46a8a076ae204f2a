package shape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShapeSharingConverges(t *testing.T) {
	root := Root()

	s1 := root.Transition(StringKey("a"))
	s1 = s1.Transition(StringKey("b"))
	s1 = s1.Transition(StringKey("c"))

	s2 := root.Transition(StringKey("a"))
	s2 = s2.Transition(StringKey("b"))
	s2 = s2.Transition(StringKey("c"))

	require.Same(t, s1, s2, "same key sequence from the same root must converge to one shape")

	keys := s1.OwnKeys()
	require.Len(t, keys, 3)
	require.Equal(t, []PropertyKey{StringKey("a"), StringKey("b"), StringKey("c")}, keys)

	off, ok := s1.Offset(StringKey("b"))
	require.True(t, ok)
	require.Equal(t, 1, off)
}

func TestShapeTransitionsDivergeOnDifferentKeys(t *testing.T) {
	root := Root()
	s1 := root.Transition(StringKey("a"))
	s2 := root.Transition(StringKey("x"))
	require.NotSame(t, s1, s2)
}

func TestOffsetsAreSequential(t *testing.T) {
	root := Root()
	s := root.Transition(StringKey("a")).Transition(StringKey("b")).Transition(StringKey("c"))

	a, _ := s.Offset(StringKey("a"))
	b, _ := s.Offset(StringKey("b"))
	c, _ := s.Offset(StringKey("c"))
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)
	require.Equal(t, 2, c)
	require.Equal(t, 3, s.PropertyCount())
}

func TestParentLineageIsImmutable(t *testing.T) {
	root := Root()
	s1 := root.Transition(StringKey("a"))
	s2 := s1.Transition(StringKey("b"))

	require.Same(t, s1, s2.Parent())
	// s1's own map must not have been mutated by creating s2.
	require.Equal(t, 1, s1.PropertyCount())
}
