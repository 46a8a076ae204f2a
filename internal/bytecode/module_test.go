package bytecode

import (
	"testing"

	"github.com/joeycumines/otter/internal/value"
	"github.com/stretchr/testify/require"
)

func TestModuleConstantInterning(t *testing.T) {
	m := NewModule("main")
	i1 := m.AddString("hello")
	i2 := m.AddString("world")
	i3 := m.AddString("hello")
	require.Equal(t, i1, i3)
	require.NotEqual(t, i1, i2)
}

func TestModuleFunctionTable(t *testing.T) {
	m := NewModule("main")
	fn := NewFunction("top", 4, 1, 1, 1)
	fn.Code = append(fn.Code, EncodeABC(OpLoadConst, 0, 0, 0))
	idx := m.AddFunction(fn)
	m.Entry = idx

	require.Equal(t, fn, m.Functions[m.Entry])
	require.Len(t, fn.PropertyCaches, 1)
	require.Len(t, fn.ArithCaches, 1)
	require.Len(t, fn.CallCaches, 1)
}

func TestModuleConstantPool(t *testing.T) {
	m := NewModule("main")
	idx := m.AddConstant(value.Int(42))
	require.Equal(t, int32(42), m.Constants[idx].AsInt32())
}
