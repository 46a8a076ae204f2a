package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeABC(t *testing.T) {
	i := EncodeABC(OpAdd, 1, 2, 3)
	require.Equal(t, OpAdd, i.OpCode())
	require.Equal(t, uint8(1), i.A())
	require.Equal(t, uint8(2), i.B())
	require.Equal(t, uint8(3), i.C())
}

func TestEncodeDecodeABx(t *testing.T) {
	i := EncodeABx(OpLoadConst, 5, 1000)
	require.Equal(t, OpLoadConst, i.OpCode())
	require.Equal(t, uint8(5), i.A())
	require.Equal(t, uint16(1000), i.Bx())
}

func TestEncodeDecodeSignedJump(t *testing.T) {
	i := EncodeAsBx(OpJump, 0, -42)
	require.Equal(t, OpJump, i.OpCode())
	require.Equal(t, int32(-42), i.SBx())

	i2 := EncodeAsBx(OpJump, 0, 42)
	require.Equal(t, int32(42), i2.SBx())
}

func TestOpCodeString(t *testing.T) {
	require.Equal(t, "ADD", OpAdd.String())
	require.Equal(t, "UNKNOWN", OpCode(255).String())
}
