package memview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoopbackViewWriteThenRead(t *testing.T) {
	v := NewLoopbackView(64)
	require.NoError(t, v.Write(8, []byte("hello")))

	got, err := v.Read(8, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func Test_LoopbackViewReadCString(t *testing.T) {
	v := NewLoopbackView(64)
	require.NoError(t, v.Write(0, []byte("/etc/hosts\x00")))

	s, err := v.ReadCString(0, 64)
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", s)
}

func Test_LoopbackViewReadCStringErrorsWithoutNUL(t *testing.T) {
	v := NewLoopbackView(8)
	require.NoError(t, v.Write(0, []byte("abcdefgh")))

	_, err := v.ReadCString(0, 8)
	assert.Error(t, err)
}

func Test_LoopbackViewRejectsOutOfBounds(t *testing.T) {
	v := NewLoopbackView(4)
	_, err := v.Read(2, 8)
	assert.Error(t, err)
	assert.Error(t, v.Write(2, []byte("12345678")))
}
