package airreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestOpaqueEntry_MarshalUnmarshal_Message(t *testing.T) {
	wrapped, err := anypb.New(wrapperspb.String("payload"))
	require.NoError(t, err)

	e := newEntry()
	e.Kind = KindDefault
	e.DebugString = "some.key"
	e.ConnectionInfo = "127.0.0.1:1#127.0.0.1:2"
	e.BodySize = 7
	e.Message = wrapped

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.DebugString, got.DebugString)
	assert.Equal(t, e.ConnectionInfo, got.ConnectionInfo)
	assert.Equal(t, e.BodySize, got.BodySize)
	assert.Equal(t, int64(-1), got.LinkToToken)
	assert.True(t, got.hasMessage())
}

func TestOpaqueEntry_MarshalUnmarshal_LinkToToken(t *testing.T) {
	e := newEntry()
	e.LinkToToken = 42
	e.StrMessage = "abc"

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEntry(data)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.LinkToToken)
	assert.Equal(t, "abc", got.StrMessage)
}

func TestOpaqueEntry_MarshalUnmarshal_Bytes(t *testing.T) {
	e := newEntry()
	e.BytesMessage = []byte{0x01, 0x02, 0xff}
	e.NumMessage = 0

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.BytesMessage, got.BytesMessage)
	assert.True(t, got.hasBytes())
	assert.False(t, got.hasNum())
}

func TestUnmarshalEntry_Truncated(t *testing.T) {
	e := newEntry()
	e.StrMessage = "some value"
	data, err := e.Marshal()
	require.NoError(t, err)

	_, err = UnmarshalEntry(data[:len(data)-2])
	assert.Error(t, err)
}

func TestOpaqueEntry_ShortDebugString(t *testing.T) {
	e := newEntry()
	e.Kind = KindSaveRestore
	e.DebugString = "my-key"
	e.NumMessage = 99

	s := e.ShortDebugString()
	assert.Contains(t, s, "kSaveRestore")
	assert.Contains(t, s, "my-key")
	assert.Contains(t, s, "num_message:99")
}

