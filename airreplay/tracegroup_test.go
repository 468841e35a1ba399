package airreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntry(data string) *OpaqueEntry {
	e := newEntry()
	e.DebugString = "Socket Read"
	e.BytesMessage = []byte(data)
	e.BodySize = uint64(len(data))
	return e
}

func writeEntry(data string) *OpaqueEntry {
	e := newEntry()
	e.DebugString = "Socket Write"
	e.BytesMessage = []byte(data)
	e.BodySize = uint64(len(data))
	return e
}

func TestTraceGroup_ConsumeReadNarrowsCandidates(t *testing.T) {
	matching := []*OpaqueEntry{readEntry("hello"), writeEntry("world")}
	divergent := []*OpaqueEntry{readEntry("nope!"), writeEntry("world")}

	tg := NewTraceGroup(matching, divergent)
	require.True(t, tg.NextIsReadOrEmpty())

	require.NoError(t, tg.ConsumeRead([]byte("hello")))

	require.True(t, tg.NextIsWrite())
	msg, err := tg.NextCommonWrite()
	require.NoError(t, err)
	assert.Equal(t, "world", string(msg))
	assert.True(t, tg.AllEmpty())
}

func TestTraceGroup_ConsumeReadPartial(t *testing.T) {
	tg := NewTraceGroup([]*OpaqueEntry{readEntry("hello"), writeEntry("ok")})

	require.NoError(t, tg.ConsumeRead([]byte("he")))
	require.NoError(t, tg.ConsumeRead([]byte("llo")))

	require.True(t, tg.NextIsWrite())
	msg, err := tg.NextCommonWrite()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(msg))
}

func TestTraceGroup_NextCommonWriteDisagreement(t *testing.T) {
	tg := NewTraceGroup([]*OpaqueEntry{writeEntry("aaa")}, []*OpaqueEntry{writeEntry("bbb")})
	_, err := tg.NextCommonWrite()
	assert.Error(t, err)
}

func TestTraceGroup_AllEmptyAndNextIsWriteOnEmptyGroup(t *testing.T) {
	tg := NewTraceGroup([]*OpaqueEntry{}, []*OpaqueEntry{})
	assert.True(t, tg.AllEmpty())
	assert.False(t, tg.NextIsWrite())
	assert.True(t, tg.NextIsReadOrEmpty())
}

func TestTraceGroup_ConsumeReadRejectsNonReadHead(t *testing.T) {
	tg := NewTraceGroup([]*OpaqueEntry{writeEntry("nope")})
	err := tg.ConsumeRead([]byte("x"))
	assert.Error(t, err)
}
