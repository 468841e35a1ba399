package mocksocket

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/airreplay/airreplay"
)

func writeRecording(t *testing.T, dir, name string) {
	t.Helper()
	prefix := filepath.Join(dir, name)
	trace, err := airreplay.NewTrace(prefix, airreplay.ModeRecord, true)
	require.NoError(t, err)
	_, err = trace.RecordBytes([]byte("hello"), "Socket Read")
	require.NoError(t, err)
	_, err = trace.RecordBytes([]byte("world"), "Socket Write")
	require.NoError(t, err)
	require.NoError(t, trace.Close())
}

func TestLoadCandidates_MatchesPortAndFilter(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "socket_rec_accept_9090_one")
	writeRecording(t, dir, "socket_rec_accept_9090_two")
	writeRecording(t, dir, "socket_rec_accept_9999_other")
	writeRecording(t, dir, "socket_rec_connect_from_9090_client")

	candidates, err := loadCandidates(dir, "9090", AcceptFilter)
	require.NoError(t, err)
	assert.Len(t, candidates, 2, "only the two accept-side 9090 recordings must match")

	for _, c := range candidates {
		require.Len(t, c, 2)
		assert.Equal(t, "Socket Read", c[0].DebugString)
		assert.Equal(t, []byte("hello"), c[0].BytesMessage)
		assert.Equal(t, "Socket Write", c[1].DebugString)
	}
}

func TestLoadCandidates_IgnoresNonBinFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "socket_rec_accept_8080_only")

	candidates, err := loadCandidates(dir, "8080", AcceptFilter)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// the companion .txt log must not itself be picked up as a candidate
	txtCandidates, err := loadCandidates(dir, "8080", ".txt")
	require.NoError(t, err)
	assert.Len(t, txtCandidates, 0)
}

func TestLoadCandidates_NoMatchesReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	candidates, err := loadCandidates(dir, "1234", AcceptFilter)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCloneCandidates_IndependentSliceHeaders(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir, "socket_rec_accept_7070_one")
	candidates, err := loadCandidates(dir, "7070", AcceptFilter)
	require.NoError(t, err)

	clone := cloneCandidates(candidates)
	require.Len(t, clone, 1)
	clone[0] = clone[0][1:]

	assert.Len(t, candidates[0], 2, "mutating the clone's slice header must not affect the original")
	assert.Len(t, clone[0], 1)
}
