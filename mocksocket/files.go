// Package mocksocket implements the replay-time network emulation spec §4.F
// describes: a MockServer that reconstructs recorded socket conversations
// for a listening port, SocketTraffic, which runs one MockServer per port,
// and SendTraffic, the client-side counterpart that replays a recorded
// outbound connection.
package mocksocket

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ocx/airreplay/airreplay"
)

// socketRecMarker and binSuffix are the two substrings every matching
// recording filename must contain/end with, per spec §4.F and §6's
// "socket_rec_..." naming convention.
const (
	socketRecMarker = "socket_rec_"
	binSuffix       = ".bin"
)

// AcceptFilter and ConnectFilterPrefix select, respectively, server-side
// accept recordings and client-side connect recordings among the files a
// port's candidates are drawn from (spec §4.F).
const (
	AcceptFilter        = "accept"
	ConnectFilterPrefix = "connect_from_"
)

// loadCandidates scans dir for every file whose name contains
// socket_rec_, contains port as a substring, ends in .bin, and contains
// filter, loads each as a coalesced airreplay.Trace, and returns one
// candidate entry slice per matched file - the seed material for a fresh
// TraceGroup per accepted connection.
func loadCandidates(dir, port, filter string) ([][]*airreplay.OpaqueEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mocksocket: read trace dir %s: %w", dir, err)
	}

	var candidates [][]*airreplay.OpaqueEntry
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.Contains(name, socketRecMarker) {
			continue
		}
		if !strings.Contains(name, port) {
			continue
		}
		if !strings.HasSuffix(name, binSuffix) {
			continue
		}
		if !strings.Contains(name, filter) {
			continue
		}

		prefix := filepath.Join(dir, strings.TrimSuffix(name, binSuffix))
		trace, err := airreplay.NewTrace(prefix, airreplay.ModeReplay, false)
		if err != nil {
			return nil, fmt.Errorf("mocksocket: load %s: %w", name, err)
		}
		trace.Coalesce()
		candidates = append(candidates, trace.Snapshot())
		trace.Close()
	}
	return candidates, nil
}

// cloneCandidates returns independent slice headers over the same
// underlying entries so each accepted connection narrows its own TraceGroup
// without disturbing other connections sharing the same port.
func cloneCandidates(candidates [][]*airreplay.OpaqueEntry) [][]*airreplay.OpaqueEntry {
	out := make([][]*airreplay.OpaqueEntry, len(candidates))
	for i, c := range candidates {
		cp := make([]*airreplay.OpaqueEntry, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out
}
