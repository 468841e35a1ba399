package airreplay

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
)

// TraceGroup narrows a set of candidate replay traces for the same mock
// socket down to the one whose byte stream actually matches what's being
// written/read, grounded on trace.cc's TraceGroup. All candidates share a
// single intra-entry byte cursor (pos), since they are expected to agree on
// read/write boundaries until they disagree entirely and get dropped.
type TraceGroup struct {
	traces [][]*OpaqueEntry
	pos    int
}

// NewTraceGroup builds a group from a set of already-loaded entry slices,
// one per candidate trace file.
func NewTraceGroup(traces ...[]*OpaqueEntry) *TraceGroup {
	tg := &TraceGroup{}
	for _, t := range traces {
		tg.AddTrace(t)
	}
	return tg
}

// AddTrace appends another candidate trace to the group.
func (tg *TraceGroup) AddTrace(trace []*OpaqueEntry) {
	tg.traces = append(tg.traces, trace)
}

// nextIs reports whether every non-empty candidate's head debug string
// contains val. emptyIsOK says whether an empty candidate is acceptable:
// when true it is skipped (NextIsReadOrEmpty), when false the result is
// false as soon as any candidate is empty (NextIsWrite).
func (tg *TraceGroup) nextIs(val string, emptyIsOK bool) bool {
	for _, trace := range tg.traces {
		if len(trace) == 0 {
			slog.Debug("TraceGroup.nextIs: trace is empty")
			if !emptyIsOK {
				return false
			}
			continue
		}
		if !strings.Contains(trace[0].DebugString, val) {
			return false
		}
	}
	return true
}

// NextIsWrite reports whether every candidate's head is a write. Unlike the
// literal spec wording, an all-empty group returns false rather than
// vacuously true, since there is no write to perform against zero
// candidates.
func (tg *TraceGroup) NextIsWrite() bool {
	if tg.AllEmpty() {
		return false
	}
	return tg.nextIs("Socket Write", false) || tg.nextIs("Socket writev of", false)
}

// NextIsReadOrEmpty reports whether every candidate is either empty or has a
// Socket Read head (true as well when the group has no more entries to
// offer).
func (tg *TraceGroup) NextIsReadOrEmpty() bool {
	return tg.nextIs("Socket Read", true)
}

// AllEmpty reports whether every candidate trace has been fully consumed.
func (tg *TraceGroup) AllEmpty() bool {
	for _, trace := range tg.traces {
		if len(trace) > 0 {
			return false
		}
	}
	return true
}

// ConsumeRead advances the group's shared byte cursor by len bytes read from
// the mocked socket, dropping any candidate whose head has fewer than len
// bytes left or whose recorded bytes at the current position disagree with
// buffer. A non-empty candidate whose head isn't a Socket Read entry makes
// it return an error. If the read finishes the head of any surviving
// candidate, the cursor resets to 0 and the head entry is popped from every
// survivor; the survivors' head lengths are not compared.
func (tg *TraceGroup) ConsumeRead(buffer []byte) error {
	length := len(buffer)
	var updated [][]*OpaqueEntry
	popFront := false

	for _, trace := range tg.traces {
		if len(trace) == 0 {
			slog.Debug("TraceGroup.ConsumeRead: trace is empty")
			continue
		}
		head := trace[0]
		if head.DebugString != "Socket Read" {
			return fmt.Errorf("airreplay: TraceGroup.ConsumeRead: head is not a Socket Read entry")
		}

		remainingOnHead := int(head.BodySize) - tg.pos
		if length > remainingOnHead {
			slog.Debug("TraceGroup.ConsumeRead: read longer than remaining bytes on head, dropping candidate",
				"len", length, "remaining_on_head", remainingOnHead)
			continue
		}

		if !bytes.Equal(head.BytesMessage[tg.pos:tg.pos+length], buffer) {
			slog.Debug("TraceGroup.ConsumeRead: candidate bytes mismatch, dropping candidate")
			continue
		}

		if length == remainingOnHead {
			popFront = true
		}
		updated = append(updated, trace)
	}

	if !popFront {
		tg.pos += length
	} else {
		for i, trace := range updated {
			updated[i] = trace[1:]
		}
		tg.pos = 0
	}

	slog.Debug("TraceGroup.ConsumeRead: narrowed candidates", "from", len(tg.traces), "to", len(updated))
	tg.traces = updated
	return nil
}

// NextCommonWrite returns the bytes every surviving candidate agrees the
// mocked socket should write next, popping that entry from every candidate.
// It is an error for the candidates to disagree on the write's size or
// content - by this point in replay they are expected to be byte-identical.
func (tg *TraceGroup) NextCommonWrite() ([]byte, error) {
	if len(tg.traces) == 0 {
		return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: no candidate traces")
	}
	lead := tg.traces[0]
	if len(lead) == 0 {
		return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: trace is empty")
	}
	msg := lead[0].BytesMessage
	if uint64(len(msg)) != lead[0].BodySize {
		return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: body_size does not match payload length")
	}

	for _, trace := range tg.traces {
		if len(trace) == 0 {
			return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: trace is empty")
		}
		head := trace[0]
		if head.DebugString != "Socket Write" && !strings.Contains(head.DebugString, "Socket writev of") {
			return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: head is not a write")
		}
		if head.BodySize != uint64(len(msg)) {
			return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: write size mismatch %d vs %d", head.BodySize, len(msg))
		}
		if !bytes.Equal(head.BytesMessage, msg) {
			return nil, fmt.Errorf("airreplay: TraceGroup.NextCommonWrite: write data mismatch")
		}
	}

	for i, trace := range tg.traces {
		tg.traces[i] = trace[1:]
	}
	return msg, nil
}
