package airreplay

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// logWarn logs a non-fatal diagnostic (such as a duplicate SaveRestore key)
// at warning level.
func (e *Engine) logWarn(context, format string, args ...any) {
	slog.Warn(context+": "+fmt.Sprintf(format, args...))
}

// logMismatch logs a transient replay mismatch (spec §7 kind 3): never an
// error, always logged, escalating to Error severity past WarnAttempts the
// way RecordReplay's DLOG(ERROR) threshold does in the original.
func (e *Engine) logMismatch(context string, attempts int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if attempts > Get().WarnAttempts {
		slog.Error(context, "attempt", attempts, "msg", msg)
		return
	}
	slog.Warn(context, "attempt", attempts, "msg", msg)
}

// anyEqualBytes compares two possibly-nil *anypb.Any values the cheap way
// RecordReplay does first: exact type URL and raw byte equality, before
// falling back to the structured comparator.
func anyEqualBytes(a, b *anypb.Any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.GetTypeUrl() == b.GetTypeUrl() && bytes.Equal(a.GetValue(), b.GetValue())
}

// RecordReplay is the primary RPC interception point (spec §4.D.3). kind
// defaults to KindDefault when KindInvalid (0) is passed, mirroring the
// original's kind==0 default. debugInfo is accepted for API parity with the
// original signature but, like the original, is not itself persisted to the
// trace - key and connectionInfo are the matched identity.
func (e *Engine) RecordReplay(key, connectionInfo string, message proto.Message, kind Kind, debugInfo string) (int, error) {
	if kind == KindInvalid {
		kind = KindDefault
	}
	if e.mode == ModeRecord {
		return e.recordRecordReplay(key, connectionInfo, message, kind)
	}
	return e.replayRecordReplay(key, connectionInfo, message, kind)
}

func (e *Engine) recordRecordReplay(key, connectionInfo string, message proto.Message, kind Kind) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := newEntry()
	entry.Kind = kind
	entry.DebugString = key
	entry.ConnectionInfo = connectionInfo

	if message != nil {
		any, err := anypb.New(message)
		if err != nil {
			return 0, fmt.Errorf("airreplay: pack RecordReplay message %q: %w", key, err)
		}
		b, err := proto.Marshal(message)
		if err != nil {
			return 0, fmt.Errorf("airreplay: size RecordReplay message %q: %w", key, err)
		}
		entry.BodySize = uint64(len(b))
		entry.Message = any
	}

	return e.trace.Record(entry)
}

func (e *Engine) replayRecordReplay(key, connectionInfo string, message proto.Message, kind Kind) (int, error) {
	var candidate *anypb.Any
	var packErr error
	if message != nil {
		candidate, packErr = anypb.New(message)
	}

	attempts := 0
	for {
		e.mu.Lock()
		head, pos := e.trace.PeekNext()

		var mismatch string
		matched := false
		switch {
		case head.Kind != kind:
			mismatch = fmt.Sprintf("kind mismatch: expected %s got %s (key %q)",
				e.messageKindNameLocked(kind), e.messageKindNameLocked(head.Kind), key)
		case head.DebugString != key:
			mismatch = fmt.Sprintf("right kind (%s) but wrong key: expected %q got %q",
				e.messageKindNameLocked(kind), head.DebugString, key)
		case head.ConnectionInfo != connectionInfo:
			mismatch = fmt.Sprintf("right kind and key but wrong connection_info: expected %q got %q",
				head.ConnectionInfo, connectionInfo)
		case packErr != nil:
			mismatch = fmt.Sprintf("could not pack candidate message: %v", packErr)
		case anyEqualBytes(head.Message, candidate):
			matched = true
		default:
			cmp := e.comparator(head.Message, candidate)
			if cmp == "" {
				matched = true
			} else if cmp == PROTO_COMPARE_FALSE_ALARM {
				matched = true
				if e.metrics != nil {
					e.metrics.RecordFalseAlarm(key)
				}
			} else {
				mismatch = "right kind, key and connection_info but payload differs: " + cmp
			}
		}

		if matched {
			e.trace.ConsumeHead(head)
			e.mu.Unlock()
			return pos, nil
		}

		e.maybeReplayExternalRPCLocked(head)
		e.mu.Unlock()

		attempts++
		if e.metrics != nil {
			e.metrics.RecordMismatch(key)
		}
		e.logMismatch(fmt.Sprintf("RecordReplay@%d", pos), attempts, "%s", mismatch)

		if attempts >= Get().DivergenceAttempts {
			abortDivergence("RecordReplay(%q): no matching trace entry after %d attempts: %s", key, attempts, mismatch)
		}
		time.Sleep(Get().MismatchBackoff)
	}
}
