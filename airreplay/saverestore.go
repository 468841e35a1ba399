package airreplay

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// valueSlot tags exactly one populated destination for a SaveRestore call,
// mirroring the three-pointer union SaveRestoreInternal dispatches on in the
// original (str_message*, int_message*, proto_message*). Exactly one field
// is non-nil on any call.
type valueSlot struct {
	str *string
	num *uint64
	msg proto.Message
}

// isASCII applies the original's printability heuristic for choosing
// between str_message and bytes_message: every byte's signed interpretation
// must be non-negative, i.e. below 0x80. Honored bit-for-bit so existing
// recorded traces stay replay-compatible (spec §9 design note).
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// SaveRestoreMessage save-restores a structured message under key, mirroring
// Airreplay::SaveRestore(key, Message&).
func (e *Engine) SaveRestoreMessage(key string, message proto.Message) (int, error) {
	return e.saveRestoreDispatch(key, valueSlot{msg: message}, -1)
}

// SaveRestoreString save-restores a printable-or-bytes string under key,
// mirroring Airreplay::SaveRestore(key, std::string&). Go strings can carry
// arbitrary bytes just as the original's std::string does, so one overload
// covers both the str_message and bytes_message wire cases.
func (e *Engine) SaveRestoreString(key string, value *string) (int, error) {
	return e.saveRestoreDispatch(key, valueSlot{str: value}, -1)
}

// SaveRestoreUint64 save-restores a 64-bit unsigned integer under key,
// mirroring Airreplay::SaveRestore(key, uint64_t&, bail_after=-1).
func (e *Engine) SaveRestoreUint64(key string, value *uint64) (int, error) {
	return e.saveRestoreDispatch(key, valueSlot{num: value}, -1)
}

// MaybeSaveRestoreUint64 is the bail_after-bounded uint64 probe: instead of
// blocking until the matching entry arrives, it returns -1 without error on
// mismatch number bailAfter+1 (bailAfter=0 returns -1 on the first mismatch,
// without sleeping). A negative bailAfter never bails.
func (e *Engine) MaybeSaveRestoreUint64(key string, value *uint64, bailAfter int) (int, error) {
	return e.saveRestoreDispatch(key, valueSlot{num: value}, bailAfter)
}

// SaveRestoreInt64 round-trips a signed 64-bit value losslessly through the
// uint64 path via bit reinterpretation, mirroring
// Airreplay::SaveRestore(key, int64_t&).
func (e *Engine) SaveRestoreInt64(key string, value *int64) (int, error) {
	u := uint64(*value)
	pos, err := e.SaveRestoreUint64(key, &u)
	*value = int64(u)
	return pos, err
}

// saveRestoreDispatch is the shared entry point for every SaveRestore
// overload, mirroring Airreplay::SaveRestoreInternal's mode branch.
func (e *Engine) saveRestoreDispatch(key string, slot valueSlot, bailAfter int) (int, error) {
	if e.mode == ModeRecord {
		return e.recordSaveRestore(key, slot)
	}
	return e.replaySaveRestore(key, slot, bailAfter)
}

func (e *Engine) recordSaveRestore(key string, slot valueSlot) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.saveRestoreKeys[key] {
		// Not fatal: legitimate when the earlier occurrence of this key is
		// fully consumed before the later one appears (spec §3).
		e.logWarn("SaveRestore", "key %q already saved", key)
	}
	e.saveRestoreKeys[key] = true
	if e.audit != nil {
		e.audit.RecordSaveRestore(key)
	}

	entry := newEntry()
	entry.Kind = KindSaveRestore
	entry.DebugString = key

	switch {
	case slot.str != nil:
		if isASCII(*slot.str) {
			entry.StrMessage = *slot.str
		} else {
			entry.BytesMessage = []byte(*slot.str)
		}
		entry.BodySize = uint64(len(*slot.str))
	case slot.num != nil:
		entry.NumMessage = *slot.num
	case slot.msg != nil:
		any, err := anypb.New(slot.msg)
		if err != nil {
			return 0, fmt.Errorf("airreplay: pack save-restore message %q: %w", key, err)
		}
		b, err := proto.Marshal(slot.msg)
		if err != nil {
			return 0, fmt.Errorf("airreplay: size save-restore message %q: %w", key, err)
		}
		entry.BodySize = uint64(len(b))
		entry.Message = any
	default:
		abortMisuse("SaveRestore(%q): exactly one value slot must be set", key)
	}

	return e.trace.Record(entry)
}

func (e *Engine) replaySaveRestore(key string, slot valueSlot, bailAfter int) (int, error) {
	hardAttempts := 0
	for {
		e.mu.Lock()
		head, pos := e.trace.PeekNext()

		if head.Kind == KindSaveRestore && head.DebugString == key {
			if err := recoverValueSlot(slot, head); err != nil {
				e.mu.Unlock()
				abortMisuse("SaveRestore(%q): %v", key, err)
			}
			e.trace.ConsumeHead(head)
			e.mu.Unlock()
			return pos, nil
		}

		e.maybeReplayExternalRPCLocked(head)
		e.mu.Unlock()

		hardAttempts++
		e.metrics.RecordMismatch(key)
		if hardAttempts >= Get().DivergenceAttempts {
			abortDivergence("SaveRestore(%q): no matching trace entry after %d attempts (head was kind=%s key=%q)",
				key, hardAttempts, e.messageKindName(head.Kind), head.DebugString)
		}

		if bailAfter == 0 {
			return -1, nil
		}
		if bailAfter > 0 {
			bailAfter--
		}
		time.Sleep(Get().SaveRestoreBackoff)
	}
}

// recoverValueSlot copies the matched entry's populated value field into the
// caller's destination, asserting the mutual exclusion the original asserts
// in SaveRestoreInternal: a string destination rejects an entry carrying a
// structured message, and a message destination rejects an entry carrying a
// string. A uint64 destination takes NumMessage without any check.
func recoverValueSlot(slot valueSlot, head *OpaqueEntry) error {
	switch {
	case slot.str != nil:
		if head.hasMessage() {
			return fmt.Errorf("entry carries a structured message, not a string")
		}
		if !head.hasStr() && !head.hasBytes() {
			return fmt.Errorf("entry carries neither str_message nor bytes_message")
		}
		if head.hasStr() {
			*slot.str = head.StrMessage
		} else {
			*slot.str = string(head.BytesMessage)
		}
	case slot.num != nil:
		*slot.num = head.NumMessage
	case slot.msg != nil:
		if head.hasStr() || head.hasBytes() {
			return fmt.Errorf("entry carries a string, not a structured message")
		}
		if head.Message != nil {
			if err := head.Message.UnmarshalTo(slot.msg); err != nil {
				return fmt.Errorf("unpack message: %w", err)
			}
		}
	}
	return nil
}

// RegisterThreadForSaveRestore is defined in engine.go; the two per-thread
// helpers below build on its thread-id map.

// defaultThreadNameFilter implements the original's hard-coded "threads
// named *-negotiator or *acceptor do nothing observable during replay"
// short-circuit (spec §4.D.2), expressed per design note 9 as a
// configurable predicate rather than a literal name match.
func defaultThreadNameFilter(name string) bool {
	return strings.Contains(name, "-negotiator") || strings.Contains(name, "acceptor")
}

// SetThreadNameFilter overrides the predicate SaveRestorePerThread consults
// to short-circuit threads that do nothing observable during replay.
func (e *Engine) SetThreadNameFilter(fn func(name string) bool) { e.threadNameFilter = fn }

// SaveRestorePerThreadUint64 save-restores a per-thread value keyed by the
// thread's recorded id, mirroring
// Airreplay::SaveRestorePerThread(tid, uint64_t&, debug_string, optional,
// bail_after). tidLive must have been registered via
// RegisterThreadForSaveRestore unless optional is true. threadName is the
// caller's own label for the calling thread/goroutine, checked against the
// configured thread-name filter (Go goroutines have no OS-visible name to
// introspect, unlike the original's pthread name lookup).
func (e *Engine) SaveRestorePerThreadUint64(tidLive uint64, threadName string, value *uint64, debugString string, optional bool, bailAfter int) (int, error) {
	if bailAfter != -1 && optional {
		abortMisuse("SaveRestorePerThreadUint64: bail_after must be -1 when optional=true")
	}

	filter := e.threadNameFilter
	if filter == nil {
		filter = defaultThreadNameFilter
	}
	if filter(threadName) {
		return -1, nil
	}

	e.mu.Lock()
	tidOnTrace, registered := e.threadIDMap[tidLive]
	mode := e.mode
	e.mu.Unlock()

	if !registered {
		if optional {
			return -1, nil
		}
		abortMisuse("SaveRestorePerThreadUint64: thread id %d was never registered via RegisterThreadForSaveRestore", tidLive)
	}

	if mode == ModeRecord {
		tidOnTrace = tidLive
	}
	key := fmt.Sprintf("PerThreadSaveRestore_%s_%d", debugString, tidOnTrace)
	return e.saveRestoreDispatch(key, valueSlot{num: value}, bailAfter)
}

// SaveRestorePerThreadInt64 is the signed convenience wrapper over
// SaveRestorePerThreadUint64, mirroring the original's int64_t overload.
func (e *Engine) SaveRestorePerThreadInt64(tidLive uint64, threadName string, value *int64, debugString string, optional bool, bailAfter int) (int, error) {
	u := uint64(*value)
	pos, err := e.SaveRestorePerThreadUint64(tidLive, threadName, &u, debugString, optional, bailAfter)
	*value = int64(u)
	return pos, err
}
