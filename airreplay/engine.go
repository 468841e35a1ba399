package airreplay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// ReproducerFunc is the callback an external integration registers to
// reproduce an incoming RPC during replay (spec §4.D.3), grounded on
// airreplay.h's ReproducerFunction. It receives the connection info and the
// structured message recorded alongside the call, still wrapped in its
// *anypb.Any.
type ReproducerFunc func(connectionInfo string, msg *anypb.Any)

// workerPoolSize bounds the reproducer-dispatch goroutine pool. Design Note 9
// (spec §9) calls for replacing the original's per-callback OS thread with a
// bounded pool; this is a small, fixed size rather than one goroutine per
// callback.
const workerPoolSize = 8

// Engine is the record-and-replay core (spec §4.D), the Go counterpart of
// the original Airreplay class. One Engine owns one Trace and serializes
// every state-touching operation behind a single mutex (recordOrder in the
// original), matching spec §5's single mutex invariant.
type Engine struct {
	mode  Mode
	trace *Trace

	mu               sync.Mutex
	userKindNames    map[Kind]string
	saveRestoreKeys  map[string]bool
	hooks            map[Kind]ReproducerFunc
	threadIDMap      map[uint64]uint64
	threadNameFilter func(name string) bool
	// closed is set under mu by Close before the work channel is closed, so
	// any in-flight maybeReplayExternalRPCLocked call that is already past
	// its own closed check is guaranteed (by mutex exclusion) to finish its
	// send before Close proceeds, and any call that starts afterward sees
	// closed and skips the send instead of racing a closed channel.
	closed bool

	comparator StructuredMessageComparator

	work      chan func()
	wg        sync.WaitGroup
	workersWG sync.WaitGroup

	shutdown chan struct{}

	metrics *Metrics
	audit   SaveRestoreAuditor

	cursorMu       sync.Mutex
	cursorObserver func(pos, total int, debugString string)
}

// NewEngine opens (or creates) the trace rooted at tracePrefix and returns
// an Engine ready to record or replay through it, mirroring the
// Airreplay(tracename, mode) constructor. In replay mode it also starts the
// external replayer background loop (spec §4.E).
func NewEngine(tracePrefix string, mode Mode) (*Engine, error) {
	trace, err := NewTrace(tracePrefix, mode, mode == ModeRecord)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		mode:            mode,
		trace:           trace,
		userKindNames:   make(map[Kind]string),
		saveRestoreKeys: make(map[string]bool),
		hooks:           make(map[Kind]ReproducerFunc),
		threadIDMap:     make(map[uint64]uint64),
		comparator:      defaultAnyComparator,
		work:            make(chan func(), 64),
		shutdown:        make(chan struct{}),
	}
	e.startWorkers()
	e.trace.SetCursorObserver(e.onCursor)

	if mode == ModeReplay {
		e.wg.Add(1)
		go e.externalReplayerLoop()
	}

	return e, nil
}

func defaultAnyComparator(recorded, replayed proto.Message) string {
	r, ok1 := recorded.(*anypb.Any)
	p, ok2 := replayed.(*anypb.Any)
	if ok1 && ok2 {
		return compareAnyPayloads(r, p)
	}
	return CompareMessages(recorded, replayed)
}

func (e *Engine) startWorkers() {
	for i := 0; i < workerPoolSize; i++ {
		e.workersWG.Add(1)
		go func() {
			defer e.workersWG.Done()
			for fn := range e.work {
				fn()
			}
		}()
	}
}

// SetComparator overrides the structured-message comparator RecordReplay
// uses to judge a payload mismatch, left pluggable for callers whose
// messages need semantic rather than byte-exact comparison.
func (e *Engine) SetComparator(c StructuredMessageComparator) { e.comparator = c }

// SetMetrics attaches a Prometheus-backed metrics sink.
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }

// SetAuditor attaches an optional SaveRestore audit sink (e.g. Redis-backed).
func (e *Engine) SetAuditor(a SaveRestoreAuditor) { e.audit = a }

// SetCursorObserver lets a host expose a live feed of the trace's
// replay/record cursor (e.g. cmd/nodereplay's websocket hub). It is invoked
// from onCursor alongside the Prometheus gauge, not wired to the Trace
// directly, since the Trace's single observer slot is taken by onCursor.
func (e *Engine) SetCursorObserver(fn func(pos, total int, debugString string)) {
	e.cursorMu.Lock()
	e.cursorObserver = fn
	e.cursorMu.Unlock()
}

// onCursor is registered with the Trace as its single cursor observer and
// fans the notification out to the Prometheus gauge and to any
// caller-supplied observer. The Trace calls this synchronously from inside
// Record/ConsumeHead, which themselves run under e.mu from a SaveRestore or
// RecordReplay call — so onCursor must never touch e.mu, only cursorMu.
func (e *Engine) onCursor(pos, total int, debugString string) {
	e.metrics.SetCursor(pos)

	e.cursorMu.Lock()
	fn := e.cursorObserver
	e.cursorMu.Unlock()
	if fn != nil {
		fn(pos, total, debugString)
	}
}

// IsReplay reports whether the engine is replaying rather than recording.
func (e *Engine) IsReplay() bool { return e.mode == ModeReplay }

// Close shuts down background goroutines and the underlying trace. closed is
// set under mu before anything is torn down, so any maybeReplayExternalRPCLocked
// call already past its own closed check is guaranteed to finish its send on
// e.work before close(e.work) runs, and any call starting afterward sees
// closed and skips the send instead of racing a closed channel. The
// external replayer loop is then joined via wg before e.work is closed, and
// the worker pool is joined via workersWG after, so no dispatched reproducer
// callback can still be running once Close returns.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	close(e.shutdown)
	e.wg.Wait()
	close(e.work)
	e.workersWG.Wait()
	return e.trace.Close()
}

// RegisterMessageKindName names a user kind for log/debug rendering, mirroring
// RegisterMessageKindName. Reserved kinds are rejected.
func (e *Engine) RegisterMessageKindName(kind Kind, name string) {
	if kind.reserved() {
		abortMisuse("kind %d is reserved for internal use; use kinds larger than %d", kind, MaxReservedKind)
	}
	e.mu.Lock()
	e.userKindNames[kind] = name
	e.mu.Unlock()
}

// RegisterReproducer registers a single reproducer for a user kind.
func (e *Engine) RegisterReproducer(kind Kind, fn ReproducerFunc) {
	if kind.reserved() {
		abortMisuse("kind %d is reserved for internal use; use kinds larger than %d", kind, MaxReservedKind)
	}
	e.mu.Lock()
	e.hooks[kind] = fn
	e.mu.Unlock()
}

// RegisterReproducers bulk-registers reproducers, mirroring
// RegisterReproducers's all-or-nothing validation.
func (e *Engine) RegisterReproducers(hooks map[Kind]ReproducerFunc) {
	for kind := range hooks {
		if kind.reserved() {
			abortMisuse("kind %d is reserved for internal use; use kinds larger than %d", kind, MaxReservedKind)
		}
	}
	e.mu.Lock()
	for kind, fn := range hooks {
		e.hooks[kind] = fn
	}
	e.mu.Unlock()
}

// RegisterThreadForSaveRestore records the live goroutine/thread id under
// key so that later, per-thread SaveRestore calls can be rewritten from the
// live id back to the recorded one during replay (spec §4.D.2).
func (e *Engine) RegisterThreadForSaveRestore(key string, tid uint64) {
	e.mu.Lock()
	if _, exists := e.threadIDMap[tid]; exists {
		e.mu.Unlock()
		abortMisuse("thread id %d already registered for save-restore", tid)
	}
	e.threadIDMap[tid] = tid
	e.mu.Unlock()

	var tmp uint64 = tid
	e.SaveRestoreUint64(key, &tmp)
	if e.mode == ModeReplay {
		e.mu.Lock()
		e.threadIDMap[tid] = tmp
		e.mu.Unlock()
	}
}

// recordedThreadID maps a live thread id to its recorded counterpart.
func (e *Engine) recordedThreadID(tid uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if recorded, ok := e.threadIDMap[tid]; ok {
		return recorded
	}
	return tid
}

// maybeReplayExternalRPCLocked is called with e.mu held from the
// SaveRestore/RecordReplay wait loops and from the external replayer loop.
// It returns false when the head's kind has no registered reproducer,
// mirroring MaybeReplayExternalRPCUnlocked.
func (e *Engine) maybeReplayExternalRPCLocked(head *OpaqueEntry) bool {
	if e.closed {
		return false
	}
	fn, ok := e.hooks[head.Kind]
	if !ok {
		return false
	}
	if !e.trace.SoftConsumeHead(head) {
		slog.Warn("callback had previously been scheduled but is still on the trace", "kind", head.Kind)
		return false
	}

	connInfo := head.ConnectionInfo
	msg := head.Message
	e.work <- func() { fn(connInfo, msg) }
	return true
}

// NewOpaqueEntry builds an entry wrapping message via anypb, mirroring
// NewOpequeEntry. linkToToken is -1 when not linking to a prior entry.
func NewOpaqueEntry(debugString string, message proto.Message, kind Kind, linkToToken int64) (*OpaqueEntry, error) {
	e := newEntry()
	e.Kind = kind
	e.LinkToToken = linkToToken
	if message != nil {
		any, err := anypb.New(message)
		if err != nil {
			return nil, fmt.Errorf("airreplay: pack message: %w", err)
		}
		b, err := proto.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("airreplay: size message: %w", err)
		}
		e.BodySize = uint64(len(b))
		e.DebugString = debugString
		e.Message = any
	}
	return e, nil
}

func (e *Engine) externalReplayerLoop() {
	defer e.wg.Done()
	SetThreadName("airreplay-ext")
	cfg := Get()
	interval := cfg.ExternalReplayerMinPoll
	for {
		select {
		case <-e.shutdown:
			return
		default:
		}

		e.mu.Lock()
		if !e.trace.HasNext() {
			e.mu.Unlock()
			return
		}
		head, _ := e.trace.PeekNext()
		e.maybeReplayExternalRPCLocked(head)
		e.mu.Unlock()

		select {
		case <-e.shutdown:
			return
		case <-time.After(interval):
		}
	}
}
