package airreplay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Mode selects whether a Trace records new entries or replays previously
// recorded ones.
type Mode int

const (
	ModeRecord Mode = iota
	ModeReplay
)

// Trace is the append-only log of OpaqueEntry values backing one record or
// replay session (spec §3). It is driven entirely under the Engine's single
// mutex; Trace's own mu is taken only around the cursor-observer slot and by
// the debug goroutine, and file writes are not locked by Trace itself.
type Trace struct {
	mode Mode

	binPath string
	txtPath string
	binFile *os.File
	txtLog  *log.Logger

	events []*OpaqueEntry
	pos    int

	softConsumed *OpaqueEntry

	debugStop chan struct{}
	debugDone chan struct{}

	cursorObserver func(pos, total int, debugString string)

	mu sync.Mutex
}

// SetCursorObserver registers a callback invoked after every Record or
// ConsumeHead with the trace's new cursor position, total entry count, and
// the entry's debug string. cmd/nodereplay uses this to feed a live
// websocket cursor display; nil disables notification.
func (t *Trace) SetCursorObserver(fn func(pos, total int, debugString string)) {
	t.mu.Lock()
	t.cursorObserver = fn
	t.mu.Unlock()
}

func (t *Trace) notifyCursor(pos int, debugString string) {
	t.mu.Lock()
	fn := t.cursorObserver
	total := len(t.events)
	t.mu.Unlock()
	if fn != nil {
		fn(pos, total, debugString)
	}
}

// NewTrace opens or creates the trace files rooted at prefix ("prefix.bin",
// "prefix.txt"). In record mode with overwrite=false, the prefix gets a
// numeric suffix bumped past any existing "prefix.N.bin" file, matching the
// original's non-clobbering record behavior. In replay mode the entire
// binary file is parsed eagerly into memory.
func NewTrace(prefix string, mode Mode, overwrite bool) (*Trace, error) {
	binPath := prefix + ".bin"
	txtPath := prefix + ".txt"

	if mode == ModeRecord && !overwrite {
		i := 0
		for {
			candidate := fmt.Sprintf("%s.%d.bin", prefix, i)
			if _, err := os.Stat(candidate); err != nil {
				break
			}
			i++
		}
		binPath = fmt.Sprintf("%s.%d.bin", prefix, i)
		txtPath = fmt.Sprintf("%s.%d.txt", prefix, i)
	}

	if mode == ModeRecord && overwrite {
		os.Remove(binPath)
		os.Remove(txtPath)
	}

	txtFile, err := os.OpenFile(txtPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("airreplay: open trace txt file: %w", err)
	}
	binFile, err := os.OpenFile(binPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("airreplay: open trace bin file: %w", err)
	}

	t := &Trace{
		mode:    mode,
		binPath: binPath,
		txtPath: txtPath,
		binFile: binFile,
		txtLog:  log.New(txtFile, "", 0),
	}

	if mode == ModeReplay {
		if err := t.loadAll(); err != nil {
			binFile.Close()
			txtFile.Close()
			return nil, err
		}
		t.debugStop = make(chan struct{})
		t.debugDone = make(chan struct{})
		go t.debugLoop()
	}

	return t, nil
}

// loadAll eagerly parses every length-prefixed entry out of the binary file,
// matching the original constructor's full-file read-to-EOF loop. A
// truncated length prefix or a corrupted payload aborts construction with an
// error naming how many events parsed cleanly so far.
func (t *Trace) loadAll() error {
	if _, err := t.binFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(t.binFile)

	var lenBuf [8]byte
	for {
		n, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil || n < 8 {
			return fmt.Errorf("airreplay: trace file is corrupted (length prefix, %d bytes). parsed %d events", n, len(t.events))
		}
		length := binary.LittleEndian.Uint64(lenBuf[:])

		buf := make([]byte, length)
		n, err = io.ReadFull(r, buf)
		if err != nil || uint64(n) < length {
			return fmt.Errorf("airreplay: trace file is corrupted buffer %d. parsed %d events", n, len(t.events))
		}

		entry, err := UnmarshalEntry(buf)
		if err != nil {
			return fmt.Errorf("airreplay: trace file is corrupted. parsed %d events: %w", len(t.events), err)
		}
		t.events = append(t.events, entry)
	}
	slog.Info("trace parsed for replay", "events", len(t.events), "path", t.binPath)
	return nil
}

func (t *Trace) debugLoop() {
	defer close(t.debugDone)
	ticker := time.NewTicker(Get().DebugTick)
	defer ticker.Stop()
	for {
		select {
		case <-t.debugStop:
			return
		case <-ticker.C:
			t.mu.Lock()
			pos, total := t.pos, len(t.events)
			var next string
			if pos < total {
				next = t.events[pos].ShortDebugString()
			}
			t.mu.Unlock()
			slog.Debug("trace position", "at", pos, "of", total, "next", next)
		}
	}
}

// Close stops the debug goroutine (replay mode) and closes the underlying
// files.
func (t *Trace) Close() error {
	if t.mode == ModeReplay && t.debugStop != nil {
		close(t.debugStop)
		<-t.debugDone
	}
	t.binFile.Close()
	if c, ok := t.txtLog.Writer().(io.Closer); ok {
		c.Close()
	}
	return nil
}

// Snapshot returns a copy of the trace's loaded entries, independent of
// this Trace's own cursor. The mock socket server uses this to seed one
// TraceGroup candidate per matched recording file without keeping the
// source Trace (and its background debug goroutine) alive.
func (t *Trace) Snapshot() []*OpaqueEntry {
	out := make([]*OpaqueEntry, len(t.events))
	copy(out, t.events)
	return out
}

// Pos returns the next unconsumed index.
func (t *Trace) Pos() int { return t.pos }

// Size returns the number of entries (replay mode only).
func (t *Trace) Size() int { return len(t.events) }

// IsReplay reports whether this trace is in replay mode.
func (t *Trace) IsReplay() bool { return t.mode == ModeReplay }

// Record appends an entry in record mode, mirroring it to the human-readable
// .txt log, and returns the position it was recorded at.
func (t *Trace) Record(e *OpaqueEntry) (int, error) {
	if t.mode != ModeRecord {
		abortMisuse("Record called on a replay trace")
	}
	t.txtLog.Println(e.ShortDebugString())

	payload, err := e.Marshal()
	if err != nil {
		return 0, err
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))

	if _, err := t.binFile.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := t.binFile.Write(payload); err != nil {
		return 0, err
	}
	if err := t.binFile.Sync(); err != nil {
		return 0, err
	}

	pos := t.pos
	t.pos++
	t.notifyCursor(t.pos, e.ShortDebugString())
	return pos, nil
}

// RecordBytes is the string/bytes-payload convenience overload used for raw
// socket traffic recording, mirroring the original's two-argument Record.
func (t *Trace) RecordBytes(payload []byte, debugString string) (int, error) {
	e := newEntry()
	e.BytesMessage = payload
	e.DebugString = debugString
	e.BodySize = uint64(len(payload))
	return t.Record(e)
}

// HasNext reports whether any entries remain to replay.
func (t *Trace) HasNext() bool { return t.pos < len(t.events) }

// PeekNext returns the next entry without consuming it.
func (t *Trace) PeekNext() (*OpaqueEntry, int) {
	if t.mode != ModeReplay {
		abortMisuse("PeekNext called on a record trace")
	}
	if !t.HasNext() {
		abortMisuse("PeekNext: got to the end of the trace")
	}
	return t.events[t.pos], t.pos
}

// ConsumeHead advances past the head entry, which must be the exact value
// previously returned by PeekNext (pointer identity, matching the original's
// reference-equality assertion). Clears any soft-consumption marker.
func (t *Trace) ConsumeHead(expectedHead *OpaqueEntry) {
	if t.mode != ModeReplay {
		abortMisuse("ConsumeHead called on a record trace")
	}
	if !t.HasNext() {
		abortMisuse("ConsumeHead: trace is empty")
	}
	head := t.events[t.pos]
	if head != expectedHead {
		abortMisuse("ConsumeHead: expectedHead does not match trace head")
	}
	if t.softConsumed != nil && t.softConsumed != head {
		abortMisuse("ConsumeHead: soft-consumed entry does not match trace head")
	}
	t.pos++
	t.softConsumed = nil
	t.notifyCursor(t.pos, head.ShortDebugString())
}

// SoftConsumeHead marks the head entry as tentatively claimed by an external
// reproducer callback without advancing the cursor. It returns false if the
// head is already soft-consumed, enforcing the at-most-one-outstanding
// invariant (spec §5).
func (t *Trace) SoftConsumeHead(expectedHead *OpaqueEntry) bool {
	if t.mode != ModeReplay {
		abortMisuse("SoftConsumeHead called on a record trace")
	}
	if !t.HasNext() {
		abortMisuse("SoftConsumeHead: trace is empty")
	}
	head := t.events[t.pos]
	if head != expectedHead {
		abortMisuse("SoftConsumeHead: expectedHead does not match trace head")
	}
	if t.softConsumed != nil {
		if t.softConsumed != head {
			abortMisuse("SoftConsumeHead: soft-consumed entry does not match trace head")
		}
		return false
	}
	t.softConsumed = head
	return true
}

// Coalesce fuses adjacent Socket Read/Write/writev entries into single
// entries, matching trace.cc's Coalesce. It is a one-shot transform applied
// once after loading a trace destined for mock-socket replay.
func (t *Trace) Coalesce() {
	if t.mode != ModeReplay {
		abortMisuse("Coalesce called on a record trace")
	}
	if len(t.events) == 0 {
		return
	}
	origLen := len(t.events)

	newEvents := []*OpaqueEntry{t.events[0]}
	for _, e := range t.events[1:] {
		compacted := newEvents[len(newEvents)-1]
		if e.DebugString == compacted.DebugString && isSocketIOLabel(e.DebugString) {
			compacted.BodySize += e.BodySize
			compacted.BytesMessage = append(compacted.BytesMessage, e.BytesMessage...)
		} else {
			newEvents = append(newEvents, e)
		}
	}
	t.events = newEvents
	slog.Info("coalesced trace", "from", origLen, "to", len(t.events))
}

func isSocketIOLabel(s string) bool {
	return s == "Socket Read" || s == "Socket Write" || strings.Contains(s, "Socket writev of")
}
