package airreplay

import "github.com/google/uuid"

// SaveRestoreUUID pins an externally-observable UUID through the string
// SaveRestore path, the concrete instance of the nondeterministic values
// spec §1 calls out ("incoming and outgoing RPCs, externally observable
// state (UUIDs, ...)"). Grounded on ringbuf.Reader.Start's ad hoc
// fmt.Sprintf("kernel-trace-%d", ...) id-minting pattern: that code mints an
// identifier once and threads it through; SaveRestoreUUID is the
// record/replay-safe equivalent for values minted by uuid.New() at runtime.
func (e *Engine) SaveRestoreUUID(key string, id *uuid.UUID) (int, error) {
	s := id.String()
	pos, err := e.SaveRestoreString(key, &s)
	if err != nil {
		return pos, err
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pos, err
	}
	*id = parsed
	return pos, nil
}
