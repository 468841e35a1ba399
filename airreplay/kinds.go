package airreplay

import "fmt"

// Kind tags an OpaqueEntry with the message family it carries. Kinds
// 0-2 are reserved by the engine itself; host applications register their
// own kinds above MaxReservedKind.
type Kind int32

const (
	KindInvalid     Kind = 0
	KindDefault     Kind = 1
	KindSaveRestore Kind = 2

	// MaxReservedKind is the highest kind value the engine reserves for
	// itself. RegisterReproducer and RegisterMessageKindName reject any
	// kind at or below this value.
	MaxReservedKind = KindSaveRestore
)

// Kuduraft integration kinds, carried over from the original C++ consumer.
// They aren't special to the engine - they're ordinary user kinds - but are
// named here so host integrations and tests can refer to them consistently.
const (
	KindOutboundRequest  Kind = 9
	KindOutboundResponse Kind = 10
	KindInboundRequest   Kind = 11
	KindInboundResponse  Kind = 12
)

func (k Kind) reserved() bool { return k <= MaxReservedKind }

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "kInvalid"
	case KindDefault:
		return "kDefault"
	case KindSaveRestore:
		return "kSaveRestore"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// messageKindName renders a kind using the engine's own reserved names plus
// whatever the host registered via RegisterMessageKindName.
func (e *Engine) messageKindName(kind Kind) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messageKindNameLocked(kind)
}

// messageKindNameLocked is messageKindName for callers already holding e.mu.
func (e *Engine) messageKindNameLocked(kind Kind) string {
	switch kind {
	case KindInvalid, KindDefault, KindSaveRestore:
		return kind.String()
	}
	name, ok := e.userKindNames[kind]
	if ok {
		return fmt.Sprintf("UserMessage(%s)", name)
	}
	return fmt.Sprintf("UnnamedMessageKind(%d)", int32(kind))
}
