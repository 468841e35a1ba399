package airreplay

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// OpaqueEntry is the sole trace record (spec §3). Exactly one of
// Message/StrMessage/BytesMessage/NumMessage is populated; the selector is
// implicit in which field is non-empty, matching proto3 implicit presence.
type OpaqueEntry struct {
	Kind           Kind
	DebugString    string
	ConnectionInfo string
	// LinkToToken is -1 when unset, matching the original's sentinel.
	LinkToToken int64
	BodySize    uint64

	Message      *anypb.Any
	StrMessage   string
	BytesMessage []byte
	NumMessage   uint64
}

// newEntry returns an entry with LinkToToken defaulted to "unset".
func newEntry() *OpaqueEntry {
	return &OpaqueEntry{LinkToToken: -1}
}

// hasStr, hasBytes, hasNum and hasMessage report which value field is
// populated.
func (e *OpaqueEntry) hasStr() bool     { return e.StrMessage != "" }
func (e *OpaqueEntry) hasBytes() bool   { return len(e.BytesMessage) > 0 }
func (e *OpaqueEntry) hasNum() bool     { return e.NumMessage != 0 }
func (e *OpaqueEntry) hasMessage() bool { return e.Message != nil }

// ShortDebugString renders a one-line summary used both in mismatch logs and
// the human-readable trace mirror (spec §4.A).
func (e *OpaqueEntry) ShortDebugString() string {
	var body string
	switch {
	case e.hasMessage():
		body = fmt.Sprintf("message{type_url:%q len:%d}", e.Message.GetTypeUrl(), len(e.Message.GetValue()))
	case e.hasStr():
		body = fmt.Sprintf("str_message:%q", e.StrMessage)
	case e.hasBytes():
		body = fmt.Sprintf("bytes_message:%x", e.BytesMessage)
	case e.hasNum():
		body = fmt.Sprintf("num_message:%d", e.NumMessage)
	}
	return fmt.Sprintf("kind:%s rr_debug_string:%q connection_info:%q body_size:%d %s",
		e.Kind, e.DebugString, e.ConnectionInfo, e.BodySize, body)
}

// Entry field numbers in the hand-rolled wire encoding below. The schema is
// fixed and small enough that full protoc-generated code would buy nothing;
// protowire gives the exact protobuf wire format without codegen.
const (
	fieldKind           = 1
	fieldDebugString    = 2
	fieldConnectionInfo = 3
	fieldLinkToToken    = 4
	fieldBodySize       = 5
	fieldMessage        = 6
	fieldStrMessage     = 7
	fieldBytesMessage   = 8
	fieldNumMessage     = 9
)

// Marshal serializes the entry using the protobuf wire format (length
// prefix over the caller, per spec §4.A; the length prefix itself is added
// by the trace file writer, not here).
func (e *OpaqueEntry) Marshal() ([]byte, error) {
	var b []byte
	if e.Kind != KindInvalid {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Kind))
	}
	if e.DebugString != "" {
		b = protowire.AppendTag(b, fieldDebugString, protowire.BytesType)
		b = protowire.AppendString(b, e.DebugString)
	}
	if e.ConnectionInfo != "" {
		b = protowire.AppendTag(b, fieldConnectionInfo, protowire.BytesType)
		b = protowire.AppendString(b, e.ConnectionInfo)
	}
	if e.LinkToToken != -1 {
		b = protowire.AppendTag(b, fieldLinkToToken, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.LinkToToken))
	}
	if e.BodySize != 0 {
		b = protowire.AppendTag(b, fieldBodySize, protowire.VarintType)
		b = protowire.AppendVarint(b, e.BodySize)
	}
	if e.Message != nil {
		packed, err := proto.Marshal(e.Message)
		if err != nil {
			return nil, fmt.Errorf("airreplay: marshal entry message: %w", err)
		}
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if e.StrMessage != "" {
		b = protowire.AppendTag(b, fieldStrMessage, protowire.BytesType)
		b = protowire.AppendString(b, e.StrMessage)
	}
	if len(e.BytesMessage) > 0 {
		b = protowire.AppendTag(b, fieldBytesMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, e.BytesMessage)
	}
	if e.NumMessage != 0 {
		b = protowire.AppendTag(b, fieldNumMessage, protowire.VarintType)
		b = protowire.AppendVarint(b, e.NumMessage)
	}
	return b, nil
}

// UnmarshalEntry parses the wire format written by Marshal. A corrupted or
// truncated payload is reported as an error; the trace loader turns that
// into a fatal load error that includes the parsed-so-far count (spec §4.A).
func UnmarshalEntry(data []byte) (*OpaqueEntry, error) {
	e := newEntry()
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("airreplay: corrupt entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt kind field: %w", protowire.ParseError(n))
			}
			e.Kind = Kind(v)
			data = data[n:]
		case fieldDebugString:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt debug_string field: %w", protowire.ParseError(n))
			}
			e.DebugString = v
			data = data[n:]
		case fieldConnectionInfo:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt connection_info field: %w", protowire.ParseError(n))
			}
			e.ConnectionInfo = v
			data = data[n:]
		case fieldLinkToToken:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt link_to_token field: %w", protowire.ParseError(n))
			}
			e.LinkToToken = protowire.DecodeZigZag(v)
			data = data[n:]
		case fieldBodySize:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt body_size field: %w", protowire.ParseError(n))
			}
			e.BodySize = v
			data = data[n:]
		case fieldMessage:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt message field: %w", protowire.ParseError(n))
			}
			var any anypb.Any
			if err := proto.Unmarshal(v, &any); err != nil {
				return nil, fmt.Errorf("airreplay: corrupt message field: %w", err)
			}
			e.Message = &any
			data = data[n:]
		case fieldStrMessage:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt str_message field: %w", protowire.ParseError(n))
			}
			e.StrMessage = v
			data = data[n:]
		case fieldBytesMessage:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt bytes_message field: %w", protowire.ParseError(n))
			}
			e.BytesMessage = append([]byte(nil), v...)
			data = data[n:]
		case fieldNumMessage:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt num_message field: %w", protowire.ParseError(n))
			}
			e.NumMessage = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("airreplay: corrupt unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
