package airreplay

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/anypb"
)

// PROTO_COMPARE_FALSE_ALARM is returned by compareAnyPayloads (the engine's
// default comparator for *anypb.Any payloads) in the one case the original
// flags as a false alarm rather than a real mismatch: the two payloads
// unpack to messages that proto.Equal considers equal, but their encoded
// bytes differ (e.g. a different field order on the wire).
const PROTO_COMPARE_FALSE_ALARM = "PROTO_COMPARE_FALSE_ALARM"

// StructuredMessageComparator is the host-pluggable collaborator the engine
// calls to decide whether two structured messages match during RecordReplay
// (spec §6). It returns "" on a match, PROTO_COMPARE_FALSE_ALARM when the
// messages are semantically equal but not byte-identical (also treated as a
// match), and a human-readable mismatch description otherwise.
type StructuredMessageComparator func(recorded, replayed proto.Message) string

// CompareMessages is the default comparator, a field-by-field reflection
// walk directly grounded on utils.cc's compareMessages: descriptor identity,
// then per-field comparison by Kind, recursing into messages and repeated
// fields.
func CompareMessages(m1, m2 proto.Message) string {
	return compareMessages(m1.ProtoReflect(), m2.ProtoReflect(), "")
}

// CompareMessageWithAny unpacks any2 using message1's type and compares,
// grounded on utils.cc's compareMessageWithAny.
func CompareMessageWithAny(message1 proto.Message, any2 *anypb.Any) string {
	any1, err := anypb.New(message1)
	if err != nil {
		return fmt.Sprintf("Type Mismatch m1:<pack error %v> m2:%s", err, any2.GetTypeUrl())
	}
	if any1.GetTypeUrl() != any2.GetTypeUrl() {
		return fmt.Sprintf("Type Mismatch m1:%s m2:%s", any1.GetTypeUrl(), any2.GetTypeUrl())
	}
	message2 := message1.ProtoReflect().New().Interface()
	if err := any2.UnmarshalTo(message2); err != nil {
		return fmt.Sprintf("Unmarshal error: %v", err)
	}
	return CompareMessages(message1, message2)
}

func compareMessages(m1, m2 protoreflect.Message, parentField string) string {
	d1, d2 := m1.Descriptor(), m2.Descriptor()
	errorCtx := fmt.Sprintf("\nm1: %v descriptor: %s field_count: %d\nm2: %v descriptor: %s field_count: %d",
		m1.Interface(), d1.FullName(), d1.Fields().Len(),
		m2.Interface(), d2.FullName(), d2.Fields().Len())

	if d1.FullName() != d2.FullName() {
		return fmt.Sprintf("Descriptor Mismatch m1:%s m2:%s%s", d1.FullName(), d2.FullName(), errorCtx)
	}

	fields := d1.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fieldName := string(fd.Name())
		if parentField != "" {
			fieldName = parentField + "." + fieldName
		}

		if fd.IsList() {
			l1, l2 := m1.Get(fd).List(), m2.Get(fd).List()
			if l1.Len() != l2.Len() {
				return fmt.Sprintf("Field: %s - Size Mismatch f1size:%d f2size:%d%s",
					fieldName, l1.Len(), l2.Len(), errorCtx)
			}
			for j := 0; j < l1.Len(); j++ {
				if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
					if res := compareMessages(l1.Get(j).Message(), l2.Get(j).Message(), fieldName); res != "" {
						return res
					}
				} else if res := compareScalar(fd, l1.Get(j), l2.Get(j), fieldName, errorCtx); res != "" {
					return res
				}
			}
			continue
		}

		v1, v2 := m1.Get(fd), m2.Get(fd)
		switch fd.Kind() {
		case protoreflect.MessageKind, protoreflect.GroupKind:
			if res := compareMessages(v1.Message(), v2.Message(), fieldName); res != "" {
				return res
			}
		default:
			if res := compareScalar(fd, v1, v2, fieldName, errorCtx); res != "" {
				return res
			}
		}
	}
	return ""
}

func compareScalar(fd protoreflect.FieldDescriptor, v1, v2 protoreflect.Value, fieldName, errorCtx string) string {
	switch fd.Kind() {
	case protoreflect.StringKind:
		if v1.String() != v2.String() {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%s f2value:%s%s",
				fieldName, v1.String(), v2.String(), errorCtx)
		}
	case protoreflect.BytesKind:
		b1, b2 := v1.Bytes(), v2.Bytes()
		if string(b1) != string(b2) {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%x f2value:%x%s",
				fieldName, b1, b2, errorCtx)
		}
	case protoreflect.BoolKind:
		if v1.Bool() != v2.Bool() {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%t f2value:%t%s",
				fieldName, v1.Bool(), v2.Bool(), errorCtx)
		}
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		f1, f2 := v1.Float(), v2.Float()
		if math.Abs(f1-f2) > 0.0000001 {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%v f2value:%v%s",
				fieldName, f1, f2, errorCtx)
		}
	case protoreflect.EnumKind:
		if v1.Enum() != v2.Enum() {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%d f2value:%d%s",
				fieldName, v1.Enum(), v2.Enum(), errorCtx)
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if v1.Int() != v2.Int() {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%d f2value:%d%s",
				fieldName, v1.Int(), v2.Int(), errorCtx)
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if v1.Uint() != v2.Uint() {
			return fmt.Sprintf("Field: %s - Value Mismatch f1value:%d f2value:%d%s",
				fieldName, v1.Uint(), v2.Uint(), errorCtx)
		}
	default:
		return fmt.Sprintf("Field: %s:kind(%s) - type comparison not implemented%s", fieldName, fd.Kind(), errorCtx)
	}
	return ""
}

// compareAnyPayloads compares two *anypb.Any values the way the engine does
// during RecordReplay: exact byte equality first (the common, cheap case),
// falling back to unpacking both payloads and comparing them with
// proto.Equal, so that two encodings of the same field values are reported
// as PROTO_COMPARE_FALSE_ALARM rather than as a mismatch.
func compareAnyPayloads(recorded, replayed *anypb.Any) string {
	if recorded.GetTypeUrl() != replayed.GetTypeUrl() {
		return fmt.Sprintf("Type Mismatch m1:%s m2:%s", recorded.GetTypeUrl(), replayed.GetTypeUrl())
	}
	if string(recorded.GetValue()) == string(replayed.GetValue()) {
		return ""
	}
	m1, err1 := recorded.UnmarshalNew()
	m2, err2 := replayed.UnmarshalNew()
	if err1 == nil && err2 == nil && proto.Equal(m1, m2) {
		return PROTO_COMPARE_FALSE_ALARM
	}
	return fmt.Sprintf("Value Mismatch type_url:%s", recorded.GetTypeUrl())
}
