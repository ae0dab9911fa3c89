package value

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
)

// KeyValue is a non-null basic scalar, or an ordered struct of KeyValues.
// Key equality is structural; KeyValue is comparable with DeepEqual-style
// structural comparison via Equal.
type KeyValue struct {
	isStruct bool
	scalar   Scalar
	parts    []KeyValue
}

// NewKeyScalar builds a scalar KeyValue. kind must be a basic scalar kind;
// KindVector, KindJSON, and KindTaggedUnion are not valid key components.
func NewKeyScalar(s Scalar) (KeyValue, error) {
	switch s.Kind {
	case KindVector, KindJSON, KindTaggedUnion:
		return KeyValue{}, fmt.Errorf("value: %s is not a valid key scalar kind", s.Kind)
	}
	return KeyValue{scalar: s}, nil
}

// NewKeyStruct builds an ordered struct KeyValue from its components.
func NewKeyStruct(parts ...KeyValue) KeyValue {
	return KeyValue{isStruct: true, parts: append([]KeyValue(nil), parts...)}
}

func (k KeyValue) IsStruct() bool    { return k.isStruct }
func (k KeyValue) Scalar() Scalar    { return k.scalar }
func (k KeyValue) Parts() []KeyValue { return k.parts }

// StableFingerprint satisfies fingerprint.StableFingerprint: KeyValue's
// fingerprint is documented wire, so memoization and tracking code can key
// on it directly instead of re-deriving it from Encode().
func (k KeyValue) StableFingerprint() fingerprint.Fingerprint {
	f := fingerprint.New()
	writeKeyValue(f, k)
	return f.Sum()
}

// Equal reports structural equality.
func (k KeyValue) Equal(other KeyValue) bool {
	if k.isStruct != other.isStruct {
		return false
	}
	if k.isStruct {
		if len(k.parts) != len(other.parts) {
			return false
		}
		for i := range k.parts {
			if !k.parts[i].Equal(other.parts[i]) {
				return false
			}
		}
		return true
	}
	return scalarEqual(k.scalar, other.scalar)
}

func scalarEqual(a, b Scalar) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindStr:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindInt64:
		return a.Int64 == b.Int64
	case KindFloat32:
		return a.Float32 == b.Float32
	case KindFloat64:
		return a.Float64 == b.Float64
	case KindUUID:
		return a.UUID == b.UUID
	case KindDate:
		return a.Date.Equal(b.Date)
	case KindTime:
		return a.Time.Equal(b.Time)
	case KindLocalDateTime:
		return a.LocalDateTime.Equal(b.LocalDateTime)
	case KindOffsetDateTime:
		return a.OffsetDateTime.Equal(b.OffsetDateTime)
	case KindDuration:
		return a.Duration == b.Duration
	default:
		return false
	}
}

// Encode produces the length-preserving, order-preserving byte encoding:
// bytes.Compare over two Encode() outputs agrees with the component-wise
// ordering of the original KeyValues. Variable-length components (bytes,
// str) are escaped and terminated rather than length-prefixed, so that a
// shorter string that is NOT a prefix of a longer one still compares
// correctly against it.
func (k KeyValue) Encode() []byte {
	var buf []byte
	k.encodeInto(&buf)
	return buf
}

const (
	tagKeyStructBegin byte = 0xF0
	tagKeyStructEnd   byte = 0xF1
)

func (k KeyValue) encodeInto(buf *[]byte) {
	if k.isStruct {
		*buf = append(*buf, tagKeyStructBegin)
		for _, p := range k.parts {
			p.encodeInto(buf)
		}
		*buf = append(*buf, tagKeyStructEnd)
		return
	}
	s := k.scalar
	*buf = append(*buf, byte(s.Kind))
	switch s.Kind {
	case KindBytes:
		appendEscaped(buf, s.Bytes)
	case KindStr:
		appendEscaped(buf, []byte(s.Str))
	case KindBool:
		if s.Bool {
			*buf = append(*buf, 1)
		} else {
			*buf = append(*buf, 0)
		}
	case KindInt64:
		appendOrderedInt64(buf, s.Int64)
	case KindFloat32:
		appendOrderedFloat64(buf, float64(s.Float32))
	case KindFloat64:
		appendOrderedFloat64(buf, s.Float64)
	case KindUUID:
		*buf = append(*buf, s.UUID[:]...)
	case KindDate:
		appendOrderedInt64(buf, s.Date.UnixNano())
	case KindTime:
		appendOrderedInt64(buf, s.Time.UnixNano())
	case KindLocalDateTime:
		appendOrderedInt64(buf, s.LocalDateTime.UnixNano())
	case KindOffsetDateTime:
		appendOrderedInt64(buf, s.OffsetDateTime.UnixNano())
	case KindDuration:
		appendOrderedInt64(buf, int64(s.Duration))
	default:
		// NewKeyScalar rejects these kinds; reaching here means a KeyValue
		// was built some other way. Encode nothing further for the kind
		// tag already written rather than panic.
	}
}

// appendEscaped writes an escaped, self-terminating encoding of data: each
// 0x00 byte is doubled to 0x00 0xFF, and the whole run is terminated by
// 0x00 0x00. Because 0x00 never appears unescaped in the body, and the
// terminator is the only place a bare second 0x00 follows a 0x00, the
// encoding is prefix-free and its byte order matches data's lexicographic
// order.
func appendEscaped(buf *[]byte, data []byte) {
	for _, b := range data {
		if b == 0x00 {
			*buf = append(*buf, 0x00, 0xFF)
		} else {
			*buf = append(*buf, b)
		}
	}
	*buf = append(*buf, 0x00, 0x00)
}

// appendOrderedInt64 encodes v so that unsigned byte-wise comparison
// matches signed numeric order: flip the sign bit of the two's-complement
// representation.
func appendOrderedInt64(buf *[]byte, v int64) {
	u := uint64(v) ^ (1 << 63)
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	*buf = append(*buf, b[:]...)
}

// appendOrderedFloat64 encodes v so that unsigned byte-wise comparison
// matches IEEE-754 total order for non-NaN floats: flip all bits when
// negative, else just set the sign bit.
func appendOrderedFloat64(buf *[]byte, v float64) {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(bits)
		bits >>= 8
	}
	*buf = append(*buf, b[:]...)
}

// CanonicalJSON renders the KeyValue per the engine's canonical JSON
// mapping (§6.2): sorted-key-free since KeyValue carries no field names,
// scalars map per scalarCanonicalJSON, and a struct key becomes a JSON
// array of its parts in declared order.
func (k KeyValue) CanonicalJSON() []byte {
	if k.isStruct {
		parts := make([]json.RawMessage, len(k.parts))
		for i, p := range k.parts {
			parts[i] = json.RawMessage(p.CanonicalJSON())
		}
		b, err := json.Marshal(parts)
		if err != nil {
			return []byte("null")
		}
		return b
	}
	return scalarCanonicalJSON(k.scalar)
}

func scalarCanonicalJSON(s Scalar) []byte {
	switch s.Kind {
	case KindBytes:
		b, _ := json.Marshal(s.Bytes)
		return b
	case KindStr:
		b, _ := json.Marshal(s.Str)
		return b
	case KindBool:
		if s.Bool {
			return []byte("true")
		}
		return []byte("false")
	case KindInt64:
		return []byte(fmt.Sprintf("%d", s.Int64))
	case KindFloat32:
		b, _ := json.Marshal(float64(s.Float32))
		return b
	case KindFloat64:
		b, _ := json.Marshal(s.Float64)
		return b
	case KindUUID:
		b, _ := json.Marshal(s.UUID.String())
		return b
	case KindDate:
		b, _ := json.Marshal(s.Date.Format("2006-01-02"))
		return b
	case KindTime:
		b, _ := json.Marshal(s.Time.Format("15:04:05.999999999"))
		return b
	case KindLocalDateTime:
		b, _ := json.Marshal(s.LocalDateTime.Format("2006-01-02T15:04:05.999999999"))
		return b
	case KindOffsetDateTime:
		b, _ := json.Marshal(s.OffsetDateTime.Format("2006-01-02T15:04:05.999999999Z07:00"))
		return b
	case KindDuration:
		return []byte(fmt.Sprintf("%d", int64(s.Duration)))
	default:
		return []byte("null")
	}
}
