package value

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// wire tags for the outer Value envelope. Kept distinct from ScalarKind
// so the two tag spaces never need to agree.
const (
	wireNull byte = iota
	wireScalar
	wireStruct
	wireKTable
	wireUTable
	wireLTable
)

// Marshal encodes v as MessagePack using the engine's wire format: every
// Value is framed as [tag, ...payload] so decoding never needs external
// schema information. This is the encode half of the fp(encode(v)) ==
// fp(v) round-trip invariant.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v); err != nil {
		return nil, fmt.Errorf("value: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Value previously produced by Marshal.
func Unmarshal(data []byte) (Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("value: unmarshal: %w", err)
	}
	return v, nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch t := v.(type) {
	case nil:
		return encodeEnvelope(enc, wireNull, 0, func() error { return nil }) // treat untyped nil as Null
	case Null:
		return encodeEnvelope(enc, wireNull, 0, func() error { return nil })
	case Scalar:
		return encodeEnvelope(enc, wireScalar, 1, func() error { return encodeScalar(enc, t) })
	case Struct:
		return encodeEnvelope(enc, wireStruct, 1, func() error { return encodeStruct(enc, t) })
	case KTable:
		return encodeEnvelope(enc, wireKTable, 1, func() error { return encodeRows(enc, t.Rows) })
	case UTable:
		return encodeEnvelope(enc, wireUTable, 1, func() error { return encodeRows(enc, t.Rows) })
	case LTable:
		return encodeEnvelope(enc, wireLTable, 1, func() error { return encodeRows(enc, t.Rows) })
	default:
		return fmt.Errorf("value: unknown Value implementation %T", v)
	}
}

func encodeEnvelope(enc *msgpack.Encoder, tag byte, bodyLen int, body func() error) error {
	if err := enc.EncodeArrayLen(1 + bodyLen); err != nil {
		return err
	}
	if err := enc.EncodeUint8(tag); err != nil {
		return err
	}
	if bodyLen == 0 {
		return nil
	}
	return body()
}

func encodeScalar(enc *msgpack.Encoder, s Scalar) error {
	if err := enc.EncodeUint8(byte(s.Kind)); err != nil {
		return err
	}
	switch s.Kind {
	case KindBytes:
		return enc.EncodeBytes(s.Bytes)
	case KindStr:
		return enc.EncodeString(s.Str)
	case KindBool:
		return enc.EncodeBool(s.Bool)
	case KindInt64:
		return enc.EncodeInt64(s.Int64)
	case KindFloat32:
		return enc.EncodeFloat32(s.Float32)
	case KindFloat64:
		return enc.EncodeFloat64(s.Float64)
	case KindUUID:
		return enc.EncodeBytes(s.UUID[:])
	case KindDate:
		return enc.EncodeInt64(s.Date.UnixNano())
	case KindTime:
		return enc.EncodeInt64(s.Time.UnixNano())
	case KindLocalDateTime:
		return enc.EncodeInt64(s.LocalDateTime.UnixNano())
	case KindOffsetDateTime:
		return enc.EncodeInt64(s.OffsetDateTime.UnixNano())
	case KindDuration:
		return enc.EncodeInt64(int64(s.Duration))
	case KindVector:
		if err := enc.EncodeArrayLen(len(s.Vector)); err != nil {
			return err
		}
		for _, elem := range s.Vector {
			if err := encodeScalar(enc, elem); err != nil {
				return err
			}
		}
		return nil
	case KindJSON:
		return enc.EncodeBytes(s.JSON)
	case KindTaggedUnion:
		if err := enc.EncodeString(s.TaggedUnionTag); err != nil {
			return err
		}
		return encodeValue(enc, s.TaggedUnionValue)
	default:
		return fmt.Errorf("value: unknown scalar kind %s", s.Kind)
	}
}

func encodeStruct(enc *msgpack.Encoder, s Struct) error {
	if err := enc.EncodeArrayLen(len(s.Fields)); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(f.Name); err != nil {
			return err
		}
		if err := encodeValue(enc, f.Value); err != nil {
			return err
		}
	}
	return nil
}

func encodeRows(enc *msgpack.Encoder, rows []Row) error {
	if err := enc.EncodeArrayLen(len(rows)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if r.Key == nil {
			if err := enc.EncodeNil(); err != nil {
				return err
			}
		} else {
			if err := encodeKeyValue(enc, *r.Key); err != nil {
				return err
			}
		}
		if err := encodeStruct(enc, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func encodeKeyValue(enc *msgpack.Encoder, k KeyValue) error {
	if k.IsStruct() {
		parts := k.Parts()
		if err := enc.EncodeArrayLen(1 + len(parts)); err != nil {
			return err
		}
		if err := enc.EncodeBool(true); err != nil {
			return err
		}
		for _, p := range parts {
			if err := encodeKeyValue(enc, p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeBool(false); err != nil {
		return err
	}
	return encodeScalar(enc, k.Scalar())
}

// MarshalKey encodes a KeyValue as MessagePack, for callers (tracking
// backends, memo cache keys) that need a KeyValue to round-trip through
// an opaque byte column rather than through Encode()'s one-way
// order-preserving form.
func MarshalKey(k KeyValue) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeKeyValue(enc, k); err != nil {
		return nil, fmt.Errorf("value: marshal key: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalKey is the inverse of MarshalKey.
func UnmarshalKey(data []byte) (KeyValue, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	k, err := decodeKeyValue(dec)
	if err != nil {
		return KeyValue{}, fmt.Errorf("value: unmarshal key: %w", err)
	}
	return k, nil
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("value: empty envelope")
	}
	tagU, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}
	switch tagU {
	case wireNull:
		return Null{}, nil
	case wireScalar:
		return decodeScalar(dec)
	case wireStruct:
		s, err := decodeStruct(dec)
		return s, err
	case wireKTable:
		rows, err := decodeRows(dec)
		if err != nil {
			return nil, err
		}
		return KTable{Rows: rows}, nil
	case wireUTable:
		rows, err := decodeRows(dec)
		if err != nil {
			return nil, err
		}
		return UTable{Rows: rows}, nil
	case wireLTable:
		rows, err := decodeRows(dec)
		if err != nil {
			return nil, err
		}
		return LTable{Rows: rows}, nil
	default:
		return nil, fmt.Errorf("value: unknown wire tag %d", tagU)
	}
}

func decodeScalar(dec *msgpack.Decoder) (Scalar, error) {
	kindU, err := dec.DecodeUint8()
	if err != nil {
		return Scalar{}, err
	}
	kind := ScalarKind(kindU)
	switch kind {
	case KindBytes:
		b, err := dec.DecodeBytes()
		return Scalar{Kind: kind, Bytes: b}, err
	case KindStr:
		s, err := dec.DecodeString()
		return Scalar{Kind: kind, Str: s}, err
	case KindBool:
		b, err := dec.DecodeBool()
		return Scalar{Kind: kind, Bool: b}, err
	case KindInt64:
		i, err := dec.DecodeInt64()
		return Scalar{Kind: kind, Int64: i}, err
	case KindFloat32:
		f, err := dec.DecodeFloat32()
		return Scalar{Kind: kind, Float32: f}, err
	case KindFloat64:
		f, err := dec.DecodeFloat64()
		return Scalar{Kind: kind, Float64: f}, err
	case KindUUID:
		b, err := dec.DecodeBytes()
		if err != nil {
			return Scalar{}, err
		}
		id, err := uuid.FromBytes(b)
		return Scalar{Kind: kind, UUID: id}, err
	case KindDate:
		n, err := dec.DecodeInt64()
		return Scalar{Kind: kind, Date: time.Unix(0, n).UTC()}, err
	case KindTime:
		n, err := dec.DecodeInt64()
		return Scalar{Kind: kind, Time: time.Unix(0, n).UTC()}, err
	case KindLocalDateTime:
		n, err := dec.DecodeInt64()
		return Scalar{Kind: kind, LocalDateTime: time.Unix(0, n).UTC()}, err
	case KindOffsetDateTime:
		n, err := dec.DecodeInt64()
		return Scalar{Kind: kind, OffsetDateTime: time.Unix(0, n).UTC()}, err
	case KindDuration:
		n, err := dec.DecodeInt64()
		return Scalar{Kind: kind, Duration: time.Duration(n)}, err
	case KindVector:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Scalar{}, err
		}
		elems := make([]Scalar, n)
		for i := 0; i < n; i++ {
			el, err := decodeScalar(dec)
			if err != nil {
				return Scalar{}, err
			}
			elems[i] = el
		}
		return Scalar{Kind: kind, Vector: elems}, nil
	case KindJSON:
		b, err := dec.DecodeBytes()
		return Scalar{Kind: kind, JSON: b}, err
	case KindTaggedUnion:
		tag, err := dec.DecodeString()
		if err != nil {
			return Scalar{}, err
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Scalar{}, err
		}
		return Scalar{Kind: kind, TaggedUnionTag: tag, TaggedUnionValue: v}, nil
	default:
		return Scalar{}, fmt.Errorf("value: unknown scalar kind tag %d", kindU)
	}
}

func decodeStruct(dec *msgpack.Decoder) (Struct, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Struct{}, err
	}
	fields := make([]Field, n)
	for i := 0; i < n; i++ {
		if _, err := dec.DecodeArrayLen(); err != nil {
			return Struct{}, err
		}
		name, err := dec.DecodeString()
		if err != nil {
			return Struct{}, err
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Struct{}, err
		}
		fields[i] = Field{Name: name, Value: v}
	}
	return Struct{Fields: fields}, nil
}

func decodeRows(dec *msgpack.Decoder) ([]Row, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		if _, err := dec.DecodeArrayLen(); err != nil {
			return nil, err
		}
		code, err := dec.PeekCode()
		if err != nil {
			return nil, err
		}
		var key *KeyValue
		if code == msgpcode.Nil {
			if err := dec.DecodeNil(); err != nil {
				return nil, err
			}
		} else {
			k, err := decodeKeyValue(dec)
			if err != nil {
				return nil, err
			}
			key = &k
		}
		s, err := decodeStruct(dec)
		if err != nil {
			return nil, err
		}
		rows[i] = Row{Key: key, Value: s}
	}
	return rows, nil
}

func decodeKeyValue(dec *msgpack.Decoder) (KeyValue, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return KeyValue{}, err
	}
	isStruct, err := dec.DecodeBool()
	if err != nil {
		return KeyValue{}, err
	}
	if isStruct {
		parts := make([]KeyValue, n-1)
		for i := 0; i < n-1; i++ {
			p, err := decodeKeyValue(dec)
			if err != nil {
				return KeyValue{}, err
			}
			parts[i] = p
		}
		return NewKeyStruct(parts...), nil
	}
	s, err := decodeScalar(dec)
	if err != nil {
		return KeyValue{}, err
	}
	return NewKeyScalar(s)
}
