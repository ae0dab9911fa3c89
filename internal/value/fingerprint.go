package value

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
)

// WriteTo feeds v's typed-event walk into an already-open Fingerprinter,
// for callers composing several values into one larger fingerprint walk
// (e.g. a Transform node folding its positional inputs together).
func WriteTo(f *fingerprint.Fingerprinter, v Value) {
	writeValue(f, v)
}

// Fingerprint walks v depth-first through a fingerprint.Fingerprinter and
// returns the resulting content hash. Struct fields are fed in sorted-by-
// name order so two structurally equal values with differently ordered
// fields fingerprint identically; table row order is preserved since rows
// are positionally significant.
func Fingerprint(v Value) fingerprint.Fingerprint {
	f := fingerprint.New()
	writeValue(f, v)
	return f.Sum()
}

func writeValue(f *fingerprint.Fingerprinter, v Value) {
	switch t := v.(type) {
	case nil:
		f.Null()
	case Null:
		f.Null()
	case Scalar:
		writeScalar(f, t)
	case Struct:
		writeStruct(f, t)
	case KTable:
		writeRows(f, t.Rows)
	case UTable:
		writeRows(f, t.Rows)
	case LTable:
		writeRows(f, t.Rows)
	default:
		f.Fail(fingerprint.ErrWalkFailed)
	}
}

func writeStruct(f *fingerprint.Fingerprinter, s Struct) {
	idx := make([]int, len(s.Fields))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return s.Fields[idx[i]].Name < s.Fields[idx[j]].Name })

	f.BeginStruct(len(s.Fields))
	for _, i := range idx {
		field := s.Fields[i]
		f.Field(field.Name)
		writeValue(f, field.Value)
	}
	f.End()
}

func writeRows(f *fingerprint.Fingerprinter, rows []Row) {
	f.BeginSeq(len(rows))
	for _, r := range rows {
		f.BeginStruct(2)
		f.Field("key")
		if r.Key == nil {
			f.Null()
		} else {
			writeKeyValue(f, *r.Key)
		}
		f.Field("value")
		writeStruct(f, r.Value)
		f.End()
	}
	f.End()
}

func writeKeyValue(f *fingerprint.Fingerprinter, k KeyValue) {
	if k.IsStruct() {
		parts := k.Parts()
		f.BeginSeq(len(parts))
		for _, p := range parts {
			writeKeyValue(f, p)
		}
		f.End()
		return
	}
	writeScalar(f, k.Scalar())
}

func writeScalar(f *fingerprint.Fingerprinter, s Scalar) {
	switch s.Kind {
	case KindBytes:
		f.Scalar(byte(s.Kind), s.Bytes)
	case KindStr:
		f.Scalar(byte(s.Kind), []byte(s.Str))
	case KindBool:
		if s.Bool {
			f.Scalar(byte(s.Kind), []byte{1})
		} else {
			f.Scalar(byte(s.Kind), []byte{0})
		}
	case KindInt64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(s.Int64))
		f.Scalar(byte(s.Kind), b[:])
	case KindFloat32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(s.Float32))
		f.Scalar(byte(s.Kind), b[:])
	case KindFloat64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(s.Float64))
		f.Scalar(byte(s.Kind), b[:])
	case KindUUID:
		f.Scalar(byte(s.Kind), s.UUID[:])
	case KindDate:
		f.Scalar(byte(s.Kind), timeBytes(s.Date.UnixNano()))
	case KindTime:
		f.Scalar(byte(s.Kind), timeBytes(s.Time.UnixNano()))
	case KindLocalDateTime:
		f.Scalar(byte(s.Kind), timeBytes(s.LocalDateTime.UnixNano()))
	case KindOffsetDateTime:
		f.Scalar(byte(s.Kind), timeBytes(s.OffsetDateTime.UnixNano()))
	case KindDuration:
		f.Scalar(byte(s.Kind), timeBytes(int64(s.Duration)))
	case KindVector:
		f.BeginSeq(len(s.Vector))
		for _, elem := range s.Vector {
			writeScalar(f, elem)
		}
		f.End()
	case KindJSON:
		f.Scalar(byte(s.Kind), s.JSON)
	case KindTaggedUnion:
		f.BeginStruct(1)
		f.Field(s.TaggedUnionTag)
		writeValue(f, s.TaggedUnionValue)
		f.End()
	default:
		f.Fail(fingerprint.ErrWalkFailed)
	}
}

func timeBytes(n int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}
