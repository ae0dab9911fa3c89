// Package value implements the engine's closed value model: the runtime
// representation every connector, transform, and target operates on.
// A Value is one of Null, Scalar, Struct, KTable, UTable, or LTable; every
// Value has a static ValueType describing its shape and nullability.
package value

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScalarKind distinguishes the basic scalar kinds. It doubles as the type
// tag fed to fingerprint.Fingerprinter.Scalar so that, e.g., int64(1) and
// float64(1) never collide.
type ScalarKind byte

const (
	KindBytes ScalarKind = iota + 1
	KindStr
	KindBool
	KindInt64
	KindFloat32
	KindFloat64
	KindUUID
	KindDate
	KindTime
	KindLocalDateTime
	KindOffsetDateTime
	KindDuration
	KindVector
	KindJSON
	KindTaggedUnion
)

func (k ScalarKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindStr:
		return "str"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindUUID:
		return "uuid"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	case KindLocalDateTime:
		return "local_datetime"
	case KindOffsetDateTime:
		return "offset_datetime"
	case KindDuration:
		return "duration"
	case KindVector:
		return "vector"
	case KindJSON:
		return "json"
	case KindTaggedUnion:
		return "tagged_union"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// TableKind distinguishes the three table shapes.
type TableKind byte

const (
	TableKeyed TableKind = iota + 1
	TableUnkeyed
	TableList
)

// Value is the closed sum type. The concrete types below are the only
// permitted implementations; a type switch over one is exhaustive.
type Value interface {
	isValue()
}

// Null is the absence of a value at a nullable slot.
type Null struct{}

func (Null) isValue() {}

// Scalar is a tagged leaf value. Exactly one of the fields is meaningful,
// selected by Kind: the field sharing the Kind's name (Str for KindStr,
// Vector for KindVector, and so on).
type Scalar struct {
	Kind ScalarKind

	Bytes  []byte
	Str    string
	Bool   bool
	Int64  int64
	Float32 float32
	Float64 float64
	UUID   uuid.UUID

	// Date is a calendar date with no time-of-day or zone (KindDate).
	Date time.Time
	// Time is a time-of-day with no date (KindTime); Date fields are zero.
	Time time.Time
	// LocalDateTime has no zone (KindLocalDateTime).
	LocalDateTime time.Time
	// OffsetDateTime carries an explicit UTC offset (KindOffsetDateTime).
	OffsetDateTime time.Time
	Duration       time.Duration

	// Vector is a fixed-element-type sequence of basic scalars, used for
	// embeddings; elements are themselves Scalars (normally KindFloat32).
	Vector []Scalar

	// JSON is a pre-validated, already-canonical JSON document, stored as
	// its raw bytes.
	JSON []byte

	// TaggedUnion is a tagged-union leaf: a variant name plus its payload.
	TaggedUnionTag   string
	TaggedUnionValue Value
}

func (Scalar) isValue() {}

// Field is one named, ordered field of a Struct.
type Field struct {
	Name  string
	Value Value
}

// Struct is an ordered collection of named fields. Field order is part of
// the value's identity for encoding purposes but not for fingerprinting
// (the fingerprinter sorts by field name).
type Struct struct {
	Fields []Field
}

func (Struct) isValue() {}

func (s Struct) Get(name string) (Value, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Row is one row of a table: an optional key (absent for UTable/LTable
// rows whose table carries no primary-key projection) and its Struct
// payload.
type Row struct {
	Key   *KeyValue
	Value Struct
}

// KTable is a keyed table: an ordered collection of rows, each carrying a
// distinct primary key.
type KTable struct {
	Rows []Row
}

func (KTable) isValue() {}

// UTable is an unordered collection of rows with no declared primary key.
type UTable struct {
	Rows []Row
}

func (UTable) isValue() {}

// LTable is an ordered list of rows; position, not key, is identity.
type LTable struct {
	Rows []Row
}

func (LTable) isValue() {}

// ValueType is the static schema of a Value: its shape plus nullability.
// Exactly one of Scalar/Struct/Table is populated, selected by Shape.
type ValueType struct {
	Shape    Shape
	Nullable bool

	ScalarKind ScalarKind
	// VectorElem describes the element type when ScalarKind == KindVector.
	VectorElem *ValueType
	// VectorDim is the declared vector dimension; 0 means unconstrained.
	VectorDim int

	StructFields []FieldType

	TableKind TableKind
	// TableRow is the row schema for a table-shaped type.
	TableRow *ValueType
	// TableKey is the primary-key projection's field names, in key order;
	// empty for tables with no declared primary key.
	TableKey []string
}

// Shape selects which ValueType case is populated.
type Shape byte

const (
	ShapeScalar Shape = iota + 1
	ShapeStruct
	ShapeTable
)

// FieldType is one named field of a struct ValueType.
type FieldType struct {
	Name string
	Type ValueType
}
