package value

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleStruct() Struct {
	return Struct{Fields: []Field{
		{Name: "id", Value: Scalar{Kind: KindInt64, Int64: 42}},
		{Name: "name", Value: Scalar{Kind: KindStr, Str: "hello"}},
		{Name: "active", Value: Scalar{Kind: KindBool, Bool: true}},
		{Name: "score", Value: Scalar{Kind: KindFloat64, Float64: 3.5}},
		{Name: "tag", Value: Null{}},
		{Name: "embedding", Value: Scalar{Kind: KindVector, Vector: []Scalar{
			{Kind: KindFloat32, Float32: 0.1},
			{Kind: KindFloat32, Float32: 0.2},
		}}},
	}}
}

func TestMsgpackRoundTripScalarKinds(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC()

	scalars := []Scalar{
		{Kind: KindBytes, Bytes: []byte{1, 2, 3}},
		{Kind: KindStr, Str: "abc"},
		{Kind: KindBool, Bool: true},
		{Kind: KindInt64, Int64: -7},
		{Kind: KindFloat32, Float32: 1.5},
		{Kind: KindFloat64, Float64: 2.75},
		{Kind: KindUUID, UUID: id},
		{Kind: KindDuration, Duration: 5 * time.Second},
		{Kind: KindOffsetDateTime, OffsetDateTime: now},
		{Kind: KindJSON, JSON: []byte(`{"a":1}`)},
	}

	for _, s := range scalars {
		data, err := Marshal(s)
		require.NoError(t, err)
		got, err := Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, Fingerprint(s), Fingerprint(got))
	}
}

func TestMsgpackRoundTripStruct(t *testing.T) {
	s := sampleStruct()
	data, err := Marshal(s)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, Fingerprint(s), Fingerprint(got))
}

func TestMsgpackRoundTripKTable(t *testing.T) {
	k1, err := NewKeyScalar(Scalar{Kind: KindStr, Str: "row-1"})
	require.NoError(t, err)
	k2, err := NewKeyScalar(Scalar{Kind: KindStr, Str: "row-2"})
	require.NoError(t, err)

	table := KTable{Rows: []Row{
		{Key: &k1, Value: sampleStruct()},
		{Key: &k2, Value: sampleStruct()},
	}}

	data, err := Marshal(table)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, Fingerprint(table), Fingerprint(got))

	gotTable, ok := got.(KTable)
	require.True(t, ok)
	require.Len(t, gotTable.Rows, 2)
	require.NotNil(t, gotTable.Rows[0].Key)
	require.True(t, k1.Equal(*gotTable.Rows[0].Key))
}

func TestMsgpackRoundTripNull(t *testing.T) {
	data, err := Marshal(Null{})
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	_, ok := got.(Null)
	require.True(t, ok)
}

func TestFingerprintStructFieldOrderInvariance(t *testing.T) {
	a := Struct{Fields: []Field{
		{Name: "a", Value: Scalar{Kind: KindInt64, Int64: 1}},
		{Name: "b", Value: Scalar{Kind: KindInt64, Int64: 2}},
	}}
	b := Struct{Fields: []Field{
		{Name: "b", Value: Scalar{Kind: KindInt64, Int64: 2}},
		{Name: "a", Value: Scalar{Kind: KindInt64, Int64: 1}},
	}}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestCanonicalJSONStructSortsKeys(t *testing.T) {
	s := Struct{Fields: []Field{
		{Name: "b", Value: Scalar{Kind: KindInt64, Int64: 2}},
		{Name: "a", Value: Scalar{Kind: KindInt64, Int64: 1}},
	}}
	out, err := CanonicalJSON(s)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestCanonicalJSONScalarMappings(t *testing.T) {
	cases := []struct {
		name string
		s    Scalar
		want string
	}{
		{"str", Scalar{Kind: KindStr, Str: "x"}, `"x"`},
		{"bool", Scalar{Kind: KindBool, Bool: false}, `false`},
		{"int64", Scalar{Kind: KindInt64, Int64: -5}, `-5`},
		{"float64", Scalar{Kind: KindFloat64, Float64: 1.25}, `1.25`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := CanonicalJSON(tc.s)
			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(out))
		})
	}
}
