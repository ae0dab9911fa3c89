// Package fingerprint implements the engine's content-addressing
// primitive: a deterministic 128-bit hash over typed, canonicalized
// values. Every cache key (memoization entries, tracking-record
// comparisons, the flow's logic fingerprint) is a Fingerprint.
package fingerprint

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a 128-bit content hash, stored as two big-endian halves
// so its byte representation is stable regardless of host endianness.
type Fingerprint [16]byte

// Zero is the all-zero Fingerprint; never produced by Fingerprinter
// for a real value, used as a sentinel by callers that track "not yet set".
var Zero Fingerprint

func (f Fingerprint) IsZero() bool { return f == Zero }

// Bytes returns the 16-byte big-endian encoding.
func (f Fingerprint) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, f[:])
	return b
}

func fromUint128(hi, lo uint64) Fingerprint {
	var f Fingerprint
	binary.BigEndian.PutUint64(f[0:8], hi)
	binary.BigEndian.PutUint64(f[8:16], lo)
	return f
}

// StableFingerprint marks types whose fingerprint must be identical
// across processes, implementations, and releases — keys and function
// arguments, per spec: only values with a stable, documented encoding may
// implement this.
type StableFingerprint interface {
	StableFingerprint() Fingerprint
}

// event tags distinguish type categories so that, e.g., the int64 1 and
// the string "1" never collide.
const (
	tagNull byte = iota
	tagScalar
	tagBeginStruct
	tagField
	tagBeginSeq
	tagEnd
)

// Fingerprinter is a streaming, typed-event hasher. Callers walk a value
// depth-first, calling BeginStruct/Field/BeginSeq/Scalar/End as they
// descend; the resulting Fingerprint only depends on the event sequence,
// never on incidental representation details (map iteration order, struct
// field declaration order for fields fed in sorted order by the caller).
//
// Fingerprinting itself never fails; Err only surfaces I/O-style errors
// from a value's own serializer, forwarded by Scalar's caller.
type Fingerprinter struct {
	h   *xxh3.Hasher
	err error
}

// New returns a ready Fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{h: xxh3.New()}
}

func (f *Fingerprinter) writeTag(tag byte) {
	_, _ = f.h.Write([]byte{tag})
}

func (f *Fingerprinter) writeLen(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	_, _ = f.h.Write(b[:])
}

// BeginStruct starts a struct of n fields. Fields must be fed via Field in
// a stable order (callers sort by field name) so permutations of field
// insertion order fingerprint equal.
func (f *Fingerprinter) BeginStruct(n int) {
	f.writeTag(tagBeginStruct)
	f.writeLen(n)
}

// Field tags the next value as belonging to the named struct field.
func (f *Fingerprinter) Field(name string) {
	f.writeTag(tagField)
	f.writeLen(len(name))
	_, _ = f.h.Write([]byte(name))
}

// BeginSeq starts a sequence (table row list, vector) of n elements.
func (f *Fingerprinter) BeginSeq(n int) {
	f.writeTag(tagBeginSeq)
	f.writeLen(n)
}

// Scalar feeds one leaf value: a type tag distinguishing its ValueType
// (so int64(1) and float64(1) never collide) plus its canonical byte
// encoding.
func (f *Fingerprinter) Scalar(tag byte, b []byte) {
	f.writeTag(tagScalar)
	_, _ = f.h.Write([]byte{tag})
	f.writeLen(len(b))
	_, _ = f.h.Write(b)
}

// Null feeds an explicit null leaf.
func (f *Fingerprinter) Null() {
	f.writeTag(tagNull)
}

// End closes the current struct or sequence.
func (f *Fingerprinter) End() {
	f.writeTag(tagEnd)
}

// Fail records an I/O-style error from the caller's own serializer. The
// first error wins; Sum still returns a (meaningless) fingerprint so
// callers that forget to check Err don't panic.
func (f *Fingerprinter) Fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Err returns the first error recorded via Fail, if any.
func (f *Fingerprinter) Err() error {
	return f.err
}

// Sum finalizes the walk and returns the resulting Fingerprint.
func (f *Fingerprinter) Sum() Fingerprint {
	u := f.h.Sum128()
	return fromUint128(u.Hi, u.Lo)
}

// SortedMapKeys returns keys in the order they must be fed to the
// Fingerprinter so that map/struct key sets fingerprint identically
// regardless of iteration order.
func SortedMapKeys[K ~string](m map[K]struct{}) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Combine mixes two fingerprints by hashing their concatenation (a, then
// b), used to fold the logic fingerprint into a memo key, or to combine
// the fingerprints of a struct's declared fields. The result depends on
// argument order and on grouping: Combine is not associative.
func Combine(a, b Fingerprint) Fingerprint {
	h := xxh3.New()
	_, _ = h.Write(a[:])
	_, _ = h.Write(b[:])
	u := h.Sum128()
	return fromUint128(u.Hi, u.Lo)
}

// Of is a convenience wrapper for hashing a single already-encoded byte
// slice with a type tag, used by leaf StableFingerprint implementations
// that don't need the full struct/seq walk.
func Of(tag byte, b []byte) Fingerprint {
	f := New()
	f.Scalar(tag, b)
	return f.Sum()
}

// ErrWalkFailed is returned by callers that propagate Fingerprinter.Err
// as a concrete error value.
var ErrWalkFailed = errors.New("fingerprint: value serialization failed")
