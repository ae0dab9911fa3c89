package rowindexer

import "github.com/cocoindex-io/cocoindex-go/internal/fingerprint"

// VersionKind orders a SourceVersion against another with the same
// ordinal, breaking ties by how much logic information the version
// carries: a row known to no longer exist outranks one already
// processed with the current logic, which outranks one whose logic
// merely differs, which outranks one the engine has never seen.
type VersionKind int

const (
	KindNonExistent VersionKind = iota
	KindDifferentLogic
	KindCurrentLogic
	KindDeleted
)

// SourceVersion is the comparable identity of one observation of a
// source row: its ordinal (e.g. mtime, change-stream sequence number)
// plus the VersionKind describing what that ordinal means.
type SourceVersion struct {
	Ordinal int64
	Kind    VersionKind
	// LogicFP identifies the evaluation logic this version refers to
	// (for a KindDeleted target, the logic it is processed under); the
	// zero value for KindNonExistent.
	LogicFP fingerprint.Fingerprint
}

// ShouldSkip reports whether processing target is unnecessary given
// that existing has already been processed. It is antisymmetric: if
// existing.ShouldSkip(target) then !target.ShouldSkip(existing) unless
// the two versions are equal in (Ordinal, Kind).
func (existing SourceVersion) ShouldSkip(target SourceVersion) bool {
	if existing.Ordinal != target.Ordinal {
		return existing.Ordinal > target.Ordinal
	}
	return existing.Kind >= target.Kind
}
