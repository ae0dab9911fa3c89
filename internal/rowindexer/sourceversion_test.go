package rowindexer

import "testing"

func TestShouldSkipAntisymmetric(t *testing.T) {
	kinds := []VersionKind{KindNonExistent, KindDifferentLogic, KindCurrentLogic, KindDeleted}
	ordinals := []int64{0, 1, 2, 5}

	for _, ao := range ordinals {
		for _, ak := range kinds {
			for _, bo := range ordinals {
				for _, bk := range kinds {
					a := SourceVersion{Ordinal: ao, Kind: ak}
					b := SourceVersion{Ordinal: bo, Kind: bk}

					equal := a.Ordinal == b.Ordinal && a.Kind == b.Kind
					aSkipsB := a.ShouldSkip(b)
					bSkipsA := b.ShouldSkip(a)

					if equal {
						continue
					}
					if aSkipsB && bSkipsA {
						t.Fatalf("antisymmetry violated: a=%+v b=%+v both skip each other", a, b)
					}
				}
			}
		}
	}
}

func TestShouldSkipHigherOrdinalAlwaysSkips(t *testing.T) {
	existing := SourceVersion{Ordinal: 5, Kind: KindNonExistent}
	target := SourceVersion{Ordinal: 3, Kind: KindDeleted}
	if !existing.ShouldSkip(target) {
		t.Fatal("expected higher ordinal to skip regardless of kind")
	}
}

func TestShouldSkipSameOrdinalComparesKind(t *testing.T) {
	existing := SourceVersion{Ordinal: 1, Kind: KindCurrentLogic}
	target := SourceVersion{Ordinal: 1, Kind: KindDifferentLogic}
	if !existing.ShouldSkip(target) {
		t.Fatal("expected CurrentLogic to skip reprocessing for a lower-ranked kind at the same ordinal")
	}

	target2 := SourceVersion{Ordinal: 1, Kind: KindDeleted}
	if existing.ShouldSkip(target2) {
		t.Fatal("expected CurrentLogic not to skip Deleted at the same ordinal")
	}
}

func TestShouldSkipEqualVersionsBothSkipEachOther(t *testing.T) {
	a := SourceVersion{Ordinal: 2, Kind: KindCurrentLogic}
	b := SourceVersion{Ordinal: 2, Kind: KindCurrentLogic}
	if !a.ShouldSkip(b) || !b.ShouldSkip(a) {
		t.Fatal("equal versions should each report should-skip for the other")
	}
}
