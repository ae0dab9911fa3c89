package value

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func strKey(t *testing.T, s string) KeyValue {
	t.Helper()
	k, err := NewKeyScalar(Scalar{Kind: KindStr, Str: s})
	require.NoError(t, err)
	return k
}

func intKey(t *testing.T, n int64) KeyValue {
	t.Helper()
	k, err := NewKeyScalar(Scalar{Kind: KindInt64, Int64: n})
	require.NoError(t, err)
	return k
}

func TestKeyValueEncodeOrderMatchesStringOrder(t *testing.T) {
	cases := []string{"", "a", "aa", "ab", "b", "ba"}
	for i := 0; i < len(cases); i++ {
		for j := 0; j < len(cases); j++ {
			a, b := cases[i], cases[j]
			got := bytes.Compare(strKey(t, a).Encode(), strKey(t, b).Encode())
			want := bytes.Compare([]byte(a), []byte(b))
			require.Equalf(t, sign(want), sign(got), "compare(%q,%q)", a, b)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestKeyValueEncodeOrderMatchesIntOrder(t *testing.T) {
	nums := []int64{-100, -1, 0, 1, 2, 100}
	for i := 0; i < len(nums); i++ {
		for j := 0; j < len(nums); j++ {
			got := bytes.Compare(intKey(t, nums[i]).Encode(), intKey(t, nums[j]).Encode())
			var want int
			switch {
			case nums[i] < nums[j]:
				want = -1
			case nums[i] > nums[j]:
				want = 1
			}
			require.Equal(t, want, sign(got))
		}
	}
}

func TestKeyStructEncodeDistinguishesComponentBoundaries(t *testing.T) {
	a := NewKeyStruct(strKey(t, "ab"), strKey(t, "c"))
	b := NewKeyStruct(strKey(t, "a"), strKey(t, "bc"))
	require.NotEqual(t, a.Encode(), b.Encode())
	require.False(t, a.Equal(b))
}

func TestKeyValueEqual(t *testing.T) {
	a := NewKeyStruct(strKey(t, "x"), intKey(t, 1))
	b := NewKeyStruct(strKey(t, "x"), intKey(t, 1))
	c := NewKeyStruct(strKey(t, "x"), intKey(t, 2))
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestKeyValueStableFingerprint(t *testing.T) {
	a := NewKeyStruct(strKey(t, "x"), intKey(t, 1))
	b := NewKeyStruct(strKey(t, "x"), intKey(t, 1))
	c := intKey(t, 1)
	require.Equal(t, a.StableFingerprint(), b.StableFingerprint())
	require.NotEqual(t, a.StableFingerprint(), c.StableFingerprint())
}

func TestKeyValueCanonicalJSON(t *testing.T) {
	k := NewKeyStruct(strKey(t, "x"), intKey(t, 1))
	require.JSONEq(t, `["x",1]`, string(k.CanonicalJSON()))
}

func TestNewKeyScalarRejectsNonBasicKinds(t *testing.T) {
	_, err := NewKeyScalar(Scalar{Kind: KindJSON, JSON: []byte("{}")})
	require.Error(t, err)
}
