package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello   World ", "hello world"},
		{"Straße", "strasse"},
		{"ﬁle\tname", "file name"}, // NFKC expands the ligature
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestOf_StableAcrossCosmeticDifferences(t *testing.T) {
	a := Of("pattern", "Compress  the README")
	b := Of("PATTERN", "compress the\nreadme")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Of("documentation", "compress the readme"))
}

func TestOf_PartBoundariesMatter(t *testing.T) {
	assert.NotEqual(t, Of("ab", "c"), Of("a", "bc"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "route|read|a/b", Join("route", "READ", "a|b"))
}

func TestExact_KeepsCaseAndBoundaries(t *testing.T) {
	assert.NotEqual(t, Exact("Sess-1"), Exact("sess-1"))
	assert.NotEqual(t, Exact("ab", "c"), Exact("a", "bc"))
	assert.Equal(t, Exact("s1", "u1", ""), Exact("s1", "u1", ""))
	assert.Len(t, Exact(), 64)
}
