package pathutil

import "testing"

func TestParseValidPaths(t *testing.T) {
	cases := []struct {
		in   string
		want RelPath
	}{
		{"", RelPath(nil)},
		{"a", RelPath{"a"}},
		{"a/b/c", RelPath{"a", "b", "c"}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsForbiddenComponents(t *testing.T) {
	cases := []string{
		"/leading-slash",
		"a/./b",
		"a/../b",
		"a//b",
		"a?b",
		"a*b",
	}
	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q): expected error, got none", in)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	p := MustParse("a/b/c")
	if got := p.String(); got != "a/b/c" {
		t.Fatalf("String() = %q, want %q", got, "a/b/c")
	}
}

func TestJoin(t *testing.T) {
	a := MustParse("a/b")
	b := MustParse("c/d")
	joined := a.Join(b)
	if joined.String() != "a/b/c/d" {
		t.Fatalf("Join = %q, want %q", joined.String(), "a/b/c/d")
	}
	// a and b must be unmodified.
	if a.String() != "a/b" || b.String() != "c/d" {
		t.Fatal("Join mutated its operands")
	}
}

func TestHasPrefix(t *testing.T) {
	full := MustParse("a/b/c")
	if !full.HasPrefix(MustParse("a/b")) {
		t.Fatal("expected a/b to be a prefix of a/b/c")
	}
	if !full.HasPrefix(RelPath(nil)) {
		t.Fatal("expected the root path to be a prefix of everything")
	}
	if full.HasPrefix(MustParse("a/x")) {
		t.Fatal("a/x should not be a prefix of a/b/c")
	}
	if full.HasPrefix(MustParse("a/b/c/d")) {
		t.Fatal("a longer path should not be a prefix of a shorter one")
	}
}

func TestBaseAndDir(t *testing.T) {
	p := MustParse("a/b/c")
	if p.Base() != "c" {
		t.Fatalf("Base() = %q, want %q", p.Base(), "c")
	}
	if p.Dir().String() != "a/b" {
		t.Fatalf("Dir() = %q, want %q", p.Dir().String(), "a/b")
	}
	if RelPath(nil).Base() != "" {
		t.Fatal("Base() of root should be empty")
	}
}

func TestIsRoot(t *testing.T) {
	if !RelPath(nil).IsRoot() {
		t.Fatal("nil RelPath should be root")
	}
	if MustParse("a").IsRoot() {
		t.Fatal("non-empty RelPath should not be root")
	}
}

func TestMustParsePanicsOnInvalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected MustParse to panic on invalid input")
		}
	}()
	MustParse("../escape")
}
