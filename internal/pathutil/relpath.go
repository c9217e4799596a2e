package pathutil

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned by Parse when a relative path contains a
// forbidden component.
var ErrInvalidPath = errors.New("pathutil: invalid relative path")

// RelPath is a validated, provider-root-relative path: an ordered
// sequence of non-empty components, none of which is ".", "..", or
// contains '?' or '*'. Its wire form joins components with "/",
// never the host OS separator.
type RelPath []string

// Root is the empty relative path, denoting a provider's root directory.
var Root = RelPath(nil)

// Parse validates and splits a wire-form relative path (components
// joined by "/"). A leading "/" is invalid, per spec: a relative path
// must never look absolute.
func Parse(s string) (RelPath, error) {
	if s == "" {
		return RelPath(nil), nil
	}
	if strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: %q: leading separator", ErrInvalidPath, s)
	}

	parts := strings.Split(s, "/")
	components := make(RelPath, 0, len(parts))
	for _, c := range parts {
		if err := validateComponent(c); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err)
		}
		components = append(components, c)
	}
	return components, nil
}

// MustParse is Parse, panicking on invalid input. Intended for constants
// and tests, not for validating untrusted input.
func MustParse(s string) RelPath {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func validateComponent(c string) error {
	switch {
	case c == "":
		return errors.New("empty component")
	case c == ".":
		return errors.New("'.' component")
	case c == "..":
		return errors.New("'..' component")
	case strings.ContainsAny(c, "?*"):
		return errors.New("component contains '?' or '*'")
	}
	return nil
}

// String joins the components with "/", the wire separator.
func (p RelPath) String() string {
	return strings.Join(p, "/")
}

// Join appends child's components to p and returns the result. p and
// child are left unmodified.
func (p RelPath) Join(child RelPath) RelPath {
	out := make(RelPath, 0, len(p)+len(child))
	out = append(out, p...)
	out = append(out, child...)
	return out
}

// IsRoot reports whether p is the empty (root) relative path.
func (p RelPath) IsRoot() bool {
	return len(p) == 0
}

// Base returns the last component, or "" for the root path.
func (p RelPath) Base() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Dir returns p without its last component.
func (p RelPath) Dir() RelPath {
	if len(p) == 0 {
		return RelPath(nil)
	}
	return append(RelPath(nil), p[:len(p)-1]...)
}

// HasPrefix reports whether prefix's components are a leading subsequence
// of p's components (used for long-poll observer root matching).
func (p RelPath) HasPrefix(prefix RelPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, c := range prefix {
		if p[i] != c {
			return false
		}
	}
	return true
}

// Equal reports whether p and other have identical components.
func (p RelPath) Equal(other RelPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i, c := range p {
		if other[i] != c {
			return false
		}
	}
	return true
}
