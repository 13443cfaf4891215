// Package path implements the addressing model for locations in a realtime
// database tree.
//
// A Path is an immutable ordered sequence of non-empty segments. The root of
// the tree is the empty sequence and renders as "/". Paths are plain values:
// copying one is cheap and no operation ever mutates its receiver.
package path

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

// Path addresses a location in the database tree.
type Path struct {
	segs []string
}

// Root is the path of the tree root.
var Root = Path{}

// Parse builds a Path from a /-delimited string. Leading and trailing
// slashes are ignored, so "/a/b", "a/b" and "a/b/" all address the same
// location. "" and "/" parse to the root.
//
// Parsing fails with constants.ErrInvalidPath on empty segments ("a//b") or
// on segments containing control characters.
func Parse(s string) (Path, error) {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return Root, nil
	}

	segs := strings.Split(trimmed, "/")
	for _, seg := range segs {
		if err := validateSegment(seg); err != nil {
			return Path{}, fmt.Errorf("%w: %q: %v", constants.ErrInvalidPath, s, err)
		}
	}

	return Path{segs: segs}, nil
}

// MustParse is Parse for statically known inputs; it panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty segment")
	}
	for _, r := range seg {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("segment %q contains a control character", seg)
		}
	}
	return nil
}

// Child returns the path addressing the named child of p.
func (p Path) Child(segment string) (Path, error) {
	if strings.Contains(segment, "/") {
		return Path{}, fmt.Errorf("%w: segment %q contains '/'", constants.ErrInvalidPath, segment)
	}
	if err := validateSegment(segment); err != nil {
		return Path{}, fmt.Errorf("%w: %v", constants.ErrInvalidPath, err)
	}

	segs := make([]string, 0, len(p.segs)+1)
	segs = append(segs, p.segs...)
	segs = append(segs, segment)

	return Path{segs: segs}, nil
}

// Join returns p extended by all of other's segments.
func (p Path) Join(other Path) Path {
	if len(other.segs) == 0 {
		return p
	}
	segs := make([]string, 0, len(p.segs)+len(other.segs))
	segs = append(segs, p.segs...)
	segs = append(segs, other.segs...)
	return Path{segs: segs}
}

// Parent returns the path one level up, and false at the root.
func (p Path) Parent() (Path, bool) {
	if len(p.segs) == 0 {
		return Path{}, false
	}
	return Path{segs: p.segs[:len(p.segs)-1]}, true
}

// Segments returns a copy of the path's segments. The root has none.
func (p Path) Segments() []string {
	out := make([]string, len(p.segs))
	copy(out, p.segs)
	return out
}

// Depth is the number of segments in the path.
func (p Path) Depth() int {
	return len(p.segs)
}

// IsRoot reports whether p addresses the tree root.
func (p Path) IsRoot() bool {
	return len(p.segs) == 0
}

// Base returns the final segment, or "" at the root.
func (p Path) Base() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// String renders the canonical form: /-joined with a leading slash, "/" for
// the root.
func (p Path) String() string {
	if len(p.segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segs, "/")
}

// Equal reports structural equality.
func (p Path) Equal(other Path) bool {
	if len(p.segs) != len(other.segs) {
		return false
	}
	for i, seg := range p.segs {
		if other.segs[i] != seg {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p's segments are a prefix of other's. Every
// path is a prefix of itself, and the root is a prefix of everything.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segs) > len(other.segs) {
		return false
	}
	for i, seg := range p.segs {
		if other.segs[i] != seg {
			return false
		}
	}
	return true
}

// Hash returns a structural hash of the path, stable across processes.
func (p Path) Hash() uint64 {
	return xxhash.Sum64String(p.String())
}
