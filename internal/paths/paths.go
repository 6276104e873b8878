// Package paths provides the path and dotted-name helpers used while
// turning extraction output into graph nodes.
//
// Extraction output always uses forward slashes, and every directory key
// is prefixed with the extraction output directory. The helpers below
// normalise those keys so that the first component of a path is the
// repository name.
package paths

import (
	"path"
	"path/filepath"
	"strings"
)

// Current is returned when a path has no components left.
const Current = "."

// Clean normalises separators and removes "./" prefixes and trailing slashes.
func Clean(p string) string {
	p = filepath.ToSlash(p)
	if p == "" {
		return Current
	}
	p = path.Clean(p)
	return strings.TrimPrefix(p, "/")
}

// Parts splits a path into its components.
func Parts(p string) []string {
	p = Clean(p)
	if p == Current || p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// StripPrefix drops the first component of a path.
//
//	"a/b/c" -> "b/c"
//	"c/"    -> "."
func StripPrefix(p string) string {
	parts := Parts(p)
	if len(parts) <= 1 {
		return Current
	}
	return strings.Join(parts[1:], "/")
}

// Name returns the last component of a path.
func Name(p string) string {
	return path.Base(Clean(p))
}

// Parent returns the path without its last component, or "." for a
// single-component path.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// IsRoot reports whether a path consists of exactly one component.
func IsRoot(p string) bool {
	return len(Parts(p)) == 1
}

// Root returns the first component of a path.
func Root(p string) string {
	parts := Parts(p)
	if len(parts) == 0 {
		return Current
	}
	return parts[0]
}

// Relative expresses p relative to base when p lies below it, and falls
// back to StripPrefix otherwise.
func Relative(base, p string) string {
	if base != "" {
		b := Clean(base)
		c := Clean(p)
		if c == b {
			return Current
		}
		if strings.HasPrefix(c, b+"/") {
			return strings.TrimPrefix(c, b+"/")
		}
	}
	return StripPrefix(p)
}

// DirectoryLess orders directories by depth, then parent path, then name,
// so parents are always visited before their children whatever their
// names sort like.
func DirectoryLess(a, b string) bool {
	ca, cb := Clean(a), Clean(b)
	if da, db := depth(ca), depth(cb); da != db {
		return da < db
	}
	if pa, pb := path.Dir(ca), path.Dir(cb); pa != pb {
		return pa < pb
	}
	return path.Base(ca) < path.Base(cb)
}

func depth(clean string) int {
	if clean == Current {
		return 0
	}
	return strings.Count(clean, "/") + 1
}

// SplitObject splits a dotted reference at its last dot.
//
//	"pkg.mod.func" -> ("pkg.mod", "func")
//	"func"         -> ("", "func")
func SplitObject(dotted string) (string, string) {
	i := strings.LastIndex(dotted, ".")
	if i < 0 {
		return "", dotted
	}
	return dotted[:i], dotted[i+1:]
}

// JoinCanonical joins non-empty dotted name segments.
func JoinCanonical(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// LastSegment returns the final segment of a dotted name.
func LastSegment(dotted string) string {
	_, last := SplitObject(dotted)
	return last
}
