package graph

import (
	"strings"
)

// Path addresses an object in the graph: "/" is the root patch, children
// are "/" separated symbols such as "/synth/osc/out".
type Path string

// Root is the path of the root patch
const Root Path = "/"

// IsValidSymbol reports whether s is a legal path component:
// a letter or underscore followed by letters, digits or underscores.
func IsValidSymbol(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// IsValidPath reports whether s is "/" or a sequence of valid symbols each
// preceded by "/".
func IsValidPath(s string) bool {
	if s == string(Root) {
		return true
	}
	if len(s) < 2 || s[0] != '/' || s[len(s)-1] == '/' {
		return false
	}
	for _, sym := range strings.Split(s[1:], "/") {
		if !IsValidSymbol(sym) {
			return false
		}
	}
	return true
}

// ParsePath validates s and returns it as a Path
func ParsePath(s string) (Path, error) {
	if !IsValidPath(s) {
		return "", errInvalidPath(s)
	}
	return Path(s), nil
}

// IsRoot reports whether p is the root path
func (p Path) IsRoot() bool {
	return p == Root
}

// Parent returns the parent path. The parent of the root is the root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return Root
	}
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Base returns the last symbol, or "" for the root
func (p Path) Base() string {
	if p.IsRoot() {
		return ""
	}
	return string(p[strings.LastIndexByte(string(p), '/')+1:])
}

// Child returns the path of symbol below p
func (p Path) Child(symbol string) Path {
	if p.IsRoot() {
		return Path("/" + symbol)
	}
	return Path(string(p) + "/" + symbol)
}

// IsDescendantOf reports whether p lies strictly below ancestor
func (p Path) IsDescendantOf(ancestor Path) bool {
	if p == ancestor {
		return false
	}
	if ancestor.IsRoot() {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+"/")
}

// Depth returns the number of symbols in p
func (p Path) Depth() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(string(p), "/")
}

func (p Path) String() string {
	return string(p)
}
