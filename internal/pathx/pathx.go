// Package pathx implements the in-memory JSON Pointer (RFC 6901) path model
// used by the OT transformer: parsing, reconstruction, and the path-relation
// queries the sync engine needs to reason about concurrent edits.
package pathx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind distinguishes an object-key hop from an array-index hop.
type SegmentKind int

const (
	Object SegmentKind = iota
	Array
)

// Segment is one hop of a parsed path.
type Segment struct {
	Kind  SegmentKind
	Key   string // valid when Kind == Object
	Index int    // valid when Kind == Array
}

// Path is a parsed JSON Pointer: the raw string plus its decoded segments.
type Path struct {
	Raw      string
	Segments []Segment
}

// Relation is the result of comparing two paths.
type Relation int

const (
	Unrelated Relation = iota
	Same
	ParentOf
	Child
	Sibling
)

var (
	ErrEmptyPath      = errors.New("pathx: empty path")
	ErrMissingSlash   = errors.New("pathx: path must start with /")
	ErrIndexUnderflow = errors.New("pathx: adjusted index is negative")
)

// Parse validates and decodes a JSON Pointer string into segments.
//
// The empty string is rejected; a missing leading "/" is rejected; "/"
// parses to zero segments. Escape pairs are decoded in RFC 6901 order:
// "~1" -> "/" first, then "~0" -> "~".
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, ErrEmptyPath
	}
	if raw[0] != '/' {
		return Path{}, ErrMissingSlash
	}
	if raw == "/" {
		return Path{Raw: raw, Segments: nil}, nil
	}

	parts := strings.Split(raw[1:], "/")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		decoded := decodeToken(p)
		segs = append(segs, tokenToSegment(decoded))
	}
	return Path{Raw: raw, Segments: segs}, nil
}

func decodeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

func encodeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	tok = strings.ReplaceAll(tok, "/", "~1")
	return tok
}

// tokenToSegment classifies a decoded token as an array index iff it is a
// non-negative decimal integer with no leading-zero ambiguity ("0" itself is
// fine; "01" is not a valid array index token and stays an object key).
func tokenToSegment(decoded string) Segment {
	if n, ok := parseArrayIndex(decoded); ok {
		return Segment{Kind: Array, Index: n}
	}
	return Segment{Kind: Object, Key: decoded}
}

func parseArrayIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if s == "0" {
		return 0, true
	}
	if s[0] == '0' {
		return 0, false // leading zero: not a canonical index token
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reconstruct is the inverse of Parse: it rebuilds the on-wire path string
// from segments, re-escaping "~" before "/" per the RFC 6901 order.
func Reconstruct(segs []Segment) string {
	if len(segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		switch s.Kind {
		case Array:
			b.WriteString(strconv.Itoa(s.Index))
		default:
			b.WriteString(encodeToken(s.Key))
		}
	}
	return b.String()
}

// ExtractLastArrayIndex parses path and returns the right-most array
// segment's index, or ok=false if the path has none or fails to parse.
func ExtractLastArrayIndex(raw string) (int, bool) {
	p, err := Parse(raw)
	if err != nil {
		return 0, false
	}
	for i := len(p.Segments) - 1; i >= 0; i-- {
		if p.Segments[i].Kind == Array {
			return p.Segments[i].Index, true
		}
	}
	return 0, false
}

// AdjustArrayIndex locates the right-most array segment equal to target and
// shifts it by delta. If no such segment exists, raw is returned unchanged.
// It is an error for the shifted index to go negative.
func AdjustArrayIndex(raw string, target, delta int) (string, error) {
	p, err := Parse(raw)
	if err != nil {
		return "", err
	}
	idx := -1
	for i := len(p.Segments) - 1; i >= 0; i-- {
		if p.Segments[i].Kind == Array && p.Segments[i].Index == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		return raw, nil
	}
	newIndex := p.Segments[idx].Index + delta
	if newIndex < 0 {
		return "", fmt.Errorf("%w: %s target=%d delta=%d", ErrIndexUnderflow, raw, target, delta)
	}
	segs := make([]Segment, len(p.Segments))
	copy(segs, p.Segments)
	segs[idx].Index = newIndex
	return Reconstruct(segs), nil
}

// Parent returns the path with its final segment removed. "/" has no
// parent. Removing the only remaining segment yields "/".
func Parent(raw string) (string, bool) {
	p, err := Parse(raw)
	if err != nil || len(p.Segments) == 0 {
		return "", false
	}
	if len(p.Segments) == 1 {
		return "/", true
	}
	return Reconstruct(p.Segments[:len(p.Segments)-1]), true
}

// Compare classifies the relation between two paths per the rules in order:
// equal -> Same; b nested under a -> ParentOf; a nested under b -> Child;
// otherwise Sibling iff both have the same non-nil parent; else Unrelated.
func Compare(a, b string) Relation {
	if a == b {
		return Same
	}
	if strings.HasPrefix(b, prefixOf(a)) {
		return ParentOf
	}
	if strings.HasPrefix(a, prefixOf(b)) {
		return Child
	}
	pa, okA := Parent(a)
	pb, okB := Parent(b)
	if okA && okB && pa == pb {
		return Sibling
	}
	return Unrelated
}

// prefixOf returns the prefix a path's children start with: "a/" for a
// non-root path, or "/" itself for the root (whose children are every
// other valid path).
func prefixOf(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

// PathsConflict reports whether two paths overlap closely enough that
// concurrent edits at each path may interfere (same, parent, or child).
func PathsConflict(a, b string) bool {
	switch Compare(a, b) {
	case Same, ParentOf, Child:
		return true
	default:
		return false
	}
}
