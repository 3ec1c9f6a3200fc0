// Package pathpattern compiles URL path patterns into segment lists.
//
// Supported syntax: literal segments, `:name` single-segment captures, a
// lone `*` segment matching any one segment, and a trailing `/*` matching
// the rest of the path. The bare pattern `*` matches every path. Patterns
// are data, not regexes; metacharacters like `.` and `+` are literal.
package pathpattern

import "strings"

type segmentKind uint8

const (
	segLiteral segmentKind = iota
	segCapture
	segWildcard
)

type segment struct {
	kind segmentKind
	// literal text or capture name
	value string
}

// Pattern is a compiled path pattern.
type Pattern struct {
	raw      string
	segments []segment
	matchAll bool // pattern was "*"
	suffix   bool // trailing "/*"
}

// Compile parses a pattern. Compile never fails: every string is a valid
// pattern, unrecognized shapes just match literally.
func Compile(raw string) Pattern {
	if raw == "*" || raw == "/*" {
		return Pattern{raw: raw, matchAll: true}
	}

	p := Pattern{raw: raw}
	trimmed := strings.TrimPrefix(raw, "/")
	if strings.HasSuffix(trimmed, "/*") {
		p.suffix = true
		trimmed = strings.TrimSuffix(trimmed, "/*")
	}
	if trimmed == "" {
		return p
	}

	parts := strings.Split(trimmed, "/")
	p.segments = make([]segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == "*":
			p.segments = append(p.segments, segment{kind: segWildcard})
		case strings.HasPrefix(part, ":") && len(part) > 1:
			p.segments = append(p.segments, segment{kind: segCapture, value: part[1:]})
		default:
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Matches reports whether path matches the pattern.
func (p Pattern) Matches(path string) bool {
	_, ok := p.Match(path)
	return ok
}

// Match tests path against the pattern and extracts `:name` captures.
// The params map is nil when the pattern has no captures.
func (p Pattern) Match(path string) (map[string]string, bool) {
	if p.matchAll {
		return nil, true
	}

	parts := splitPath(path)
	if p.suffix {
		if len(parts) < len(p.segments) {
			return nil, false
		}
	} else if len(parts) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		switch seg.kind {
		case segLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segCapture:
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.value] = parts[i]
		case segWildcard:
			// any single segment
		}
	}
	return params, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
