package record

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"
)

type bodyKind uint8

const (
	bodyAbsent bodyKind = iota
	bodyRaw
	bodyJSON
)

// Body is a three-way sum: absent, raw string, or decoded JSON tree.
// A JSON null is a present JSON body, distinct from absent.
type Body struct {
	kind bodyKind
	raw  string
	tree any
}

func AbsentBody() Body      { return Body{} }
func RawBody(s string) Body { return Body{kind: bodyRaw, raw: s} }
func JSONBody(v any) Body   { return Body{kind: bodyJSON, tree: v} }

func (b Body) IsAbsent() bool { return b.kind == bodyAbsent }
func (b Body) IsRaw() bool    { return b.kind == bodyRaw }
func (b Body) IsJSON() bool   { return b.kind == bodyJSON }

// IsZero reports absence; lets callers use the omitzero JSON tag.
func (b Body) IsZero() bool { return b.kind == bodyAbsent }

func (b Body) Raw() (string, bool) {
	return b.raw, b.kind == bodyRaw
}

func (b Body) JSON() (any, bool) {
	return b.tree, b.kind == bodyJSON
}

// Value returns the body as a plain Go value for serialization:
// the JSON tree, the raw string, or nil when absent.
func (b Body) Value() any {
	switch b.kind {
	case bodyJSON:
		return b.tree
	case bodyRaw:
		return b.raw
	default:
		return nil
	}
}

// Bytes renders the body for the wire. JSON trees are re-serialized,
// so byte-exact output is not guaranteed for recorded JSON bodies.
func (b Body) Bytes() ([]byte, error) {
	switch b.kind {
	case bodyJSON:
		return json.Marshal(b.tree)
	case bodyRaw:
		return []byte(b.raw), nil
	default:
		return nil, nil
	}
}

func (b Body) MarshalJSON() ([]byte, error) {
	switch b.kind {
	case bodyJSON:
		return json.Marshal(b.tree)
	case bodyRaw:
		return json.Marshal(b.raw)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON restores a persisted body. JSON strings come back as raw
// bodies, anything else as a JSON tree; the distinction a raw `"x"` vs a
// JSON string body had before persistence is not recoverable.
func (b *Body) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		*b = RawBody(s)
		return nil
	}
	*b = JSONBody(v)
	return nil
}

// ParseBody decodes an HTTP payload by content type. JSON and URL-encoded
// forms are decoded; anything else is kept as a raw string. Empty input is
// absent.
func ParseBody(data []byte, contentType string) Body {
	if len(data) == 0 {
		return AbsentBody()
	}

	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}

	switch {
	case strings.HasSuffix(mediaType, "/json") || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return RawBody(string(data))
		}
		return JSONBody(v)

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return RawBody(string(data))
		}
		form := make(map[string]any, len(values))
		for key, vals := range values {
			form[key] = vals[len(vals)-1]
		}
		return JSONBody(form)

	default:
		return RawBody(string(data))
	}
}
