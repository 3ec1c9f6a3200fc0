package record

import (
	"net/http"
	"strings"
	"time"
)

// FromHTTPRequest normalizes an incoming request into a RequestRecord.
// The body has already been read by the caller (requests are buffered).
func FromHTTPRequest(r *http.Request, body []byte) RequestRecord {
	query := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			query[key] = vals[len(vals)-1] // repeats collapse last-wins
		}
	}

	rec := RequestRecord{
		Method:    strings.ToUpper(r.Method),
		URL:       r.URL.RequestURI(),
		Path:      r.URL.Path,
		Query:     query,
		Headers:   FlattenHeader(r.Header),
		Body:      ParseBody(body, r.Header.Get("Content-Type")),
		Timestamp: time.Now().UnixMilli(),
	}
	if len(rec.Query) == 0 {
		rec.Query = nil
	}
	return rec
}

// FlattenHeader lowercases keys and comma-joins multi-values.
func FlattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for key, vals := range h {
		out[strings.ToLower(key)] = strings.Join(vals, ", ")
	}
	return out
}
