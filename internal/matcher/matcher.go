// Package matcher scores recorded entries against a live request and picks
// the best replay candidate. A candidate either disqualifies or accumulates
// positive contributions; the highest score wins, ties preserve input order.
package matcher

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/egehanasal/apidouble/internal/domain/record"
)

// Strategy selects how strictly paths are compared.
type Strategy string

const (
	// StrategyExact matches only on identical method and path.
	StrategyExact Strategy = "exact"
	// StrategySmart tolerates segment drift when both sides look like ids.
	StrategySmart Strategy = "smart"
	// StrategyFuzzy scores paths proportionally to matched segments.
	StrategyFuzzy Strategy = "fuzzy"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyExact, StrategySmart, StrategyFuzzy:
		return Strategy(s), nil
	case "":
		return StrategySmart, nil
	}
	return "", fmt.Errorf("unknown matching strategy %q (must be exact, smart or fuzzy)", s)
}

// DefaultIgnoredHeaders are volatile headers excluded from comparison.
var DefaultIgnoredHeaders = []string{
	"authorization", "cookie", "x-request-id", "x-correlation-id",
	"date", "user-agent", "host", "content-length", "connection",
	"accept-encoding",
}

// Config tunes the matcher. Zero value is not usable; use NewConfig.
type Config struct {
	Strategy           Strategy
	ignoredHeaders     map[string]struct{}
	ignoredQueryParams map[string]struct{}
}

// NewConfig builds a matcher config. A nil ignoredHeaders means the default
// set, while an empty non-nil slice ignores no headers; header names are
// compared case-insensitively.
func NewConfig(strategy Strategy, ignoredHeaders, ignoredQueryParams []string) Config {
	if strategy == "" {
		strategy = StrategySmart
	}
	if ignoredHeaders == nil {
		ignoredHeaders = DefaultIgnoredHeaders
	}
	cfg := Config{
		Strategy:           strategy,
		ignoredHeaders:     make(map[string]struct{}, len(ignoredHeaders)),
		ignoredQueryParams: make(map[string]struct{}, len(ignoredQueryParams)),
	}
	for _, h := range ignoredHeaders {
		cfg.ignoredHeaders[strings.ToLower(h)] = struct{}{}
	}
	for _, q := range ignoredQueryParams {
		cfg.ignoredQueryParams[q] = struct{}{}
	}
	return cfg
}

// Matcher folds scoring contributions over candidate entries.
type Matcher struct {
	cfg Config
}

// New creates a matcher with the given config.
func New(cfg Config) *Matcher {
	if cfg.ignoredHeaders == nil {
		cfg = NewConfig(cfg.Strategy, nil, nil)
	}
	return &Matcher{cfg: cfg}
}

// Config returns the active configuration.
func (m *Matcher) Config() Config { return m.cfg }

// Scored pairs a candidate with its score.
type Scored struct {
	Entry *record.RecordedEntry
	Score float64
}

// Match returns the single best candidate, or nil when no candidate
// qualifies or the input is empty.
func (m *Matcher) Match(live record.RequestRecord, entries []*record.RecordedEntry) *record.RecordedEntry {
	ranked := m.Rank(live, entries)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0].Entry
}

// Rank scores every candidate and returns qualifiers ordered best first.
// Equal scores preserve input order.
func (m *Matcher) Rank(live record.RequestRecord, entries []*record.RecordedEntry) []Scored {
	var out []Scored
	for _, entry := range entries {
		score, ok := m.score(live, entry)
		if !ok {
			continue
		}
		out = append(out, Scored{Entry: entry, Score: score})
	}
	// stable insertion sort by descending score keeps input order on ties
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// contribution is one scoring dimension's verdict.
type contribution struct {
	disqualify bool
	points     float64
}

func (m *Matcher) score(live record.RequestRecord, entry *record.RecordedEntry) (float64, bool) {
	cand := entry.Request
	total := 0.0
	for _, dim := range []func(record.RequestRecord, record.RequestRecord) contribution{
		m.methodContribution,
		m.pathContribution,
		m.queryContribution,
		m.headerContribution,
		m.bodyContribution,
	} {
		c := dim(live, cand)
		if c.disqualify {
			return 0, false
		}
		total += c.points
	}
	return total, true
}

func (m *Matcher) methodContribution(live, cand record.RequestRecord) contribution {
	if live.Method != cand.Method {
		return contribution{disqualify: true}
	}
	return contribution{points: 100}
}

func (m *Matcher) pathContribution(live, cand record.RequestRecord) contribution {
	if live.Path == cand.Path {
		return contribution{points: 100}
	}

	switch m.cfg.Strategy {
	case StrategyExact:
		return contribution{disqualify: true}

	case StrategySmart:
		liveSegs, candSegs := splitSegments(live.Path), splitSegments(cand.Path)
		if len(liveSegs) != len(candSegs) {
			return contribution{disqualify: true}
		}
		for i := range liveSegs {
			if liveSegs[i] == candSegs[i] {
				continue
			}
			if !looksLikeID(liveSegs[i]) || !looksLikeID(candSegs[i]) {
				return contribution{disqualify: true}
			}
		}
		return contribution{points: 90}

	default: // fuzzy
		liveSegs, candSegs := splitSegments(live.Path), splitSegments(cand.Path)
		if len(liveSegs) != len(candSegs) {
			return contribution{disqualify: true}
		}
		matched := 0
		for i := range liveSegs {
			switch {
			case liveSegs[i] == candSegs[i]:
				matched++
			case looksLikeID(liveSegs[i]) && looksLikeID(candSegs[i]):
				// tolerated drift, no credit
			default:
				return contribution{disqualify: true}
			}
		}
		if len(liveSegs) == 0 {
			return contribution{points: 80}
		}
		return contribution{points: float64(matched) / float64(len(liveSegs)) * 80}
	}
}

func (m *Matcher) queryContribution(live, cand record.RequestRecord) contribution {
	matching, union := overlap(live.Query, cand.Query, m.cfg.ignoredQueryParams, false)
	if union == 0 {
		return contribution{points: 50}
	}
	return contribution{points: float64(matching) / float64(union) * 50}
}

func (m *Matcher) headerContribution(live, cand record.RequestRecord) contribution {
	matching, union := overlap(live.Headers, cand.Headers, m.cfg.ignoredHeaders, true)
	if union == 0 {
		return contribution{points: 30}
	}
	return contribution{points: float64(matching) / float64(union) * 30}
}

// overlap counts keys with equal values and the key union, skipping ignored
// keys. Header keys are case-folded.
func overlap(live, cand map[string]string, ignored map[string]struct{}, fold bool) (matching, union int) {
	norm := func(k string) string {
		if fold {
			return strings.ToLower(k)
		}
		return k
	}

	seen := make(map[string]struct{})
	for k, v := range live {
		key := norm(k)
		if _, skip := ignored[key]; skip {
			continue
		}
		seen[key] = struct{}{}
		if cv, ok := lookup(cand, key, fold); ok && cv == v {
			matching++
		}
	}
	for k := range cand {
		key := norm(k)
		if _, skip := ignored[key]; skip {
			continue
		}
		seen[key] = struct{}{}
	}
	return matching, len(seen)
}

func lookup(m map[string]string, key string, fold bool) (string, bool) {
	if !fold {
		v, ok := m[key]
		return v, ok
	}
	for k, v := range m {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return "", false
}

func (m *Matcher) bodyContribution(live, cand record.RequestRecord) contribution {
	switch live.Method {
	case "POST", "PUT", "PATCH":
	default:
		return contribution{}
	}

	liveVal, candVal := live.Body.Value(), cand.Body.Value()
	if reflect.DeepEqual(liveVal, candVal) {
		return contribution{points: 50}
	}

	liveObj, liveOK := liveVal.(map[string]any)
	candObj, candOK := candVal.(map[string]any)
	if !liveOK || !candOK {
		return contribution{}
	}

	common := 0
	for k := range liveObj {
		if _, ok := candObj[k]; ok {
			common++
		}
	}
	max := len(liveObj)
	if len(candObj) > max {
		max = len(candObj)
	}
	if max == 0 {
		return contribution{}
	}
	return contribution{points: float64(common) / float64(max) * 30}
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
