package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egehanasal/apidouble/internal/domain/record"
)

func entry(id, method, path string) *record.RecordedEntry {
	return &record.RecordedEntry{
		ID:       id,
		Request:  record.RequestRecord{Method: method, Path: path},
		Response: record.ResponseRecord{Status: 200},
	}
}

func smartMatcher() *Matcher {
	return New(NewConfig(StrategySmart, nil, nil))
}

func TestLooksLikeID(t *testing.T) {
	for _, id := range []string{
		"123",
		"0",
		"550e8400-e29b-41d4-a716-446655440000",
		"507f1f77bcf86cd799439011",
		"V1StGXR8_Z5jdHi6B-myT",
	} {
		assert.True(t, looksLikeID(id), id)
	}

	for _, notID := range []string{
		"hello",
		"users",
		"",
		"abc-def",
		"550e8400e29b41d4a716446655440000", // uuid without dashes, 32 hex
	} {
		assert.False(t, looksLikeID(notID), notID)
	}
}

func TestMatchEmptyInput(t *testing.T) {
	assert.Nil(t, smartMatcher().Match(record.RequestRecord{Method: "GET", Path: "/x"}, nil))
}

func TestMethodDisqualifies(t *testing.T) {
	entries := []*record.RecordedEntry{entry("a", "POST", "/api/users")}
	live := record.RequestRecord{Method: "GET", Path: "/api/users"}

	for _, strategy := range []Strategy{StrategyExact, StrategySmart, StrategyFuzzy} {
		m := New(NewConfig(strategy, nil, nil))
		assert.Nil(t, m.Match(live, entries), string(strategy))
	}
}

func TestExactStrategyMinimality(t *testing.T) {
	m := New(NewConfig(StrategyExact, nil, nil))
	entries := []*record.RecordedEntry{entry("a", "GET", "/api/users/123")}

	assert.Nil(t, m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/999"}, entries))
	got := m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/123"}, entries)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
}

func TestSmartMatchIDDrift(t *testing.T) {
	m := smartMatcher()
	entries := []*record.RecordedEntry{entry("a", "GET", "/api/users/123")}

	got := m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/999"}, entries)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)

	// non-id segment drift disqualifies
	assert.Nil(t, m.Match(record.RequestRecord{Method: "GET", Path: "/api/orders/123"}, entries))
	// segment count drift disqualifies
	assert.Nil(t, m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/999/posts"}, entries))
}

func TestSmartPrefersExactPath(t *testing.T) {
	m := smartMatcher()
	entries := []*record.RecordedEntry{
		entry("drift", "GET", "/api/users/123"),
		entry("exact", "GET", "/api/users/999"),
	}

	got := m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/999"}, entries)
	require.NotNil(t, got)
	assert.Equal(t, "exact", got.ID)
}

func TestFuzzySegmentRatio(t *testing.T) {
	m := New(NewConfig(StrategyFuzzy, nil, nil))
	live := record.RequestRecord{Method: "GET", Path: "/api/users/999"}

	ranked := m.Rank(live, []*record.RecordedEntry{entry("a", "GET", "/api/users/123")})
	require.Len(t, ranked, 1)
	// method 100 + path (2 of 3 exact)·80 + empty query 50 + empty headers 30
	assert.InDelta(t, 100+2.0/3.0*80+50+30, ranked[0].Score, 0.001)

	// a plain word in the drifting position disqualifies
	assert.Nil(t, m.Match(live, []*record.RecordedEntry{entry("b", "GET", "/api/users/hello")}))
}

func TestQueryScoring(t *testing.T) {
	m := smartMatcher()
	live := record.RequestRecord{
		Method: "GET", Path: "/api/list",
		Query: map[string]string{"page": "1", "size": "10"},
	}

	full := entry("full", "GET", "/api/list")
	full.Request.Query = map[string]string{"page": "1", "size": "10"}
	half := entry("half", "GET", "/api/list")
	half.Request.Query = map[string]string{"page": "1", "size": "20"}

	ranked := m.Rank(live, []*record.RecordedEntry{half, full})
	require.Len(t, ranked, 2)
	assert.Equal(t, "full", ranked[0].Entry.ID)
	assert.Equal(t, 25.0, ranked[0].Score-ranked[1].Score) // (2/2 - 1/2)·50
}

func TestIgnoredQueryParams(t *testing.T) {
	m := New(NewConfig(StrategySmart, nil, []string{"ts"}))
	live := record.RequestRecord{Method: "GET", Path: "/api/list", Query: map[string]string{"ts": "111"}}

	cand := entry("a", "GET", "/api/list")
	cand.Request.Query = map[string]string{"ts": "222"}

	ranked := m.Rank(live, []*record.RecordedEntry{cand})
	require.Len(t, ranked, 1)
	// ts ignored on both sides, so query dimension scores as identical-empty
	assert.InDelta(t, 100+100+50+30, ranked[0].Score, 0.001)
}

func TestHeaderScoringIgnoresVolatileAndCase(t *testing.T) {
	m := smartMatcher()
	live := record.RequestRecord{
		Method: "GET", Path: "/api/x",
		Headers: map[string]string{"accept": "application/json", "authorization": "Bearer live"},
	}

	cand := entry("a", "GET", "/api/x")
	cand.Request.Headers = map[string]string{"Accept": "application/json", "Authorization": "Bearer recorded"}

	ranked := m.Rank(live, []*record.RecordedEntry{cand})
	require.Len(t, ranked, 1)
	assert.InDelta(t, 100+100+50+30, ranked[0].Score, 0.001)
}

func TestBodyScoring(t *testing.T) {
	m := smartMatcher()
	live := record.RequestRecord{
		Method: "POST", Path: "/api/users",
		Body: record.JSONBody(map[string]any{"name": "a", "age": float64(3)}),
	}

	equal := entry("equal", "POST", "/api/users")
	equal.Request.Body = record.JSONBody(map[string]any{"name": "a", "age": float64(3)})

	partial := entry("partial", "POST", "/api/users")
	partial.Request.Body = record.JSONBody(map[string]any{"name": "b", "extra": true, "more": 1, "age": float64(9)})

	ranked := m.Rank(live, []*record.RecordedEntry{partial, equal})
	require.Len(t, ranked, 2)
	assert.Equal(t, "equal", ranked[0].Entry.ID)
	// deep-equal 50 vs common-keys ratio (2 common / max(2,4))·30 = 15
	assert.InDelta(t, 35, ranked[0].Score-ranked[1].Score, 0.001)
}

func TestBodyIgnoredForGET(t *testing.T) {
	m := smartMatcher()
	live := record.RequestRecord{Method: "GET", Path: "/api/x", Body: record.JSONBody(map[string]any{"a": 1})}
	cand := entry("a", "GET", "/api/x")

	ranked := m.Rank(live, []*record.RecordedEntry{cand})
	require.Len(t, ranked, 1)
	assert.InDelta(t, 100+100+50+30, ranked[0].Score, 0.001)
}

func TestTiePreservesInputOrder(t *testing.T) {
	m := smartMatcher()
	entries := []*record.RecordedEntry{
		entry("first", "GET", "/api/users/1"),
		entry("second", "GET", "/api/users/2"),
	}

	got := m.Match(record.RequestRecord{Method: "GET", Path: "/api/users/999"}, entries)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.ID)
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"exact", "smart", "fuzzy"} {
		s, err := ParseStrategy(valid)
		require.NoError(t, err)
		assert.Equal(t, Strategy(valid), s)
	}

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategySmart, s)

	_, err = ParseStrategy("psychic")
	assert.Error(t, err)
}
