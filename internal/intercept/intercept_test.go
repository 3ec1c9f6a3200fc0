package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egehanasal/apidouble/internal/domain/record"
)

func jsonResp(status int, body any) record.ResponseRecord {
	return record.ResponseRecord{
		Status:  status,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    record.JSONBody(body),
	}
}

func TestMatchFilters(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("GET", "/api/users/:id", 0, ReplaceBody("x"))

	rule, params := r.Match("GET", "/api/users/42")
	require.NotNil(t, rule)
	assert.Equal(t, "42", params["id"])

	rule, _ = r.Match("POST", "/api/users/42")
	assert.Nil(t, rule)
	rule, _ = r.Match("GET", "/api/users")
	assert.Nil(t, rule)
}

func TestWildcardMethod(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("*", "/api/*", 0, ReplaceBody("x"))

	rule, _ := r.Match("DELETE", "/api/anything/nested")
	assert.NotNil(t, rule)
}

func TestPriorityWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("GET", "/api/data", 1, SetStatus(201))
	r.Add("GET", "/api/data", 5, SetStatus(202))

	out, matched := r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, jsonResp(200, nil))
	require.True(t, matched)
	assert.Equal(t, 202, out.Status)
}

func TestEqualPriorityBreaksToInsertionOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("GET", "/api/data", 3, SetStatus(201))
	r.Add("GET", "/api/data", 3, SetStatus(202))

	out, matched := r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, jsonResp(200, nil))
	require.True(t, matched)
	assert.Equal(t, 201, out.Status)
}

func TestDisabledRuleSkipped(t *testing.T) {
	r := NewRegistry(nil)
	rule := r.Add("GET", "/api/data", 9, SetStatus(500))
	r.Add("GET", "/api/data", 1, SetStatus(202))

	rule.Enabled = false
	out, _ := r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, jsonResp(200, nil))
	assert.Equal(t, 202, out.Status)
}

func TestHandlerFailureFailsOpen(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("GET", "/api/data", 0, func(context.Context, record.ResponseRecord, *RequestContext) (record.ResponseRecord, error) {
		return record.ResponseRecord{}, errors.New("boom")
	})

	original := jsonResp(200, map[string]any{"ok": true})
	out, matched := r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, original)
	assert.True(t, matched)
	assert.Equal(t, original.Status, out.Status)
	body, _ := out.Body.JSON()
	assert.Equal(t, map[string]any{"ok": true}, body)
}

func TestChainThreadsResponse(t *testing.T) {
	h := Chain(
		SetStatus(201),
		MergeHeaders(map[string]string{"X-Test": "yes"}),
		ModifyBody(func(body any) any {
			obj := body.(map[string]any)
			out := make(map[string]any, len(obj)+1)
			for k, v := range obj {
				out[k] = v
			}
			out["chained"] = true
			return out
		}),
	)

	resp, err := h(context.Background(), jsonResp(200, map[string]any{"name": "Test"}), &RequestContext{})
	require.NoError(t, err)

	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, "yes", resp.Headers["X-Test"])
	assert.Equal(t, "application/json", resp.Headers["content-type"])
	body, _ := resp.Body.JSON()
	assert.Equal(t, map[string]any{"name": "Test", "chained": true}, body)
}

func TestSyntheticError(t *testing.T) {
	resp, err := SyntheticError(503, "down for maintenance")(context.Background(), jsonResp(200, nil), &RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
	body, _ := resp.Body.JSON()
	assert.Equal(t, map[string]any{"error": "down for maintenance"}, body)
}

func TestApplyDoesNotMutateOriginalHeaders(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("GET", "/api/data", 0, MergeHeaders(map[string]string{"X-Extra": "1"}))

	original := jsonResp(200, nil)
	_, _ = r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, original)
	_, present := original.Headers["X-Extra"]
	assert.False(t, present)
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil)
	rule := r.Add("GET", "/api/data", 0, SetStatus(500))

	assert.True(t, r.Remove(rule.ID))
	assert.False(t, r.Remove(rule.ID))

	_, matched := r.Apply(context.Background(), record.RequestRecord{Method: "GET", Path: "/api/data"}, jsonResp(200, nil))
	assert.False(t, matched)
}
