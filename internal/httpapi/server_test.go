package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egehanasal/apidouble/internal/chaos"
	"github.com/egehanasal/apidouble/internal/config"
	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/internal/engine"
	"github.com/egehanasal/apidouble/internal/storage"
)

func newTestServer(t *testing.T, opts engine.Options) *Server {
	t.Helper()
	store := storage.NewFileJournal(filepath.Join(t.TempDir(), "db.json"), nil)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { store.Close() })

	if opts.SnapshotTTL == 0 {
		opts.SnapshotTTL = time.Nanosecond
	}
	eng, err := engine.New(store, nil, nil, nil, nil, opts, nil)
	require.NoError(t, err)

	cfg := config.Default()
	return NewServer(cfg, eng, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func seed(t *testing.T, s *Server, method, path string, status int, body any) {
	t.Helper()
	_, err := s.eng.Storage().Save(context.Background(),
		record.RequestRecord{Method: method, URL: path, Path: path},
		record.ResponseRecord{Status: status, Headers: map[string]string{"content-type": "application/json"}, Body: record.JSONBody(body)},
	)
	require.NoError(t, err)
	s.eng.InvalidateSnapshot()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	w := do(t, s, "GET", "/__health", "")
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "mock", body["mode"])
	assert.Contains(t, body, "uptime")
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})
	seed(t, s, "GET", "/api/x", 200, map[string]any{"a": 1})

	w := do(t, s, "GET", "/__status", "")
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["recordedEntries"])
	assert.Equal(t, float64(3001), body["port"])
	assert.NotContains(t, body, "target")
}

func TestReplayThroughHTTP(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})
	seed(t, s, "GET", "/api/users/123", 200, map[string]any{"id": float64(123), "name": "Original"})

	w := do(t, s, "GET", "/api/users/999", "")
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"id":123,"name":"Original"}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = do(t, s, "GET", "/api/unknown", "")
	require.Equal(t, 404, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "No matching mock found for this request", body["message"])
}

func TestMocksCRUD(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	// seed through the admin API
	w := do(t, s, "POST", "/__mocks", `{
		"request": {"method": "GET", "path": "/api/data"},
		"response": {"status": 200, "body": {"source": "seeded"}}
	}`)
	require.Equal(t, 201, w.Code)
	id := decode(t, w)["id"].(string)

	// replay the seeded entry
	w = do(t, s, "GET", "/api/data", "")
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"source":"seeded"}`, w.Body.String())

	// list
	w = do(t, s, "GET", "/__mocks", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	// fetch one
	w = do(t, s, "GET", "/__mocks/"+id, "")
	require.Equal(t, 200, w.Code)

	// delete one
	w = do(t, s, "DELETE", "/__mocks/"+id, "")
	require.Equal(t, 200, w.Code)
	w = do(t, s, "DELETE", "/__mocks/"+id, "")
	require.Equal(t, 404, w.Code)

	// clear
	seed(t, s, "GET", "/api/a", 200, nil)
	seed(t, s, "GET", "/api/b", 200, nil)
	w = do(t, s, "DELETE", "/__mocks", "")
	require.Equal(t, 200, w.Code)
	w = do(t, s, "GET", "/__mocks", "")
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestMocksSearch(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})
	seed(t, s, "GET", "/api/users/1", 200, nil)
	seed(t, s, "POST", "/api/users", 201, nil)
	seed(t, s, "GET", "/health", 200, nil)

	w := do(t, s, "GET", "/__mocks/search?method=GET&path=/api/*", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestModeSwitchValidation(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	w := do(t, s, "POST", "/__mode", `{"mode": "psychic"}`)
	assert.Equal(t, 400, w.Code)

	w = do(t, s, "POST", "/__mode", `{"mode": "proxy"}`)
	assert.Equal(t, 400, w.Code)

	w = do(t, s, "POST", "/__mode", `{"mode": "proxy", "target": "http://localhost:9999"}`)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "proxy", decode(t, w)["mode"])
}

func TestChaosToggleValidation(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	w := do(t, s, "POST", "/__chaos", `{"enabled": "yes"}`)
	assert.Equal(t, 400, w.Code)
	w = do(t, s, "POST", "/__chaos", `{}`)
	assert.Equal(t, 400, w.Code)

	w = do(t, s, "POST", "/__chaos", `{"enabled": true}`)
	require.Equal(t, 200, w.Code)

	w = do(t, s, "GET", "/__chaos", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, decode(t, w)["enabled"])
}

func TestChaosDefaultsEndpoints(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	w := do(t, s, "POST", "/__chaos/latency", `{"min": 10, "max": 5}`)
	assert.Equal(t, 400, w.Code)
	w = do(t, s, "POST", "/__chaos/latency", `{"min": 1, "max": 2}`)
	assert.Equal(t, 200, w.Code)

	w = do(t, s, "POST", "/__chaos/error", `{"rate": 150, "status": 500}`)
	assert.Equal(t, 400, w.Code)
	w = do(t, s, "POST", "/__chaos/error", `{"rate": 50, "status": 503, "message": "chaos"}`)
	assert.Equal(t, 200, w.Code)

	w = do(t, s, "GET", "/__chaos/rules", "")
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.NotNil(t, body["defaultLatency"])
	assert.NotNil(t, body["defaultError"])
}

func TestAdminBypassesChaos(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})
	s.eng.Chaos.SetEnabled(true)
	require.NoError(t, s.eng.Chaos.SetDefaultError(&chaos.ErrorConfig{Rate: 100, Status: 503, Message: "chaos"}))

	w := do(t, s, "GET", "/__health", "")
	assert.Equal(t, 200, w.Code)
	w = do(t, s, "GET", "/__unknown", "")
	assert.Equal(t, 404, w.Code)
	// admin traffic never counts as a chaos apply
	assert.Zero(t, s.eng.Chaos.Stats().RequestsProcessed)

	// a regular request does get the injection
	w = do(t, s, "GET", "/api/x", "")
	assert.Equal(t, 503, w.Code)
	assert.EqualValues(t, 1, s.eng.Chaos.Stats().RequestsProcessed)
}

func TestDashboardIsHTML(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})

	w := do(t, s, "GET", "/__admin", "")
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "apidouble")
}

func TestProxyModeEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"from":"upstream"}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, engine.Options{Mode: engine.ModeProxy, Target: upstream.URL})

	w := do(t, s, "GET", "/api/remote", "")
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"from":"upstream"}`, w.Body.String())

	w = do(t, s, "GET", "/__mocks", "")
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestAbsentBodyReplay(t *testing.T) {
	s := newTestServer(t, engine.Options{Mode: engine.ModeMock})
	_, err := s.eng.Storage().Save(context.Background(),
		record.RequestRecord{Method: "DELETE", URL: "/api/x", Path: "/api/x"},
		record.ResponseRecord{Status: 204},
	)
	require.NoError(t, err)
	s.eng.InvalidateSnapshot()

	w := do(t, s, "DELETE", "/api/x", "")
	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.Bytes())
}
