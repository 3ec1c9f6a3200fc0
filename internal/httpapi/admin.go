package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egehanasal/apidouble/internal/chaos"
	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/internal/engine"
	"github.com/egehanasal/apidouble/internal/storage"
)

// maxAdminBody caps control-plane request bodies.
const maxAdminBody = 1 << 20

// bindStrict decodes exactly one JSON document from the request body into
// dst. Unknown fields and trailing content are rejected, an empty body is
// an error. Failures map to 400.
func bindStrict(c *gin.Context, dst any) error {
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must be a single JSON document")
	}
	return nil
}

// admin is the in-band control plane under the /__ prefix. It bypasses
// chaos and the mode pipeline entirely.
type admin struct {
	log       *zap.Logger
	eng       *engine.Engine
	port      int
	startedAt time.Time
}

func (a *admin) register(r *gin.Engine) {
	r.GET("/__health", a.health)
	r.GET("/__status", a.status)
	r.GET("/__mocks", a.listMocks)
	r.POST("/__mocks", a.seedMock)
	r.DELETE("/__mocks", a.clearMocks)
	r.GET("/__mocks/search", a.searchMocks)
	r.GET("/__mocks/:id", a.getMock)
	r.DELETE("/__mocks/:id", a.deleteMock)
	r.POST("/__mode", a.setMode)
	r.GET("/__chaos", a.chaosStatus)
	r.POST("/__chaos", a.setChaosEnabled)
	r.GET("/__chaos/rules", a.chaosRules)
	r.POST("/__chaos/latency", a.setChaosLatency)
	r.POST("/__chaos/error", a.setChaosError)
}

func (a *admin) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   a.eng.Mode(),
		"uptime": int64(time.Since(a.startedAt).Seconds()),
	})
}

func (a *admin) status(c *gin.Context) {
	count, err := a.eng.Storage().Count(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read storage"})
		return
	}

	out := gin.H{
		"mode":            a.eng.Mode(),
		"recordedEntries": count,
		"port":            a.port,
	}
	if target := a.eng.Target(); target != "" {
		out["target"] = target
	}
	c.JSON(http.StatusOK, out)
}

// mockSummary is the list-view shape of a recorded entry.
type mockSummary struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func summarize(entries []*record.RecordedEntry) []mockSummary {
	out := make([]mockSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, mockSummary{
			ID:        e.ID,
			Method:    e.Request.Method,
			Path:      e.Request.Path,
			Status:    e.Response.Status,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func (a *admin) listMocks(c *gin.Context) {
	entries, err := a.eng.Storage().List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read storage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": summarize(entries)})
}

// seedMock inserts an entry directly so suites can pre-load mocks without
// an upstream.
func (a *admin) seedMock(c *gin.Context) {
	var req struct {
		Request  record.RequestRecord  `json:"request"`
		Response record.ResponseRecord `json:"response"`
	}
	if err := bindStrict(c, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if req.Request.Method == "" || req.Request.Path == "" || req.Response.Status == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "request.method, request.path and response.status are required"})
		return
	}
	if req.Request.URL == "" {
		req.Request.URL = req.Request.Path
	}

	entry, err := a.eng.Storage().Save(c.Request.Context(), req.Request, req.Response)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to persist entry"})
		return
	}
	a.eng.InvalidateSnapshot()
	c.JSON(http.StatusCreated, entry)
}

func (a *admin) clearMocks(c *gin.Context) {
	if err := a.eng.Storage().Clear(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to clear storage"})
		return
	}
	a.eng.InvalidateSnapshot()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "all recorded entries cleared"})
}

func (a *admin) getMock(c *gin.Context) {
	entry, err := a.eng.Storage().FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no entry with that id"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read storage"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *admin) deleteMock(c *gin.Context) {
	ok, err := a.eng.Storage().Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to delete entry"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no entry with that id"})
		return
	}
	a.eng.InvalidateSnapshot()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "entry deleted"})
}

func (a *admin) searchMocks(c *gin.Context) {
	searcher, ok := a.eng.Storage().(storage.Searcher)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"message": "search is not supported by this storage backing"})
		return
	}

	entries, err := searcher.Search(c.Request.Context(), c.Query("method"), c.Query("path"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to search storage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": summarize(entries)})
}

func (a *admin) setMode(c *gin.Context) {
	var req struct {
		Mode   string `json:"mode"`
		Target string `json:"target"`
	}
	if err := bindStrict(c, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := a.eng.SetMode(req.Mode, req.Target); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mode": a.eng.Mode(), "target": a.eng.Target()})
}

func (a *admin) chaosStatus(c *gin.Context) {
	stats := a.eng.Chaos.Stats()
	c.JSON(http.StatusOK, gin.H{
		"enabled":           a.eng.Chaos.Enabled(),
		"requestsProcessed": stats.RequestsProcessed,
		"errorsInjected":    stats.ErrorsInjected,
		"averageLatency":    stats.AverageLatencyMS,
	})
}

func (a *admin) setChaosEnabled(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := bindStrict(c, &req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "enabled must be a boolean"})
		return
	}

	a.eng.Chaos.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": *req.Enabled})
}

func (a *admin) chaosRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"defaultLatency": a.eng.Chaos.DefaultLatency(),
		"defaultError":   a.eng.Chaos.DefaultError(),
		"latency":        a.eng.Chaos.LatencyRules(),
		"error":          a.eng.Chaos.ErrorRules(),
	})
}

func (a *admin) setChaosLatency(c *gin.Context) {
	var req chaos.LatencyConfig
	if err := bindStrict(c, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := a.eng.Chaos.SetDefaultLatency(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *admin) setChaosError(c *gin.Context) {
	var req chaos.ErrorConfig
	if err := bindStrict(c, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := a.eng.Chaos.SetDefaultError(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
