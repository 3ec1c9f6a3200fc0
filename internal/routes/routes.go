// Package routes is the user-declared route table. A matching custom route
// outranks every mode-default behavior: it serves the response directly
// without consulting replay storage or the upstream.
package routes

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/pkg/pathpattern"
	"go.uber.org/zap"
)

// Input is what a route handler receives.
type Input struct {
	Params  map[string]string
	Query   map[string]string
	Headers map[string]string
	Body    record.Body
}

// Result is what a route handler returns. A zero Status means 200.
type Result struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Handler serves a matched custom route. Handlers may block.
type Handler func(ctx context.Context, in *Input) (*Result, error)

// Route is one registered (method, pattern, handler) triple.
type Route struct {
	ID       int64  `json:"id"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`

	handler Handler
	pattern pathpattern.Pattern
}

// Registry holds custom routes. Registration is chainable:
//
//	r.Get("/api/data", h1).Post("/api/data", h2)
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	routes []*Route
	nextID atomic.Int64
}

// NewRegistry creates an empty route table.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log.Named("routes")}
}

// Handle registers a route and returns the registry for chaining.
func (r *Registry) Handle(method, path string, h Handler) *Registry {
	r.add(method, path, 0, h)
	return r
}

// HandleWithPriority registers a route with an explicit priority; higher
// wins, ties break to insertion order.
func (r *Registry) HandleWithPriority(method, path string, priority int, h Handler) *Registry {
	r.add(method, path, priority, h)
	return r
}

func (r *Registry) Get(path string, h Handler) *Registry    { return r.Handle("GET", path, h) }
func (r *Registry) Post(path string, h Handler) *Registry   { return r.Handle("POST", path, h) }
func (r *Registry) Put(path string, h Handler) *Registry    { return r.Handle("PUT", path, h) }
func (r *Registry) Patch(path string, h Handler) *Registry  { return r.Handle("PATCH", path, h) }
func (r *Registry) Delete(path string, h Handler) *Registry { return r.Handle("DELETE", path, h) }

func (r *Registry) add(method, path string, priority int, h Handler) *Route {
	method = strings.ToUpper(method)
	if method == "" {
		method = "*"
	}
	route := &Route{
		ID:       r.nextID.Add(1),
		Method:   method,
		Path:     path,
		Enabled:  true,
		Priority: priority,
		handler:  h,
		pattern:  pathpattern.Compile(path),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	return route
}

// Routes returns a snapshot in insertion order.
func (r *Registry) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Route{}, r.routes...)
}

// Match returns the winning route for (method, path) and its captures.
func (r *Registry) Match(method, path string) (*Route, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best       *Route
		bestParams map[string]string
	)
	for _, route := range r.routes {
		if !route.Enabled {
			continue
		}
		if route.Method != "*" && route.Method != method {
			continue
		}
		params, ok := route.pattern.Match(path)
		if !ok {
			continue
		}
		if best == nil || route.Priority > best.Priority {
			best, bestParams = route, params
		}
	}
	return best, bestParams
}

// Serve runs the matching route against the request. The bool reports
// whether a route matched; a handler error propagates to the caller.
func (r *Registry) Serve(ctx context.Context, req record.RequestRecord) (record.ResponseRecord, bool, error) {
	route, params := r.Match(req.Method, req.Path)
	if route == nil {
		return record.ResponseRecord{}, false, nil
	}

	result, err := route.handler(ctx, &Input{
		Params:  params,
		Query:   req.Query,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		return record.ResponseRecord{}, true, err
	}

	resp := record.ResponseRecord{
		Status:    result.Status,
		Headers:   result.Headers,
		Timestamp: time.Now().UnixMilli(),
	}
	if resp.Status == 0 {
		resp.Status = 200
	}
	if result.Body != nil {
		resp.Body = record.JSONBody(result.Body)
		if resp.Headers == nil {
			resp.Headers = map[string]string{"content-type": "application/json"}
		} else if _, ok := resp.Headers["content-type"]; !ok {
			resp.Headers["content-type"] = "application/json"
		}
	}
	return resp, true, nil
}
