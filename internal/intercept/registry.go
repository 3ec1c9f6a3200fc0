// Package intercept holds ordered response-transform rules keyed by
// method + path pattern. A matched rule rewrites the upstream response
// before it reaches the client and before it is persisted.
package intercept

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/pkg/pathpattern"
	"go.uber.org/zap"
)

// RequestContext carries the live request into a handler.
type RequestContext struct {
	Request record.RequestRecord
	// Params holds :name captures from the rule's path pattern.
	Params map[string]string
	Query  map[string]string
}

// Handler transforms a response. Handlers may block (sleep, I/O); they
// receive the request context for conditional transforms.
type Handler func(ctx context.Context, resp record.ResponseRecord, rc *RequestContext) (record.ResponseRecord, error)

// Rule scopes a handler to (method, path pattern) with a priority.
type Rule struct {
	ID       int64  `json:"id"`
	Method   string `json:"method"` // uppercase token or "*"
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`

	handler Handler
	pattern pathpattern.Pattern
}

// Registry is the ordered rule set. Reads happen on every intercept-mode
// request; writes come from the programmatic API.
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	rules  []*Rule
	nextID atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log.Named("intercept")}
}

// Add registers a handler. Higher priority wins; equal priority breaks to
// insertion order. Returns the rule for later enable/disable.
func (r *Registry) Add(method, path string, priority int, h Handler) *Rule {
	rule := &Rule{
		ID:       r.nextID.Add(1),
		Method:   normalizeMethod(method),
		Path:     path,
		Enabled:  true,
		Priority: priority,
		handler:  h,
		pattern:  pathpattern.Compile(path),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return rule
}

// Remove deletes a rule by id.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a snapshot in insertion order.
func (r *Registry) Rules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Rule{}, r.rules...)
}

// Match returns the winning rule for (method, path) plus its path captures,
// or nil when nothing matches.
func (r *Registry) Match(method, path string) (*Rule, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best       *Rule
		bestParams map[string]string
	)
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Method != "*" && rule.Method != method {
			continue
		}
		params, ok := rule.pattern.Match(path)
		if !ok {
			continue
		}
		// strict greater keeps the earliest rule on priority ties
		if best == nil || rule.Priority > best.Priority {
			best, bestParams = rule, params
		}
	}
	return best, bestParams
}

// Apply runs the winning rule's handler against resp. A handler failure is
// logged and the pre-transform response is returned (fail-open), so a buggy
// rule cannot brick the proxy. The bool reports whether a rule matched.
func (r *Registry) Apply(ctx context.Context, req record.RequestRecord, resp record.ResponseRecord) (record.ResponseRecord, bool) {
	rule, params := r.Match(req.Method, req.Path)
	if rule == nil {
		return resp, false
	}

	rc := &RequestContext{Request: req, Params: params, Query: req.Query}
	out, err := rule.handler(ctx, resp.Clone(), rc)
	if err != nil {
		r.log.Error("interceptor handler failed; serving original response",
			zap.Int64("rule_id", rule.ID),
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return resp, true
	}
	return out, true
}

func normalizeMethod(method string) string {
	if method == "" || method == "*" {
		return "*"
	}
	return strings.ToUpper(method)
}
