// Package engine orchestrates the per-request pipeline: chaos gate, custom
// routes, then the mode branch (replay lookup / forward+record /
// forward+transform+record).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/egehanasal/apidouble/internal/chaos"
	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/internal/intercept"
	"github.com/egehanasal/apidouble/internal/matcher"
	"github.com/egehanasal/apidouble/internal/proxy"
	"github.com/egehanasal/apidouble/internal/routes"
	"github.com/egehanasal/apidouble/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Hooks are lifecycle callbacks for embedders. Nil fields are skipped.
type Hooks struct {
	OnRequest  func(record.RequestRecord)
	OnResponse func(record.RequestRecord, record.ResponseRecord)
	OnError    func(record.RequestRecord, error)
}

// Options configures a new engine.
type Options struct {
	Mode            Mode
	Target          string
	UpstreamTimeout time.Duration
	// SnapshotTTL controls how long the replay list snapshot is served;
	// default 250ms.
	SnapshotTTL time.Duration
	Hooks       Hooks
}

// Engine owns one storage instance and the four registries. Mutable mode
// state lives in a single guarded cell read at each request entry.
type Engine struct {
	log   *zap.Logger
	store storage.Storage

	Matcher      *matcher.Matcher
	Chaos        *chaos.Injector
	Interceptors *intercept.Registry
	Routes       *routes.Registry

	hooks Hooks

	mu              sync.RWMutex
	mode            Mode
	target          string
	upstreamTimeout time.Duration
	fwd             *proxy.Forwarder // rebuilt lazily after a mode switch

	// replay list snapshot; singleflight collapses concurrent refreshes
	snapTTL     time.Duration
	snapMu      sync.RWMutex
	snapshot    []*record.RecordedEntry
	snapExpires time.Time
	sg          singleflight.Group
}

// New wires the engine. Forward modes require a target at construction.
func New(store storage.Storage, m *matcher.Matcher, inj *chaos.Injector, interceptors *intercept.Registry, customRoutes *routes.Registry, opts Options, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("engine")

	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if mode.RequiresUpstream() && opts.Target == "" {
		return nil, fmt.Errorf("mode %q requires an upstream target", mode)
	}

	if m == nil {
		m = matcher.New(matcher.NewConfig(matcher.StrategySmart, nil, nil))
	}
	if inj == nil {
		inj = chaos.New(log)
	}
	if interceptors == nil {
		interceptors = intercept.NewRegistry(log)
	}
	if customRoutes == nil {
		customRoutes = routes.NewRegistry(log)
	}

	snapTTL := opts.SnapshotTTL
	if snapTTL <= 0 {
		snapTTL = 250 * time.Millisecond
	}

	e := &Engine{
		log:             log,
		store:           store,
		Matcher:         m,
		Chaos:           inj,
		Interceptors:    interceptors,
		Routes:          customRoutes,
		hooks:           opts.Hooks,
		mode:            mode,
		target:          opts.Target,
		upstreamTimeout: opts.UpstreamTimeout,
		snapTTL:         snapTTL,
	}

	if opts.Target != "" {
		// validate the target eagerly; the forwarder itself stays lazy
		if _, err := proxy.NewForwarder(opts.Target, opts.UpstreamTimeout, log); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Mode returns the active mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Target returns the configured upstream URL, possibly empty.
func (e *Engine) Target() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.target
}

// Storage exposes the owned store for the admin plane and CLI.
func (e *Engine) Storage() storage.Storage { return e.store }

// SetMode switches the mode atomically. An empty target keeps the current
// one; switching to a forward mode without any known target fails. The
// forwarder is re-constructed lazily on the next forward.
func (e *Engine) SetMode(modeStr, target string) error {
	mode, err := ParseMode(modeStr)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newTarget := e.target
	if target != "" {
		if _, err := proxy.NewForwarder(target, e.upstreamTimeout, e.log); err != nil {
			return err
		}
		newTarget = target
	}
	if mode.RequiresUpstream() && newTarget == "" {
		return fmt.Errorf("mode %q requires an upstream target and none is configured", mode)
	}

	e.mode = mode
	if newTarget != e.target {
		e.target = newTarget
		e.fwd = nil
	}
	e.log.Info("mode switched", zap.String("mode", string(mode)), zap.String("target", newTarget))
	return nil
}

// forwarder returns the cached forwarder, building it on first use after a
// switch.
func (e *Engine) forwarder() (*proxy.Forwarder, error) {
	e.mu.RLock()
	if e.fwd != nil && e.fwd.Target() == e.target {
		fwd := e.fwd
		e.mu.RUnlock()
		return fwd, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fwd != nil && e.fwd.Target() == e.target {
		return e.fwd, nil
	}
	if e.target == "" {
		return nil, errors.New("no upstream target configured")
	}
	fwd, err := proxy.NewForwarder(e.target, e.upstreamTimeout, e.log)
	if err != nil {
		return nil, err
	}
	e.fwd = fwd
	return fwd, nil
}

// Handle runs one request through the pipeline and returns the response to
// emit. A non-nil error means the client went away (cancelled context);
// nothing should be written.
func (e *Engine) Handle(ctx context.Context, req record.RequestRecord) (record.ResponseRecord, error) {
	if e.hooks.OnRequest != nil {
		e.hooks.OnRequest(req)
	}

	// chaos gate
	_, injected, err := e.Chaos.Apply(ctx, req.Method, req.Path)
	if err != nil {
		return record.ResponseRecord{}, err
	}
	if injected != nil {
		resp := jsonResponse(injected.Status, injected.Body)
		e.emitted(req, resp)
		return resp, nil
	}

	// custom routes outrank every mode-default behavior
	resp, matched, err := e.Routes.Serve(ctx, req)
	if err != nil {
		e.log.Error("custom route handler failed", zap.String("path", req.Path), zap.Error(err))
		resp = jsonResponse(500, map[string]any{
			"error":   "Internal Server Error",
			"message": "custom route handler failed",
		})
		e.emitted(req, resp)
		return resp, nil
	}
	if matched {
		e.emitted(req, resp)
		return resp, nil
	}

	switch e.Mode() {
	case ModeMock:
		resp = e.replay(ctx, req)
	case ModeProxy:
		resp = e.forward(ctx, req, false)
	case ModeIntercept:
		resp = e.forward(ctx, req, true)
	}
	e.emitted(req, resp)
	return resp, nil
}

func (e *Engine) emitted(req record.RequestRecord, resp record.ResponseRecord) {
	if e.hooks.OnResponse != nil {
		e.hooks.OnResponse(req, resp)
	}
}

// replay serves from recorded storage only.
func (e *Engine) replay(ctx context.Context, req record.RequestRecord) record.ResponseRecord {
	entries, err := e.entryList(ctx)
	if err != nil {
		e.log.Error("storage read failed", zap.Error(err))
		return jsonResponse(500, map[string]any{
			"error":   "Internal Server Error",
			"message": "failed to read recorded entries",
		})
	}

	if hit := e.Matcher.Match(req, entries); hit != nil {
		e.log.Debug("replay hit",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("entry_id", hit.ID),
		)
		return hit.Response
	}

	return jsonResponse(404, map[string]any{
		"error":   "Not Found",
		"message": "No matching mock found for this request",
		"request": map[string]any{"method": req.Method, "path": req.Path},
	})
}

// forward proxies to the upstream, optionally transforms, then records.
func (e *Engine) forward(ctx context.Context, req record.RequestRecord, transform bool) record.ResponseRecord {
	fwd, err := e.forwarder()
	if err != nil {
		return jsonResponse(502, map[string]any{
			"error":   "Bad Gateway",
			"message": "upstream is not configured",
			"details": err.Error(),
		})
	}

	resp, err := fwd.Forward(ctx, req)
	if err != nil {
		if e.hooks.OnError != nil {
			e.hooks.OnError(req, err)
		}
		var uerr *proxy.UpstreamError
		if errors.As(err, &uerr) && uerr.Timeout {
			e.log.Warn("upstream deadline exceeded", zap.String("path", req.Path), zap.Error(err))
			return jsonResponse(504, map[string]any{
				"error":   "Gateway Timeout",
				"message": "upstream did not respond in time",
				"details": err.Error(),
			})
		}
		e.log.Warn("upstream unreachable", zap.String("path", req.Path), zap.Error(err))
		return jsonResponse(502, map[string]any{
			"error":   "Bad Gateway",
			"message": "failed to reach upstream",
			"details": err.Error(),
		})
	}

	if transform {
		resp, _ = e.Interceptors.Apply(ctx, req, resp)
	}

	// persistence failure must not fail the client response
	if _, err := e.store.Save(ctx, req, resp); err != nil {
		e.log.Error("failed to persist recorded entry",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
	} else {
		e.InvalidateSnapshot()
	}
	return resp
}

// entryList returns the storage list through a TTL snapshot; concurrent
// refreshes collapse into one List call.
func (e *Engine) entryList(ctx context.Context) ([]*record.RecordedEntry, error) {
	e.snapMu.RLock()
	if time.Now().Before(e.snapExpires) {
		entries := e.snapshot
		e.snapMu.RUnlock()
		return entries, nil
	}
	e.snapMu.RUnlock()

	v, err, _ := e.sg.Do("entries", func() (any, error) {
		entries, err := e.store.List(ctx)
		if err != nil {
			return nil, err
		}
		e.snapMu.Lock()
		e.snapshot = entries
		e.snapExpires = time.Now().Add(e.snapTTL)
		e.snapMu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*record.RecordedEntry), nil
}

// InvalidateSnapshot expires the replay snapshot; admin mutations call this
// so the next replay sees fresh state.
func (e *Engine) InvalidateSnapshot() {
	e.snapMu.Lock()
	e.snapExpires = time.Time{}
	e.snapMu.Unlock()
}

func jsonResponse(status int, body map[string]any) record.ResponseRecord {
	return record.ResponseRecord{
		Status:    status,
		Headers:   map[string]string{"content-type": "application/json"},
		Body:      record.JSONBody(body),
		Timestamp: time.Now().UnixMilli(),
	}
}
