// Package chaos adds per-request latency and probabilistic synthetic errors.
// Latency and error injection are orthogonal sub-engines: each has an
// optional default config plus rules searched in insertion order; the first
// enabled rule matching (method, path) wins.
package chaos

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/egehanasal/apidouble/pkg/pathpattern"
	"go.uber.org/zap"
)

// LatencyConfig bounds the added delay in milliseconds.
type LatencyConfig struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Validate enforces 0 <= min <= max.
func (c LatencyConfig) Validate() error {
	if c.Min < 0 {
		return fmt.Errorf("latency min must be >= 0, got %d", c.Min)
	}
	if c.Max < c.Min {
		return fmt.Errorf("latency max (%d) must be >= min (%d)", c.Max, c.Min)
	}
	return nil
}

// ErrorConfig describes probabilistic error injection.
type ErrorConfig struct {
	// Rate is the injection probability in percent, 0..100.
	Rate float64 `json:"rate" yaml:"rate"`
	// Status is the synthetic response status, 400..599.
	Status  int    `json:"status" yaml:"status"`
	Message string `json:"message" yaml:"message"`
	Details any    `json:"details,omitempty" yaml:"details,omitempty"`
}

// Validate enforces the rate and status ranges.
func (c ErrorConfig) Validate() error {
	if c.Rate < 0 || c.Rate > 100 {
		return fmt.Errorf("error rate must be within 0..100, got %v", c.Rate)
	}
	if c.Status < 400 || c.Status > 599 {
		return fmt.Errorf("error status must be within 400..599, got %d", c.Status)
	}
	return nil
}

// Rule scopes a latency or error config to (method, path pattern).
type Rule[T any] struct {
	ID      int64  `json:"id"`
	Method  string `json:"method"` // uppercase token or "*"
	Path    string `json:"path"`
	Enabled bool   `json:"enabled"`
	Config  T      `json:"config"`

	pattern pathpattern.Pattern
}

func (r *Rule[T]) matches(method, path string) bool {
	if !r.Enabled {
		return false
	}
	if r.Method != "*" && r.Method != method {
		return false
	}
	return r.pattern.Matches(path)
}

// Injected is a synthetic error response decided by Apply.
type Injected struct {
	Status int
	Body   map[string]any
}

// Injector is the chaos engine. All methods are safe for concurrent use.
type Injector struct {
	log *zap.Logger

	mu             sync.RWMutex
	enabled        bool
	defaultLatency *LatencyConfig
	defaultError   *ErrorConfig
	latencyRules   []*Rule[LatencyConfig]
	errorRules     []*Rule[ErrorConfig]
	nextRuleID     atomic.Int64

	stats statsCounters
}

// New creates a disabled injector with no defaults.
func New(log *zap.Logger) *Injector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Injector{log: log.Named("chaos")}
}

// SetEnabled toggles the whole engine. When disabled, Apply is a no-op and
// stats are not incremented.
func (in *Injector) SetEnabled(enabled bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.enabled = enabled
}

// Enabled reports whether the engine is active.
func (in *Injector) Enabled() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.enabled
}

// SetDefaultLatency installs (or clears, with nil) the fallback latency.
func (in *Injector) SetDefaultLatency(cfg *LatencyConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.defaultLatency = cfg
	return nil
}

// SetDefaultError installs (or clears, with nil) the fallback error config.
func (in *Injector) SetDefaultError(cfg *ErrorConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.defaultError = cfg
	return nil
}

// DefaultLatency returns the fallback latency config, if any.
func (in *Injector) DefaultLatency() *LatencyConfig {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.defaultLatency
}

// DefaultError returns the fallback error config, if any.
func (in *Injector) DefaultError() *ErrorConfig {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.defaultError
}

// AddLatencyRule appends a latency rule; rules are matched in insertion order.
func (in *Injector) AddLatencyRule(method, path string, cfg LatencyConfig) (*Rule[LatencyConfig], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rule := &Rule[LatencyConfig]{
		ID:      in.nextRuleID.Add(1),
		Method:  normalizeMethod(method),
		Path:    path,
		Enabled: true,
		Config:  cfg,
		pattern: pathpattern.Compile(path),
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.latencyRules = append(in.latencyRules, rule)
	return rule, nil
}

// AddErrorRule appends an error-injection rule.
func (in *Injector) AddErrorRule(method, path string, cfg ErrorConfig) (*Rule[ErrorConfig], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rule := &Rule[ErrorConfig]{
		ID:      in.nextRuleID.Add(1),
		Method:  normalizeMethod(method),
		Path:    path,
		Enabled: true,
		Config:  cfg,
		pattern: pathpattern.Compile(path),
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.errorRules = append(in.errorRules, rule)
	return rule, nil
}

// LatencyRules returns a snapshot of the latency rules.
func (in *Injector) LatencyRules() []*Rule[LatencyConfig] {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]*Rule[LatencyConfig]{}, in.latencyRules...)
}

// ErrorRules returns a snapshot of the error rules.
func (in *Injector) ErrorRules() []*Rule[ErrorConfig] {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]*Rule[ErrorConfig]{}, in.errorRules...)
}

func normalizeMethod(method string) string {
	if method == "" {
		return "*"
	}
	return strings.ToUpper(method)
}

// Apply draws latency and the error decision for one request. The sleep
// honors ctx cancellation; on cancel the context error is returned and no
// synthetic error is produced. The returned delay is the drawn value; it is
// added to the latency stats only when the sleep completes.
func (in *Injector) Apply(ctx context.Context, method, path string) (delayMS int, injected *Injected, err error) {
	in.mu.RLock()
	enabled := in.enabled
	latency := in.defaultLatency
	for _, rule := range in.latencyRules {
		if rule.matches(method, path) {
			cfg := rule.Config
			latency = &cfg
			break
		}
	}
	errorCfg := in.defaultError
	for _, rule := range in.errorRules {
		if rule.matches(method, path) {
			cfg := rule.Config
			errorCfg = &cfg
			break
		}
	}
	in.mu.RUnlock()

	if !enabled {
		return 0, nil, nil
	}

	in.stats.processed.Add(1)

	if latency != nil {
		delayMS = drawLatency(*latency)
		if delayMS > 0 {
			select {
			case <-time.After(time.Duration(delayMS) * time.Millisecond):
			case <-ctx.Done():
				return delayMS, nil, ctx.Err()
			}
		}
		in.stats.totalLatencyMS.Add(int64(delayMS))
	}

	if errorCfg != nil && rand.Float64()*100 < errorCfg.Rate {
		in.stats.errorsInjected.Add(1)
		injected = buildInjected(*errorCfg)
		in.log.Debug("injected error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", injected.Status),
		)
	}
	return delayMS, injected, nil
}

// drawLatency picks a uniform integer in [min, max] inclusive.
func drawLatency(cfg LatencyConfig) int {
	if cfg.Max == cfg.Min {
		return cfg.Min
	}
	return cfg.Min + rand.IntN(cfg.Max-cfg.Min+1)
}

func buildInjected(cfg ErrorConfig) *Injected {
	body := map[string]any{
		"error":    statusText(cfg.Status),
		"message":  cfg.Message,
		"injected": true,
	}
	if cfg.Details != nil {
		body["details"] = cfg.Details
	}
	return &Injected{Status: cfg.Status, Body: body}
}

// statusText maps the injectable status codes to reason phrases.
func statusText(status int) string {
	switch status {
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 408:
		return "Request Timeout"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Error"
	}
}
