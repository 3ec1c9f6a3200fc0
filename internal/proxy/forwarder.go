// Package proxy copies a live request to the configured upstream and
// captures the full response in memory for recording.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"go.uber.org/zap"
)

// hop-by-hop and derived headers never copied upstream
var skipRequestHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"accept-encoding":   {}, // transport negotiates its own, transparently decoded
	"transfer-encoding": {},
}

// headers stripped from the captured response; the client receives
// decoded, buffered content
var skipResponseHeaders = map[string]struct{}{
	"transfer-encoding": {},
	"content-encoding":  {},
	"content-length":    {},
}

// UpstreamError wraps an upstream round-trip failure. Timeout distinguishes
// a deadline (504) from an unreachable upstream (502).
type UpstreamError struct {
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Forwarder issues outbound requests against one upstream base URL.
type Forwarder struct {
	log    *zap.Logger
	base   *url.URL
	client *http.Client
}

// NewForwarder validates the target URL and builds the HTTP client with the
// given deadline (0 means 30s).
func NewForwarder(target string, timeout time.Duration, log *zap.Logger) (*Forwarder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("target url %q must be http or https", target)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Forwarder{
		log:    log.Named("forwarder"),
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Target returns the upstream base URL.
func (f *Forwarder) Target() string { return f.base.String() }

// Forward copies the recorded request to the upstream and buffers the whole
// response. The Host header is rewritten to the upstream authority. Errors
// come back as *UpstreamError.
func (f *Forwarder) Forward(ctx context.Context, req record.RequestRecord) (record.ResponseRecord, error) {
	outURL := *f.base
	outURL.Path = joinPath(f.base.Path, req.Path)
	if i := strings.IndexByte(req.URL, '?'); i >= 0 {
		outURL.RawQuery = req.URL[i+1:]
	}

	body, err := req.Body.Bytes()
	if err != nil {
		return record.ResponseRecord{}, &UpstreamError{Err: fmt.Errorf("serialize body: %w", err)}
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, outURL.String(), bytes.NewReader(body))
	if err != nil {
		return record.ResponseRecord{}, &UpstreamError{Err: fmt.Errorf("build request: %w", err)}
	}
	for key, value := range req.Headers {
		if _, skip := skipRequestHeaders[key]; skip {
			continue
		}
		outReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		return record.ResponseRecord{}, &UpstreamError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return record.ResponseRecord{}, &UpstreamError{Timeout: isTimeout(err), Err: fmt.Errorf("read response: %w", err)}
	}

	f.log.Debug("upstream round-trip",
		zap.String("method", req.Method),
		zap.String("url", outURL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	headers := record.FlattenHeader(resp.Header)
	for key := range skipResponseHeaders {
		delete(headers, key)
	}

	return record.ResponseRecord{
		Status:    resp.StatusCode,
		Headers:   headers,
		Body:      record.ParseBody(data, resp.Header.Get("Content-Type")),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + path
}
