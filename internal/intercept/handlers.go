package intercept

import (
	"context"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
)

// Delay waits before passing the response through unchanged. The wait
// honors ctx cancellation.
func Delay(ms int) Handler {
	return func(ctx context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return resp, nil
		case <-ctx.Done():
			return resp, ctx.Err()
		}
	}
}

// ReplaceBody swaps the response body for a fixed JSON value.
func ReplaceBody(value any) Handler {
	return func(_ context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		resp.Body = record.JSONBody(value)
		return resp, nil
	}
}

// ModifyBody rewrites the response body through fn. The function receives
// the decoded JSON tree, the raw string, or nil when the body is absent.
func ModifyBody(fn func(body any) any) Handler {
	return func(_ context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		resp.Body = record.JSONBody(fn(resp.Body.Value()))
		return resp, nil
	}
}

// SetStatus overrides the response status code.
func SetStatus(code int) Handler {
	return func(_ context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		resp.Status = code
		return resp, nil
	}
}

// MergeHeaders overlays headers onto the response, keeping existing keys
// that are not overridden.
func MergeHeaders(headers map[string]string) Handler {
	return func(_ context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		if resp.Headers == nil {
			resp.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			resp.Headers[k] = v
		}
		return resp, nil
	}
}

// SyntheticError replaces the whole response with an error document.
func SyntheticError(status int, message string) Handler {
	return func(_ context.Context, resp record.ResponseRecord, _ *RequestContext) (record.ResponseRecord, error) {
		return record.ResponseRecord{
			Status:    status,
			Headers:   map[string]string{"content-type": "application/json"},
			Body:      record.JSONBody(map[string]any{"error": message}),
			Timestamp: time.Now().UnixMilli(),
		}, nil
	}
}

// Chain invokes handlers left to right, threading the response through.
// The first error aborts the chain.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, resp record.ResponseRecord, rc *RequestContext) (record.ResponseRecord, error) {
		var err error
		for _, h := range handlers {
			resp, err = h(ctx, resp, rc)
			if err != nil {
				return resp, err
			}
		}
		return resp, nil
	}
}
