package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoOp(t *testing.T) {
	in := New(nil)
	require.NoError(t, in.SetDefaultError(&ErrorConfig{Rate: 100, Status: 500, Message: "boom"}))

	delay, injected, err := in.Apply(context.Background(), "GET", "/api/x")
	require.NoError(t, err)
	assert.Zero(t, delay)
	assert.Nil(t, injected)
	assert.Zero(t, in.Stats().RequestsProcessed)
}

func TestLatencyBounds(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)
	require.NoError(t, in.SetDefaultLatency(&LatencyConfig{Min: 1, Max: 5}))

	for i := 0; i < 50; i++ {
		delay, _, err := in.Apply(context.Background(), "GET", "/api/x")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, delay, 1)
		assert.LessOrEqual(t, delay, 5)
	}
}

func TestFixedLatencyAndStats(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)
	require.NoError(t, in.SetDefaultLatency(&LatencyConfig{Min: 20, Max: 20}))
	require.NoError(t, in.SetDefaultError(&ErrorConfig{Rate: 100, Status: 503, Message: "chaos"}))

	start := time.Now()
	delay, injected, err := in.Apply(context.Background(), "GET", "/api/x")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 20, delay)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	require.NotNil(t, injected)
	assert.Equal(t, 503, injected.Status)
	assert.Equal(t, "Service Unavailable", injected.Body["error"])
	assert.Equal(t, "chaos", injected.Body["message"])
	assert.Equal(t, true, injected.Body["injected"])

	stats := in.Stats()
	assert.EqualValues(t, 1, stats.RequestsProcessed)
	assert.EqualValues(t, 1, stats.ErrorsInjected)
	assert.EqualValues(t, 20, stats.TotalLatencyAddedMS)
	assert.Equal(t, 20.0, stats.AverageLatencyMS)
}

func TestErrorRateZeroAndHundred(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)
	require.NoError(t, in.SetDefaultError(&ErrorConfig{Rate: 0, Status: 500, Message: "never"}))
	for i := 0; i < 100; i++ {
		_, injected, err := in.Apply(context.Background(), "GET", "/api/x")
		require.NoError(t, err)
		assert.Nil(t, injected)
	}
	assert.Zero(t, in.Stats().ErrorsInjected)

	require.NoError(t, in.SetDefaultError(&ErrorConfig{Rate: 100, Status: 500, Message: "always"}))
	for i := 0; i < 100; i++ {
		_, injected, err := in.Apply(context.Background(), "GET", "/api/x")
		require.NoError(t, err)
		require.NotNil(t, injected)
	}
	assert.EqualValues(t, 100, in.Stats().ErrorsInjected)
}

func TestRuleDispatchFirstEnabledWins(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)

	first, err := in.AddErrorRule("GET", "/api/users/:id", ErrorConfig{Rate: 100, Status: 404, Message: "gone"})
	require.NoError(t, err)
	_, err = in.AddErrorRule("*", "/api/*", ErrorConfig{Rate: 100, Status: 500, Message: "broad"})
	require.NoError(t, err)

	_, injected, err := in.Apply(context.Background(), "GET", "/api/users/42")
	require.NoError(t, err)
	require.NotNil(t, injected)
	assert.Equal(t, 404, injected.Status)

	// disabling the first rule falls through to the second
	first.Enabled = false
	_, injected, err = in.Apply(context.Background(), "GET", "/api/users/42")
	require.NoError(t, err)
	require.NotNil(t, injected)
	assert.Equal(t, 500, injected.Status)

	// non-matching path falls back to the (absent) default
	_, injected, err = in.Apply(context.Background(), "GET", "/health")
	require.NoError(t, err)
	assert.Nil(t, injected)
}

func TestValidation(t *testing.T) {
	assert.Error(t, LatencyConfig{Min: -1, Max: 5}.Validate())
	assert.Error(t, LatencyConfig{Min: 10, Max: 5}.Validate())
	assert.NoError(t, LatencyConfig{Min: 0, Max: 0}.Validate())

	assert.Error(t, ErrorConfig{Rate: 101, Status: 500}.Validate())
	assert.Error(t, ErrorConfig{Rate: -1, Status: 500}.Validate())
	assert.Error(t, ErrorConfig{Rate: 50, Status: 200}.Validate())
	assert.Error(t, ErrorConfig{Rate: 50, Status: 600}.Validate())
	assert.NoError(t, ErrorConfig{Rate: 50, Status: 599}.Validate())
}

func TestStatusTextFallback(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)
	require.NoError(t, in.SetDefaultError(&ErrorConfig{Rate: 100, Status: 418, Message: "odd"}))

	_, injected, err := in.Apply(context.Background(), "GET", "/api/x")
	require.NoError(t, err)
	require.NotNil(t, injected)
	assert.Equal(t, "Error", injected.Body["error"])
}

func TestSleepInterruptedByContext(t *testing.T) {
	in := New(nil)
	in.SetEnabled(true)
	require.NoError(t, in.SetDefaultLatency(&LatencyConfig{Min: 5000, Max: 5000}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := in.Apply(ctx, "GET", "/api/x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
