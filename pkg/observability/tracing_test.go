package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpanLifecycleWithoutProvider(t *testing.T) {
	// The noop provider must accept the full span API without panicking.
	ctx, span := NewSpan(context.Background(), "test.operation")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.SetAttribute("stream", "skills_summary")
	span.SetAttribute("windows", 24)
	span.SetAttribute("ratio", 0.5)
	span.SetAttribute("done", true)
	span.AddEvent("window.start")
	span.RecordError(nil)
	span.End()
}

func TestInitEnabled(t *testing.T) {
	shutdown, err := Init(TracingConfig{
		ServiceName:    "nicesync-test",
		ServiceVersion: "0.0.1",
		Enabled:        true,
		SamplingRate:   0,
	})
	require.NoError(t, err)

	_, span := NewSpan(context.Background(), "test.sampled_out")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
