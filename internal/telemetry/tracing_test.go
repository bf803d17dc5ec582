package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"hackohio/solverd/internal/config"
)

func TestInitNone(t *testing.T) {
	tp, shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "none"}, "test", nil)
	require.NoError(t, err)
	_, span := tp.Tracer("x").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitStdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	tp, shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "stdout", SampleRatio: 1}, "test", &buf)
	require.NoError(t, err)
	assert.Same(t, tp, otel.GetTracerProvider())

	_, span := tp.Tracer("x").Start(context.Background(), "solver.task")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "solver.task")
	assert.Contains(t, buf.String(), "solverd")
}

func TestInitUnknownExporter(t *testing.T) {
	_, _, err := Init(context.Background(), config.TracingConfig{Exporter: "zipkin"}, "test", nil)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
