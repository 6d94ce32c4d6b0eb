package tracing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), &Config{Enabled: false}, testLogger())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_StdoutExporter(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), &Config{
		Enabled:     true,
		ServiceName: "vault-pipeline-test",
		Version:     "v1",
		Writer:      &buf,
	}, testLogger())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit-of-work")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit-of-work")
	assert.Contains(t, buf.String(), "vault-pipeline-test")
}
