package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"text info", "info", "text", false},
		{"json debug", "debug", "json", false},
		{"default format", "warn", "", false},
		{"bad level", "loud", "text", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			want, _ := logrus.ParseLevel(tt.level)
			assert.Equal(t, want, logger.GetLevel())
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	logger.WithFields(logrus.Fields{"plugin": "com.example.a", "hook": "load_plugin"}).Error("hook failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "com.example.a", entry["plugin"])
	assert.Equal(t, "load_plugin", entry["hook"])
	assert.Equal(t, "hook failed", entry["msg"])
}

func TestWithTraceContext(t *testing.T) {
	logger := logrus.New()
	entry := logrus.NewEntry(logger)

	// no span: entry unchanged
	assert.Same(t, entry, WithTraceContext(context.Background(), entry))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	traced := WithTraceContext(ctx, entry)
	assert.Equal(t, span.SpanContext().TraceID().String(), traced.Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), traced.Data["span_id"])
}
