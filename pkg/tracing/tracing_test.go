package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp, err := install(Config{ServiceName: "livecast-test", Environment: "test", SampleRate: 1}, tracesdk.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "livecast", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSessionAttempt_Events(t *testing.T) {
	recorder := installRecorder(t)

	_, span := TraceSessionAttempt(context.Background(), "session_1", "camp-1")
	AddStateTransition(span, "idle", "awaiting_schedule_check")
	AddBitrateChange(span, 6291456, 5033164)
	AddReconnectAttempt(span, 2)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "session.attempt", s.Name())
	attrs := attrMap(s.Attributes())
	assert.Equal(t, "session_1", attrs[SessionIDKey].AsString())
	assert.Equal(t, "camp-1", attrs[CampaignIDKey].AsString())

	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "state_transition", events[0].Name)
	assert.Equal(t, "awaiting_schedule_check", attrMap(events[0].Attributes)[StateKey].AsString())
	assert.Equal(t, int64(5033164), attrMap(events[1].Attributes)[BitrateKey].AsInt64())
	assert.Equal(t, int64(2), attrMap(events[2].Attributes)[RetryKey].AsInt64())
}

func TestTraceSignalingMessage_Kind(t *testing.T) {
	recorder := installRecorder(t)

	_, in := TraceSignalingMessage(context.Background(), "in", "v1:nodes:ready")
	in.End()
	_, out := TraceSignalingMessage(context.Background(), "out", "v1:stream:init")
	out.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "signaling.in v1:nodes:ready", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, trace.SpanKindProducer, spans[1].SpanKind())
}

func TestTraceHTTPRequest(t *testing.T) {
	recorder := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "POST", "/api/v1/session/start")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/v1/session/start", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestEvents_NilOrNonRecordingSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		AddStateTransition(nil, "idle", "started")
		AddBitrateChange(trace.SpanFromContext(context.Background()), 1, 2)
	})
}
