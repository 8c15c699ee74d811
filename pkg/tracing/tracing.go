package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "livecast"

// TracerProvider wraps the SDK provider; the zero value is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	JaegerURL      string
	Environment    string
	SampleRate     float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "livecast",
		ServiceVersion: "dev",
		JaegerURL:      "http://localhost:14268/api/traces",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Init installs a Jaeger-exporting provider as the global tracer provider.
// When tracing is disabled the global no-op provider is left in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	return install(cfg, tracesdk.WithBatcher(exp))
}

func install(cfg Config, opts ...tracesdk.TracerProviderOption) (*TracerProvider, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts = append(opts,
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	tp := tracesdk.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

var (
	SessionIDKey  = attribute.Key("livecast.session.id")
	CampaignIDKey = attribute.Key("livecast.campaign.id")
	StateKey      = attribute.Key("livecast.session.state")
	EventKey      = attribute.Key("livecast.signaling.event")
	DirectionKey  = attribute.Key("livecast.signaling.direction")
	BitrateKey    = attribute.Key("livecast.bitrate.bps")
	RetryKey      = attribute.Key("livecast.reconnect.retry")
)

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceSignalingMessage covers handling of one signaling frame; direction is
// "in" or "out".
func TraceSignalingMessage(ctx context.Context, direction, event string) (context.Context, trace.Span) {
	kind := trace.SpanKindConsumer
	if direction == "out" {
		kind = trace.SpanKindProducer
	}
	return StartSpan(ctx, "signaling."+direction+" "+event,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			DirectionKey.String(direction),
			EventKey.String(event),
		),
	)
}

// TraceSessionAttempt starts the span covering one broadcast attempt, from
// start until the session leaves the active states.
func TraceSessionAttempt(ctx context.Context, sessionID, campaignID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.attempt",
		trace.WithAttributes(
			SessionIDKey.String(sessionID),
			CampaignIDKey.String(campaignID),
		),
	)
}

func AddStateTransition(span trace.Span, from, to string) {
	addEvent(span, "state_transition",
		attribute.String("from", from),
		StateKey.String(to),
	)
}

func AddBitrateChange(span trace.Span, from, to uint32) {
	addEvent(span, "bitrate_change",
		attribute.Int64("from", int64(from)),
		BitrateKey.Int64(int64(to)),
	)
}

func AddReconnectAttempt(span trace.Span, retry int) {
	addEvent(span, "reconnect_attempt", RetryKey.Int(retry))
}

func addEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
