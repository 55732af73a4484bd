// Package telemetry records scenario and step spans and writes each finished
// span to a slog logger.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Output owns a tracer provider whose spans are logged.
type Output struct {
	provider *sdktrace.TracerProvider
}

// New returns an Output logging to logger. Extra processors, such as an
// in-memory recorder, receive the same spans.
func New(logger *slog.Logger, extra ...sdktrace.SpanProcessor) *Output {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	}
	for _, p := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return &Output{provider: sdktrace.NewTracerProvider(opts...)}
}

// Tracer returns a named tracer from the provider.
func (o *Output) Tracer(name string) trace.Tracer {
	return o.provider.Tracer(name)
}

// Close flushes and stops the provider.
func (o *Output) Close(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

type logProcessor struct {
	logger *slog.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs steps at Debug. Scenarios are logged at Debug when they pass
// and at Warn when they fail.
func (p *logProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p.logger == nil {
		return
	}

	args := []any{
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()),
	}
	for _, kv := range span.Attributes() {
		args = append(args, attrKey(kv.Key), kv.Value.Emit())
	}

	level := slog.LevelDebug
	status := span.Status()
	if status.Code == codes.Error {
		args = append(args, "code", status.Description)
		if !span.Parent().IsValid() {
			level = slog.LevelWarn
		}
	}
	p.logger.Log(context.Background(), level, "span ended", args...)
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }

// attrKey turns "step.seq" into "step_seq" to keep log keys snake_case.
func attrKey(k attribute.Key) string {
	out := []byte(k)
	for i, b := range out {
		if b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
