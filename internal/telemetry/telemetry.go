// Package telemetry builds the structured logger and the OpenTelemetry
// tracing setup fleethub wires into every other package.
package telemetry

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/xmidt-org/candlelight"
	"go.opentelemetry.io/otel/trace"
)

// Info returns a logger that stamps every entry at info level.
func Info(logger log.Logger) log.Logger { return level.Info(logger) }

// Error returns a logger that stamps every entry at error level.
func Error(logger log.Logger) log.Logger { return level.Error(logger) }

// Debug returns a logger that stamps every entry at debug level.
func Debug(logger log.Logger) log.Logger { return level.Debug(logger) }

// NewTracing builds the process-wide tracing setup from a
// candlelight.Config; the returned Tracing carries the TracerProvider
// otelmux's middleware picks up once it is set on the otel global.
func NewTracing(cfg candlelight.Config) (candlelight.Tracing, error) {
	return candlelight.New(cfg)
}

// Tracer names a span-producing Tracer off of provider, scoped to one
// fleethub component (e.g. "dispatch", "ingress").
func Tracer(provider trace.TracerProvider, component string) trace.Tracer {
	return provider.Tracer("github.com/xmidt-org/fleethub/" + component)
}
