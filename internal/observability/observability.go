// Package observability wires up the logging, tracing, and metrics
// every daemon in this repository shares: a logrus level configured
// from appconfig.Config, an OpenTelemetry tracer provider, and a
// Prometheus registry exposing each daemon's collectors.
//
// Grounded on the runtime's use of sirupsen/logrus for structured
// logging and go.opentelemetry.io/otel(+sdk/trace) for span tracing
// around long-running operations, and prometheus/client_golang for the
// counters/gauges the device and driver managers expose.
package observability

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
)

// ConfigureLogging sets the package-wide logrus level from cfg,
// defaulting to info on an unrecognized level string.
func ConfigureLogging(cfg appconfig.Config) {
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// InitTracing builds a tracer provider tagged with serviceName,
// registering it as the global provider so every package's
// otel.Tracer(...) calls share one provider.
func InitTracing(serviceName string) (trace.TracerProvider, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, errors.Wrap(err, "observability: build resource")
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// NewRegistry returns a fresh Prometheus registry for a daemon to
// register its collectors against, rather than relying on the global
// default registry, so test binaries can construct an isolated one.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	return r
}
