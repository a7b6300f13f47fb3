package server

import (
	"context"
	"fmt"

	"github.com/peakmsg/inapp-engine/pkg/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// SetupTelemetry initializes the OpenTelemetry tracer provider and
// text map propagators. The returned shutdown function flushes the
// exporter and must be called on application shutdown.
//
// Propagation supports B3 (Zipkin), W3C TraceContext and W3C Baggage;
// the API client injects these headers into every outgoing request.
func SetupTelemetry(ctx context.Context, serviceName, environment string, id int64) (func(context.Context) error, error) {
	tracerProvider, err := common.NewTracerProvider(serviceName, environment, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	otel.SetTracerProvider(tracerProvider)
	logrus.Infof("set tracer provider: (name: %s environment: %s id: %d)", serviceName, environment, id)

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			b3.New(),
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	logrus.Info("set text map propagator")

	shutdown := func(ctx context.Context) error {
		logrus.Info("shutting down telemetry...")
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		logrus.Info("telemetry stopped")
		return nil
	}

	return shutdown, nil
}
