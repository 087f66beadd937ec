package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Tracer returns a named tracer for the service.
func Tracer(service string) trace.Tracer {
	return otel.Tracer(service)
}

// NewLogger builds the service logger. Dev gets the console encoder,
// everything else structured production output.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
