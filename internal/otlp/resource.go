package otlp

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ResourceConfig names the process for the OTLP resource attributes
// attached once per exporter, per spec §4.7.
type ResourceConfig struct {
	ServiceName        string
	ServiceVersion     string
	DeploymentEnv       string
}

// buildResource constructs the otel/sdk/resource.Resource carrying
// service.name/service.version/deployment.environment plus the
// telemetry.sdk.* self-description triple.
func buildResource(cfg ResourceConfig) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.DeploymentEnv),
			semconv.TelemetrySDKName("zerver"),
			semconv.TelemetrySDKLanguageGo,
			semconv.TelemetrySDKVersion("1.0.0"),
		),
	)
}
