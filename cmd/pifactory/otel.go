package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	gcpdetectors "go.opentelemetry.io/contrib/detectors/gcp"
	hostinstrumentation "go.opentelemetry.io/contrib/instrumentation/host"
	runtimeinstrumentation "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/propagation"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	"go.opentelemetry.io/otel/sdk/metric/selector/simple"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	metricReportingPeriod = 30 * time.Second
)

type shutdownFunction func(context.Context) error

func noopShutdownFunction(_ context.Context) error {
	return nil
}

// Create a new OpenTelemetry resource to describe the source of metrics and traces.
func newTelemetryResource(ctx context.Context, name string) (*resource.Resource, error) {
	logger := logger.V(1).WithValues("name", name)
	logger.Info("Creating new OpenTelemetry resource descriptor")
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID for telemetry resource: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceNamespaceKey.String(PackageName),
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
			semconv.ServiceInstanceIDKey.String(id.String()),
		),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcessPID(),
		resource.WithProcessExecutableName(),
		resource.WithProcessExecutablePath(),
		resource.WithProcessCommandArgs(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithProcessRuntimeDescription(),
		// These detectors place last to override the base service attributes with specifiers from GCP
		resource.WithDetectors(
			&gcpdetectors.GCE{},
			&gcpdetectors.GKE{},
			gcpdetectors.NewCloudRun(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create new telemetry resource: %w", err)
	}
	logger.V(1).Info("OpenTelemetry resource created", "resource", res)
	return res, nil
}

// Initializes a pusher that will send OpenTelemetry metrics to the target
// provided, returning a list of shutdown functions.
func initMetrics(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource) ([]shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target, "res", res)
	logger.V(1).Info("Creating OpenTelemetry metric handlers")
	if target == "" {
		logger.V(0).Info("OpenTelemetry endpoint is not set; no metrics will be sent to collector")
		return []shutdownFunction{noopShutdownFunction}, nil
	}
	options := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(target),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlpmetricgrpc.WithTLSCredentials(creds))
	}
	client := otlpmetricgrpc.NewClient(options...)
	exporter, err := otlpmetric.New(ctx, client)
	if err != nil {
		return []shutdownFunction{noopShutdownFunction}, fmt.Errorf("failed to create new metric exporter: %w", err)
	}
	shutdownFuncs := []shutdownFunction{
		func(ctx context.Context) error {
			if err := exporter.Shutdown(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry metric exporter shutdown: %w", err)
			}
			return nil
		},
	}
	pusher := controller.New(
		processor.NewFactory(simple.NewWithHistogramDistribution(), exporter),
		controller.WithExporter(exporter),
		controller.WithResource(res),
		controller.WithCollectPeriod(metricReportingPeriod),
	)
	if err = pusher.Start(ctx); err != nil {
		return shutdownFuncs, fmt.Errorf("failed to start metric pusher: %w", err)
	}
	shutdownFuncs = append([]shutdownFunction{
		func(ctx context.Context) error {
			if err := pusher.Stop(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry metric pusher shutdown: %w", err)
			}
			return nil
		},
	}, shutdownFuncs...)
	if err = runtimeinstrumentation.Start(runtimeinstrumentation.WithMeterProvider(pusher)); err != nil {
		return shutdownFuncs, fmt.Errorf("failed to start runtime metrics: %w", err)
	}
	if err = hostinstrumentation.Start(hostinstrumentation.WithMeterProvider(pusher)); err != nil {
		return shutdownFuncs, fmt.Errorf("failed to start host metrics: %w", err)
	}

	global.SetMeterProvider(pusher)
	logger.V(1).Info("OpenTelemetry metric handlers created and started")
	return shutdownFuncs, nil
}

// Initializes a pipeline handler that will send OpenTelemetry spans to the
// target provided, returning a list of shutdown functions.
func initTrace(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource, sampler trace.Sampler) ([]shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target, "res", res, "sampler", sampler.Description())
	logger.V(1).Info("Creating new OpenTelemetry trace exporter")
	if target == "" {
		logger.V(0).Info("OpenTelemetry endpoint is not set; no traces will be sent to collector")
		return []shutdownFunction{noopShutdownFunction}, nil
	}
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlptracegrpc.WithTLSCredentials(creds))
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(options...))
	if err != nil {
		return nil, fmt.Errorf("failed to create new trace exporter: %w", err)
	}
	shutdownFuncs := []shutdownFunction{
		func(ctx context.Context) error {
			if err := exporter.Shutdown(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry trace exporter shutdown: %w", err)
			}
			return nil
		},
	}

	// NOTE: provider.Shutdown will shutdown every registered span processor
	// so don't add an explicit shutdown function.
	spanProcessor := trace.NewBatchSpanProcessor(exporter)

	provider := trace.NewTracerProvider(
		trace.WithSampler(sampler),
		trace.WithSpanProcessor(spanProcessor),
		trace.WithResource(res),
	)
	shutdownFuncs = append([]shutdownFunction{
		func(ctx context.Context) error {
			if err := provider.Shutdown(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry trace provider shutdown: %w", err)
			}
			return nil
		},
	}, shutdownFuncs...)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)
	logger.V(1).Info("OpenTelemetry trace handlers created and started")
	return shutdownFuncs, nil
}

// Initializes OpenTelemetry metric and trace processing and delivery to a
// collector target, returning a list of functions that can be called to
// shutdown the background pipeline processes.
func initTelemetry(ctx context.Context, name string, sampler trace.Sampler) ([]shutdownFunction, error) {
	otel.SetLogger(logger)
	target := viper.GetString(OpenTelemetryTargetFlagName)
	insecure := viper.GetBool(InsecureFlagName)
	logger := logger.V(1).WithValues(
		"name", name,
		"target", target,
		"insecure", insecure,
		"sampler", sampler.Description(),
	)
	logger.Info("Initializing OpenTelemetry")
	shutdownFunctions := []shutdownFunction{}

	res, err := newTelemetryResource(ctx, name)
	if err != nil {
		return nil, err
	}

	var creds credentials.TransportCredentials
	if insecure {
		creds = grpcinsecure.NewCredentials()
	} else {
		certPool, err := newCACertPool(viper.GetStringSlice(CACertFlagName))
		if err != nil {
			return nil, err
		}
		tlsConfig, err := newTLSConfig(viper.GetString(TLSCertFlagName), viper.GetString(TLSKeyFlagName), nil, certPool)
		if err != nil {
			return nil, err
		}
		if authority := viper.GetString(AuthorityFlagName); authority != "" {
			tlsConfig.ServerName = authority
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	shutdownMetrics, err := initMetrics(ctx, target, creds, res)
	shutdownFunctions = append(shutdownMetrics, shutdownFunctions...)
	if err != nil {
		return shutdownFunctions, err
	}
	shutdownTraces, err := initTrace(ctx, target, creds, res, sampler)
	shutdownFunctions = append(shutdownTraces, shutdownFunctions...)
	if err != nil {
		return shutdownFunctions, err
	}
	logger.Info("OpenTelemetry initialization complete, returning shutdown functions")
	return shutdownFunctions, nil
}
