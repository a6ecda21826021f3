// Package client implements an HTTP client for the pifactory REST service,
// with optional OpenTelemetry metrics and traces.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DaveMcW/pifactory/pkg/api"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.opentelemetry.io/otel/metric/nonrecording"
	"go.opentelemetry.io/otel/metric/unit"
	"go.opentelemetry.io/otel/trace"
)

const (
	// The default maximum timeout that will be applied to requests.
	DefaultMaxTimeout = 10 * time.Second
	// The default name to use when registering OpenTelemetry components.
	DefaultOpenTelemetryClientName = "pkg.client"
)

// PiClient retrieves digits of pi from a remote pifactory REST service.
type PiClient struct {
	// The logr.Logger instance to use.
	logger logr.Logger
	// The maximum timeout/deadline to use when making service requests.
	maxTimeout time.Duration
	// The HTTP client used for requests.
	httpClient *http.Client
	// The OpenTelemetry tracer to use for spans.
	tracer trace.Tracer
	// The OpenTelemetry meter to use for metrics.
	meter metric.Meter
	// The prefix to use for metrics.
	prefix string
	// A counter for the number of connection errors.
	connectionErrors syncint64.Counter
	// A counter for the number of response errors.
	responseErrors syncint64.Counter
	// A histogram for request durations.
	durationMs syncint64.Histogram
}

// PiClientOption defines a function signature for PiClient options.
type PiClientOption func(*PiClient)

// NewPiClient creates a new PiClient with optional settings.
func NewPiClient(options ...PiClientOption) (*PiClient, error) {
	client := &PiClient{
		logger:     logr.Discard(),
		maxTimeout: DefaultMaxTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: trace.NewNoopTracerProvider().Tracer(DefaultOpenTelemetryClientName),
		meter:  nonrecording.NewNoopMeterProvider().Meter(DefaultOpenTelemetryClientName),
		prefix: DefaultOpenTelemetryClientName,
	}
	for _, option := range options {
		option(client)
	}
	var err error
	client.connectionErrors, err = client.meter.SyncInt64().Counter(
		client.telemetryName("connection_errors"),
		instrument.WithDescription("The count of connection errors seen by client"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating connectionErrors Counter: %w", err)
	}
	client.responseErrors, err = client.meter.SyncInt64().Counter(
		client.telemetryName("response_errors"),
		instrument.WithDescription("The count of error responses received by client"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating responseErrors Counter: %w", err)
	}
	client.durationMs, err = client.meter.SyncInt64().Histogram(
		client.telemetryName("request_duration_ms"),
		instrument.WithUnit(unit.Milliseconds),
		instrument.WithDescription("The duration (ms) of requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating durationMs Histogram: %w", err)
	}
	return client, nil
}

// WithLogger uses the supplied logr.Logger.
func WithLogger(logger logr.Logger) PiClientOption {
	return func(c *PiClient) {
		c.logger = logger
	}
}

// WithMaxTimeout sets the maximum timeout for client requests to the service.
func WithMaxTimeout(maxTimeout time.Duration) PiClientOption {
	return func(c *PiClient) {
		c.maxTimeout = maxTimeout
	}
}

// WithTLSConfig sets the TLS configuration used when connecting to an https
// service endpoint.
func WithTLSConfig(tlsConfig *tls.Config) PiClientOption {
	return func(c *PiClient) {
		c.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				TLSClientConfig: tlsConfig,
			}),
		}
	}
}

// WithTracer adds an OpenTelemetry tracer implementation to the client.
func WithTracer(tracer trace.Tracer) PiClientOption {
	return func(c *PiClient) {
		c.tracer = tracer
	}
}

// WithMeter adds an OpenTelemetry metric meter implementation to the client.
func WithMeter(meter metric.Meter) PiClientOption {
	return func(c *PiClient) {
		c.meter = meter
	}
}

// WithPrefix sets the prefix to use for OpenTelemetry metrics.
func WithPrefix(prefix string) PiClientOption {
	return func(c *PiClient) {
		c.prefix = prefix
	}
}

// Generates a name for the metric or span.
func (c *PiClient) telemetryName(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

// Issues a GET against the endpoint and decodes the JSON response into out.
func (c *PiClient) get(ctx context.Context, spanName, url string, out interface{}) error {
	logger := c.logger.V(1).WithValues("url", url)
	logger.Info("Starting request to service")
	attributes := []attribute.KeyValue{
		attribute.String(c.telemetryName("url"), url),
	}
	ctx, span := c.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attributes...)
	ctx, cancel := context.WithTimeout(ctx, c.maxTimeout)
	defer cancel()
	startTimestamp := time.Now()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to build service request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	duration := time.Since(startTimestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		attributes = append(attributes, attribute.Bool(c.telemetryName("success"), false))
		c.connectionErrors.Add(ctx, 1, attributes...)
		c.durationMs.Record(ctx, duration.Milliseconds(), attributes...)
		return fmt.Errorf("failure connecting to service: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		err := fmt.Errorf("service returned status %d", response.StatusCode)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		attributes = append(attributes, attribute.Bool(c.telemetryName("success"), false))
		c.responseErrors.Add(ctx, 1, attributes...)
		c.durationMs.Record(ctx, duration.Milliseconds(), attributes...)
		return err
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to decode service response: %w", err)
	}
	attributes = append(attributes, attribute.Bool(c.telemetryName("success"), true))
	c.durationMs.Record(ctx, duration.Milliseconds(), attributes...)
	return nil
}

// FetchDigit retrieves a single fractional decimal digit of pi at the
// zero-based index from the service at endpoint.
func (c *PiClient) FetchDigit(ctx context.Context, endpoint string, index uint64) (uint32, error) {
	logger := c.logger.V(1).WithValues("endpoint", endpoint, "index", index)
	var response api.DigitResponse
	url := fmt.Sprintf("%s/api/v1/digit/%d", endpoint, index)
	if err := c.get(ctx, c.telemetryName("FetchDigit"), url, &response); err != nil {
		return 0, err
	}
	logger.Info("Response from remote", "digit", response.Digit, "metadata", response.Metadata)
	return response.Digit, nil
}

// FetchBlock retrieves the 9 fractional digits of pi starting at the
// zero-based index from the service at endpoint.
func (c *PiClient) FetchBlock(ctx context.Context, endpoint string, index uint64) (string, error) {
	logger := c.logger.V(1).WithValues("endpoint", endpoint, "index", index)
	var response api.BlockResponse
	url := fmt.Sprintf("%s/api/v1/block/%d", endpoint, index)
	if err := c.get(ctx, c.telemetryName("FetchBlock"), url, &response); err != nil {
		return "", err
	}
	logger.Info("Response from remote", "digits", response.Digits, "metadata", response.Metadata)
	return response.Digits, nil
}
