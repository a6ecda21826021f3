// Package server implements a REST/JSON service that returns fractional
// digits of pi, with optional response caching and OpenTelemetry metrics and
// traces.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	pifactory "github.com/DaveMcW/pifactory"
	"github.com/DaveMcW/pifactory/pkg/api"
	cachepkg "github.com/DaveMcW/pifactory/pkg/cache"
	"github.com/go-logr/logr"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.opentelemetry.io/otel/metric/nonrecording"
	"go.opentelemetry.io/otel/metric/unit"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/context"
)

const (
	// The default name to use when registering OpenTelemetry components.
	DefaultOpenTelemetryServerName = "pkg.server"
)

// PiServer handles digit requests against the pifactory calculator.
type PiServer struct {
	// The logr.Logger instance to use.
	logger logr.Logger
	// An optional cache implementation for calculated blocks.
	cache cachepkg.Cache
	// Instance specific metadata returned with every response.
	metadata *api.Metadata
	// The OpenTelemetry tracer to use for spans.
	tracer trace.Tracer
	// The OpenTelemetry meter to use for metrics.
	meter metric.Meter
	// The prefix to use for metrics and span names.
	prefix string
	// A histogram for block calculation durations.
	calculationMs syncint64.Histogram
	// A counter for the number of errors returned by the cache.
	cacheErrors syncint64.Counter
	// A counter for cache hits.
	cacheHits syncint64.Counter
	// A counter for cache misses.
	cacheMisses syncint64.Counter
}

// PiServerOption defines a function signature for PiServer options.
type PiServerOption func(*PiServer)

// NewPiServer creates a new PiServer with optional settings.
func NewPiServer(options ...PiServerOption) (*PiServer, error) {
	var hostname string
	if host, err := os.Hostname(); err == nil {
		hostname = host
	} else {
		hostname = "unknown"
	}
	server := &PiServer{
		logger: logr.Discard(),
		cache:  cachepkg.NewNoopCache(),
		metadata: &api.Metadata{
			Identity:    hostname,
			Tags:        []string{},
			Annotations: map[string]string{},
		},
		tracer: trace.NewNoopTracerProvider().Tracer(DefaultOpenTelemetryServerName),
		meter:  nonrecording.NewNoopMeterProvider().Meter(DefaultOpenTelemetryServerName),
		prefix: DefaultOpenTelemetryServerName,
	}
	for _, option := range options {
		option(server)
	}
	var err error
	server.calculationMs, err = server.meter.SyncInt64().Histogram(
		server.telemetryName("calc_duration_ms"),
		instrument.WithUnit(unit.Milliseconds),
		instrument.WithDescription("The duration (ms) of digit block calculations"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating calculationMs Histogram: %w", err)
	}
	server.cacheErrors, err = server.meter.SyncInt64().Counter(
		server.telemetryName("cache_errors"),
		instrument.WithDescription("The count of error responses from the digit cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheErrors Counter: %w", err)
	}
	server.cacheHits, err = server.meter.SyncInt64().Counter(
		server.telemetryName("cache_hits"),
		instrument.WithDescription("The count of cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheHits Counter: %w", err)
	}
	server.cacheMisses, err = server.meter.SyncInt64().Counter(
		server.telemetryName("cache_misses"),
		instrument.WithDescription("The count of cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheMisses Counter: %w", err)
	}
	return server, nil
}

// WithLogger uses the supplied logger for the server and pifactory packages.
func WithLogger(logger logr.Logger) PiServerOption {
	return func(s *PiServer) {
		s.logger = logger
		pifactory.SetLogger(logger)
	}
}

// WithCache uses the Cache implementation to store calculated digit blocks
// and avoid recalculating a block that has already been seen.
func WithCache(cache cachepkg.Cache) PiServerOption {
	return func(s *PiServer) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithTags adds the string tags to the server's response metadata.
func WithTags(tags []string) PiServerOption {
	return func(s *PiServer) {
		if tags != nil {
			s.metadata.Tags = append(s.metadata.Tags, tags...)
		}
	}
}

// WithAnnotations adds the key-value annotations to the server's response
// metadata.
func WithAnnotations(annotations map[string]string) PiServerOption {
	return func(s *PiServer) {
		for k, v := range annotations {
			s.metadata.Annotations[k] = v
		}
	}
}

// WithTracer adds an OpenTelemetry tracer implementation to the server.
func WithTracer(tracer trace.Tracer) PiServerOption {
	return func(s *PiServer) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMeter adds an OpenTelemetry metric meter implementation to the server.
func WithMeter(meter metric.Meter) PiServerOption {
	return func(s *PiServer) {
		s.meter = meter
	}
}

// WithPrefix sets the prefix to use for OpenTelemetry metrics and spans.
func WithPrefix(prefix string) PiServerOption {
	return func(s *PiServer) {
		s.prefix = prefix
	}
}

// Generates a name for the metric or span.
func (s *PiServer) telemetryName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "." + name
}

// blockDigits returns the 9 fractional digits of pi starting at the zero-based
// offset, from cache when possible. A failure to write a freshly calculated
// block back to the cache is counted and logged but does not fail the request.
func (s *PiServer) blockDigits(ctx context.Context, offset uint64) (string, error) {
	logger := s.logger.WithValues("offset", offset)
	attributes := []attribute.KeyValue{
		attribute.Int(s.telemetryName("offset"), int(offset)),
	}
	key := strconv.FormatUint(offset, 16)
	digits, err := s.cache.GetValue(ctx, key)
	if err != nil {
		s.cacheErrors.Add(ctx, 1, attributes...)
		return "", fmt.Errorf("failed to retrieve digits from cache: %w", err)
	}
	if digits != "" {
		s.cacheHits.Add(ctx, 1, attributes...)
		return digits, nil
	}
	s.cacheMisses.Add(ctx, 1, attributes...)
	startTimestamp := time.Now()
	digits = pifactory.GosperDigits(offset)
	duration := time.Since(startTimestamp)
	s.calculationMs.Record(ctx, duration.Milliseconds(), attributes...)
	if err := s.cache.SetValue(ctx, key, digits); err != nil {
		s.cacheErrors.Add(ctx, 1, attributes...)
		logger.Error(err, "Failed to store digits in cache; continuing")
	}
	return digits, nil
}

// Handles a request for a single fractional digit of pi.
func (s *PiServer) handleDigit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	ctx, span := s.tracer.Start(r.Context(), s.telemetryName("GetDigit"))
	defer span.End()
	index, err := strconv.ParseUint(pathParams["index"], 10, 64)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot parse index %q", pathParams["index"]))
		return
	}
	span.SetAttributes(attribute.Int(s.telemetryName("index"), int(index)))
	digits, err := s.blockDigits(ctx, index/9*9)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, &api.DigitResponse{
		Index:    index,
		Digit:    uint32(digits[index%9] - '0'),
		Metadata: s.metadata,
	})
}

// Handles a request for a 9-digit block of pi.
func (s *PiServer) handleBlock(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	ctx, span := s.tracer.Start(r.Context(), s.telemetryName("GetBlock"))
	defer span.End()
	index, err := strconv.ParseUint(pathParams["index"], 10, 64)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot parse index %q", pathParams["index"]))
		return
	}
	span.SetAttributes(attribute.Int(s.telemetryName("index"), int(index)))
	digits, err := s.blockDigits(ctx, index)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, &api.BlockResponse{
		Index:    index,
		Digits:   digits,
		Metadata: s.metadata,
	})
}

// Handles a health check request.
func (s *PiServer) handleHealth(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	writeJSON(w, map[string]string{"status": "serving"})
}

// Handles a request for the swagger declaration of this service.
func (s *PiServer) handleSwagger(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(api.SwaggerJSON)
}

// NewRestHandler returns an http.Handler that exposes the digit service
// routes, instrumented for OpenTelemetry.
func (s *PiServer) NewRestHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	routes := map[string]runtime.HandlerFunc{
		"/api/v1/digit/{index}": s.handleDigit,
		"/api/v1/block/{index}": s.handleBlock,
		"/api/v1/swagger.json":  s.handleSwagger,
		"/healthz":              s.handleHealth,
	}
	for pattern, handler := range routes {
		if err := mux.HandlePath(http.MethodGet, pattern, handler); err != nil {
			return nil, fmt.Errorf("failed to register REST route %s: %w", pattern, err)
		}
	}
	return otelhttp.NewHandler(mux, s.telemetryName("rest")), nil
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(&api.ErrorResponse{Error: message})
}
