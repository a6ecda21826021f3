package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DaveMcW/pifactory/pkg/cache"
	"github.com/DaveMcW/pifactory/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/global"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
)

const (
	ServerServiceName        = "server"
	DefaultRESTListenAddress = ":8080"
	DefaultShutdownTimeout   = 10 * time.Second
	AddressFlagName          = "address"
	RedisTargetFlagName      = "redis-target"
	RedisExpiryFlagName      = "redis-expiry"
	LabelFlagName            = "label"
	TagFlagName              = "tag"
	TLSClientAuthFlagName    = "tls-client-auth"
)

// NewServerCmd implements the server sub-command.
func NewServerCmd() (*cobra.Command, error) {
	serverCmd := &cobra.Command{
		Use:   ServerServiceName,
		Short: "Run an HTTP service to return fractional digits of pi",
		Long: `Launches an HTTP Pi Service server that can calculate the decimal digits of pi.

A single decimal digit or a 9-digit block of pi will be returned per request. An optional Redis DB can be used to cache the calculated blocks. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		RunE: serverMain,
	}
	serverCmd.PersistentFlags().StringP(AddressFlagName, "a", DefaultRESTListenAddress, "Address to listen for Pi Service requests")
	serverCmd.PersistentFlags().String(RedisTargetFlagName, "", "An optional Redis endpoint to use as a Pi Service cache")
	serverCmd.PersistentFlags().Duration(RedisExpiryFlagName, 0, "An optional expiry for cached digit blocks; default is to keep entries forever")
	serverCmd.PersistentFlags().StringToStringP(LabelFlagName, "l", nil, "An optional label key=value to add to Pi Service response metadata; can be repeated")
	serverCmd.PersistentFlags().StringArrayP(TagFlagName, "t", nil, "An optional tag to add to Pi Service response metadata; can be repeated")
	serverCmd.PersistentFlags().Bool(TLSClientAuthFlagName, false, "Require Pi Service clients to provide a valid TLS client certificate")
	for _, flag := range []string{
		AddressFlagName,
		RedisTargetFlagName,
		RedisExpiryFlagName,
		LabelFlagName,
		TagFlagName,
		TLSClientAuthFlagName,
	} {
		if err := viper.BindPFlag(flag, serverCmd.PersistentFlags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind %s pflag: %w", flag, err)
		}
	}
	return serverCmd, nil
}

// Server sub-command entrypoint. This function will launch the HTTP Pi
// Service and run until interrupted.
func serverMain(cmd *cobra.Command, args []string) error {
	address := viper.GetString(AddressFlagName)
	redisTarget := viper.GetString(RedisTargetFlagName)
	logger := logger.V(1).WithValues(AddressFlagName, address, RedisTargetFlagName, redisTarget)
	ctx := context.Background()
	logger.V(0).Info("Preparing telemetry")
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(viper.GetFloat64(SamplingRatioFlagName)))
	telemetryShutdown, err := initTelemetry(ctx, ServerServiceName, sampler)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		for _, shutdown := range telemetryShutdown {
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error(err, "Error during telemetry shutdown")
			}
		}
	}()
	if err != nil {
		return err
	}

	logger.V(0).Info("Preparing services")
	options := []server.PiServerOption{
		server.WithLogger(logger),
		server.WithAnnotations(viper.GetStringMapString(LabelFlagName)),
		server.WithTags(viper.GetStringSlice(TagFlagName)),
		server.WithTracer(otel.Tracer(ServerServiceName)),
		server.WithMeter(global.Meter(ServerServiceName)),
		server.WithPrefix(ServerServiceName),
	}
	if redisTarget != "" {
		options = append(options, server.WithCache(cache.NewRedisCache(ctx, redisTarget,
			cache.WithExpiry(viper.GetDuration(RedisExpiryFlagName)),
		)))
	}
	piServer, err := server.NewPiServer(options...)
	if err != nil {
		return fmt.Errorf("failed to create Pi Service server: %w", err)
	}
	restHandler, err := piServer.NewRestHandler()
	if err != nil {
		return fmt.Errorf("failed to create REST handler: %w", err)
	}
	tlsConf, err := newServerTLSConfig()
	if err != nil {
		return err
	}
	restServer := &http.Server{
		Addr:      address,
		Handler:   restHandler,
		TLSConfig: tlsConf,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.V(0).Info("Starting Pi Service")
		var err error
		if tlsConf != nil && len(tlsConf.Certificates) > 0 {
			err = restServer.ListenAndServeTLS("", "")
		} else {
			err = restServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("restServer listener returned an error: %w", err)
		}
		return nil
	})

	select {
	case <-interrupt:
		break
	case <-ctx.Done():
		break
	}
	logger.V(0).Info("Shutting down Pi Service")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := restServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown Pi Service: %w", err)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("error returned from Pi Service: %w", err)
	}
	return nil
}

// Creates the TLS configuration to use with the Pi Service listener from the
// various configuration options provided, or nil when TLS is not configured.
func newServerTLSConfig() (*tls.Config, error) {
	certFile := viper.GetString(TLSCertFlagName)
	keyFile := viper.GetString(TLSKeyFlagName)
	cacerts := viper.GetStringSlice(CACertFlagName)
	if certFile == "" && keyFile == "" && len(cacerts) == 0 {
		return nil, nil
	}
	certPool, err := newCACertPool(cacerts)
	if err != nil {
		return nil, err
	}
	tlsConf, err := newTLSConfig(certFile, keyFile, certPool, nil)
	if err != nil {
		return nil, err
	}
	if viper.GetBool(TLSClientAuthFlagName) {
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConf, nil
}
