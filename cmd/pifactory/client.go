package main

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/DaveMcW/pifactory/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/global"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/net/context"
)

const (
	ClientServiceName       = "client"
	DefaultDigitCount       = 100
	DefaultClientMaxTimeout = 10 * time.Second
	CountFlagName           = "count"
	MaxTimeoutFlagName      = "max-timeout"
	ClientInsecureFlagName  = "insecure"
)

// NewClientCmd implements the client sub-command, which requests fractional
// digits of pi from one or more Pi Service endpoints and collates the results.
func NewClientCmd() (*cobra.Command, error) {
	clientCmd := &cobra.Command{
		Use:   ClientServiceName + " url [url]",
		Short: "Run an HTTP Pi Service client to request fractional digits of pi",
		Long: `Launches an HTTP client that will connect to Pi Service URL(s) and request the fractional digits of pi.

At least one service URL must be provided. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		Args: cobra.MinimumNArgs(1),
		RunE: clientMain,
	}
	clientCmd.PersistentFlags().UintP(CountFlagName, "c", DefaultDigitCount, "The number of decimal digits of pi to request")
	clientCmd.PersistentFlags().DurationP(MaxTimeoutFlagName, "m", DefaultClientMaxTimeout, "The maximum timeout for a Pi Service request")
	clientCmd.PersistentFlags().Bool(ClientInsecureFlagName, false, "Disable TLS verification of Pi Service")
	for _, flag := range []string{CountFlagName, MaxTimeoutFlagName, ClientInsecureFlagName} {
		if err := viper.BindPFlag(flag, clientCmd.PersistentFlags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind %s pflag: %w", flag, err)
		}
	}
	return clientCmd, nil
}

// Client sub-command entrypoint. This function will launch requests for each
// of the fractional digits requested, spread across the endpoints, and print
// the collated result.
func clientMain(cmd *cobra.Command, endpoints []string) error {
	count := viper.GetInt(CountFlagName)
	logger := logger.V(1).WithValues(CountFlagName, count, "endpoints", endpoints)
	logger.V(0).Info("Preparing telemetry")
	ctx := context.Background()
	telemetryShutdown, err := initTelemetry(ctx, ClientServiceName, sdktrace.AlwaysSample())
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
	logger.V(0).Info("Preparing client TLS config")
	tlsConf, err := newClientTLSConfig()
	if err != nil {
		return err
	}
	logger.V(0).Info("Building client")
	piClient, err := client.NewPiClient(
		client.WithLogger(logger),
		client.WithMaxTimeout(viper.GetDuration(MaxTimeoutFlagName)),
		client.WithTLSConfig(tlsConf),
		client.WithTracer(otel.Tracer(ClientServiceName)),
		client.WithMeter(global.Meter(ClientServiceName)),
		client.WithPrefix(ClientServiceName),
	)
	if err != nil {
		return fmt.Errorf("failed to create Pi Service client: %w", err)
	}

	// Randomize the retrieval of numbers
	indices := rand.Perm(count)
	digits := make([]byte, count)
	var wg sync.WaitGroup
	for i, index := range indices {
		endpoint := endpoints[i%len(endpoints)]
		wg.Add(1)
		go func(endpoint string, index uint64) {
			defer wg.Done()
			digit, err := piClient.FetchDigit(ctx, endpoint, index)
			if err != nil {
				logger.Error(err, "Error fetching digit", "index", index)
				digits[index] = '-'
			} else {
				digits[index] = '0' + byte(digit)
			}
		}(endpoint, uint64(index))
	}
	wg.Wait()
	fmt.Print("Result is: 3.") //nolint:forbidigo // This is a deliberate choice
	if _, err := os.Stdout.Write(digits); err != nil {
		return fmt.Errorf("failure writing result: %w", err)
	}
	fmt.Println() //nolint:forbidigo // This is a deliberate choice
	return nil
}

// Creates the TLS configuration to use with Pi Service requests from the
// various configuration options provided.
func newClientTLSConfig() (*tls.Config, error) {
	certPool, err := newCACertPool(viper.GetStringSlice(CACertFlagName))
	if err != nil {
		return nil, err
	}
	tlsConf, err := newTLSConfig(viper.GetString(TLSCertFlagName), viper.GetString(TLSKeyFlagName), nil, certPool)
	if err != nil {
		return nil, err
	}
	if viper.GetBool(ClientInsecureFlagName) {
		tlsConf.InsecureSkipVerify = true
	}
	return tlsConf, nil
}
