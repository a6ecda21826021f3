package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DaveMcW/pifactory/pkg/api"
	"github.com/DaveMcW/pifactory/pkg/client"
	"github.com/DaveMcW/pifactory/pkg/server"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/export/aggregation"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	"go.opentelemetry.io/otel/sdk/metric/selector/simple"
)

const (
	// First 100 fractional digits of pi.
	piDigits = "1415926535897932384626433832795028841971693993751058209749445923078164062862089986280348253421170679"
)

func TestFetchDigit(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/digit/42" {
			t.Errorf("Unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&api.DigitResponse{Index: 42, Digit: 9})
	}))
	defer testServer.Close()
	piClient, err := client.NewPiClient()
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	digit, err := piClient.FetchDigit(context.Background(), testServer.URL, 42)
	if err != nil {
		t.Fatalf("Error calling FetchDigit: %v", err)
	}
	if digit != 9 {
		t.Errorf("Expected digit 9 got %d", digit)
	}
}

func TestFetchBlock(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/block/9" {
			t.Errorf("Unexpected request path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&api.BlockResponse{Index: 9, Digits: piDigits[9:18]})
	}))
	defer testServer.Close()
	piClient, err := client.NewPiClient()
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	digits, err := piClient.FetchBlock(context.Background(), testServer.URL, 9)
	if err != nil {
		t.Fatalf("Error calling FetchBlock: %v", err)
	}
	if digits != piDigits[9:18] {
		t.Errorf("Expected %s got %s", piDigits[9:18], digits)
	}
}

// The request instruments must register and record against a real SDK meter,
// not just the no-op default.
func TestFetchDigitWithSDKMeter(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&api.DigitResponse{Index: 0, Digit: 1})
	}))
	defer testServer.Close()
	meterProvider := controller.New(
		processor.NewFactory(simple.NewWithHistogramDistribution(), aggregation.CumulativeTemporalitySelector()),
	)
	piClient, err := client.NewPiClient(client.WithMeter(meterProvider.Meter("test")))
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	digit, err := piClient.FetchDigit(context.Background(), testServer.URL, 0)
	if err != nil {
		t.Fatalf("Error calling FetchDigit: %v", err)
	}
	if digit != 1 {
		t.Errorf("Expected digit 1 got %d", digit)
	}
}

func TestFetchDigitServiceError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer testServer.Close()
	piClient, err := client.NewPiClient()
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	if _, err := piClient.FetchDigit(context.Background(), testServer.URL, 0); err == nil {
		t.Error("Expected an error from a failing service")
	}
}

func TestFetchDigitConnectionError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := testServer.URL
	testServer.Close()
	piClient, err := client.NewPiClient()
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	if _, err := piClient.FetchDigit(context.Background(), endpoint, 0); err == nil {
		t.Error("Expected an error from a closed endpoint")
	}
}

func TestFetchDigitTimeout(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer testServer.Close()
	piClient, err := client.NewPiClient(client.WithMaxTimeout(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	if _, err := piClient.FetchDigit(context.Background(), testServer.URL, 0); err == nil {
		t.Error("Expected a timeout error from a slow service")
	}
}

// End to end: a PiClient talking to a PiServer REST handler.
func TestClientAgainstServer(t *testing.T) {
	piServer, err := server.NewPiServer()
	if err != nil {
		t.Fatalf("Error creating PiServer: %v", err)
	}
	handler, err := piServer.NewRestHandler()
	if err != nil {
		t.Fatalf("Error creating REST handler: %v", err)
	}
	testServer := httptest.NewServer(handler)
	defer testServer.Close()
	ctx := context.Background()
	piClient, err := client.NewPiClient()
	if err != nil {
		t.Fatalf("Error creating PiClient: %v", err)
	}
	for index := uint64(0); index < 30; index++ {
		digit, err := piClient.FetchDigit(ctx, testServer.URL, index)
		if err != nil {
			t.Fatalf("Error calling FetchDigit for index %d: %v", index, err)
		}
		if expected := uint32(piDigits[index] - '0'); digit != expected {
			t.Errorf("Checking index %d: expected %d got %d", index, expected, digit)
		}
	}
	for _, index := range []uint64{0, 9, 45} {
		digits, err := piClient.FetchBlock(ctx, testServer.URL, index)
		if err != nil {
			t.Fatalf("Error calling FetchBlock for index %d: %v", index, err)
		}
		if expected := piDigits[index : index+9]; digits != expected {
			t.Errorf("Checking index %d: expected %s got %s", index, expected, digits)
		}
	}
}

func ExamplePiClient_FetchBlock() {
	piServer, err := server.NewPiServer()
	if err != nil {
		panic(err)
	}
	handler, err := piServer.NewRestHandler()
	if err != nil {
		panic(err)
	}
	testServer := httptest.NewServer(handler)
	defer testServer.Close()
	piClient, err := client.NewPiClient()
	if err != nil {
		panic(err)
	}
	digits, err := piClient.FetchBlock(context.Background(), testServer.URL, 0)
	if err != nil {
		panic(err)
	}
	fmt.Println(digits)
	// Output: 141592653
}
