// Package api declares the JSON types exchanged by the pifactory REST
// service and client, and an OpenAPIv2 (swagger) declaration for the exposed
// routes.
package api

import _ "embed"

// SwaggerJSON contains the OpenAPIv2 (swagger) declaration exposed by the
// REST endpoint.
//
//go:embed pifactory.swagger.json
var SwaggerJSON []byte

// Metadata describes the service instance that produced a response.
type Metadata struct {
	// The identity of the responding service instance, typically its
	// hostname.
	Identity string `json:"identity,omitempty"`
	// A list of tags assigned to the responding service instance.
	Tags []string `json:"tags,omitempty"`
	// A map of key-value annotations assigned to the responding service
	// instance.
	Annotations map[string]string `json:"annotations,omitempty"`
}

// DigitResponse is the result of requesting a single fractional digit of pi.
type DigitResponse struct {
	// The zero-based offset of the fractional digit.
	Index uint64 `json:"index"`
	// The decimal digit of pi at the requested offset.
	Digit uint32 `json:"digit"`
	// Metadata of the service instance that handled the request.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// BlockResponse is the result of requesting a 9-digit block of pi.
type BlockResponse struct {
	// The zero-based offset of the first fractional digit in the block.
	Index uint64 `json:"index"`
	// The 9 consecutive fractional digits of pi starting at the offset.
	Digits string `json:"digits"`
	// Metadata of the service instance that handled the request.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// ErrorResponse is returned for any request that cannot be satisfied.
type ErrorResponse struct {
	// A human-readable description of the failure.
	Error string `json:"error"`
}
