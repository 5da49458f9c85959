// Package apierror defines the typed errors surfaced by the gateway client
// and the parsing of the gateway's structured error responses. Callers can
// program against these types with errors.As; the retry engine uses
// Retryable to classify them.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// CircuitOpenError is returned when the circuit breaker for a target
// service denies the call. It is never retried.
type CircuitOpenError struct {
	TargetService string
	CircuitName   string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s for service %s is open", e.CircuitName, e.TargetService)
}

// ServiceUnavailableError indicates a transport-level failure or a 5xx
// response from the target service. These failures are retried.
type ServiceUnavailableError struct {
	Service    string
	Reason     string
	StatusCode int   // 0 when the failure happened below HTTP
	Err        error // underlying transport error, if any
}

func (e *ServiceUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("service %q is unavailable: %s", e.Service, e.Reason)
	}
	return fmt.Sprintf("service %q is unavailable", e.Service)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// GatewayError is the gateway's structured 4xx error response:
// a JSON body of the form {"error": {"type", "message", "correlation_id"}}.
type GatewayError struct {
	Type          string
	Message       string
	CorrelationID string
	StatusCode    int
}

func (e *GatewayError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation_id: %s)", e.Type, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ResponseError is a 4xx response that did not carry the gateway's
// structured error shape. The raw status and body text are preserved.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.StatusCode, e.Body)
}

// MaxRetriesError is the terminal error raised when every retry attempt
// has failed. It wraps the last underlying failure.
type MaxRetriesError struct {
	Service  string
	Endpoint string
	Attempts int
	Err      error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded for %s: %s", e.Attempts, e.Service, e.Endpoint)
}

func (e *MaxRetriesError) Unwrap() error { return e.Err }

// ConfigError reports an invalid client configuration value. It is raised
// immediately and never enters the retry path.
type ConfigError struct {
	Key     string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid configuration for key %q with value %q", e.Key, e.Value)
}

// Retryable reports whether the retry engine may attempt the operation
// again after err. Circuit-open denials and client errors in [400,500)
// other than 429 are permanent; everything else (5xx, connection and
// timeout failures, rate limiting) is retryable.
func Retryable(err error) bool {
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return false
	}
	var mr *MaxRetriesError
	if errors.As(err, &mr) {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}
	if status := StatusCode(err); status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

// StatusCode extracts the HTTP status carried by err, or 0 if none.
func StatusCode(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var su *ServiceUnavailableError
	if errors.As(err, &su) {
		return su.StatusCode
	}
	return 0
}

// gatewayErrorBody mirrors the gateway's structured error envelope.
type gatewayErrorBody struct {
	Error *struct {
		Type          string `json:"type"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id"`
	} `json:"error"`
}

// ParseGatewayError converts a 4xx response into a typed error. Bodies
// carrying the gateway's structured envelope become a GatewayError;
// anything else falls back to a ResponseError with the raw status and text.
func ParseGatewayError(status int, body []byte) error {
	var parsed gatewayErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		typ := parsed.Error.Type
		if typ == "" {
			typ = "Unknown"
		}
		msg := parsed.Error.Message
		if msg == "" {
			msg = "unknown error"
		}
		return &GatewayError{
			Type:          typ,
			Message:       msg,
			CorrelationID: parsed.Error.CorrelationID,
			StatusCode:    status,
		}
	}
	return &ResponseError{StatusCode: status, Body: string(body)}
}
