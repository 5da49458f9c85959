package apierror

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseGatewayError_Structured(t *testing.T) {
	body := []byte(`{"error":{"type":"ValidationError","message":"bad field","correlation_id":"abc-123"}}`)

	err := ParseGatewayError(422, body)

	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if ge.Type != "ValidationError" || ge.Message != "bad field" || ge.CorrelationID != "abc-123" {
		t.Fatalf("unexpected fields: %+v", ge)
	}
	if ge.StatusCode != 422 {
		t.Fatalf("expected status 422, got %d", ge.StatusCode)
	}
}

func TestParseGatewayError_StructuredWithoutOptionalFields(t *testing.T) {
	err := ParseGatewayError(400, []byte(`{"error":{}}`))

	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if ge.Type != "Unknown" {
		t.Fatalf("expected fallback type, got %q", ge.Type)
	}
	if ge.CorrelationID != "" {
		t.Fatalf("expected empty correlation id, got %q", ge.CorrelationID)
	}
}

func TestParseGatewayError_FallbackToResponseError(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"plain text", []byte("not found")},
		{"json without error key", []byte(`{"message":"nope"}`)},
		{"empty", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ParseGatewayError(404, tc.body)
			var re *ResponseError
			if !errors.As(err, &re) {
				t.Fatalf("expected ResponseError, got %T", err)
			}
			if re.StatusCode != 404 {
				t.Fatalf("expected status 404, got %d", re.StatusCode)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"circuit open", &CircuitOpenError{TargetService: "users", CircuitName: "users-circuit"}, false},
		{"max retries", &MaxRetriesError{Service: "users", Endpoint: "/x", Attempts: 3}, false},
		{"config error", &ConfigError{Key: "gateway.url", Value: ""}, false},
		{"gateway 400", &GatewayError{Type: "Bad", Message: "x", StatusCode: 400}, false},
		{"gateway 404", &GatewayError{Type: "NotFound", Message: "x", StatusCode: 404}, false},
		{"gateway 429", &ResponseError{StatusCode: 429, Body: "slow down"}, true},
		{"response 403", &ResponseError{StatusCode: 403, Body: "forbidden"}, false},
		{"service unavailable 503", &ServiceUnavailableError{Service: "users", StatusCode: 503}, true},
		{"transport failure", &ServiceUnavailableError{Service: "users", Err: errors.New("connection refused")}, true},
		{"plain error", errors.New("boom"), true},
		{"wrapped circuit open", fmt.Errorf("call failed: %w", &CircuitOpenError{TargetService: "a", CircuitName: "a-circuit"}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(&GatewayError{StatusCode: 422}); got != 422 {
		t.Fatalf("expected 422, got %d", got)
	}
	if got := StatusCode(&ServiceUnavailableError{StatusCode: 503}); got != 503 {
		t.Fatalf("expected 503, got %d", got)
	}
	if got := StatusCode(errors.New("no status")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMaxRetriesError_Unwrap(t *testing.T) {
	inner := &ServiceUnavailableError{Service: "users", StatusCode: 503}
	err := &MaxRetriesError{Service: "users", Endpoint: "/api/v1/users", Attempts: 3, Err: inner}

	var su *ServiceUnavailableError
	if !errors.As(err, &su) {
		t.Fatal("expected to unwrap to ServiceUnavailableError")
	}
	if su.StatusCode != 503 {
		t.Fatalf("expected wrapped status 503, got %d", su.StatusCode)
	}
}
