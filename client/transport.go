package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dskow/gateway-client/apierror"
	"github.com/dskow/gateway-client/circuitbreaker"
)

// remoteStatusTimeout bounds the gateway breaker-status query. It is
// deliberately much shorter than the transport timeout so a slow gateway
// never stalls the primary call path.
const remoteStatusTimeout = 3 * time.Second

// attemptSpec is everything one transport attempt needs, resolved once
// before the retry loop.
type attemptSpec struct {
	target    string
	endpoint  string
	method    string
	payload   []byte
	params    map[string]string
	headers   map[string]string
	requestID string
	timeout   time.Duration
}

// doAttempt issues a single HTTP call through the gateway. 2xx returns the
// body; 4xx parses the gateway's structured error shape; anything else is
// a service-unavailable error carrying the status and body text.
func (c *Client) doAttempt(ctx context.Context, spec attemptSpec) (json.RawMessage, error) {
	if c.mon != nil && !c.mon.Available() {
		return nil, &apierror.ServiceUnavailableError{
			Service: spec.target,
			Reason:  "gateway is unavailable",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	var body io.Reader
	if len(spec.payload) > 0 {
		body = bytes.NewReader(spec.payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, c.buildURL(spec), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	cfg := c.config()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Name", cfg.Service.Name)
	req.Header.Set("X-Service-Token", cfg.Service.Token)
	req.Header.Set("X-Request-ID", spec.requestID)
	// Caller headers win over the identification defaults.
	for k, v := range spec.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &apierror.ServiceUnavailableError{
			Service: spec.target,
			Reason:  err.Error(),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apierror.ServiceUnavailableError{
			Service: spec.target,
			Reason:  "reading response body: " + err.Error(),
			Err:     err,
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, apierror.ParseGatewayError(resp.StatusCode, respBody)
	default:
		return nil, &apierror.ServiceUnavailableError{
			Service:    spec.target,
			Reason:     fmt.Sprintf("status %d: %s", resp.StatusCode, respBody),
			StatusCode: resp.StatusCode,
		}
	}
}

// buildURL joins the gateway base, the /gateway/<target> routing segment,
// and the normalized endpoint path, then appends the query string.
func (c *Client) buildURL(spec attemptSpec) string {
	base := strings.TrimRight(c.config().Gateway.URL, "/")
	u := base + "/gateway/" + spec.target + spec.endpoint

	if len(spec.params) > 0 {
		q := url.Values{}
		for k, v := range spec.params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	return u
}

// fetchRemoteState queries the gateway's breaker-status endpoint for its
// view of the named circuit. Used by the breakers' reconciliation loop.
func (c *Client) fetchRemoteState(ctx context.Context, circuitName string) (circuitbreaker.State, error) {
	cfg := c.config()
	statusURL := strings.TrimRight(cfg.Gateway.URL, "/") + "/internal/circuit-breaker/status/" + circuitName

	ctx, cancel := context.WithTimeout(ctx, remoteStatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return circuitbreaker.StateClosed, err
	}
	req.Header.Set("X-Service-Token", cfg.Service.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return circuitbreaker.StateClosed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return circuitbreaker.StateClosed, fmt.Errorf("breaker status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return circuitbreaker.StateClosed, fmt.Errorf("decoding breaker status: %w", err)
	}

	state, ok := circuitbreaker.ParseState(body.State)
	if !ok {
		return circuitbreaker.StateClosed, fmt.Errorf("unknown breaker state %q", body.State)
	}
	return state, nil
}
