package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dskow/gateway-client/apierror"
	"github.com/dskow/gateway-client/retry"
)

// Request describes a single outbound call through the gateway.
type Request struct {
	// TargetService is the service the gateway should route to. Required.
	TargetService string
	// Endpoint is the path on the target service. Required; a missing
	// leading slash is added.
	Endpoint string
	// Method defaults to GET.
	Method string
	// Body is JSON-encoded for non-GET requests.
	Body any
	// Params become the query string.
	Params map[string]string
	// Headers are merged over the client's identification headers.
	Headers map[string]string
	// Timeout overrides the per-target and gateway default timeouts for
	// this call only. It bounds each transport attempt, not the retry loop.
	Timeout time.Duration

	// SkipCircuitBreaker bypasses the breaker permission check and
	// bookkeeping for this call.
	SkipCircuitBreaker bool
	// SkipCache bypasses the response cache, including stale fallback.
	SkipCache bool
	// SkipRetry issues exactly one transport attempt.
	SkipRetry bool
}

// Call executes one request through the full pipeline: breaker permission,
// cache lookup, retrying transport, bookkeeping, cache write. On failure
// of a cache-eligible call a stale cached response is served instead of
// the error when one exists.
func (c *Client) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.TargetService == "" {
		return nil, &apierror.ConfigError{Key: "target_service", Message: "target service is required"}
	}
	if req.Endpoint == "" {
		return nil, &apierror.ConfigError{Key: "endpoint", Message: "endpoint is required"}
	}

	ctx, done, err := c.trackRequest(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	endpoint := req.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	requestID := uuid.NewString()
	target := req.TargetService
	logger := c.logger.With("request_id", requestID, "target", target, "method", method, "endpoint", endpoint)

	c.reg.RecordRequest(target, method)

	if err := c.limit.Wait(ctx, target); err != nil {
		return nil, err
	}

	// Breaker denial is the fail-fast contract: no cache fallback, no
	// retry, no failure recorded against the breaker.
	breaker := c.breakerFor(target)
	if !req.SkipCircuitBreaker {
		if !breaker.CanExecute(ctx) {
			c.reg.RecordCircuitOpen(breaker.Name())
			logger.Warn("call rejected by open circuit", "circuit", breaker.Name())
			return nil, &apierror.CircuitOpenError{TargetService: target, CircuitName: breaker.Name()}
		}
	}

	cacheEligible := method == http.MethodGet && !req.SkipCache && c.cache.Enabled()
	if cacheEligible {
		if body, ok := c.cache.Get(ctx, target, endpoint, method, req.Params); ok {
			c.reg.RecordCacheHit(target)
			logger.Debug("served from cache")
			return body, nil
		}
		c.reg.RecordCacheMiss(target)
	}

	// Encode the body once, outside the retry loop, so a marshalling
	// problem surfaces immediately rather than being retried.
	var payload []byte
	if req.Body != nil && method != http.MethodGet {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	spec := attemptSpec{
		target:    target,
		endpoint:  endpoint,
		method:    method,
		payload:   payload,
		params:    req.Params,
		headers:   req.Headers,
		requestID: requestID,
		timeout:   c.effectiveTimeout(target, req.Timeout),
	}

	var body json.RawMessage
	op := func(ctx context.Context) error {
		var opErr error
		body, opErr = c.doAttempt(ctx, spec)
		return opErr
	}

	start := time.Now()
	if req.SkipRetry {
		err = op(ctx)
	} else {
		err = retry.Do(ctx, c.retryPolicy(), target, endpoint, op, func(attempt int, attemptErr error, delay time.Duration) {
			c.reg.RecordRetry(target)
			logger.Warn("retrying call",
				"attempt", attempt,
				"delay", delay,
				"error", attemptErr,
			)
		})
	}

	if err == nil {
		if !req.SkipCircuitBreaker {
			breaker.RecordSuccess()
		}
		c.reg.RecordSuccess(target, method, time.Since(start))
		if cacheEligible {
			c.cache.Set(ctx, target, endpoint, method, req.Params, body)
		}
		return body, nil
	}

	c.reg.RecordFailure(target, method)
	if !req.SkipCircuitBreaker {
		breaker.RecordFailure()
	}

	// Degraded mode: a stale cached response beats a hard failure.
	if cacheEligible {
		if stale, ok := c.cache.Get(ctx, target, endpoint, method, req.Params); ok {
			logger.Warn("serving stale cached response after failure", "error", err)
			return stale, nil
		}
	}

	logger.Error("call failed", "error", err)
	return nil, err
}

// effectiveTimeout resolves the transport timeout: per-call override,
// else per-target configured default, else the gateway default.
func (c *Client) effectiveTimeout(target string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.config().TimeoutFor(target)
}

// Get issues a GET request to a target service.
func (c *Client) Get(ctx context.Context, target, endpoint string, params map[string]string) (json.RawMessage, error) {
	return c.Call(ctx, Request{TargetService: target, Endpoint: endpoint, Method: http.MethodGet, Params: params})
}

// Post issues a POST request with a JSON body to a target service.
func (c *Client) Post(ctx context.Context, target, endpoint string, body any) (json.RawMessage, error) {
	return c.Call(ctx, Request{TargetService: target, Endpoint: endpoint, Method: http.MethodPost, Body: body})
}

// Put issues a PUT request with a JSON body to a target service.
func (c *Client) Put(ctx context.Context, target, endpoint string, body any) (json.RawMessage, error) {
	return c.Call(ctx, Request{TargetService: target, Endpoint: endpoint, Method: http.MethodPut, Body: body})
}

// Delete issues a DELETE request to a target service.
func (c *Client) Delete(ctx context.Context, target, endpoint string) (json.RawMessage, error) {
	return c.Call(ctx, Request{TargetService: target, Endpoint: endpoint, Method: http.MethodDelete})
}

// BatchResult is one entry of a BatchCall response: the decoded body on
// success, or the captured error.
type BatchResult struct {
	Body json.RawMessage
	Err  error
}

// BatchCall fires all requests concurrently. The result slice preserves
// input order; each request's failure is captured in its own entry and
// never aborts its siblings.
func (c *Client) BatchCall(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			body, err := c.Call(ctx, req)
			results[i] = BatchResult{Body: body, Err: err}
		}(i, req)
	}
	wg.Wait()

	return results
}
