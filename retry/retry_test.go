package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dskow/gateway-client/apierror"
)

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		Strategy:     Exponential,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestDelay_ExponentialJitterRange(t *testing.T) {
	p := Policy{
		Strategy:     Exponential,
		InitialDelay: time.Second,
		MaxDelay:     time.Hour,
	}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 1100*time.Millisecond || d > 1300*time.Millisecond {
			t.Fatalf("attempt 1 delay %v outside [1.1s, 1.3s]", d)
		}
	}

	// Attempt 3 base is 4s; with jitter the range is [4.4s, 5.2s].
	for i := 0; i < 50; i++ {
		d := p.Delay(3)
		if d < 4400*time.Millisecond || d > 5200*time.Millisecond {
			t.Fatalf("attempt 3 delay %v outside [4.4s, 5.2s]", d)
		}
	}
}

func TestDelay_Linear(t *testing.T) {
	p := Policy{
		Strategy:     Linear,
		InitialDelay: time.Second,
		MaxDelay:     time.Hour,
	}
	d := p.Delay(3)
	if d < 3300*time.Millisecond || d > 3900*time.Millisecond {
		t.Fatalf("linear attempt 3 delay %v outside [3.3s, 3.9s]", d)
	}
}

func TestDelay_Constant(t *testing.T) {
	p := Policy{
		Strategy:     Constant,
		InitialDelay: time.Second,
		MaxDelay:     time.Hour,
	}
	for _, attempt := range []int{1, 2, 5} {
		d := p.Delay(attempt)
		if d < 1100*time.Millisecond || d > 1300*time.Millisecond {
			t.Fatalf("constant attempt %d delay %v outside [1.1s, 1.3s]", attempt, d)
		}
	}
}

func TestDelay_ClampedToMax(t *testing.T) {
	p := Policy{
		Strategy:     Exponential,
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Second,
	}
	if d := p.Delay(5); d != 2*time.Second {
		t.Fatalf("expected clamp to 2s, got %v", d)
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testPolicy(3), "users", "/api/v1/users", func(ctx context.Context) error {
		attempts++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	var retries []int
	err := Do(context.Background(), testPolicy(3), "users", "/api/v1/users", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &apierror.ServiceUnavailableError{Service: "users", StatusCode: 500}
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	if len(retries) != 1 || retries[0] != 1 {
		t.Fatalf("expected one retry notification for attempt 1, got %v", retries)
	}
}

func TestDo_NonRetryableClientErrorStopsImmediately(t *testing.T) {
	attempts := 0
	cause := &apierror.ResponseError{StatusCode: 400, Body: "bad request"}
	err := Do(context.Background(), testPolicy(3), "users", "/api/v1/users", func(ctx context.Context) error {
		attempts++
		return cause
	}, nil)
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a 400, got %d", attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the original error re-raised, got %v", err)
	}
}

func TestDo_RateLimitedIsRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testPolicy(2), "users", "/api/v1/users", func(ctx context.Context) error {
		attempts++
		return &apierror.ResponseError{StatusCode: 429, Body: "rate limited"}
	}, nil)
	if attempts != 2 {
		t.Fatalf("expected 429 to be retried, got %d attempts", attempts)
	}
	var mr *apierror.MaxRetriesError
	if !errors.As(err, &mr) {
		t.Fatalf("expected MaxRetriesError, got %v", err)
	}
}

func TestDo_ExhaustsAttemptsAndWraps(t *testing.T) {
	attempts := 0
	cause := &apierror.ServiceUnavailableError{Service: "users", StatusCode: 500}
	err := Do(context.Background(), testPolicy(3), "users", "/api/v1/users", func(ctx context.Context) error {
		attempts++
		return cause
	}, nil)

	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}

	var mr *apierror.MaxRetriesError
	if !errors.As(err, &mr) {
		t.Fatalf("expected MaxRetriesError, got %T", err)
	}
	if mr.Service != "users" || mr.Endpoint != "/api/v1/users" || mr.Attempts != 3 {
		t.Fatalf("unexpected fields: %+v", mr)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected MaxRetriesError to wrap the last failure")
	}
}

func TestDo_CircuitOpenNotRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testPolicy(3), "users", "/x", func(ctx context.Context) error {
		attempts++
		return &apierror.CircuitOpenError{TargetService: "users", CircuitName: "users-circuit"}
	}, nil)
	if attempts != 1 {
		t.Fatalf("expected circuit-open to stop retries, got %d attempts", attempts)
	}
	var co *apierror.CircuitOpenError
	if !errors.As(err, &co) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := Policy{
		MaxAttempts:  3,
		Strategy:     Constant,
		InitialDelay: time.Hour,
		MaxDelay:     2 * time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	err := Do(ctx, p, "users", "/x", func(ctx context.Context) error {
		return &apierror.ServiceUnavailableError{Service: "users", StatusCode: 503}
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt the backoff sleep")
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"exponential", Exponential, false},
		{"linear", Linear, false},
		{"constant", Constant, false},
		{"", Exponential, false},
		{"fibonacci", Exponential, true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseStrategy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
