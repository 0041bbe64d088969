package reliability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CircuitOpenError is returned without invoking the upstream when the
// endpoint's circuit is open. It does not count as another failure.
type CircuitOpenError struct {
	Endpoint string
	RetryAt  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for endpoint %q until %s", e.Endpoint, e.RetryAt.Format(time.RFC3339))
}

// TimeoutError reports that a single attempt exceeded its deadline.
type TimeoutError struct {
	Endpoint string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream call to endpoint %q timed out", e.Endpoint)
}

// UpstreamError captures an unexpected status code and response body.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Status, string(e.Body))
}

// Validation reports whether the upstream rejected the request itself, which
// retrying cannot fix.
func (e *UpstreamError) Validation() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// TransientNetworkError wraps connection-level failures (reset, refused, DNS).
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	var (
		timeout  *TimeoutError
		network  *TransientNetworkError
		upstream *UpstreamError
		circuit  *CircuitOpenError
	)
	switch {
	case errors.As(err, &circuit):
		return false
	case errors.As(err, &timeout), errors.As(err, &network):
		return true
	case errors.As(err, &upstream):
		return !upstream.Validation()
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
