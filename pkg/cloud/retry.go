package cloud

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const (
	maxAttempts    = 5
	baseBackoff    = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffJitter  = 0.5 // fraction of the delay randomised
	throttleErrTag = "cloud-api-error"
)

// APIError is the caller-visible failure after retries are exhausted. The
// message is safe to surface; the wrapped cause is for logs only.
type APIError struct {
	Service string
	Op      string
	Region  string
	cause   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s %s failed in %s", throttleErrTag, e.Service, e.Op, e.Region)
}

func (e *APIError) Unwrap() error { return e.cause }

// retryable classifies throttling and server-side errors worth backing off
// on. Client errors (permissions, validation) fail immediately.
func retryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded",
			"TooManyRequestsException", "SlowDown", "ProvisionedThroughputExceededException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return false
}

// withRetry runs fn with exponential backoff plus jitter. Context
// cancellation stops the loop immediately; the last error is wrapped into an
// APIError once attempts are exhausted.
func (c *Client) withRetry(ctx context.Context, service, op string, fn func(context.Context) error) error {
	if err := c.pacer.wait(ctx, service); err != nil {
		return err
	}

	var lastErr error
	delay := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(lastErr) {
			break
		}

		jittered := delay + time.Duration(rand.Int63n(int64(float64(delay)*backoffJitter)+1))
		c.logger.Debug("throttled, backing off",
			"service", service, "op", op, "region", c.region,
			"attempt", attempt, "delay", jittered)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return &APIError{Service: service, Op: op, Region: c.region, cause: lastErr}
}
