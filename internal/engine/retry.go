package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryConfig holds retry configuration for model server calls
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// shouldRetry reports whether a model server status is transient
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoff returns InitialBackoff * 2^attempt, capped at MaxBackoff
func (rc RetryConfig) backoff(attempt int) time.Duration {
	d := float64(rc.InitialBackoff) * math.Pow(2, float64(attempt))
	if d > float64(rc.MaxBackoff) {
		d = float64(rc.MaxBackoff)
	}
	return time.Duration(d)
}

// doWithRetry sends requests built by newReq until one succeeds, a
// non-retryable status comes back, or the attempts run out.
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			if !shouldRetry(resp.StatusCode) {
				return resp, nil
			}
			resp.Body.Close()
		}

		if attempt == c.retry.MaxRetries {
			break
		}

		wait := c.retry.backoff(attempt)
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", c.retry.MaxRetries).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("Model server request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("model server request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}
