package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
)

// BackoffConfig controls exponential backoff for upstream fetches.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// fetchClient bundles the HTTP client, retry policy, circuit breaker, and
// optional Socrata app token shared by the CDC providers.
type fetchClient struct {
	client     *http.Client
	backoff    BackoffConfig
	breaker    *gobreaker.CircuitBreaker
	appToken   string
	signalType models.SignalType
}

func newFetchClient(st models.SignalType, appToken string, timeout time.Duration) *fetchClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &fetchClient{
		client: &http.Client{Timeout: timeout},
		backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(st),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		appToken:   appToken,
		signalType: st,
	}
}

// getJSON fetches url with retries, exponential backoff, and the circuit
// breaker, decoding the response body into out.
func (c *fetchClient) getJSON(ctx context.Context, url string, out interface{}) error {
	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		body, err := c.doOnce(ctx, url)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return nil
		}

		// Circuit open or non-retryable: propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open: %v", ErrUpstream, err)
		}
		if errors.Is(err, ErrMalformed) {
			return err
		}

		lastErr = err
		if attempt >= c.backoff.MaxRetries {
			return fmt.Errorf("exhausted retries: %w", lastErr)
		}

		delay := time.Duration(float64(c.backoff.InitialInterval) * math.Pow(2, float64(attempt)))
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

func (c *fetchClient) doOnce(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("build request: %w", reqErr)
		}
		req.Header.Set("Accept", "application/json")
		if c.appToken != "" {
			req.Header.Set("X-App-Token", c.appToken)
		}

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, doErr)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
		}

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, readErr)
		}
		return body, nil
	})

	duration := time.Since(start).Seconds()
	st := string(c.signalType)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(st, "error").Inc()
		observability.ProviderDuration.WithLabelValues(st, "error").Observe(duration)
		return nil, err
	}
	observability.ProviderCallsTotal.WithLabelValues(st, "success").Inc()
	observability.ProviderDuration.WithLabelValues(st, "success").Observe(duration)

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected breaker result type", ErrUpstream)
	}
	return body, nil
}
