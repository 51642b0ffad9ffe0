// Package external holds the HTTP clients for the sidecar services: the
// embedding provider, the entity extractor, the quality scorer and the RAG
// retrieval service. Each client fronts its service with a circuit breaker
// and parses responses at this boundary; raw wire schemas never leave the
// package.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const errBodySnippet = 512

// statusError carries a non-2xx response status and a snippet of its body.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// newBreaker trips a service's circuit at a 60% failure ratio over at least
// five calls and holds it open for 30 seconds. 4xx responses are the
// caller's problem and never count against the service.
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var status *statusError
			return stderrors.As(err, &status) && status.Code < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// serviceClient is the POST-JSON plumbing shared by the typed clients.
type serviceClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func newServiceClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) serviceClient {
	named := logger.Named(name)
	return serviceClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(timeout),
		breaker: newBreaker(name, named),
		logger:  named,
	}
}

// postJSON runs one call through the breaker. Transport failures and 5xx
// count against the circuit; the body decodes into out only on 2xx.
func (c *serviceClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodySnippet))
			return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}
