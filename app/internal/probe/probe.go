// Package probe executes health checks against the monitored backend.
// Probe failures are captured as data on the CheckResult, never returned
// as errors; a probe has no side effects beyond the network call.
package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"keepwatch/app/internal/logger"
	"keepwatch/app/internal/models"
)

// Runner performs one health check per (endpoint, method) pair against the
// target base URL. Safe for concurrent use.
type Runner struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewRunner creates a probe runner for the given base URL. A zero timeout
// falls back to 10 seconds.
func NewRunner(baseURL string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Run probes a single endpoint with the given method. Success requires a
// 2xx-3xx response within the timeout. No retries: a retry is a separate
// probe invocation scheduled by the caller, so latency stays meaningful.
func (r *Runner) Run(ctx context.Context, endpoint, method string) models.CheckResult {
	log := logger.GetLogger()
	result := models.CheckResult{
		Endpoint:  endpoint,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+endpoint, nil)
	if err != nil {
		result.ErrorKind = models.ErrKindUnknown
		result.Error = err.Error()
		return result
	}

	t0 := time.Now()
	resp, err := r.client.Do(req)
	elapsed := int(time.Since(t0).Milliseconds())

	if err != nil {
		result.ErrorKind = classify(err)
		result.Error = err.Error()
		if result.ErrorKind == models.ErrKindTimeout {
			result.LatencyMS = &elapsed
		}
		log.Warnw("probe failed",
			"endpoint", endpoint, "method", method,
			"kind", result.ErrorKind, "error", err)
		return result
	}
	defer resp.Body.Close()

	result.LatencyMS = &elapsed
	result.StatusCode = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.OK = true
		log.Debugw("probe ok",
			"endpoint", endpoint, "method", method,
			"status", resp.StatusCode, "latency_ms", elapsed)
	} else {
		result.ErrorKind = models.ErrKindHTTP
		result.Error = "HTTP " + resp.Status
		log.Warnw("probe returned error status",
			"endpoint", endpoint, "method", method,
			"status", resp.StatusCode, "latency_ms", elapsed)
	}
	return result
}

// RunAll probes every configured (endpoint, method) pair concurrently and
// returns results in configuration order. Probes are independent and
// side-effect-free, so the fan-out is unordered; the result slice is not.
func (r *Runner) RunAll(ctx context.Context, endpoints []models.Endpoint) []models.CheckResult {
	type slot struct {
		endpoint, method string
	}
	var slots []slot
	for _, ep := range endpoints {
		for _, m := range ep.Methods {
			slots = append(slots, slot{ep.Path, m})
		}
	}

	results := make([]models.CheckResult, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range slots {
		i, s := i, s
		g.Go(func() error {
			results[i] = r.Run(gctx, s.endpoint, s.method)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// classify maps a transport error onto the probe error taxonomy. The state
// machine treats every kind identically; logs and alert bodies do not.
func classify(err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrKindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.ErrKindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.ErrKindConnection
	}
	return models.ErrKindUnknown
}
