// Package service holds the error kinds and health-probe plumbing shared by
// the ASR, NPC and TTS clients in its subpackages.
//
// Every client exposes one context-bounded operation plus a Healthy probe.
// Callers distinguish failure classes with errors.Is against the sentinels
// below; the concrete wrapped error carries the transport detail.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrUnreachable indicates the remote service could not be contacted or
// answered with a non-success status. The turn that hit it fails; the
// service itself may recover later.
var ErrUnreachable = errors.New("service: unreachable")

// ErrMalformedResponse indicates the service answered, but the payload could
// not be decoded or was missing every field the client knows how to read.
var ErrMalformedResponse = errors.New("service: malformed response")

// HealthChecker is implemented by every service client.
type HealthChecker interface {
	// Healthy returns nil when the service answered its health endpoint
	// with a success status, and an ErrUnreachable-wrapped error otherwise.
	Healthy(ctx context.Context) error
}

// Probe issues GET url and maps any transport or status failure to
// ErrUnreachable. It is the shared body of the clients' Healthy methods.
func Probe(ctx context.Context, hc *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, url, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: HTTP %d", ErrUnreachable, url, resp.StatusCode)
	}
	return nil
}

// CheckAll probes every named service and logs the outcome. It returns the
// names that failed; an empty slice means everything answered. Startup uses
// this to report degraded services without refusing to run.
func CheckAll(ctx context.Context, checks map[string]HealthChecker) []string {
	var down []string
	for name, hc := range checks {
		if err := hc.Healthy(ctx); err != nil {
			slog.Warn("service health check failed", "service", name, "error", err)
			down = append(down, name)
			continue
		}
		slog.Info("service healthy", "service", name)
	}
	return down
}
