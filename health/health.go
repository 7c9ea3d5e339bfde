// Package health checks the dependencies an ldfeed run needs: the
// descriptor, the constraint set, the entity store and the report sinks.
//
// Each check returns a Status; Combine folds several into one:
//
//	status := health.Combine(
//	    health.DescriptorCheck(cfg.Descriptor),
//	    health.ConstraintCheck(ctx, constraint.FileSource{Path: cfg.Constraints.Path}),
//	    health.PingCheck(ctx, "redis", redisSink),
//	)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
package health

import (
	"context"
	"fmt"
	"os"

	"github.com/zero-day-ai/ldfeed/constraint"
	"github.com/zero-day-ai/ldfeed/descriptor"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the outcome of a health check.
type Status struct {
	// Status is one of StatusHealthy, StatusDegraded or StatusUnhealthy.
	Status string `json:"status"`

	Message string `json:"message,omitempty"`

	// Details carries diagnostic values such as the failing error.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// Healthy creates a healthy Status.
func Healthy(message string) Status {
	return Status{Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded Status.
func Degraded(message string, details map[string]any) Status {
	return Status{Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy creates an unhealthy Status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{Status: StatusUnhealthy, Message: message, Details: details}
}

// Pinger is implemented by connections that can be probed, such as
// sink.RedisSink and the SQLite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FileCheck verifies that a file exists at path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Unhealthy(fmt.Sprintf("path '%s' is not accessible", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	if info.IsDir() {
		return Unhealthy(fmt.Sprintf("path '%s' is a directory", path), map[string]any{"path": path})
	}
	return Healthy(fmt.Sprintf("path '%s' exists", path))
}

// DescriptorCheck loads and validates the descriptor at path. An empty path
// is degraded: the built-in catalogue descriptor will be used.
func DescriptorCheck(path string) Status {
	if path == "" {
		return Degraded("descriptor: no path configured, using the built-in descriptor", nil)
	}
	desc, err := descriptor.LoadFile(path)
	if err != nil {
		return Unhealthy("descriptor: failed to load", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	return Healthy(fmt.Sprintf("descriptor: %d types loaded from %s", desc.Len(), path))
}

// ConstraintCheck fetches and parses the constraint set from src.
func ConstraintCheck(ctx context.Context, src constraint.Source) Status {
	if src == nil {
		return Unhealthy("constraints: no source configured", nil)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		return Unhealthy("constraints: failed to fetch", map[string]any{
			"source": src.String(),
			"error":  err.Error(),
		})
	}
	set, err := constraint.Parse(data)
	if err != nil {
		return Unhealthy("constraints: failed to parse", map[string]any{
			"source": src.String(),
			"error":  err.Error(),
		})
	}
	return Healthy(fmt.Sprintf("constraints: %d shapes from %s", len(set.Shapes), src))
}

// PingCheck probes a named connection.
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s: not configured", name), nil)
	}
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(fmt.Sprintf("%s: unreachable", name), map[string]any{"error": err.Error()})
	}
	return Healthy(fmt.Sprintf("%s: reachable", name))
}

// Combine aggregates checks: unhealthy if any check is unhealthy, degraded if
// any is degraded, healthy otherwise.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	healthy := 0
	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthy++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthy),
			"degraded":      len(degraded),
			"healthy":       healthy,
			"failed_checks": unhealthy,
		})
	}
	if len(degraded) > 0 {
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degraded),
			"healthy":         healthy,
			"degraded_checks": degraded,
		})
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
