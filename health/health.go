// Package health provides health checkers over the connection pool.
package health

import (
	"context"
	"time"
)

// Status is the outcome of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the report produced by a single checker run.
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Error     string
	Details   map[string]interface{}
	Duration  time.Duration
	Timestamp time.Time
}

// Checker runs one health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
