// Package health implements the HTTP readiness probe used to gate a
// sandbox's transition from starting to running, with the back-off
// schedule the startup probe loop uses while waiting for a service to
// bind its port.
package health

import (
	"context"
	"time"
)

// CheckType identifies a health checker's mechanism.
type CheckType string

const CheckTypeHTTP CheckType = "http"

// Result is the outcome of one health check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs a single health check.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}
