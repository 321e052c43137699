package probe

import (
	"errors"
	"time"
)

// HealthStatus is the classification of a single health check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusSlow      HealthStatus = "slow"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusError     HealthStatus = "error"
)

var (
	// ErrTransport marks a failure to reach the server or the version service.
	ErrTransport = errors.New("transport error")
	// ErrParse marks a response or manifest that could not be interpreted.
	ErrParse = errors.New("parse error")
)

// HealthResult is the outcome of a single health check.
type HealthResult struct {
	Status HealthStatus
	// Reported is the raw health value returned by the server, if any.
	Reported     string
	ResponseTime time.Duration
	// Err is set when Status is StatusError; it wraps ErrTransport or ErrParse.
	Err error
	// Body holds the raw payload when it could not be classified.
	Body      string
	CheckedAt time.Time
}
