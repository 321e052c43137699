package monitor

import "github.com/hazz-dev/servwatch/internal/probe"

// Hysteresis tolerates a single slow health result. A second consecutive
// slow result escalates to unhealthy.
type Hysteresis struct {
	lastCheckSlow bool
}

// Observe folds s into the state and returns the effective verdict, either
// StatusHealthy or StatusUnhealthy.
//
// Healthy and explicit unhealthy results clear the flag. Escalation clears it
// too, since the caller restarts services in response. Transport and parse
// errors leave it untouched.
func (h *Hysteresis) Observe(s probe.HealthStatus) probe.HealthStatus {
	switch s {
	case probe.StatusHealthy:
		h.lastCheckSlow = false
		return probe.StatusHealthy
	case probe.StatusSlow:
		if h.lastCheckSlow {
			h.lastCheckSlow = false
			return probe.StatusUnhealthy
		}
		h.lastCheckSlow = true
		return probe.StatusHealthy
	case probe.StatusUnhealthy:
		h.lastCheckSlow = false
		return probe.StatusUnhealthy
	default:
		return probe.StatusUnhealthy
	}
}

// Slow reports whether the previous observation was a tolerated slow result.
func (h *Hysteresis) Slow() bool {
	return h.lastCheckSlow
}
