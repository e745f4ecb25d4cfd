package health

import (
	"fmt"
	"strings"
	"time"
)

const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == stateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component that is doing its job, such as a stream
// with a connected server.
func NewHealthy(component, message string) Status {
	return newStatus(component, stateHealthy, message)
}

// NewUnhealthy reports a component that cannot do its job.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, stateUnhealthy, message)
}

// NewDegraded reports a component that is up but not delivering, for
// example a channel listening for a server that has not connected yet.
func NewDegraded(component, message string) Status {
	return newStatus(component, stateDegraded, message)
}

// Aggregate folds per-channel or per-service statuses into one. The worst
// state wins, and the message names the components that caused it.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "nothing to report")
	}

	var unhealthy, degraded []string
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, summarize("unhealthy", unhealthy, len(subStatuses)))
	case len(degraded) > 0:
		status = NewDegraded(component, summarize("degraded", degraded, len(subStatuses)))
	default:
		status = NewHealthy(component, fmt.Sprintf("all %d healthy", len(subStatuses)))
	}

	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

func summarize(state string, names []string, total int) string {
	return fmt.Sprintf("%d of %d %s: %s", len(names), total, state, strings.Join(names, ", "))
}
