// Package liveness derives a health label from an agent's status and the age
// of its last heartbeat.
package liveness

import (
	"time"

	"github.com/sevir/vigia/internal/clock"
	"github.com/sevir/vigia/pkg/models"
)

const (
	// HealthyWindow is the maximum heartbeat age reported as healthy.
	HealthyWindow = time.Second
	// DegradedWindow is the maximum heartbeat age reported as degraded.
	DegradedWindow = 2 * time.Second
)

// Classify returns the liveness of an agent. It has no side effects.
func Classify(status models.AgentStatus, lastHeartbeat *time.Time, now time.Time) models.Liveness {
	switch status {
	case models.AgentStatusStopped:
		return models.LivenessDead
	case models.AgentStatusRunning:
	default:
		return models.LivenessUnknown
	}

	if lastHeartbeat == nil {
		return models.LivenessFresh
	}

	age := clock.Age(*lastHeartbeat, now)
	switch {
	case age <= HealthyWindow:
		return models.LivenessHealthy
	case age <= DegradedWindow:
		return models.LivenessDegraded
	default:
		return models.LivenessStale
	}
}

// ClassifySnapshot classifies a snapshot at now.
func ClassifySnapshot(snap models.AgentSnapshot, now time.Time) models.Liveness {
	return Classify(snap.Status, snap.LastHeartbeat, now)
}

// Indicator returns the glyph the dashboard shows for l.
func Indicator(l models.Liveness) string {
	switch l {
	case models.LivenessHealthy, models.LivenessFresh:
		return "💚"
	case models.LivenessDegraded:
		return "💛"
	case models.LivenessStale:
		return "🟠"
	case models.LivenessDead:
		return "🔴"
	default:
		return "⚪"
	}
}

// Healthy reports whether l counts as healthy.
func Healthy(l models.Liveness) bool {
	return l == models.LivenessHealthy || l == models.LivenessFresh
}
