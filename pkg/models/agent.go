package models

import "time"

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusStopped AgentStatus = "stopped"
)

// ValidAgentStatus checks if a status is one of the known values.
func ValidAgentStatus(s AgentStatus) bool {
	return s == AgentStatusIdle || s == AgentStatusRunning || s == AgentStatusStopped
}

// Liveness is the health label derived from status and heartbeat age.
type Liveness string

const (
	LivenessHealthy  Liveness = "healthy"
	LivenessDegraded Liveness = "degraded"
	LivenessStale    Liveness = "stale"
	LivenessDead     Liveness = "dead"
	LivenessUnknown  Liveness = "unknown"
	// LivenessFresh is reported for a running agent that has not produced its
	// first heartbeat yet. It is treated as healthy.
	LivenessFresh Liveness = "fresh"
)

// CurrentTask identifies the task a worker is executing.
type CurrentTask struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AgentSnapshot is an immutable copy of an agent's state for rendering.
type AgentSnapshot struct {
	Name          string       `json:"name"`
	Status        AgentStatus  `json:"status"`
	Logs          []string     `json:"logs"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty"`
	Progress      float64      `json:"progress"`
	QueueSize     int          `json:"queue_size"`
	Pending       int          `json:"pending"`
	Busy          bool         `json:"busy"`
	CurrentTask   *CurrentTask `json:"current_task,omitempty"`
	LastOutput    string       `json:"last_output,omitempty"`
}

// IsRunning returns true if the agent is currently running.
func (s *AgentSnapshot) IsRunning() bool {
	return s.Status == AgentStatusRunning
}

// IsIdle returns true when nothing is queued or in flight.
func (s *AgentSnapshot) IsIdle() bool {
	return !s.Busy && s.QueueSize == 0 && s.Pending == 0
}

// Stats holds registry-wide counters.
type Stats struct {
	Agents  int `json:"agents"`
	Idle    int `json:"idle"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
}
