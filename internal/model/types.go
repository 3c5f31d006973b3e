package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Application event types dispatched over the channel.
const (
	TypeGovernanceUpdate = "governance.update"
	TypeWorkerMetrics    = "worker.metrics"
	TypeAgentActivity    = "agent.activity"
	TypeStateSnapshot    = "state.snapshot"
)

// Governance phases.
const (
	PhaseIdle      = "idle"
	PhasePlanning  = "planning"
	PhaseExecuting = "executing"
	PhaseReviewing = "reviewing"
	PhaseBlocked   = "blocked"
)

// Agent task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// GovernanceStatus is the orchestrator's governance state: which phase the
// current workflow is in and whether a quality gate is holding it.
type GovernanceStatus struct {
	Phase            string    `json:"phase"`
	Gate             string    `json:"gate,omitempty"` // Active quality gate, empty when none
	ApprovalsPending int       `json:"approvalsPending,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// WorkerMetrics is one worker's operational counters.
type WorkerMetrics struct {
	WorkerID       string    `json:"workerId"`
	QueueDepth     int       `json:"queueDepth"`
	TasksCompleted int64     `json:"tasksCompleted"`
	TasksFailed    int64     `json:"tasksFailed"`
	CPUPercent     float64   `json:"cpuPercent"`
	MemoryMB       float64   `json:"memoryMb"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// AgentActivity is one agent's current assignment.
type AgentActivity struct {
	AgentID   string    `json:"agentId"`
	Role      string    `json:"role"` // e.g. lead-architect, backend-master, qa-sentinel
	TaskID    string    `json:"taskId,omitempty"`
	Task      string    `json:"task,omitempty"` // Human-readable task description
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DashboardState is the full state snapshot: what the push channel delivers
// incrementally, the fallback endpoint serves whole.
type DashboardState struct {
	Governance GovernanceStatus `json:"governance"`
	Workers    []WorkerMetrics  `json:"workers"`
	Agents     []AgentActivity  `json:"agents"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

var validPhases = map[string]bool{
	PhaseIdle:      true,
	PhasePlanning:  true,
	PhaseExecuting: true,
	PhaseReviewing: true,
	PhaseBlocked:   true,
}

var validTaskStatuses = map[string]bool{
	TaskPending:    true,
	TaskInProgress: true,
	TaskCompleted:  true,
	TaskFailed:     true,
}

// DecodeGovernanceStatus parses and validates a governance.update payload.
func DecodeGovernanceStatus(raw json.RawMessage) (GovernanceStatus, error) {
	var g GovernanceStatus
	if err := json.Unmarshal(raw, &g); err != nil {
		return GovernanceStatus{}, fmt.Errorf("parse governance status: %w", err)
	}
	if !validPhases[g.Phase] {
		return GovernanceStatus{}, fmt.Errorf("unknown governance phase %q", g.Phase)
	}
	if g.ApprovalsPending < 0 {
		return GovernanceStatus{}, fmt.Errorf("negative approvalsPending %d", g.ApprovalsPending)
	}
	return g, nil
}

// DecodeWorkerMetrics parses and validates a worker.metrics payload.
func DecodeWorkerMetrics(raw json.RawMessage) (WorkerMetrics, error) {
	var w WorkerMetrics
	if err := json.Unmarshal(raw, &w); err != nil {
		return WorkerMetrics{}, fmt.Errorf("parse worker metrics: %w", err)
	}
	if w.WorkerID == "" {
		return WorkerMetrics{}, fmt.Errorf("worker metrics missing workerId")
	}
	if w.QueueDepth < 0 {
		return WorkerMetrics{}, fmt.Errorf("negative queueDepth %d for worker %s", w.QueueDepth, w.WorkerID)
	}
	return w, nil
}

// DecodeAgentActivity parses and validates an agent.activity payload.
func DecodeAgentActivity(raw json.RawMessage) (AgentActivity, error) {
	var a AgentActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return AgentActivity{}, fmt.Errorf("parse agent activity: %w", err)
	}
	if a.AgentID == "" {
		return AgentActivity{}, fmt.Errorf("agent activity missing agentId")
	}
	if !validTaskStatuses[a.Status] {
		return AgentActivity{}, fmt.Errorf("unknown task status %q for agent %s", a.Status, a.AgentID)
	}
	return a, nil
}

// DecodeDashboardState parses and validates a full state snapshot.
func DecodeDashboardState(raw json.RawMessage) (DashboardState, error) {
	var s DashboardState
	if err := json.Unmarshal(raw, &s); err != nil {
		return DashboardState{}, fmt.Errorf("parse dashboard state: %w", err)
	}
	for i, w := range s.Workers {
		if w.WorkerID == "" {
			return DashboardState{}, fmt.Errorf("snapshot worker %d missing workerId", i)
		}
	}
	for i, a := range s.Agents {
		if a.AgentID == "" {
			return DashboardState{}, fmt.Errorf("snapshot agent %d missing agentId", i)
		}
	}
	return s, nil
}
