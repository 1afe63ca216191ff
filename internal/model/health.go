package model

import "time"

// HealthStatus is the overall classification of an agent's health check
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusStuck    HealthStatus = "stuck"
)

// IssueType classifies a detected health issue
type IssueType string

const (
	IssuePerformance   IssueType = "performance"
	IssueCommunication IssueType = "communication"
	IssueResource      IssueType = "resource"
	IssueLogic         IssueType = "logic"
	IssueDependency    IssueType = "dependency"
)

// IssueSeverity grades how serious an issue is
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// Issue is a single problem found during a health evaluation
type Issue struct {
	Type            IssueType     `json:"type"`
	Severity        IssueSeverity `json:"severity"`
	Description     string        `json:"description"`
	SuggestedAction string        `json:"suggested_action,omitempty"`
}

// HealthCheck is the result of one health evaluation for an agent.
// Checks are replaced wholesale each cycle, keyed by agent.
type HealthCheck struct {
	AgentID   string       `json:"agent_id"`
	Status    HealthStatus `json:"status"`
	Issues    []Issue      `json:"issues,omitempty"`
	LastCheck time.Time    `json:"last_check"`
	NextCheck time.Time    `json:"next_check"`
}

// PerformanceMetrics are the rolling per-agent metrics recomputed
// each monitoring cycle.
type PerformanceMetrics struct {
	AgentID            string    `json:"agent_id"`
	SuccessRate        float64   `json:"success_rate"`
	AvgCompletionTime  float64   `json:"avg_completion_time"`
	CollaborationScore float64   `json:"collaboration_score"`
	LearningRate       float64   `json:"learning_rate"`
	AdaptabilityScore  float64   `json:"adaptability_score"`
	HostCPUPercent     float64   `json:"host_cpu_percent"`
	HostMemoryPercent  float64   `json:"host_memory_percent"`
	CollectedAt        time.Time `json:"collected_at"`
}
