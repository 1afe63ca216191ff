package model

import "time"

// AgentRole is one of the fixed pipeline roles
type AgentRole string

const (
	RoleRequirements AgentRole = "requirements"
	RoleAnalysis     AgentRole = "analysis"
	RoleDevelopment  AgentRole = "development"
	RoleTesting      AgentRole = "testing"
	RoleReview       AgentRole = "review"
	RoleLead         AgentRole = "lead"
	RoleAdmin        AgentRole = "admin"
)

// IsSupervisory reports whether the role receives escalations and
// critical health notifications.
func (r AgentRole) IsSupervisory() bool {
	return r == RoleLead || r == RoleAdmin
}

// AgentStatus represents the availability of an agent
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusUnhealthy AgentStatus = "unhealthy"
	AgentStatusOffline   AgentStatus = "offline"
)

// Agent represents a worker that can own tasks
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        AgentRole   `json:"role"`
	Status      AgentStatus `json:"status"`
	CurrentLoad int         `json:"current_load"`
	MaxLoad     int         `json:"max_load"`
	HealthScore float64     `json:"health_score"`
	Expertise   []string    `json:"expertise,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
}

// HasExpertise reports whether the agent carries the given skill tag
func (a *Agent) HasExpertise(skill string) bool {
	for _, e := range a.Expertise {
		if e == skill {
			return true
		}
	}
	return false
}
