package domain

import (
	"encoding/json"

	"pathfinder/internal/workflow"
)

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Name      string        `json:"name,omitempty"`
	Role      workflow.Role `json:"role" enum:"admin,ceo,hr_manager,consultant"`
	CompanyID string        `json:"company_id,omitempty"`
	CreatedAt string        `json:"created_at" format:"date-time"`
}

// Project is one company's HR design engagement.
type Project struct {
	ID          string                                `json:"id"`
	CompanyID   string                                `json:"company_id"`
	Status      workflow.ProjectStatus                `json:"status" enum:"not_started,in_progress,locked"`
	CurrentStep workflow.Step                         `json:"current_step"`
	Version     int64                                 `json:"version"`
	Steps       map[workflow.Step]workflow.StepStatus `json:"steps"`
	CreatedAt   string                                `json:"created_at" format:"date-time"`
	UpdatedAt   string                                `json:"updated_at" format:"date-time"`
	LockedAt    *string                               `json:"locked_at,omitempty" format:"date-time"`
}

// Snapshot returns the workflow view of the project.
func (p Project) Snapshot() workflow.Snapshot {
	s := workflow.Snapshot{Status: p.Status, Current: p.CurrentStep, Steps: make(map[workflow.Step]workflow.StepStatus, len(p.Steps))}
	for k, v := range p.Steps {
		s.Steps[k] = v
	}
	return s
}

// Apply copies a snapshot back onto the project record.
func (p *Project) Apply(s workflow.Snapshot) {
	p.Status = s.Status
	p.CurrentStep = s.Current
	p.Steps = make(map[workflow.Step]workflow.StepStatus, len(s.Steps))
	for k, v := range s.Steps {
		p.Steps[k] = v
	}
}

type StepPayload struct {
	ProjectID string          `json:"project_id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"created_at" format:"date-time"`
	UpdatedAt string          `json:"updated_at" format:"date-time"`
}

type ConsultantReview struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	ConsultantID string `json:"consultant_id"`
	Opinions     string `json:"opinions"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

const (
	DecisionApprove        = "approve"
	DecisionRequestChanges = "request_changes"
)

type CeoApproval struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	CeoID      string        `json:"ceo_id"`
	Decision   string        `json:"decision" enum:"approve,request_changes"`
	TargetStep workflow.Step `json:"target_step,omitempty"`
	Comments   string        `json:"comments,omitempty"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
}

const (
	RoleRequestPending  = "pending"
	RoleRequestApproved = "approved"
	RoleRequestRejected = "rejected"
)

type CeoRoleRequest struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	CompanyID   string  `json:"company_id"`
	Status      string  `json:"status" enum:"pending,approved,rejected"`
	Reason      string  `json:"reason,omitempty"`
	ProcessedBy *string `json:"processed_by,omitempty"`
	ProcessedAt *string `json:"processed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// AuditEntry is one immutable record of a transition.
type AuditEntry struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id,omitempty"`
	ActorID   string          `json:"actor_id"`
	Action    string          `json:"action"`
	Step      string          `json:"step,omitempty"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data,omitempty"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the resolved identity behind a request.
type Actor struct {
	ID        string
	Email     string
	Role      workflow.Role
	CompanyID string
}
