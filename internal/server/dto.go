package server

import (
	"encoding/json"

	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/workflow"
)

// Request payloads

type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

type StepPayloadRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type RejectStepRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RequestChangesRequest struct {
	Comments string `json:"comments,omitempty"`
}

type ConsultantReviewRequest struct {
	Opinions string `json:"opinions,omitempty"`
}

type CeoDecisionRequest struct {
	Decision   string `json:"decision,omitempty" doc:"approve or request_changes"`
	TargetStep string `json:"target_step,omitempty"`
	Comments   string `json:"comments,omitempty"`
}

type CreateRoleRequestRequest struct {
	CompanyID string `json:"company_id,omitempty"`
}

type ResolveRoleRequestRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string            `json:"id"`
	CompanyID   string            `json:"company_id"`
	Status      string            `json:"status" enum:"not_started,in_progress,locked"`
	CurrentStep string            `json:"current_step"`
	Version     int64             `json:"version"`
	Steps       map[string]string `json:"steps"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
	LockedAt    *string           `json:"locked_at,omitempty" format:"date-time"`
}

type StepViewResponse struct {
	Step      string `json:"step"`
	Status    string `json:"status"`
	Enterable bool   `json:"enterable"`
	Current   bool   `json:"current"`
}

type StepStateResponse struct {
	ProjectStatus string             `json:"project_status"`
	CurrentStep   string             `json:"current_step"`
	Steps         []StepViewResponse `json:"steps"`
}

type ChangeResponse struct {
	Step string `json:"step"`
	From string `json:"from"`
	To   string `json:"to"`
}

type TransitionResponse struct {
	Project ProjectResponse   `json:"project"`
	State   StepStateResponse `json:"state"`
	Changes []ChangeResponse  `json:"changes"`
}

type ConsultantReviewResponse struct {
	TransitionResponse
	Review domain.ConsultantReview `json:"review"`
}

type CeoDecisionResponse struct {
	TransitionResponse
	Decision CeoApprovalResponse `json:"decision"`
}

type CeoApprovalResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	CeoID      string `json:"ceo_id"`
	Decision   string `json:"decision" enum:"approve,request_changes"`
	TargetStep string `json:"target_step,omitempty"`
	Comments   string `json:"comments,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type StepPayloadResponse struct {
	ProjectID string         `json:"project_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID        int64  `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	Step      string `json:"step,omitempty"`
	OldData   any    `json:"old_data,omitempty"`
	NewData   any    `json:"new_data,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RoleRequestResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	CompanyID   string  `json:"company_id"`
	Status      string  `json:"status" enum:"pending,approved,rejected"`
	Reason      string  `json:"reason,omitempty"`
	ProcessedBy *string `json:"processed_by,omitempty"`
	ProcessedAt *string `json:"processed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID   string `json:"actor_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	Source    string `json:"source"`
}

func projectResponse(p domain.Project) ProjectResponse {
	steps := make(map[string]string, len(p.Steps))
	for k, v := range p.Steps {
		steps[string(k)] = string(v)
	}
	return ProjectResponse{
		ID:          p.ID,
		CompanyID:   p.CompanyID,
		Status:      string(p.Status),
		CurrentStep: string(p.CurrentStep),
		Version:     p.Version,
		Steps:       steps,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		LockedAt:    p.LockedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func stepStateResponse(st workflow.State) StepStateResponse {
	out := StepStateResponse{
		ProjectStatus: string(st.ProjectStatus),
		CurrentStep:   string(st.Current),
		Steps:         make([]StepViewResponse, 0, len(st.Steps)),
	}
	for _, v := range st.Steps {
		out.Steps = append(out.Steps, StepViewResponse{Step: string(v.Step), Status: string(v.Status), Enterable: v.Enterable, Current: v.Current})
	}
	return out
}

func transitionResponse(res engine.Result) TransitionResponse {
	changes := make([]ChangeResponse, 0, len(res.Changes))
	for _, c := range res.Changes {
		changes = append(changes, ChangeResponse{Step: string(c.Step), From: string(c.From), To: string(c.To)})
	}
	return TransitionResponse{
		Project: projectResponse(res.Project),
		State:   stepStateResponse(res.State),
		Changes: changes,
	}
}

func ceoApprovalResponse(a domain.CeoApproval) CeoApprovalResponse {
	return CeoApprovalResponse{
		ID:         a.ID,
		ProjectID:  a.ProjectID,
		CeoID:      a.CeoID,
		Decision:   a.Decision,
		TargetStep: string(a.TargetStep),
		Comments:   a.Comments,
		CreatedAt:  a.CreatedAt,
	}
}

func payloadResponse(p domain.StepPayload) StepPayloadResponse {
	data := map[string]any{}
	_ = json.Unmarshal(p.Data, &data)
	return StepPayloadResponse{ProjectID: p.ProjectID, Kind: p.Kind, Payload: data, UpdatedAt: p.UpdatedAt}
}

func auditResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Step:      e.Step,
		OldData:   decodeRaw(e.OldData),
		NewData:   decodeRaw(e.NewData),
		CreatedAt: e.CreatedAt,
	}
}

func roleRequestResponse(rr domain.CeoRoleRequest) RoleRequestResponse {
	return RoleRequestResponse{
		ID:          rr.ID,
		UserID:      rr.UserID,
		CompanyID:   rr.CompanyID,
		Status:      rr.Status,
		Reason:      rr.Reason,
		ProcessedBy: rr.ProcessedBy,
		ProcessedAt: rr.ProcessedAt,
		CreatedAt:   rr.CreatedAt,
	}
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func encodePayload(payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
