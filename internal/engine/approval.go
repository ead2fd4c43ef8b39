package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"pathfinder/internal/audit"
	"pathfinder/internal/domain"
	"pathfinder/internal/notify"
	"pathfinder/internal/workflow"
)

type ReviewInput struct {
	ProjectID string `json:"project_id" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
	Opinions  string `json:"opinions"`
}

type ReviewResult struct {
	Result
	Review domain.ConsultantReview `json:"review"`
}

// RecordConsultantReview appends a consultant review and marks the review
// step submitted. Repeated reviews keep history; the latest is authoritative.
func (e Engine) RecordConsultantReview(ctx context.Context, in ReviewInput) (ReviewResult, error) {
	if err := check(in); err != nil {
		return ReviewResult{}, err
	}
	var review domain.ConsultantReview
	res, err := e.mutate(ctx, in.ProjectID, in.ActorID, func(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Project) (plan, error) {
		out, err := e.Machine.Review(p.Snapshot(), actor.Role, in.Opinions)
		if err != nil {
			return plan{}, err
		}
		review = domain.ConsultantReview{
			ID:           uuid.NewString(),
			ProjectID:    p.ID,
			ConsultantID: actor.ID,
			Opinions:     strings.TrimSpace(in.Opinions),
		}
		entry := audit.Entry{Action: "consultant_review.record", Step: string(workflow.StepConsultantReview), New: map[string]any{"review_id": review.ID, "opinions": review.Opinions}}
		if len(out.Changes) > 0 {
			entry = stepAudit(entry.Action, out.Changes[0], map[string]any{"review_id": review.ID, "opinions": review.Opinions})
		}
		return plan{
			outcome: out,
			audits:  []audit.Entry{entry},
			write: func(ctx context.Context, tx *sql.Tx, now string) error {
				review.CreatedAt = now
				return e.Repo.InsertConsultantReview(ctx, tx, review)
			},
			notify: []recipients{{event: notify.EventConsultantReviewed, roles: []workflow.Role{workflow.RoleCEO}, payload: map[string]any{"review_id": review.ID}}},
		}, nil
	})
	if err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{Result: res, Review: review}, nil
}

func (e Engine) ListConsultantReviews(ctx context.Context, projectID string) ([]domain.ConsultantReview, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListConsultantReviews(ctx, projectID)
}

type DecisionInput struct {
	ProjectID  string        `json:"project_id" validate:"required"`
	ActorID    string        `json:"actor_id" validate:"required"`
	Decision   string        `json:"decision" validate:"required,oneof=approve request_changes"`
	TargetStep workflow.Step `json:"target_step"`
	Comments   string        `json:"comments"`
}

type DecisionResult struct {
	Result
	Decision domain.CeoApproval `json:"decision"`
}

// RecordCeoDecision applies the CEO's final decision. Approval locks the
// project in the same transaction unless auto-lock is disabled; a change
// request reopens the target step.
func (e Engine) RecordCeoDecision(ctx context.Context, in DecisionInput) (DecisionResult, error) {
	if err := check(in); err != nil {
		return DecisionResult{}, err
	}
	var decision domain.CeoApproval
	res, err := e.mutate(ctx, in.ProjectID, in.ActorID, func(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Project) (plan, error) {
		comments := strings.TrimSpace(in.Comments)
		decision = domain.CeoApproval{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			CeoID:     actor.ID,
			Decision:  in.Decision,
			Comments:  comments,
		}
		var pl plan
		switch in.Decision {
		case domain.DecisionApprove:
			out, err := e.Machine.DecideApprove(p.Snapshot(), actor.Role)
			if err != nil {
				return plan{}, err
			}
			pl.outcome = out
			pl.audits = changeAudits("ceo_decision.approve", out.Changes, map[string]any{"decision_id": decision.ID, "comments": comments})
			pl.notify = append(pl.notify, recipients{event: notify.EventCeoDecisionRecorded, roles: []workflow.Role{workflow.RoleHRManager}, payload: map[string]any{"decision": in.Decision}})
			if e.Config.AutoLock() {
				locked, err := e.Machine.Lock(out.After, actor.Role)
				if err != nil {
					return plan{}, err
				}
				pl.outcome = workflow.Outcome{Before: out.Before, After: locked.After, Changes: append(out.Changes, locked.Changes...)}
				pl.audits = append(pl.audits, lockAudit(locked))
				pl.notify = append(pl.notify, recipients{event: notify.EventProjectLocked, roles: e.lockRecipients()})
			}
		case domain.DecisionRequestChanges:
			out, err := e.Machine.DecideChanges(p.Snapshot(), actor.Role, in.TargetStep, comments)
			if err != nil {
				return plan{}, err
			}
			decision.TargetStep = in.TargetStep
			pl.outcome = out
			pl.notes = map[workflow.Step]string{in.TargetStep: comments, workflow.StepCeoApproval: comments}
			pl.audits = changeAudits("ceo_decision.request_changes", out.Changes, map[string]any{"decision_id": decision.ID, "target_step": in.TargetStep, "comments": comments})
			pl.notify = append(pl.notify, recipients{event: notify.EventChangesRequested, roles: []workflow.Role{workflow.RoleHRManager}, payload: map[string]any{"target_step": in.TargetStep, "comments": comments}})
		}
		pl.write = func(ctx context.Context, tx *sql.Tx, now string) error {
			decision.CreatedAt = now
			return e.Repo.InsertCeoApproval(ctx, tx, decision)
		}
		return pl, nil
	})
	if err != nil {
		return DecisionResult{}, err
	}
	return DecisionResult{Result: res, Decision: decision}, nil
}

// RequestChanges reopens step on behalf of the CEO with the given comments.
func (e Engine) RequestChanges(ctx context.Context, in StepInput) (DecisionResult, error) {
	return e.RecordCeoDecision(ctx, DecisionInput{
		ProjectID:  in.ProjectID,
		ActorID:    in.ActorID,
		Decision:   domain.DecisionRequestChanges,
		TargetStep: in.Step,
		Comments:   in.Reason,
	})
}

// LatestCeoDecision returns the authoritative CEO decision for a project.
func (e Engine) LatestCeoDecision(ctx context.Context, projectID string) (domain.CeoApproval, error) {
	return e.Repo.LatestCeoApproval(ctx, projectID)
}

func (e Engine) ListCeoDecisions(ctx context.Context, projectID string) ([]domain.CeoApproval, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListCeoApprovals(ctx, projectID)
}
