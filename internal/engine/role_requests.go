package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"pathfinder/internal/audit"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine/auth"
	"pathfinder/internal/notify"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

type RoleRequestInput struct {
	UserID    string `json:"user_id" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
}

// CreateRoleRequest opens a pending request for the CEO role in a company.
// A user holds at most one pending request per company.
func (e Engine) CreateRoleRequest(ctx context.Context, in RoleRequestInput) (domain.CeoRoleRequest, error) {
	if err := check(in); err != nil {
		return domain.CeoRoleRequest{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CeoRoleRequest{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUser(ctx, tx, in.UserID)
	if err != nil {
		return domain.CeoRoleRequest{}, fmt.Errorf("user %s: %w", in.UserID, err)
	}
	if _, err := e.Repo.GetCompany(ctx, tx, in.CompanyID); err != nil {
		return domain.CeoRoleRequest{}, fmt.Errorf("company %s: %w", in.CompanyID, err)
	}
	if u.Role == workflow.RoleCEO && u.CompanyID == in.CompanyID {
		return domain.CeoRoleRequest{}, &workflow.TransitionError{Kind: workflow.ErrAlreadyProcessed, Detail: "user is already ceo of the company"}
	}
	if _, err := e.Repo.FindPendingRoleRequest(ctx, tx, in.UserID, in.CompanyID); err == nil {
		return domain.CeoRoleRequest{}, &workflow.TransitionError{Kind: workflow.ErrAlreadyProcessed, Detail: "a pending request already exists"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.CeoRoleRequest{}, err
	}
	rr := domain.CeoRoleRequest{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		CompanyID: in.CompanyID,
		Status:    domain.RoleRequestPending,
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertRoleRequest(ctx, tx, rr); err != nil {
		return domain.CeoRoleRequest{}, fmt.Errorf("insert role request: %w", err)
	}
	e.record(ctx, tx, audit.Entry{ActorID: in.UserID, Action: "role_request.create", New: rr})
	if err := tx.Commit(); err != nil {
		return domain.CeoRoleRequest{}, err
	}
	e.deliver(ctx, "", "", []recipients{{event: notify.EventCeoRoleRequested, roles: []workflow.Role{workflow.RoleAdmin}, payload: map[string]any{"request_id": rr.ID, "company_id": rr.CompanyID}}})
	return rr, nil
}

type ResolveRoleRequestInput struct {
	ID      string `json:"id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason"`
}

// ApproveRoleRequest grants the ceo role and company membership.
func (e Engine) ApproveRoleRequest(ctx context.Context, in ResolveRoleRequestInput) (domain.CeoRoleRequest, error) {
	return e.resolveRoleRequest(ctx, in, domain.RoleRequestApproved)
}

// RejectRoleRequest closes the request. A reason is required.
func (e Engine) RejectRoleRequest(ctx context.Context, in ResolveRoleRequestInput) (domain.CeoRoleRequest, error) {
	return e.resolveRoleRequest(ctx, in, domain.RoleRequestRejected)
}

func (e Engine) resolveRoleRequest(ctx context.Context, in ResolveRoleRequestInput, status string) (domain.CeoRoleRequest, error) {
	if err := check(in); err != nil {
		return domain.CeoRoleRequest{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CeoRoleRequest{}, err
	}
	defer tx.Rollback()

	actor, err := e.Auth.Actor(ctx, tx, in.ActorID)
	if err != nil {
		return domain.CeoRoleRequest{}, err
	}
	if err := auth.RequireRole(actor, workflow.RoleAdmin); err != nil {
		return domain.CeoRoleRequest{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if status == domain.RoleRequestRejected && reason == "" {
		return domain.CeoRoleRequest{}, workflow.Validation("rejection reason is required", "reason")
	}
	rr, err := e.Repo.GetRoleRequest(ctx, tx, in.ID)
	if err != nil {
		return domain.CeoRoleRequest{}, err
	}
	processed := &workflow.TransitionError{Kind: workflow.ErrAlreadyProcessed, Detail: "request is " + rr.Status}
	if rr.Status != domain.RoleRequestPending {
		return domain.CeoRoleRequest{}, processed
	}
	now := e.timestamp()
	ok, err := e.Repo.ResolveRoleRequest(ctx, tx, rr.ID, status, reason, actor.ID, now)
	if err != nil {
		return domain.CeoRoleRequest{}, err
	}
	if !ok {
		return domain.CeoRoleRequest{}, processed
	}
	before := rr
	rr.Status = status
	if reason != "" {
		rr.Reason = reason
	}
	rr.ProcessedBy = &actor.ID
	rr.ProcessedAt = &now
	if status == domain.RoleRequestApproved {
		if err := e.Repo.SetUserRole(ctx, tx, rr.UserID, workflow.RoleCEO, rr.CompanyID); err != nil {
			return domain.CeoRoleRequest{}, fmt.Errorf("grant ceo role: %w", err)
		}
	}
	action := "role_request.approve"
	if status == domain.RoleRequestRejected {
		action = "role_request.reject"
	}
	e.record(ctx, tx, audit.Entry{ActorID: actor.ID, Action: action, Old: before, New: rr})
	if err := tx.Commit(); err != nil {
		return domain.CeoRoleRequest{}, err
	}
	event := notify.EventCeoRoleApproved
	if status == domain.RoleRequestRejected {
		event = notify.EventCeoRoleRejected
	}
	e.deliver(ctx, "", rr.CompanyID, []recipients{{event: event, userIDs: []string{rr.UserID}, payload: map[string]any{"request_id": rr.ID, "reason": rr.Reason}}})
	e.logger().InfoContext(ctx, "ceo role request resolved", slog.String("request_id", rr.ID), slog.String("status", rr.Status), slog.String("actor_id", actor.ID))
	return rr, nil
}

func (e Engine) ListRoleRequests(ctx context.Context, status, companyID string) ([]domain.CeoRoleRequest, error) {
	if status != "" && status != domain.RoleRequestPending && status != domain.RoleRequestApproved && status != domain.RoleRequestRejected {
		return nil, workflow.Validation("unknown status "+status, "status")
	}
	return e.Repo.ListRoleRequests(ctx, status, companyID)
}

func (e Engine) GetRoleRequest(ctx context.Context, id string) (domain.CeoRoleRequest, error) {
	return e.Repo.GetRoleRequest(ctx, nil, id)
}
