package engine

import (
	"context"

	"pathfinder/internal/domain"
	"pathfinder/internal/engine/auth"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

// Whoami resolves the actor behind an authenticated principal.
func (e Engine) Whoami(ctx context.Context, actorID string) (domain.User, error) {
	a, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, nil, a.ID)
}

// ViewProject returns a project the actor is allowed to see.
func (e Engine) ViewProject(ctx context.Context, actorID, projectID string) (domain.Project, error) {
	a, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.RequireCompany(a, p.CompanyID); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectsFor lists projects visible to the actor. Company-bound roles only
// see their own company.
func (e Engine) ProjectsFor(ctx context.Context, actorID string, f repo.ProjectFilters) ([]domain.Project, error) {
	a, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if a.Role == workflow.RoleCEO || a.Role == workflow.RoleHRManager {
		if f.CompanyID != "" && f.CompanyID != a.CompanyID {
			return nil, auth.ForbiddenError{ActorID: a.ID, Reason: "not a member of company " + f.CompanyID}
		}
		f.CompanyID = a.CompanyID
	}
	return e.Repo.ListProjects(ctx, f)
}

// RoleRequestsFor lists CEO role requests. Only admins may list them.
func (e Engine) RoleRequestsFor(ctx context.Context, actorID, status string) ([]domain.CeoRoleRequest, error) {
	a, err := e.Auth.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireRole(a, workflow.RoleAdmin); err != nil {
		return nil, err
	}
	return e.ListRoleRequests(ctx, status, "")
}
