package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pathfinder/internal/domain"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

// ForbiddenError indicates the actor may not act on the target.
type ForbiddenError struct {
	ActorID string
	Reason  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s forbidden: %s", e.ActorID, e.Reason)
}

func (e ForbiddenError) Unwrap() error { return workflow.ErrForbidden }

// Service resolves actors to roles from the users table.
type Service struct {
	Repo repo.Repo
}

// Actor loads the identity behind actorID. Unknown actors are forbidden.
func (s Service) Actor(ctx context.Context, tx *sql.Tx, actorID string) (domain.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Actor{}, ForbiddenError{Reason: "actor required"}
	}
	u, err := s.Repo.GetUser(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, ForbiddenError{ActorID: actorID, Reason: "unknown actor"}
	}
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: u.ID, Email: u.Email, Role: u.Role, CompanyID: u.CompanyID}, nil
}

// RequireCompany enforces that company-scoped roles act only on their own
// company. Admins and consultants are not company-bound.
func RequireCompany(a domain.Actor, companyID string) error {
	switch a.Role {
	case workflow.RoleAdmin, workflow.RoleConsultant:
		return nil
	}
	if a.CompanyID == "" || a.CompanyID != companyID {
		return ForbiddenError{ActorID: a.ID, Reason: "not a member of company " + companyID}
	}
	return nil
}

// RequireRole fails unless the actor holds one of roles.
func RequireRole(a domain.Actor, roles ...workflow.Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return ForbiddenError{ActorID: a.ID, Reason: fmt.Sprintf("role %s not permitted", a.Role)}
}
