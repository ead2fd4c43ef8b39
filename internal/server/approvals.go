package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-consultant-review",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/consultant-reviews",
		Summary:       "Record a consultant review",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      ConsultantReviewRequest `json:"body"`
	}) (*struct {
		Body ConsultantReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RecordConsultantReview(ctx, engine.ReviewInput{
			ProjectID: input.ProjectID,
			ActorID:   actorID,
			Opinions:  input.Body.Opinions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConsultantReviewResponse `json:"body"`
		}{Body: ConsultantReviewResponse{TransitionResponse: transitionResponse(res.Result), Review: res.Review}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-consultant-reviews",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/consultant-reviews",
		Summary:     "List consultant reviews, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.ConsultantReview `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewProject(ctx, actorID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListConsultantReviews(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ConsultantReview `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-ceo-decision",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/ceo-decisions",
		Summary:       "Record the CEO decision",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CeoDecisionRequest `json:"body"`
	}) (*struct {
		Body CeoDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RecordCeoDecision(ctx, engine.DecisionInput{
			ProjectID:  input.ProjectID,
			ActorID:    actorID,
			Decision:   input.Body.Decision,
			TargetStep: workflow.Step(input.Body.TargetStep),
			Comments:   input.Body.Comments,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CeoDecisionResponse `json:"body"`
		}{Body: CeoDecisionResponse{TransitionResponse: transitionResponse(res.Result), Decision: ceoApprovalResponse(res.Decision)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ceo-decisions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/ceo-decisions",
		Summary:     "List CEO decisions, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []CeoApprovalResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewProject(ctx, actorID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListCeoDecisions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]CeoApprovalResponse, 0, len(items))
		for _, a := range items {
			out = append(out, ceoApprovalResponse(a))
		}
		return &struct {
			Body []CeoApprovalResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-project-audit",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audit",
		Summary:     "Audit trail for a project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		AfterID   int64  `query:"after_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewProject(ctx, actorID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListAudit(ctx, repo.AuditFilters{
			ProjectID: input.ProjectID,
			AfterID:   input.AfterID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AuditEntryResponse, 0, len(items))
		for _, a := range items {
			out = append(out, auditResponse(a))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: out}, nil
	})
}
