package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pathfinder/internal/engine"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type stepPath struct {
	ProjectID string `path:"project_id"`
	Step      string `path:"step"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Start a company design project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.StartProject(ctx, engine.StartProjectOptions{
			ID:        input.Body.ID,
			CompanyID: input.Body.CompanyID,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List visible projects",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CompanyID string `query:"company_id"`
		Status    string `query:"status" enum:"not_started,in_progress,locked"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ProjectsFor(ctx, actorID, repo.ProjectFilters{
			CompanyID: input.CompanyID,
			Status:    input.Status,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ViewProject(ctx, actorID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-step-state",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/steps",
		Summary:     "Derived step state",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body StepStateResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ViewProject(ctx, actorID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepStateResponse `json:"body"`
		}{Body: stepStateResponse(e.Machine.State(p.Snapshot()))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/lock",
		Summary:     "Lock an approved project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusLocked,
		},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.LockProject(ctx, engine.LockInput{ProjectID: input.ProjectID, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusLocked,
	http.StatusUnprocessableEntity,
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-step-draft",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/steps/{step}/draft",
		Summary:     "Save a step draft",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Step      string `path:"step"`
		Body *StepPayloadRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		return runStep(ctx, input.ProjectID, input.Step, input.Body, e.SaveDraft)
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step}/submit",
		Summary:     "Submit a step for approval",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Step      string `path:"step"`
		Body *StepPayloadRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		return runStep(ctx, input.ProjectID, input.Step, input.Body, e.SubmitStep)
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step}/approve",
		Summary:     "Approve a submitted step",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *stepPath) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		return runStep(ctx, input.ProjectID, input.Step, nil, e.ApproveStep)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step}/reject",
		Summary:     "Reject a submitted step",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Step      string `path:"step"`
		Body *RejectStepRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.StepInput{ProjectID: input.ProjectID, Step: workflow.Step(input.Step), ActorID: actorID}
		if input.Body != nil {
			in.Reason = input.Body.Reason
		}
		res, err := e.RejectStep(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-step-changes",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step}/request-changes",
		Summary:     "CEO requests changes to a step",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Step      string `path:"step"`
		Body *RequestChangesRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body CeoDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.StepInput{ProjectID: input.ProjectID, Step: workflow.Step(input.Step), ActorID: actorID}
		if input.Body != nil {
			in.Reason = input.Body.Comments
		}
		res, err := e.RequestChanges(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CeoDecisionResponse `json:"body"`
		}{Body: CeoDecisionResponse{TransitionResponse: transitionResponse(res.Result), Decision: ceoApprovalResponse(res.Decision)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-step-payload",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/steps/{step}/payload",
		Summary:     "Get the stored step payload",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *stepPath) (*struct {
		Body StepPayloadResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewProject(ctx, actorID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetPayload(ctx, input.ProjectID, workflow.Step(input.Step))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepPayloadResponse `json:"body"`
		}{Body: payloadResponse(p)}, nil
	})
}

func runStep(ctx context.Context, projectID, step string, body *StepPayloadRequest, fn func(context.Context, engine.StepInput) (engine.Result, error)) (*struct {
	Body TransitionResponse `json:"body"`
}, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	in := engine.StepInput{ProjectID: projectID, Step: workflow.Step(step), ActorID: actorID}
	if body != nil {
		raw, err := encodePayload(body.Payload)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
		}
		in.Payload = raw
	}
	res, err := fn(ctx, in)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body TransitionResponse `json:"body"`
	}{Body: transitionResponse(res)}, nil
}
