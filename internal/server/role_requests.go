package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pathfinder/internal/engine"
)

func registerRoleRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-role-request",
		Method:        http.MethodPost,
		Path:          "/role-requests",
		Summary:       "Request the CEO role for a company",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRoleRequestRequest `json:"body"`
	}) (*struct {
		Body RoleRequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rr, err := e.CreateRoleRequest(ctx, engine.RoleRequestInput{UserID: actorID, CompanyID: input.Body.CompanyID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoleRequestResponse `json:"body"`
		}{Body: roleRequestResponse(rr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-role-requests",
		Method:      http.MethodGet,
		Path:        "/role-requests",
		Summary:     "List CEO role requests (admin)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []RoleRequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.RoleRequestsFor(ctx, actorID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RoleRequestResponse, 0, len(items))
		for _, rr := range items {
			out = append(out, roleRequestResponse(rr))
		}
		return &struct {
			Body []RoleRequestResponse `json:"body"`
		}{Body: out}, nil
	})

	resolve := func(action, summary string, fn func(context.Context, engine.ResolveRoleRequestInput) (RoleRequestResponse, error)) {
		huma.Register(api, huma.Operation{
			OperationID: action + "-role-request",
			Method:      http.MethodPost,
			Path:        "/role-requests/{id}/" + action,
			Summary:     summary,
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
				http.StatusUnprocessableEntity,
			},
		}, func(ctx context.Context, input *struct {
			ID   string                     `path:"id"`
			Body *ResolveRoleRequestRequest `json:"body,omitempty" required:"false"`
		}) (*struct {
			Body RoleRequestResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			in := engine.ResolveRoleRequestInput{ID: input.ID, ActorID: actorID}
			if input.Body != nil {
				in.Reason = input.Body.Reason
			}
			rr, err := fn(ctx, in)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body RoleRequestResponse `json:"body"`
			}{Body: rr}, nil
		})
	}
	resolve("approve", "Approve a CEO role request", func(ctx context.Context, in engine.ResolveRoleRequestInput) (RoleRequestResponse, error) {
		rr, err := e.ApproveRoleRequest(ctx, in)
		return roleRequestResponse(rr), err
	})
	resolve("reject", "Reject a CEO role request", func(ctx context.Context, in engine.ResolveRoleRequestInput) (RoleRequestResponse, error) {
		rr, err := e.RejectRoleRequest(ctx, in)
		return roleRequestResponse(rr), err
	})
}
