package pathfindersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pathfinder HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string            `json:"id"`
	CompanyID   string            `json:"company_id"`
	Status      string            `json:"status"`
	CurrentStep string            `json:"current_step"`
	Version     int64             `json:"version"`
	Steps       map[string]string `json:"steps"`
	LockedAt    *string           `json:"locked_at,omitempty"`
}

type StepView struct {
	Step      string `json:"step"`
	Status    string `json:"status"`
	Enterable bool   `json:"enterable"`
	Current   bool   `json:"current"`
}

type StepState struct {
	ProjectStatus string     `json:"project_status"`
	CurrentStep   string     `json:"current_step"`
	Steps         []StepView `json:"steps"`
}

type Change struct {
	Step string `json:"step"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Transition is returned by every workflow mutation.
type Transition struct {
	Project Project   `json:"project"`
	State   StepState `json:"state"`
	Changes []Change  `json:"changes"`
}

type CeoDecision struct {
	ID         string `json:"id"`
	Decision   string `json:"decision"`
	TargetStep string `json:"target_step,omitempty"`
	Comments   string `json:"comments,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type AuditEntry struct {
	ID        int64  `json:"id"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	Step      string `json:"step,omitempty"`
	OldData   any    `json:"old_data,omitempty"`
	NewData   any    `json:"new_data,omitempty"`
	CreatedAt string `json:"created_at"`
}

type RoleRequest struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartProject opens a design project for a company.
func (c *Client) StartProject(ctx context.Context, id, companyID string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"id": id, "company_id": companyID}, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, ""), nil, &resp)
	return resp, err
}

func (c *Client) StepState(ctx context.Context, projectID string) (StepState, error) {
	var resp StepState
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "steps"), nil, &resp)
	return resp, err
}

// SaveDraft stores a step payload without submitting it.
func (c *Client) SaveDraft(ctx context.Context, projectID, step string, payload map[string]any) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPut, c.stepPath(projectID, step, "draft"), map[string]any{"payload": payload}, &resp)
	return resp, err
}

// SubmitStep submits a step. payload may be nil.
func (c *Client) SubmitStep(ctx context.Context, projectID, step string, payload map[string]any) (Transition, error) {
	var body any
	if payload != nil {
		body = map[string]any{"payload": payload}
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.stepPath(projectID, step, "submit"), body, &resp)
	return resp, err
}

func (c *Client) ApproveStep(ctx context.Context, projectID, step string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.stepPath(projectID, step, "approve"), nil, &resp)
	return resp, err
}

func (c *Client) RejectStep(ctx context.Context, projectID, step, reason string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.stepPath(projectID, step, "reject"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RecordConsultantReview records the consultant's opinions on the design.
func (c *Client) RecordConsultantReview(ctx context.Context, projectID, opinions string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "consultant-reviews"), map[string]any{"opinions": opinions}, &resp)
	return resp, err
}

// Decide records a CEO decision. target and comments apply to request_changes.
func (c *Client) Decide(ctx context.Context, projectID, decision, target, comments string) (Transition, CeoDecision, error) {
	var resp struct {
		Transition
		Decision CeoDecision `json:"decision"`
	}
	body := map[string]any{"decision": decision, "target_step": target, "comments": comments}
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "ceo-decisions"), body, &resp)
	return resp.Transition, resp.Decision, err
}

func (c *Client) Lock(ctx context.Context, projectID string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "lock"), nil, &resp)
	return resp, err
}

// Audit returns audit entries with an id greater than afterID.
func (c *Client) Audit(ctx context.Context, projectID string, afterID int64, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after_id", fmt.Sprint(afterID))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.projectPath(projectID, "audit")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) RequestCeoRole(ctx context.Context, companyID string) (RoleRequest, error) {
	var resp RoleRequest
	err := c.do(ctx, http.MethodPost, "role-requests", map[string]any{"company_id": companyID}, &resp)
	return resp, err
}

func (c *Client) ApproveRoleRequest(ctx context.Context, id string) (RoleRequest, error) {
	var resp RoleRequest
	err := c.do(ctx, http.MethodPost, "role-requests/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

func (c *Client) RejectRoleRequest(ctx context.Context, id, reason string) (RoleRequest, error) {
	var resp RoleRequest
	err := c.do(ctx, http.MethodPost, "role-requests/"+url.PathEscape(id)+"/reject", map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	base := "projects/" + url.PathEscape(projectID)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) stepPath(projectID, step, action string) string {
	return c.projectPath(projectID, "steps/"+url.PathEscape(step)+"/"+action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
