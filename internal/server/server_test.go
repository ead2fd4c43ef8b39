package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathfinder/internal/config"
	"pathfinder/internal/db"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/migrate"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")

	e := engine.New(conn, config.Default())
	ctx := context.Background()
	for _, c := range []engine.CompanyCreateOptions{{ID: "c1", Name: "Acme"}, {ID: "c2", Name: "Other"}} {
		_, err := e.CreateCompany(ctx, c)
		require.NoError(t, err)
	}
	for _, u := range []engine.UserCreateOptions{
		{ID: "u-admin", Email: "admin@example.com", Role: workflow.RoleAdmin},
		{ID: "u-hr", Email: "hr@acme.test", Role: workflow.RoleHRManager, CompanyID: "c1"},
		{ID: "u-ceo", Email: "ceo@acme.test", Role: workflow.RoleCEO, CompanyID: "c1"},
		{ID: "u-consultant", Email: "consultant@example.com", Role: workflow.RoleConsultant},
		{ID: "u-outsider", Email: "hr@other.test", Role: workflow.RoleHRManager, CompanyID: "c2"},
	} {
		_, err := e.CreateUser(ctx, u)
		require.NoError(t, err, "create user %s", u.ID)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true}})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String() + "/v1",
		Engine: e,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

// call issues a request and asserts its status code.
func (s *testServer) call(t *testing.T, actor, method, path string, body any, want int) []byte {
	t.Helper()
	res, data := doJSON(t, s.Client(), method, s.URL+path, body, as(actor))
	require.Equal(t, want, res.StatusCode, "%s %s: %s", method, path, string(data))
	return data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func (s *testServer) startProject(t *testing.T) string {
	t.Helper()
	data := s.call(t, "u-hr", http.MethodPost, "/projects", map[string]any{"id": "p1", "company_id": "c1"}, http.StatusCreated)
	var tr TransitionResponse
	require.NoError(t, json.Unmarshal(data, &tr))
	return tr.Project.ID
}

func (s *testServer) submitWork(t *testing.T, projectID string) {
	t.Helper()
	for _, step := range []struct{ actor, step string }{
		{"u-hr", "diagnosis"},
		{"u-ceo", "ceo_philosophy"},
		{"u-hr", "organization"},
		{"u-hr", "performance"},
		{"u-hr", "compensation"},
	} {
		s.call(t, step.actor, http.MethodPost, "/projects/"+projectID+"/steps/"+step.step+"/submit", nil, http.StatusOK)
	}
	s.call(t, "u-consultant", http.MethodPost, "/projects/"+projectID+"/consultant-reviews", map[string]any{"opinions": "sound design"}, http.StatusCreated)
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestBearerTokenAndAPIKey(t *testing.T) {
	srv := newTestServer(t)
	token, err := SignToken(testSecret, "u-ceo", time.Hour)
	require.NoError(t, err)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "u-ceo", who.ActorID)
	assert.Equal(t, "ceo", who.Role)
	assert.Equal(t, "c1", who.CompanyID)
	assert.Equal(t, "jwt", who.Source)

	require.NoError(t, srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{ID: "k1", UserID: "u-hr", Name: "ci", KeyHash: repo.HashAPIKey("secret-key")}))
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": "secret-key"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "u-hr", who.ActorID)
	assert.Equal(t, "api_key", who.Source)
}

func TestWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	projectID := srv.startProject(t)

	// Nothing downstream of the diagnosis gate is enterable yet.
	data := srv.call(t, "u-hr", http.MethodPost, "/projects/"+projectID+"/steps/organization/submit", nil, http.StatusConflict)
	assert.Equal(t, "prerequisite_not_met", errorCode(t, data))

	srv.call(t, "u-hr", http.MethodPut, "/projects/"+projectID+"/steps/diagnosis/draft", map[string]any{"payload": map[string]any{"headcount": 42}}, http.StatusOK)
	data = srv.call(t, "u-hr", http.MethodGet, "/projects/"+projectID+"/steps/diagnosis/payload", nil, http.StatusOK)
	var payload StepPayloadResponse
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.EqualValues(t, 42, payload.Payload["headcount"])

	srv.submitWork(t, projectID)

	data = srv.call(t, "u-hr", http.MethodGet, "/projects/"+projectID+"/steps", nil, http.StatusOK)
	var state StepStateResponse
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "ceo_approval", state.CurrentStep)

	data = srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/ceo-decisions", map[string]any{"decision": "approve"}, http.StatusCreated)
	var decision CeoDecisionResponse
	require.NoError(t, json.Unmarshal(data, &decision))
	assert.Equal(t, "locked", decision.Project.Status)
	assert.Equal(t, "approve", decision.Decision.Decision)
	assert.NotNil(t, decision.Project.LockedAt)

	data = srv.call(t, "u-hr", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/submit", nil, http.StatusLocked)
	assert.Equal(t, "already_locked", errorCode(t, data))

	data = srv.call(t, "u-hr", http.MethodGet, "/projects/"+projectID+"/audit", nil, http.StatusOK)
	var entries []AuditEntryResponse
	require.NoError(t, json.Unmarshal(data, &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "project.start", entries[0].Action)
	assert.Equal(t, "project.lock", entries[len(entries)-1].Action)

	data = srv.call(t, "u-hr", http.MethodGet, "/projects/"+projectID+"/audit?after_id="+jsonInt(entries[len(entries)-2].ID), nil, http.StatusOK)
	var tail []AuditEntryResponse
	require.NoError(t, json.Unmarshal(data, &tail))
	require.Len(t, tail, 1)
	assert.Equal(t, "project.lock", tail[0].Action)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRequestChangesOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	projectID := srv.startProject(t)
	srv.submitWork(t, projectID)

	data := srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/steps/compensation/request-changes", map[string]any{}, http.StatusUnprocessableEntity)
	assert.Equal(t, "validation_failed", errorCode(t, data))

	data = srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/steps/compensation/request-changes", map[string]any{"comments": "rebalance bands"}, http.StatusOK)
	var decision CeoDecisionResponse
	require.NoError(t, json.Unmarshal(data, &decision))
	assert.Equal(t, "in_progress", decision.Project.Steps["compensation"])
	assert.Equal(t, "compensation", decision.Decision.TargetStep)

	data = srv.call(t, "u-ceo", http.MethodGet, "/projects/"+projectID+"/ceo-decisions", nil, http.StatusOK)
	var decisions []CeoApprovalResponse
	require.NoError(t, json.Unmarshal(data, &decisions))
	require.Len(t, decisions, 1)
	assert.Equal(t, "request_changes", decisions[0].Decision)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	projectID := srv.startProject(t)

	data := srv.call(t, "u-outsider", http.MethodGet, "/projects/"+projectID, nil, http.StatusForbidden)
	assert.Equal(t, "forbidden", errorCode(t, data))

	data = srv.call(t, "u-consultant", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/submit", nil, http.StatusForbidden)
	assert.Equal(t, "forbidden", errorCode(t, data))

	data = srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/approve", nil, http.StatusConflict)
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	data = srv.call(t, "u-hr", http.MethodPost, "/projects/"+projectID+"/steps/unknown/submit", nil, http.StatusUnprocessableEntity)
	assert.Equal(t, "validation_failed", errorCode(t, data))

	data = srv.call(t, "u-hr", http.MethodGet, "/projects/missing", nil, http.StatusNotFound)
	assert.Equal(t, "not_found", errorCode(t, data))

	data = srv.call(t, "nobody", http.MethodGet, "/projects/"+projectID, nil, http.StatusForbidden)
	assert.Equal(t, "forbidden", errorCode(t, data))

	srv.call(t, "u-hr", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/submit", nil, http.StatusOK)
	data = srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/reject", nil, http.StatusUnprocessableEntity)
	assert.Equal(t, "validation_failed", errorCode(t, data))
	srv.call(t, "u-ceo", http.MethodPost, "/projects/"+projectID+"/steps/diagnosis/reject", map[string]any{"reason": "missing data"}, http.StatusOK)
}

func TestListProjectsScopedToCompany(t *testing.T) {
	srv := newTestServer(t)
	srv.startProject(t)

	data := srv.call(t, "u-outsider", http.MethodGet, "/projects", nil, http.StatusOK)
	var items []ProjectResponse
	require.NoError(t, json.Unmarshal(data, &items))
	assert.Empty(t, items)

	data = srv.call(t, "u-consultant", http.MethodGet, "/projects", nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "c1", items[0].CompanyID)

	srv.call(t, "u-outsider", http.MethodGet, "/projects?company_id=c1", nil, http.StatusForbidden)
}

func TestRoleRequestsOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	data := srv.call(t, "u-outsider", http.MethodPost, "/role-requests", map[string]any{"company_id": "c2"}, http.StatusCreated)
	var rr RoleRequestResponse
	require.NoError(t, json.Unmarshal(data, &rr))
	assert.Equal(t, "pending", rr.Status)

	srv.call(t, "u-hr", http.MethodGet, "/role-requests", nil, http.StatusForbidden)
	data = srv.call(t, "u-admin", http.MethodGet, "/role-requests?status=pending", nil, http.StatusOK)
	var items []RoleRequestResponse
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 1)

	srv.call(t, "u-hr", http.MethodPost, "/role-requests/"+rr.ID+"/approve", nil, http.StatusForbidden)
	srv.call(t, "u-admin", http.MethodPost, "/role-requests/"+rr.ID+"/approve", nil, http.StatusOK)

	data = srv.call(t, "u-admin", http.MethodPost, "/role-requests/"+rr.ID+"/reject", map[string]any{"reason": "late"}, http.StatusConflict)
	assert.Equal(t, "already_processed", errorCode(t, data))

	data = srv.call(t, "u-outsider", http.MethodGet, "/me", nil, http.StatusOK)
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "ceo", who.Role)
}

func TestOpenAPIServed(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "paths")
}
