package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathfinder/internal/config"
	"pathfinder/internal/db"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/migrate"
	"pathfinder/internal/notify"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

type sentNotifications struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *sentNotifications) Dispatch(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *sentNotifications) events(event string) []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Notification
	for _, n := range s.got {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Sent    *sentNotifications
	Project string
}

const (
	adminID      = "u-admin"
	hrID         = "u-hr"
	ceoID        = "u-ceo"
	consultantID = "u-consultant"
	outsiderID   = "u-outsider"
)

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	sent := &sentNotifications{}
	eng.Notifier = sent
	ctx := context.Background()

	for _, c := range []engine.CompanyCreateOptions{{ID: "c1", Name: "Acme"}, {ID: "c2", Name: "Other"}} {
		if _, err := eng.CreateCompany(ctx, c); err != nil {
			t.Fatalf("create company: %v", err)
		}
	}
	users := []engine.UserCreateOptions{
		{ID: adminID, Email: "admin@example.com", Role: workflow.RoleAdmin},
		{ID: hrID, Email: "hr@acme.test", Role: workflow.RoleHRManager, CompanyID: "c1"},
		{ID: ceoID, Email: "ceo@acme.test", Role: workflow.RoleCEO, CompanyID: "c1"},
		{ID: consultantID, Email: "consultant@example.com", Role: workflow.RoleConsultant},
		{ID: outsiderID, Email: "hr@other.test", Role: workflow.RoleHRManager, CompanyID: "c2"},
	}
	for _, u := range users {
		if _, err := eng.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
	}
	res, err := eng.StartProject(ctx, engine.StartProjectOptions{ID: "p1", CompanyID: "c1", ActorID: hrID})
	if err != nil {
		t.Fatalf("start project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Sent: sent, Project: res.Project.ID}
}

func (env testEnv) submit(t *testing.T, step workflow.Step, actor string) engine.Result {
	t.Helper()
	res, err := env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: step, ActorID: actor})
	require.NoError(t, err, "submit %s", step)
	return res
}

// throughReview drives a project to the point where the CEO decides.
func (env testEnv) throughReview(t *testing.T) {
	t.Helper()
	env.submit(t, workflow.StepDiagnosis, hrID)
	env.submit(t, workflow.StepCeoPhilosophy, ceoID)
	env.submit(t, workflow.StepOrganization, hrID)
	env.submit(t, workflow.StepPerformance, hrID)
	env.submit(t, workflow.StepCompensation, hrID)
	_, err := env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID, Opinions: "sound design"})
	require.NoError(t, err)
}

func TestStartProject(t *testing.T) {
	env := newTestEnv(t, nil)
	p, err := env.Engine.GetProject(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectNotStarted, p.Status)
	assert.Equal(t, workflow.StepDiagnosis, p.CurrentStep)
	assert.EqualValues(t, 1, p.Version)
	for _, step := range workflow.DefaultGraph().WorkSteps() {
		assert.Equal(t, workflow.StatusNotStarted, p.Steps[step], step)
	}

	_, err = env.Engine.StartProject(env.Ctx, engine.StartProjectOptions{CompanyID: "c1", ActorID: consultantID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.Engine.StartProject(env.Ctx, engine.StartProjectOptions{CompanyID: "c1", ActorID: outsiderID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.Engine.StartProject(env.Ctx, engine.StartProjectOptions{ActorID: hrID})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
}

func TestScenarioApproveLocksProject(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.submit(t, workflow.StepDiagnosis, hrID)
	assert.Equal(t, workflow.StatusSubmitted, res.Project.Steps[workflow.StepDiagnosis])
	assert.Equal(t, workflow.StepDiagnosis, res.Project.CurrentStep)
	org, _ := res.State.Step(workflow.StepOrganization)
	assert.False(t, org.Enterable)

	res = env.submit(t, workflow.StepCeoPhilosophy, ceoID)
	assert.Equal(t, workflow.StepOrganization, res.Project.CurrentStep)
	assert.Equal(t, workflow.StatusSubmitted, res.Project.Steps[workflow.StepDiagnosis])

	res = env.submit(t, workflow.StepOrganization, hrID)
	assert.Equal(t, workflow.StepPerformance, res.Project.CurrentStep)
	res = env.submit(t, workflow.StepPerformance, hrID)
	assert.Equal(t, workflow.StepCompensation, res.Project.CurrentStep)
	res = env.submit(t, workflow.StepCompensation, hrID)
	assert.Equal(t, workflow.StepConsultantReview, res.Project.CurrentStep)

	review, err := env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID, Opinions: "balanced"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StepCeoApproval, review.Project.CurrentStep)

	decision, err := env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{ProjectID: env.Project, ActorID: ceoID, Decision: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, decision.Project.Status)
	assert.Equal(t, workflow.StepDashboard, decision.Project.CurrentStep)
	require.NotNil(t, decision.Project.LockedAt)
	for _, step := range workflow.DefaultGraph().WorkSteps() {
		assert.Equal(t, workflow.StatusLocked, decision.Project.Steps[step], step)
	}

	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepCompensation, ActorID: hrID})
	assert.ErrorIs(t, err, workflow.ErrAlreadyLocked)

	locked := env.Sent.events(notify.EventProjectLocked)
	var recipients []string
	for _, n := range locked {
		recipients = append(recipients, n.RecipientID)
	}
	assert.ElementsMatch(t, []string{hrID, ceoID}, recipients)
}

func TestScenarioRequestChangesReopensTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	env.throughReview(t)
	_, err := env.Engine.ApproveStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: consultantID})
	require.NoError(t, err)
	_, err = env.Engine.ApproveStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepPerformance, ActorID: consultantID})
	require.NoError(t, err)

	res, err := env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{
		ProjectID:  env.Project,
		ActorID:    ceoID,
		Decision:   domain.DecisionRequestChanges,
		TargetStep: workflow.StepCompensation,
		Comments:   "adjust incentive mix",
	})
	require.NoError(t, err)
	p := res.Project
	assert.Equal(t, workflow.StatusInProgress, p.Steps[workflow.StepCompensation])
	assert.Equal(t, workflow.StepCompensation, p.CurrentStep)
	assert.Equal(t, workflow.StatusRejected, p.Steps[workflow.StepCeoApproval])
	assert.Equal(t, workflow.StatusApproved, p.Steps[workflow.StepPerformance])
	assert.Equal(t, workflow.StatusApproved, p.Steps[workflow.StepOrganization])
	assert.Equal(t, workflow.StatusSubmitted, p.Steps[workflow.StepDiagnosis])
	assert.Equal(t, workflow.ProjectInProgress, p.Status)

	entries, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{ProjectID: env.Project})
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action != "ceo_decision.request_changes" || e.Step != string(workflow.StepCompensation) {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal(e.NewData, &data))
		assert.Equal(t, "adjust incentive mix", data["comments"])
		assert.Equal(t, ceoID, e.ActorID)
		found = true
	}
	assert.True(t, found, "audit entry for change request")

	latest, err := env.Engine.LatestCeoDecision(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRequestChanges, latest.Decision)
	assert.Equal(t, workflow.StepCompensation, latest.TargetStep)

	// Revised compensation returns the project to the CEO, who can now approve.
	resubmitted := env.submit(t, workflow.StepCompensation, hrID)
	assert.Equal(t, workflow.StepCeoApproval, resubmitted.Project.CurrentStep)
	dec, err := env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{ProjectID: env.Project, ActorID: ceoID, Decision: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, dec.Project.Status)

	decisions, err := env.Engine.ListCeoDecisions(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)
}

func TestRequestChangesEndpointValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.throughReview(t)
	_, err := env.Engine.RequestChanges(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: ceoID})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
	_, err = env.Engine.RequestChanges(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepConsultantReview, ActorID: ceoID, Reason: "redo"})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
	_, err = env.Engine.RequestChanges(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: hrID, Reason: "redo"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	res, err := env.Engine.RequestChanges(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: ceoID, Reason: "flatten layers"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StepOrganization, res.Project.CurrentStep)
	perf, _ := res.State.Step(workflow.StepPerformance)
	assert.False(t, perf.Enterable)
	assert.Equal(t, workflow.StatusSubmitted, res.Project.Steps[workflow.StepPerformance])
}

func TestRejectThenResubmit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, workflow.StepDiagnosis, hrID)
	env.submit(t, workflow.StepCeoPhilosophy, ceoID)
	env.submit(t, workflow.StepOrganization, hrID)
	_, err := env.Engine.ApproveStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: consultantID})
	require.NoError(t, err)

	_, err = env.Engine.RejectStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: consultantID, Reason: "  "})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	res, err := env.Engine.RejectStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: consultantID, Reason: "too many layers"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, res.Project.Steps[workflow.StepOrganization])
	assert.Equal(t, workflow.StepOrganization, res.Project.CurrentStep)
	note, err := env.Engine.Repo.StepNote(env.Ctx, env.Project, workflow.StepOrganization)
	require.NoError(t, err)
	assert.Equal(t, "too many layers", note)
	assert.Len(t, env.Sent.events(notify.EventStepRejected), 1)

	res = env.submit(t, workflow.StepOrganization, hrID)
	assert.Equal(t, workflow.StatusSubmitted, res.Project.Steps[workflow.StepOrganization])
	assert.Equal(t, workflow.StatusApproved, res.Project.Steps[workflow.StepDiagnosis])
	assert.Equal(t, workflow.StepPerformance, res.Project.CurrentStep)
}

func TestSubmitRequiresPrerequisites(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, step := range []workflow.Step{workflow.StepOrganization, workflow.StepPerformance, workflow.StepCompensation} {
		_, err := env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: step, ActorID: hrID})
		assert.ErrorIs(t, err, workflow.ErrPrerequisiteNotMet, step)
	}
	_, err := env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepCeoPhilosophy, ActorID: ceoID})
	assert.ErrorIs(t, err, workflow.ErrPrerequisiteNotMet)
	_, err = env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID, Opinions: "early"})
	assert.ErrorIs(t, err, workflow.ErrPrerequisiteNotMet)

	p, err := env.Engine.GetProject(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version, "failed transitions must not write")
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: consultantID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: outsiderID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: "nobody"})
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: "missing", Step: workflow.StepDiagnosis, ActorID: hrID})
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: "payroll", ActorID: hrID})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
}

func TestDraftStoresPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := json.RawMessage(`{"headcount":120,"pain_points":["turnover"]}`)
	res, err := env.Engine.SaveDraft(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: hrID, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, res.Project.Steps[workflow.StepDiagnosis])
	assert.Equal(t, workflow.ProjectInProgress, res.Project.Status)

	stored, err := env.Engine.GetPayload(env.Ctx, env.Project, workflow.StepDiagnosis)
	require.NoError(t, err)
	assert.Equal(t, "diagnosis", stored.Kind)
	assert.JSONEq(t, string(payload), string(stored.Data))

	_, err = env.Engine.SaveDraft(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: hrID, Payload: json.RawMessage(`{broken`)})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	next := json.RawMessage(`{"headcount":130}`)
	_, err = env.Engine.SubmitStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: hrID, Payload: next})
	require.NoError(t, err)
	stored, err = env.Engine.GetPayload(env.Ctx, env.Project, workflow.StepDiagnosis)
	require.NoError(t, err)
	assert.JSONEq(t, string(next), string(stored.Data))

	items, err := env.Engine.ListPayloads(env.Ctx, env.Project)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "diagnosis", items[0].Kind)
	_, err = env.Engine.ListPayloads(env.Ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestManualLockWhenAutoLockDisabled(t *testing.T) {
	cfg, err := config.FromYAML([]byte("workflow:\n  auto_lock_on_ceo_approval: false\n"))
	require.NoError(t, err)
	env := newTestEnv(t, cfg)

	_, err = env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: adminID})
	assert.ErrorIs(t, err, workflow.ErrPrerequisiteNotMet)

	env.throughReview(t)
	res, err := env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{ProjectID: env.Project, ActorID: ceoID, Decision: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, res.Project.Steps[workflow.StepCeoApproval])
	assert.Equal(t, workflow.ProjectInProgress, res.Project.Status)
	assert.Equal(t, workflow.StepCeoApproval, res.Project.CurrentStep)

	_, err = env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: hrID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	locked, err := env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: adminID})
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, locked.Project.Status)

	attempts := []func() error{
		func() error {
			_, err := env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: adminID})
			return err
		},
		func() error {
			_, err := env.Engine.SaveDraft(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepDiagnosis, ActorID: hrID})
			return err
		},
		func() error {
			_, err := env.Engine.RejectStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepPerformance, ActorID: consultantID, Reason: "late"})
			return err
		},
		func() error {
			_, err := env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID, Opinions: "late"})
			return err
		},
		func() error {
			_, err := env.Engine.RequestChanges(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepPerformance, ActorID: ceoID, Reason: "late"})
			return err
		},
	}
	for i, attempt := range attempts {
		assert.ErrorIs(t, attempt(), workflow.ErrAlreadyLocked, "attempt %d", i)
	}
}

func TestLockRefusedAfterLaterRejection(t *testing.T) {
	cfg, err := config.FromYAML([]byte("workflow:\n  auto_lock_on_ceo_approval: false\n"))
	require.NoError(t, err)
	env := newTestEnv(t, cfg)
	env.throughReview(t)
	_, err = env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{ProjectID: env.Project, ActorID: ceoID, Decision: domain.DecisionApprove})
	require.NoError(t, err)

	rejected, err := env.Engine.RejectStep(env.Ctx, engine.StepInput{ProjectID: env.Project, Step: workflow.StepOrganization, ActorID: consultantID, Reason: "redo"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StepOrganization, rejected.Project.CurrentStep)

	_, err = env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: adminID})
	assert.ErrorIs(t, err, workflow.ErrPrerequisiteNotMet)
	p, err := env.Engine.GetProject(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectInProgress, p.Status)
	assert.Equal(t, workflow.StatusRejected, p.Steps[workflow.StepOrganization])

	env.submit(t, workflow.StepOrganization, hrID)
	locked, err := env.Engine.LockProject(env.Ctx, engine.LockInput{ProjectID: env.Project, ActorID: adminID})
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, locked.Project.Status)
}

func TestConsultantReviewsKeepHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.throughReview(t)
	_, err := env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID, Opinions: "second look"})
	require.NoError(t, err)
	_, err = env.Engine.RecordConsultantReview(env.Ctx, engine.ReviewInput{ProjectID: env.Project, ActorID: consultantID})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)

	reviews, err := env.Engine.ListConsultantReviews(env.Ctx, env.Project)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "second look", reviews[1].Opinions)

	_, err = env.Engine.DB.Exec(`DELETE FROM consultant_reviews`)
	assert.Error(t, err)
}

func TestRoleRequestResolvedOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{ID: "u-new", Email: "founder@acme.test", Role: workflow.RoleConsultant})
	require.NoError(t, err)

	rr, err := env.Engine.CreateRoleRequest(env.Ctx, engine.RoleRequestInput{UserID: u.ID, CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequestPending, rr.Status)
	_, err = env.Engine.CreateRoleRequest(env.Ctx, engine.RoleRequestInput{UserID: u.ID, CompanyID: "c1"})
	assert.ErrorIs(t, err, workflow.ErrAlreadyProcessed)

	_, err = env.Engine.ApproveRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: ceoID})
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	approved, err := env.Engine.ApproveRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: adminID})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequestApproved, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, adminID, *approved.ProcessedBy)

	granted, err := env.Engine.Repo.GetUser(env.Ctx, nil, u.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleCEO, granted.Role)
	assert.Equal(t, "c1", granted.CompanyID)
	require.Len(t, env.Sent.events(notify.EventCeoRoleApproved), 1)
	assert.Equal(t, u.ID, env.Sent.events(notify.EventCeoRoleApproved)[0].RecipientID)

	_, err = env.Engine.ApproveRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: adminID})
	assert.ErrorIs(t, err, workflow.ErrAlreadyProcessed)
	_, err = env.Engine.RejectRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: adminID, Reason: "changed mind"})
	assert.ErrorIs(t, err, workflow.ErrAlreadyProcessed)

	after, err := env.Engine.GetRoleRequest(env.Ctx, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, approved, after)
}

func TestRoleRequestRejectNeedsReason(t *testing.T) {
	env := newTestEnv(t, nil)
	rr, err := env.Engine.CreateRoleRequest(env.Ctx, engine.RoleRequestInput{UserID: consultantID, CompanyID: "c2"})
	require.NoError(t, err)
	_, err = env.Engine.RejectRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: adminID})
	assert.ErrorIs(t, err, workflow.ErrValidationFailed)
	rejected, err := env.Engine.RejectRoleRequest(env.Ctx, engine.ResolveRoleRequestInput{ID: rr.ID, ActorID: adminID, Reason: "not the founder"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequestRejected, rejected.Status)
	assert.Equal(t, "not the founder", rejected.Reason)

	u, err := env.Engine.Repo.GetUser(env.Ctx, nil, consultantID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleConsultant, u.Role)

	pending, err := env.Engine.ListRoleRequests(env.Ctx, domain.RoleRequestPending, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	p, err := env.Engine.GetProject(env.Ctx, env.Project)
	require.NoError(t, err)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	v, err := env.Engine.Repo.UpdateProjectState(env.Ctx, tx, p, p.Version)
	require.NoError(t, err)
	assert.Equal(t, p.Version+1, v)
	_, err = env.Engine.Repo.UpdateProjectState(env.Ctx, tx, p, p.Version)
	assert.True(t, errors.Is(err, repo.ErrVersionConflict))
}

func TestAuditIsAppendOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, workflow.StepDiagnosis, hrID)

	entries, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{ProjectID: env.Project})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "project.start", entries[0].Action)
	assert.Equal(t, "step.submit", entries[1].Action)
	assert.JSONEq(t, `{"status":"not_started"}`, string(entries[1].OldData))

	_, err = env.Engine.DB.Exec(`UPDATE hr_project_audits SET action='x'`)
	assert.Error(t, err)
	_, err = env.Engine.DB.Exec(`DELETE FROM hr_project_audits`)
	assert.Error(t, err)
}

func TestNotificationFailureDoesNotRollback(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Engine.Notifier = notify.Func(func(context.Context, notify.Notification) error {
		return errors.New("smtp down")
	})
	env.throughReview(t)
	res, err := env.Engine.RecordCeoDecision(env.Ctx, engine.DecisionInput{ProjectID: env.Project, ActorID: ceoID, Decision: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, res.Project.Status)
	p, err := env.Engine.GetProject(env.Ctx, env.Project)
	require.NoError(t, err)
	assert.Equal(t, workflow.ProjectLocked, p.Status)
}
