package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"pathfinder/internal/audit"
	"pathfinder/internal/config"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine/auth"
	"pathfinder/internal/notify"
	"pathfinder/internal/repo"
	"pathfinder/internal/workflow"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Auth     auth.Service
	Machine  workflow.Machine
	Config   *config.Config
	Notifier notify.Dispatcher
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Auth:    auth.Service{Repo: r},
		Machine: workflow.NewMachine(nil),
		Config:  cfg,
		Logger:  slog.Default(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) graph() *workflow.Graph {
	if e.Machine.Graph == nil {
		return workflow.DefaultGraph()
	}
	return e.Machine.Graph
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) recorder() audit.Recorder {
	return audit.Recorder{Now: e.now}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func check(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return workflow.Validation(fmt.Sprintf("invalid %s", strings.Join(fields, ", ")), fields...)
}

type Result struct {
	Project domain.Project    `json:"project"`
	State   workflow.State    `json:"state"`
	Changes []workflow.Change `json:"changes,omitempty"`
}

// recipients selects who hears about a committed change, by role within the
// project's company or by explicit user id.
type recipients struct {
	event   string
	roles   []workflow.Role
	userIDs []string
	payload map[string]any
}

type plan struct {
	outcome workflow.Outcome
	// notes are persisted on the step rows, keyed by step.
	notes  map[workflow.Step]string
	audits []audit.Entry
	// write persists rows owned by the operation itself.
	write  func(ctx context.Context, tx *sql.Tx, now string) error
	notify []recipients
}

type decideFunc func(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Project) (plan, error)

// mutate runs one transition: load, authorize, decide, write, audit, commit,
// then notify. Nothing is written when decide fails.
func (e Engine) mutate(ctx context.Context, projectID, actorID string, decide decideFunc) (Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	actor, err := e.Auth.Actor(ctx, tx, actorID)
	if err != nil {
		return Result{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return Result{}, err
	}
	if !p.Snapshot().Locked() {
		if err := auth.RequireCompany(actor, p.CompanyID); err != nil {
			return Result{}, err
		}
	}
	pl, err := decide(ctx, tx, actor, p)
	if err != nil {
		return Result{}, err
	}

	now := e.timestamp()
	if pl.write != nil {
		if err := pl.write(ctx, tx, now); err != nil {
			return Result{}, err
		}
	}
	updates := make([]repo.StepUpdate, 0, len(pl.outcome.Changes))
	for _, c := range pl.outcome.Changes {
		updates = append(updates, repo.StepUpdate{Step: c.Step, Status: c.To, Note: pl.notes[c.Step]})
	}
	if err := e.Repo.UpdateSteps(ctx, tx, p.ID, actor.ID, updates, now); err != nil {
		return Result{}, err
	}
	expected := p.Version
	p.Apply(pl.outcome.After)
	p.UpdatedAt = now
	if p.Status == workflow.ProjectLocked && p.LockedAt == nil {
		p.LockedAt = &now
	}
	version, err := e.Repo.UpdateProjectState(ctx, tx, p, expected)
	if errors.Is(err, repo.ErrVersionConflict) {
		return Result{}, &workflow.TransitionError{Kind: workflow.ErrInvalidTransition, Detail: "concurrent modification"}
	}
	if err != nil {
		return Result{}, err
	}
	p.Version = version

	for _, entry := range pl.audits {
		entry.ProjectID = p.ID
		entry.ActorID = actor.ID
		e.record(ctx, tx, entry)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	e.deliver(ctx, p.ID, p.CompanyID, pl.notify)
	return Result{Project: p, State: e.Machine.State(p.Snapshot()), Changes: pl.outcome.Changes}, nil
}

// A failed audit write is logged and does not abort the transition.
func (e Engine) record(ctx context.Context, tx *sql.Tx, entry audit.Entry) {
	if _, err := e.recorder().Record(ctx, tx, entry); err != nil {
		e.logger().ErrorContext(ctx, "audit write failed",
			slog.String("project_id", entry.ProjectID),
			slog.String("actor_id", entry.ActorID),
			slog.String("action", entry.Action),
			slog.String("step", entry.Step),
			slog.Any("old", entry.Old),
			slog.Any("new", entry.New),
			slog.Any("error", err))
	}
}

func (e Engine) deliver(ctx context.Context, projectID, companyID string, targets []recipients) {
	if e.Notifier == nil || len(targets) == 0 {
		return
	}
	at := e.now().UTC().Format(time.RFC3339Nano)
	for _, t := range targets {
		users, err := e.resolveRecipients(ctx, companyID, t)
		if err != nil {
			e.logger().WarnContext(ctx, "resolve notification recipients", slog.String("event", t.event), slog.Any("error", err))
			continue
		}
		for _, u := range users {
			n := notify.Notification{Event: t.event, ProjectID: projectID, RecipientID: u.ID, Email: u.Email, Payload: t.payload, At: at}
			if err := e.Notifier.Dispatch(ctx, n); err != nil {
				e.logger().WarnContext(ctx, "notification dispatch failed",
					slog.String("event", n.Event),
					slog.String("recipient_id", n.RecipientID),
					slog.Any("error", err))
			}
		}
	}
}

func (e Engine) resolveRecipients(ctx context.Context, companyID string, t recipients) ([]domain.User, error) {
	if len(t.userIDs) > 0 {
		var users []domain.User
		for _, id := range t.userIDs {
			u, err := e.Repo.GetUser(ctx, nil, id)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		return users, nil
	}
	if len(t.roles) == 0 {
		return nil, nil
	}
	return e.Repo.ListUsers(ctx, nil, companyID, t.roles)
}

func (e Engine) lockRecipients() []workflow.Role {
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	roles := make([]workflow.Role, 0, len(cfg.Notifications.LockRecipients))
	for _, r := range cfg.Notifications.LockRecipients {
		roles = append(roles, workflow.Role(r))
	}
	return roles
}

func stepAudit(action string, c workflow.Change, extra map[string]any) audit.Entry {
	next := map[string]any{"status": c.To}
	for k, v := range extra {
		next[k] = v
	}
	return audit.Entry{
		Action: action,
		Step:   string(c.Step),
		Old:    map[string]any{"status": c.From},
		New:    next,
	}
}

func changeAudits(action string, changes []workflow.Change, extra map[string]any) []audit.Entry {
	out := make([]audit.Entry, 0, len(changes))
	for _, c := range changes {
		out = append(out, stepAudit(action, c, extra))
	}
	return out
}

type CompanyCreateOptions struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required"`
	ActorID string `json:"actor_id"`
}

func (e Engine) CreateCompany(ctx context.Context, opts CompanyCreateOptions) (domain.Company, error) {
	if err := check(opts); err != nil {
		return domain.Company{}, err
	}
	now := e.timestamp()
	c := domain.Company{ID: opts.ID, Name: strings.TrimSpace(opts.Name), CreatedAt: now}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCompany(ctx, tx, c); err != nil {
		return domain.Company{}, fmt.Errorf("insert company: %w", err)
	}
	e.record(ctx, tx, audit.Entry{ActorID: actorOrSystem(opts.ActorID), Action: "company.create", New: c})
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

type UserCreateOptions struct {
	ID        string        `json:"id"`
	Email     string        `json:"email" validate:"required,email"`
	Name      string        `json:"name"`
	Role      workflow.Role `json:"role" validate:"required,oneof=admin ceo hr_manager consultant"`
	CompanyID string        `json:"company_id"`
	ActorID   string        `json:"actor_id"`
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if err := check(opts); err != nil {
		return domain.User{}, err
	}
	if (opts.Role == workflow.RoleCEO || opts.Role == workflow.RoleHRManager) && opts.CompanyID == "" {
		return domain.User{}, workflow.Validation("company required for role "+string(opts.Role), "company_id")
	}
	u := domain.User{ID: opts.ID, Email: strings.ToLower(strings.TrimSpace(opts.Email)), Name: opts.Name, Role: opts.Role, CompanyID: opts.CompanyID, CreatedAt: e.timestamp()}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if u.CompanyID != "" {
		if _, err := e.Repo.GetCompany(ctx, tx, u.CompanyID); err != nil {
			return domain.User{}, fmt.Errorf("company %s: %w", u.CompanyID, err)
		}
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	e.record(ctx, tx, audit.Entry{ActorID: actorOrSystem(opts.ActorID), Action: "user.create", New: u})
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func actorOrSystem(id string) string {
	if strings.TrimSpace(id) == "" {
		return "system"
	}
	return id
}

type StartProjectOptions struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
}

func (e Engine) StartProject(ctx context.Context, opts StartProjectOptions) (Result, error) {
	if err := check(opts); err != nil {
		return Result{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	actor, err := e.Auth.Actor(ctx, tx, opts.ActorID)
	if err != nil {
		return Result{}, err
	}
	if err := auth.RequireRole(actor, workflow.RoleHRManager, workflow.RoleCEO, workflow.RoleAdmin); err != nil {
		return Result{}, err
	}
	if err := auth.RequireCompany(actor, opts.CompanyID); err != nil {
		return Result{}, err
	}
	if _, err := e.Repo.GetCompany(ctx, tx, opts.CompanyID); err != nil {
		return Result{}, fmt.Errorf("company %s: %w", opts.CompanyID, err)
	}
	now := e.timestamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Project{ID: id, CompanyID: opts.CompanyID, Version: 1, CreatedAt: now, UpdatedAt: now}
	p.Apply(workflow.NewSnapshot(e.graph()))
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return Result{}, fmt.Errorf("insert project: %w", err)
	}
	e.record(ctx, tx, audit.Entry{ProjectID: p.ID, ActorID: actor.ID, Action: "project.start", New: map[string]any{"status": p.Status, "current_step": p.CurrentStep}})
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Project: p, State: e.Machine.State(p.Snapshot())}, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

func (e Engine) StepState(ctx context.Context, projectID string) (workflow.State, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return workflow.State{}, err
	}
	return e.Machine.State(p.Snapshot()), nil
}

func (e Engine) GetPayload(ctx context.Context, projectID string, step workflow.Step) (domain.StepPayload, error) {
	kind := e.graph().PayloadKind(step)
	if kind == "" {
		return domain.StepPayload{}, workflow.Validation("step has no payload", "step")
	}
	return e.Repo.GetPayload(ctx, projectID, kind)
}

func (e Engine) ListPayloads(ctx context.Context, projectID string) ([]domain.StepPayload, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListPayloads(ctx, projectID)
}

func (e Engine) ListAudit(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	return e.Repo.ListAudits(ctx, f)
}

type StepInput struct {
	ProjectID string          `json:"project_id" validate:"required"`
	Step      workflow.Step   `json:"step" validate:"required"`
	ActorID   string          `json:"actor_id" validate:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	// Reason is required when rejecting.
	Reason string `json:"reason,omitempty"`
}

func (in StepInput) payloadWriter(g *workflow.Graph) (func(ctx context.Context, tx *sql.Tx, now string) error, error) {
	if len(in.Payload) == 0 {
		return nil, nil
	}
	if !json.Valid(in.Payload) {
		return nil, workflow.Validation("payload must be valid JSON", "payload")
	}
	kind := g.PayloadKind(in.Step)
	if kind == "" {
		return nil, workflow.Validation("step has no payload", "payload")
	}
	r := repo.Repo{}
	return func(ctx context.Context, tx *sql.Tx, now string) error {
		return r.UpsertPayload(ctx, tx, domain.StepPayload{ProjectID: in.ProjectID, Kind: kind, Data: in.Payload, CreatedAt: now, UpdatedAt: now})
	}, nil
}

// SaveDraft stores the step payload and marks the step in progress.
func (e Engine) SaveDraft(ctx context.Context, in StepInput) (Result, error) {
	return e.stepAction(ctx, in, workflow.ActionDraft, "step.draft")
}

func (e Engine) SubmitStep(ctx context.Context, in StepInput) (Result, error) {
	return e.stepAction(ctx, in, workflow.ActionSubmit, "step.submit")
}

func (e Engine) ApproveStep(ctx context.Context, in StepInput) (Result, error) {
	in.Payload = nil
	return e.stepAction(ctx, in, workflow.ActionApprove, "step.approve")
}

// RejectStep marks the step rejected. A reason is required.
func (e Engine) RejectStep(ctx context.Context, in StepInput) (Result, error) {
	in.Payload = nil
	return e.stepAction(ctx, in, workflow.ActionReject, "step.reject")
}

func (e Engine) stepAction(ctx context.Context, in StepInput, action workflow.Action, auditAction string) (Result, error) {
	if err := check(in); err != nil {
		return Result{}, err
	}
	return e.mutate(ctx, in.ProjectID, in.ActorID, func(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Project) (plan, error) {
		out, err := e.Machine.Apply(p.Snapshot(), workflow.Request{Action: action, Step: in.Step, Role: actor.Role, Reason: in.Reason})
		if err != nil {
			return plan{}, err
		}
		write, err := in.payloadWriter(e.graph())
		if err != nil {
			return plan{}, err
		}
		pl := plan{outcome: out, write: write}
		var extra map[string]any
		switch action {
		case workflow.ActionReject:
			reason := strings.TrimSpace(in.Reason)
			pl.notes = map[workflow.Step]string{in.Step: reason}
			extra = map[string]any{"reason": reason}
			pl.notify = append(pl.notify, recipients{event: notify.EventStepRejected, roles: []workflow.Role{workflow.RoleHRManager}, payload: map[string]any{"step": in.Step, "reason": reason}})
		case workflow.ActionSubmit:
			pl.notify = append(pl.notify, recipients{event: notify.EventStepSubmitted, roles: []workflow.Role{workflow.RoleCEO}, payload: map[string]any{"step": in.Step}})
		}
		if len(in.Payload) > 0 {
			if extra == nil {
				extra = map[string]any{}
			}
			extra["payload"] = in.Payload
		}
		pl.audits = changeAudits(auditAction, out.Changes, extra)
		return pl, nil
	})
}

type LockInput struct {
	ProjectID string `json:"project_id" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
}

// LockProject freezes a project whose CEO approval is granted. It cannot be undone.
func (e Engine) LockProject(ctx context.Context, in LockInput) (Result, error) {
	if err := check(in); err != nil {
		return Result{}, err
	}
	return e.mutate(ctx, in.ProjectID, in.ActorID, func(ctx context.Context, tx *sql.Tx, actor domain.Actor, p domain.Project) (plan, error) {
		out, err := e.Machine.Lock(p.Snapshot(), actor.Role)
		if err != nil {
			return plan{}, err
		}
		return plan{
			outcome: out,
			audits:  []audit.Entry{lockAudit(out)},
			notify:  []recipients{{event: notify.EventProjectLocked, roles: e.lockRecipients()}},
		}, nil
	})
}

func lockAudit(out workflow.Outcome) audit.Entry {
	return audit.Entry{
		Action: "project.lock",
		Step:   string(workflow.StepDashboard),
		Old:    map[string]any{"status": out.Before.Status, "current_step": out.Before.Current},
		New:    map[string]any{"status": out.After.Status, "current_step": out.After.Current},
	}
}
