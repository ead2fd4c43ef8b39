package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pathfinder/internal/domain"
	"pathfinder/internal/workflow"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set, otherwise the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const projectColumns = `id,company_id,status,current_step,version,created_at,updated_at,locked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var status, current string
	var lockedAt sql.NullString
	err := row.Scan(&p.ID, &p.CompanyID, &status, &current, &p.Version, &p.CreatedAt, &p.UpdatedAt, &lockedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = workflow.ProjectStatus(status)
	p.CurrentStep = workflow.Step(current)
	if lockedAt.Valid {
		p.LockedAt = &lockedAt.String
	}
	return p, nil
}

// InsertProject stores the project row and one status row per step.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.CompanyID, string(p.Status), string(p.CurrentStep), p.Version, p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.LockedAt)); err != nil {
		return err
	}
	for step, status := range p.Steps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_steps(project_id,step,status,updated_at) VALUES (?,?,?,?)`,
			p.ID, string(step), string(status), p.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return r.getProject(ctx, tx, id)
}

func (r Repo) getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	steps, err := listSteps(ctx, q, id)
	if err != nil {
		return p, err
	}
	p.Steps = steps
	return p, nil
}

func listSteps(ctx context.Context, q querier, projectID string) (map[workflow.Step]workflow.StepStatus, error) {
	rows, err := q.QueryContext(ctx, `SELECT step,status FROM project_steps WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	steps := map[workflow.Step]workflow.StepStatus{}
	for rows.Next() {
		var step, status string
		if err := rows.Scan(&step, &status); err != nil {
			return nil, err
		}
		steps[workflow.Step(step)] = workflow.StepStatus(status)
	}
	return steps, rows.Err()
}

type ProjectFilters struct {
	CompanyID string
	Status    string
	Limit     int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		steps, err := listSteps(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Steps = steps
	}
	return res, nil
}

// UpdateProjectState writes status, current step and lock time, bumping the
// version. It fails with ErrVersionConflict when the row moved since it was read.
func (r Repo) UpdateProjectState(ctx context.Context, tx *sql.Tx, p domain.Project, expectedVersion int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, current_step=?, locked_at=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		string(p.Status), string(p.CurrentStep), nullableStringPtr(p.LockedAt), p.UpdatedAt, p.ID, expectedVersion)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

// StepUpdate is one persisted status change.
type StepUpdate struct {
	Step   workflow.Step
	Status workflow.StepStatus
	Note   string
}

func (r Repo) UpdateSteps(ctx context.Context, tx *sql.Tx, projectID, actorID string, updates []StepUpdate, now string) error {
	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `INSERT INTO project_steps(project_id,step,status,note,updated_by,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(project_id,step) DO UPDATE SET status=excluded.status, note=excluded.note, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
			projectID, string(u.Step), string(u.Status), nullable(u.Note), nullable(actorID), now)
		if err != nil {
			return fmt.Errorf("update step %s: %w", u.Step, err)
		}
	}
	return nil
}

// StepNote returns the note left on a step by its last transition.
func (r Repo) StepNote(ctx context.Context, projectID string, step workflow.Step) (string, error) {
	var note sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT note FROM project_steps WHERE project_id=? AND step=?`, projectID, string(step)).Scan(&note)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return note.String, err
}

// UpsertPayload creates the step payload on first write and replaces it after.
func (r Repo) UpsertPayload(ctx context.Context, tx *sql.Tx, p domain.StepPayload) error {
	if p.Kind == "" {
		return errors.New("payload kind required")
	}
	data := p.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO step_payloads(project_id,kind,payload_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,kind) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		p.ProjectID, p.Kind, string(data), p.UpdatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPayload(ctx context.Context, projectID, kind string) (domain.StepPayload, error) {
	var p domain.StepPayload
	var data string
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,kind,payload_json,created_at,updated_at FROM step_payloads WHERE project_id=? AND kind=?`, projectID, kind).
		Scan(&p.ProjectID, &p.Kind, &data, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Data = json.RawMessage(data)
	return p, nil
}

func (r Repo) ListPayloads(ctx context.Context, projectID string) ([]domain.StepPayload, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,kind,payload_json,created_at,updated_at FROM step_payloads WHERE project_id=? ORDER BY created_at, kind`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StepPayload
	for rows.Next() {
		var p domain.StepPayload
		var data string
		if err := rows.Scan(&p.ProjectID, &p.Kind, &data, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Data = json.RawMessage(data)
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}
