package repo

import (
	"context"
	"database/sql"

	"pathfinder/internal/domain"
	"pathfinder/internal/workflow"
)

func (r Repo) InsertConsultantReview(ctx context.Context, tx *sql.Tx, cr domain.ConsultantReview) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO consultant_reviews(id,project_id,consultant_id,opinions,created_at) VALUES (?,?,?,?,?)`,
		cr.ID, cr.ProjectID, cr.ConsultantID, cr.Opinions, cr.CreatedAt)
	return err
}

// ListConsultantReviews returns reviews oldest first.
func (r Repo) ListConsultantReviews(ctx context.Context, projectID string) ([]domain.ConsultantReview, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,consultant_id,opinions,created_at FROM consultant_reviews WHERE project_id=? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConsultantReview
	for rows.Next() {
		var cr domain.ConsultantReview
		if err := rows.Scan(&cr.ID, &cr.ProjectID, &cr.ConsultantID, &cr.Opinions, &cr.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}

func (r Repo) InsertCeoApproval(ctx context.Context, tx *sql.Tx, a domain.CeoApproval) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ceo_approvals(id,project_id,ceo_id,decision,target_step,comments,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.CeoID, a.Decision, nullable(string(a.TargetStep)), nullable(a.Comments), a.CreatedAt)
	return err
}

const approvalColumns = `id,project_id,ceo_id,decision,COALESCE(target_step,''),COALESCE(comments,''),created_at`

func scanApproval(row rowScanner) (domain.CeoApproval, error) {
	var a domain.CeoApproval
	var target string
	err := row.Scan(&a.ID, &a.ProjectID, &a.CeoID, &a.Decision, &target, &a.Comments, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.TargetStep = workflow.Step(target)
	return a, err
}

func (r Repo) ListCeoApprovals(ctx context.Context, projectID string) ([]domain.CeoApproval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+approvalColumns+` FROM ceo_approvals WHERE project_id=? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CeoApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestCeoApproval returns the most recent decision for a project.
func (r Repo) LatestCeoApproval(ctx context.Context, projectID string) (domain.CeoApproval, error) {
	return scanApproval(r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM ceo_approvals WHERE project_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, projectID))
}
