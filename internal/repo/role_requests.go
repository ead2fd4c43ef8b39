package repo

import (
	"context"
	"database/sql"

	"pathfinder/internal/domain"
)

const roleRequestColumns = `id,user_id,company_id,status,COALESCE(reason,''),processed_by,processed_at,created_at`

func scanRoleRequest(row rowScanner) (domain.CeoRoleRequest, error) {
	var rr domain.CeoRoleRequest
	var by, at sql.NullString
	err := row.Scan(&rr.ID, &rr.UserID, &rr.CompanyID, &rr.Status, &rr.Reason, &by, &at, &rr.CreatedAt)
	if err == sql.ErrNoRows {
		return rr, ErrNotFound
	}
	if err != nil {
		return rr, err
	}
	if by.Valid {
		rr.ProcessedBy = &by.String
	}
	if at.Valid {
		rr.ProcessedAt = &at.String
	}
	return rr, nil
}

func (r Repo) InsertRoleRequest(ctx context.Context, tx *sql.Tx, rr domain.CeoRoleRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ceo_role_requests(id,user_id,company_id,status,reason,created_at) VALUES (?,?,?,?,?,?)`,
		rr.ID, rr.UserID, rr.CompanyID, rr.Status, nullable(rr.Reason), rr.CreatedAt)
	return err
}

func (r Repo) GetRoleRequest(ctx context.Context, tx *sql.Tx, id string) (domain.CeoRoleRequest, error) {
	return scanRoleRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+roleRequestColumns+` FROM ceo_role_requests WHERE id=?`, id))
}

// ListRoleRequests returns requests newest first, filtered by status when set.
func (r Repo) ListRoleRequests(ctx context.Context, status, companyID string) ([]domain.CeoRoleRequest, error) {
	query := `SELECT ` + roleRequestColumns + ` FROM ceo_role_requests WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	if companyID != "" {
		query += ` AND company_id=?`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CeoRoleRequest
	for rows.Next() {
		rr, err := scanRoleRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rr)
	}
	return res, rows.Err()
}

// ResolveRoleRequest moves a pending request to status. It reports false when
// the request was no longer pending, leaving the row untouched.
func (r Repo) ResolveRoleRequest(ctx context.Context, tx *sql.Tx, id, status, reason, processedBy, processedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE ceo_role_requests SET status=?, reason=COALESCE(?,reason), processed_by=?, processed_at=? WHERE id=? AND status='pending'`,
		status, nullable(reason), processedBy, processedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FindPendingRoleRequest returns the open request for a user and company.
func (r Repo) FindPendingRoleRequest(ctx context.Context, tx *sql.Tx, userID, companyID string) (domain.CeoRoleRequest, error) {
	return scanRoleRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+roleRequestColumns+` FROM ceo_role_requests WHERE user_id=? AND company_id=? AND status='pending' LIMIT 1`, userID, companyID))
}
