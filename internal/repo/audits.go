package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"pathfinder/internal/domain"
)

type AuditFilters struct {
	ProjectID string
	ActorID   string
	// AfterID returns only entries with a larger id.
	AfterID int64
	Limit   int
}

// ListAudits returns audit entries in insertion order.
func (r Repo) ListAudits(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	query := `SELECT id,COALESCE(project_id,''),actor_id,action,COALESCE(step,''),old_data,new_data,created_at FROM hr_project_audits WHERE id>?`
	args := []any{f.AfterID}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.ActorID != "" {
		query += ` AND actor_id=?`
		args = append(args, f.ActorID)
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var oldData, newData sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ActorID, &e.Action, &e.Step, &oldData, &newData, &e.CreatedAt); err != nil {
			return nil, err
		}
		if oldData.Valid {
			e.OldData = json.RawMessage(oldData.String)
		}
		if newData.Valid {
			e.NewData = json.RawMessage(newData.String)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
