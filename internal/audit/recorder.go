package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pathfinder/internal/domain"
)

// Entry is one transition to be recorded.
type Entry struct {
	ProjectID string
	ActorID   string
	Action    string
	Step      string
	Old       any
	New       any
}

// Recorder appends audit rows inside the caller's transaction. Rows are never
// updated or deleted; the schema enforces it with triggers.
type Recorder struct {
	Now func() time.Time
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Recorder) Record(ctx context.Context, tx *sql.Tx, e Entry) (domain.AuditEntry, error) {
	oldData, err := marshal(e.Old)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("marshal old audit data: %w", err)
	}
	newData, err := marshal(e.New)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("marshal new audit data: %w", err)
	}
	entry := domain.AuditEntry{
		ProjectID: e.ProjectID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Step:      e.Step,
		OldData:   oldData,
		NewData:   newData,
		CreatedAt: r.now().UTC().Format(time.RFC3339Nano),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO hr_project_audits(project_id,actor_id,action,step,old_data,new_data,created_at) VALUES (?,?,?,?,?,?,?)`,
		nullable(entry.ProjectID), entry.ActorID, entry.Action, nullable(entry.Step), nullableRaw(oldData), nullableRaw(newData), entry.CreatedAt)
	if err != nil {
		return entry, err
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableRaw(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
