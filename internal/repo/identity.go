package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pathfinder/internal/domain"
	"pathfinder/internal/workflow"
)

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	if c.ID == "" || strings.TrimSpace(c.Name) == "" {
		return errors.New("company id and name required")
	}
	if c.CreatedAt == "" {
		c.CreatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO companies(id,name,created_at) VALUES (?,?,?)`, c.ID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, tx *sql.Tx, id string) (domain.Company, error) {
	var c domain.Company
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,created_at FROM companies WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

const userColumns = `id,email,COALESCE(name,''),role,COALESCE(company_id,''),created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.CompanyID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Role = workflow.Role(role)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" || strings.TrimSpace(u.Email) == "" {
		return errors.New("user id and email required")
	}
	if !u.Role.Valid() {
		return errors.New("invalid role")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,email,name,role,company_id,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), nullable(u.Name), string(u.Role), nullable(u.CompanyID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// ListUsers returns users of a company, optionally restricted to roles.
// An empty companyID lists every user.
func (r Repo) ListUsers(ctx context.Context, tx *sql.Tx, companyID string, roles []workflow.Role) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var clauses []string
	var args []any
	if companyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, companyID)
	}
	if len(roles) > 0 {
		ph := make([]string, len(roles))
		for i, role := range roles {
			ph[i] = "?"
			args = append(args, string(role))
		}
		clauses = append(clauses, "role IN ("+strings.Join(ph, ",")+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY email"
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// SetUserRole grants role and binds the user to companyID.
func (r Repo) SetUserRole(ctx context.Context, tx *sql.Tx, userID string, role workflow.Role, companyID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET role=?, company_id=? WHERE id=?`, string(role), nullable(companyID), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
