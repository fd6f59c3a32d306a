package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loanops/internal/domain"
)

const userColumns = `id,name,COALESCE(email,''),is_active,created_at,updated_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var active int
	if err := scan(&u.ID, &u.Name, &u.Email, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return u, err
	}
	u.IsActive = active == 1
	return u, nil
}

// UpsertUser inserts or refreshes a directory entry. tx may be nil.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,name,email,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		u.ID, u.Name, nullable(u.Email), boolToInt(u.IsActive), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) SetUserActive(ctx context.Context, tx *sql.Tx, id string, active bool, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET is_active=?, updated_at=? WHERE id=?`, boolToInt(active), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser implements the directory lookup.
func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// ListActiveUsers implements the directory listing.
func (r Repo) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	return r.ListUsers(ctx, UserFilters{ActiveOnly: true})
}

type UserFilters struct {
	ActiveOnly bool
	IDs        []string
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var clauses []string
	var args []any
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN (?"+strings.Repeat(",?", len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM users %s ORDER BY name, id`, userColumns, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
