package repo

import (
	"context"
	"database/sql"
)

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, userID, role, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role, created_at) VALUES (?,?,?)`, userID, role, now)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, userID, role string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role=?`, userID, role)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=? ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
