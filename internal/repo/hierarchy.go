package repo

import (
	"context"
	"database/sql"

	"loanops/internal/domain"
	"loanops/internal/hierarchy"
)

// ManagerOf returns the direct manager id of userID. tx may be nil.
func (r Repo) ManagerOf(ctx context.Context, tx *sql.Tx, userID string) (string, bool, error) {
	var mgr string
	err := r.q(tx).QueryRowContext(ctx, `SELECT manager_id FROM hierarchy_edges WHERE subordinate_id=?`, userID).Scan(&mgr)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return mgr, true, nil
}

type edgeGraph struct {
	r  Repo
	tx *sql.Tx
}

func (g edgeGraph) ManagerOf(ctx context.Context, userID string) (string, bool, error) {
	return g.r.ManagerOf(ctx, g.tx, userID)
}

// Graph exposes the stored edges as a hierarchy.Graph read through tx.
func (r Repo) Graph(tx *sql.Tx) hierarchy.Graph {
	return edgeGraph{r: r, tx: tx}
}

func (r Repo) GetEdge(ctx context.Context, tx *sql.Tx, subordinateID string) (domain.HierarchyEdge, error) {
	var e domain.HierarchyEdge
	var createdBy sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT subordinate_id,manager_id,created_at,created_by FROM hierarchy_edges WHERE subordinate_id=?`, subordinateID).
		Scan(&e.SubordinateID, &e.ManagerID, &e.CreatedAt, &createdBy)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if createdBy.Valid {
		e.CreatedBy = createdBy.String
	}
	return e, err
}

// insertEdgeSQL only writes the row when the new manager's chain does not
// lead back to the subordinate. UNION keeps the walk finite on corrupt data.
const insertEdgeSQL = `INSERT INTO hierarchy_edges(subordinate_id,manager_id,created_at,created_by)
SELECT ?,?,?,?
WHERE NOT EXISTS (
  WITH RECURSIVE chain(id) AS (
    SELECT ?
    UNION
    SELECT e.manager_id FROM hierarchy_edges e JOIN chain c ON e.subordinate_id = c.id
  )
  SELECT 1 FROM chain WHERE id = ?
)`

// ReplaceEdge deletes any edge for e.SubordinateID and inserts e. It must run
// inside tx so the swap is atomic.
func (r Repo) ReplaceEdge(ctx context.Context, tx *sql.Tx, e domain.HierarchyEdge) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM hierarchy_edges WHERE subordinate_id=?`, e.SubordinateID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, insertEdgeSQL,
		e.SubordinateID, e.ManagerID, e.CreatedAt, nullable(e.CreatedBy),
		e.ManagerID, e.SubordinateID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &hierarchy.CycleDetectedError{SubordinateID: e.SubordinateID, ManagerID: e.ManagerID}
	}
	return nil
}

// DeleteEdge removes the edge for subordinateID, reporting whether one existed.
func (r Repo) DeleteEdge(ctx context.Context, tx *sql.Tx, subordinateID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM hierarchy_edges WHERE subordinate_id=?`, subordinateID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListEdges(ctx context.Context) ([]domain.HierarchyEdge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT subordinate_id,manager_id,created_at,COALESCE(created_by,'') FROM hierarchy_edges ORDER BY manager_id, subordinate_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HierarchyEdge
	for rows.Next() {
		var e domain.HierarchyEdge
		if err := rows.Scan(&e.SubordinateID, &e.ManagerID, &e.CreatedAt, &e.CreatedBy); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListSubordinates returns the direct reports of managerID.
func (r Repo) ListSubordinates(ctx context.Context, managerID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.name,COALESCE(u.email,''),u.is_active,u.created_at,u.updated_at
FROM hierarchy_edges e JOIN users u ON u.id = e.subordinate_id
WHERE e.manager_id=? ORDER BY u.name, u.id`, managerID)
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
