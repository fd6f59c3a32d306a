package repo

import (
	"context"
	"database/sql"
	"strings"

	"loanops/internal/domain"
)

const taskColumns = `id,title,COALESCE(description,''),assigned_to,assigned_by,task_type,COALESCE(direction,''),COALESCE(linked_case_id,''),priority,status,COALESCE(due_date,''),created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var completed sql.NullString
	err := scan(&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.AssignedBy, &t.Type, &t.Direction,
		&t.LinkedCaseID, &t.Priority, &t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err != nil {
		return t, err
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,title,description,assigned_to,assigned_by,task_type,direction,linked_case_id,priority,status,due_date,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.AssignedTo, t.AssignedBy, string(t.Type), nullable(string(t.Direction)),
		nullable(t.LinkedCaseID), string(t.Priority), string(t.Status), nullable(t.DueDate), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?,description=?,assigned_to=?,assigned_by=?,task_type=?,direction=?,linked_case_id=?,priority=?,status=?,due_date=?,updated_at=?,completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.AssignedTo, t.AssignedBy, string(t.Type), nullable(string(t.Direction)),
		nullable(t.LinkedCaseID), string(t.Priority), string(t.Status), nullable(t.DueDate), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

// DeleteTask removes a task; its comments go with it through ON DELETE CASCADE.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	AssignedTo string
	AssignedBy string
	// Participant matches tasks where the user is either assignee or assigner.
	Participant string
	Status      string
	Type        string
	Limit       int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.AssignedBy != "" {
		clauses = append(clauses, "assigned_by=?")
		args = append(args, f.AssignedBy)
	}
	if f.Participant != "" {
		clauses = append(clauses, "(assigned_to=? OR assigned_by=?)")
		args = append(args, f.Participant, f.Participant)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.TaskComment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_comments(id,task_id,comment,created_by,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.Comment, c.CreatedBy, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,comment,created_by,created_at FROM task_comments WHERE task_id=? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskComment
	for rows.Next() {
		var c domain.TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Comment, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
