package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanops/internal/db"
	"loanops/internal/domain"
	"loanops/internal/hierarchy"
	"loanops/internal/migrate"
	"loanops/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newMockRepo(t *testing.T) (repo.Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return repo.Repo{DB: conn}, mock
}

func newSQLiteRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func seedUsers(t *testing.T, r repo.Repo, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, r.UpsertUser(context.Background(), nil, domain.User{ID: id, Name: id, IsActive: true, CreatedAt: ts, UpdatedAt: ts}))
	}
}

func replaceEdge(t *testing.T, r repo.Repo, sub, mgr string) error {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := r.ReplaceEdge(ctx, tx, domain.HierarchyEdge{SubordinateID: sub, ManagerID: mgr, CreatedAt: ts}); err != nil {
		return err
	}
	return tx.Commit()
}

func TestManagerOfPropagatesStorageErrors(t *testing.T) {
	r, mock := newMockRepo(t)
	busy := errors.New("database is locked")
	mock.ExpectQuery("SELECT manager_id FROM hierarchy_edges").WithArgs("u1").WillReturnError(busy)

	_, _, err := r.ManagerOf(context.Background(), nil, "u1")
	require.ErrorIs(t, err, busy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerOfRootHasNoManager(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT manager_id FROM hierarchy_edges").WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"manager_id"}))

	mgr, ok, err := r.ManagerOf(context.Background(), nil, "root")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, mgr)
}

func TestGetUserNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("FROM users WHERE id").WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "is_active", "created_at", "updated_at"}))

	_, err := r.GetUser(context.Background(), "nobody")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestReplaceEdgeReportsGuardedInsert(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM hierarchy_edges").WithArgs("C").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO hierarchy_edges").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	err = r.ReplaceEdge(ctx, tx, domain.HierarchyEdge{SubordinateID: "C", ManagerID: "A", CreatedAt: ts})
	var cycle *hierarchy.CycleDetectedError
	require.ErrorAs(t, err, &cycle)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEdgeRejectsCycleInDatabase(t *testing.T) {
	r := newSQLiteRepo(t)
	seedUsers(t, r, "A", "B", "C")
	require.NoError(t, replaceEdge(t, r, "A", "B"))
	require.NoError(t, replaceEdge(t, r, "B", "C"))

	err := replaceEdge(t, r, "C", "A")
	var cycle *hierarchy.CycleDetectedError
	require.ErrorAs(t, err, &cycle)

	edges, err := r.ListEdges(context.Background())
	require.NoError(t, err)
	assert.Len(t, edges, 2)
	_, ok, err := r.ManagerOf(context.Background(), nil, "C")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceEdgeKeepsSingleManager(t *testing.T) {
	r := newSQLiteRepo(t)
	seedUsers(t, r, "A", "B", "S")
	require.NoError(t, replaceEdge(t, r, "S", "A"))
	require.NoError(t, replaceEdge(t, r, "S", "B"))

	edges, err := r.ListEdges(context.Background())
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "B", edges[0].ManagerID)
}

func TestSchemaRejectsSelfEdgeAndInPlaceUpdate(t *testing.T) {
	r := newSQLiteRepo(t)
	seedUsers(t, r, "A", "B")
	ctx := context.Background()

	_, err := r.DB.ExecContext(ctx, `INSERT INTO hierarchy_edges(subordinate_id,manager_id,created_at) VALUES ('A','A',?)`, ts)
	require.Error(t, err)

	require.NoError(t, replaceEdge(t, r, "B", "A"))
	_, err = r.DB.ExecContext(ctx, `UPDATE hierarchy_edges SET manager_id='B' WHERE subordinate_id='B'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")
}

func TestSchemaEnforcesTaskShape(t *testing.T) {
	r := newSQLiteRepo(t)
	seedUsers(t, r, "A", "B")
	ctx := context.Background()
	base := domain.Task{ID: "t1", Title: "x", AssignedBy: "A", AssignedTo: "B", Priority: domain.PriorityMedium, Status: domain.StatusOpen, CreatedAt: ts, UpdatedAt: ts}

	noDir := base
	noDir.Type = domain.TaskTypeHierarchical
	require.Error(t, r.InsertTask(ctx, nil, noDir))

	withDir := base
	withDir.Type = domain.TaskTypeCommon
	withDir.Direction = domain.DirectionUpward
	require.Error(t, r.InsertTask(ctx, nil, withDir))

	personal := base
	personal.Type = domain.TaskTypePersonal
	require.Error(t, r.InsertTask(ctx, nil, personal))
}

func TestDeleteTaskCascadesComments(t *testing.T) {
	r := newSQLiteRepo(t)
	seedUsers(t, r, "A")
	ctx := context.Background()
	task := domain.Task{ID: "t1", Title: "x", AssignedBy: "A", AssignedTo: "A", Type: domain.TaskTypePersonal, Priority: domain.PriorityLow, Status: domain.StatusOpen, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertTask(ctx, nil, task))
	require.NoError(t, r.InsertComment(ctx, nil, domain.TaskComment{ID: "c1", TaskID: "t1", Comment: "hi", CreatedBy: "A", CreatedAt: ts}))

	_, err := r.DB.ExecContext(ctx, `UPDATE task_comments SET comment='edited' WHERE id='c1'`)
	require.Error(t, err)

	require.NoError(t, r.DeleteTask(ctx, nil, "t1"))
	comments, err := r.ListComments(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, comments)
	require.ErrorIs(t, r.DeleteTask(ctx, nil, "t1"), repo.ErrNotFound)

	var n int
	require.NoError(t, r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_comments`).Scan(&n))
	assert.Zero(t, n)
	_, err = r.GetTask(ctx, nil, "t1")
	assert.True(t, errors.Is(err, repo.ErrNotFound) || errors.Is(err, sql.ErrNoRows))
}
