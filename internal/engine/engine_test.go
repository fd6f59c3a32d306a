package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loanops/internal/config"
	"loanops/internal/db"
	"loanops/internal/domain"
	"loanops/internal/engine"
	"loanops/internal/engine/auth"
	"loanops/internal/hierarchy"
	"loanops/internal/logging"
	"loanops/internal/migrate"
	"loanops/internal/repo"
	"loanops/internal/routing"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Log = logging.Nop()
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func newTestEnv(t *testing.T) testEnv {
	return newTestEnvWithConfig(t, config.Default("acme"))
}

func (env testEnv) seedUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := env.Engine.UpsertUser(env.Ctx, "tester", engine.UserInput{ID: id, Name: id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func (env testEnv) assign(t *testing.T, sub, mgr string) {
	t.Helper()
	if _, err := env.Engine.AssignManager(env.Ctx, "tester", sub, mgr); err != nil {
		t.Fatalf("assign %s -> %s: %v", sub, mgr, err)
	}
}

func (env testEnv) countEvents(t *testing.T, evtType string) int {
	t.Helper()
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE type=?`, evtType).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestTreeShape(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "C", "D")
	env.assign(t, "B", "A")
	env.assign(t, "C", "A")
	env.assign(t, "D", "B")

	forest, err := env.Engine.GetTree(env.Ctx)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(forest) != 1 || forest[0].User.ID != "A" || forest[0].Depth != 0 {
		t.Fatalf("expected single root A, got %+v", forest)
	}
	kids := map[string]domain.HierarchyNode{}
	for _, n := range forest[0].Subordinates {
		kids[n.User.ID] = n
	}
	b, okB := kids["B"]
	c, okC := kids["C"]
	if len(kids) != 2 || !okB || !okC {
		t.Fatalf("unexpected children of A: %+v", forest[0].Subordinates)
	}
	if b.Depth != 1 || c.Depth != 1 {
		t.Fatalf("children should be depth 1")
	}
	if len(b.Subordinates) != 1 || b.Subordinates[0].User.ID != "D" || b.Subordinates[0].Depth != 2 {
		t.Fatalf("expected D under B at depth 2, got %+v", b.Subordinates)
	}
	if len(c.Subordinates) != 0 {
		t.Fatalf("C should have no subordinates")
	}
}

func TestCycleRejectedAndEdgesUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "C")
	env.assign(t, "B", "A")
	env.assign(t, "C", "B")

	_, err := env.Engine.AssignManager(env.Ctx, "tester", "A", "C")
	var cycle *hierarchy.CycleDetectedError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(cycle.Path) == 0 {
		t.Fatalf("cycle error should carry the walked path")
	}
	edges, err := env.Engine.Repo.ListEdges(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges changed: %+v", edges)
	}
	mgr, err := env.Engine.ManagerOf(env.Ctx, "A")
	if err != nil || mgr != nil {
		t.Fatalf("A should stay a root, got %v %v", mgr, err)
	}
	if got := env.countEvents(t, "hierarchy.assigned"); got != 2 {
		t.Fatalf("expected 2 assigned events, got %d", got)
	}
}

func TestSelfReferenceAndUnknownUsers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")

	_, err := env.Engine.AssignManager(env.Ctx, "tester", "A", "A")
	var self *hierarchy.SelfReferenceError
	if !errors.As(err, &self) {
		t.Fatalf("expected self reference error, got %v", err)
	}

	_, err = env.Engine.AssignManager(env.Ctx, "tester", "A", "ghost")
	var unknown *engine.UnknownUserError
	if !errors.As(err, &unknown) || unknown.UserID != "ghost" {
		t.Fatalf("expected unknown user ghost, got %v", err)
	}

	if _, err := env.Engine.SetUserActive(env.Ctx, "tester", "B", false); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AssignManager(env.Ctx, "tester", "A", "B")
	if !errors.As(err, &unknown) || !unknown.Inactive {
		t.Fatalf("expected inactive user error, got %v", err)
	}
}

func TestReassignKeepsSingleManager(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "S")
	env.assign(t, "S", "A")
	env.assign(t, "S", "B")

	mgr, err := env.Engine.ManagerOf(env.Ctx, "S")
	if err != nil || mgr == nil || mgr.ID != "B" {
		t.Fatalf("expected manager B, got %v %v", mgr, err)
	}
	subs, err := env.Engine.SubordinatesOf(env.Ctx, "A")
	if err != nil || len(subs) != 0 {
		t.Fatalf("A should have no reports, got %v %v", subs, err)
	}
	subs, err = env.Engine.SubordinatesOf(env.Ctx, "B")
	if err != nil || len(subs) != 1 || subs[0].ID != "S" {
		t.Fatalf("B should manage S, got %v %v", subs, err)
	}
}

func TestSubordinatesAreDirectOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "C")
	env.assign(t, "B", "A")
	env.assign(t, "C", "B")

	subs, err := env.Engine.SubordinatesOf(env.Ctx, "A")
	if err != nil || len(subs) != 1 || subs[0].ID != "B" {
		t.Fatalf("expected only B, got %v %v", subs, err)
	}
	if _, err := env.Engine.SubordinatesOf(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.ManagerOf(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveManagerIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")
	env.assign(t, "B", "A")

	removed, err := env.Engine.RemoveManager(env.Ctx, "tester", "B")
	if err != nil || !removed {
		t.Fatalf("first remove: %v %v", removed, err)
	}
	removed, err = env.Engine.RemoveManager(env.Ctx, "tester", "B")
	if err != nil || removed {
		t.Fatalf("second remove should be a no-op: %v %v", removed, err)
	}
	if got := env.countEvents(t, "hierarchy.removed"); got != 1 {
		t.Fatalf("expected 1 removed event, got %d", got)
	}
}

func TestConcurrentOppositeAssignments(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "X", "Y")
	// A second engine on the same database does not share the in-process
	// mutex, so only the database lock serializes the two writers.
	other, err := engine.New(env.Engine.DB, env.Engine.Config)
	if err != nil {
		t.Fatal(err)
	}
	other.Log = logging.Nop()

	for i := 0; i < 10; i++ {
		if _, err := env.Engine.RemoveManager(env.Ctx, "tester", "X"); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.RemoveManager(env.Ctx, "tester", "Y"); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = env.Engine.AssignManager(env.Ctx, "tester", "X", "Y")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = other.AssignManager(env.Ctx, "tester", "Y", "X")
		}()
		wg.Wait()
		if errs[0] == nil && errs[1] == nil {
			t.Fatalf("round %d: both opposite assignments succeeded", i)
		}
		edges, err := env.Engine.Repo.ListEdges(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(edges) > 1 {
			t.Fatalf("round %d: cycle persisted: %+v", i, edges)
		}
	}
}

func TestGetTreeReportsCorruptData(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")
	// Raw inserts skip the guarded write path, as a foreign client might.
	for _, q := range []string{
		`INSERT INTO hierarchy_edges(subordinate_id,manager_id,created_at) VALUES ('A','B','2024-01-01T00:00:00Z')`,
		`INSERT INTO hierarchy_edges(subordinate_id,manager_id,created_at) VALUES ('B','A','2024-01-01T00:00:00Z')`,
	} {
		if _, err := env.Engine.DB.Exec(q); err != nil {
			t.Fatal(err)
		}
	}
	_, err := env.Engine.GetTree(env.Ctx)
	var corrupt *hierarchy.CorruptHierarchyError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected corrupt hierarchy error, got %v", err)
	}
}

type countingCache struct {
	mu          sync.Mutex
	forest      []domain.HierarchyNode
	ok          bool
	gen         int64
	hits, sets  int
	dropped     int
	invalidated int
}

func (c *countingCache) GetTree(context.Context) ([]domain.HierarchyNode, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok {
		c.hits++
	}
	return c.forest, c.ok, nil
}

func (c *countingCache) TreeGeneration(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *countingCache) SetTree(_ context.Context, gen int64, f []domain.HierarchyNode) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.dropped++
		return false, nil
	}
	c.forest, c.ok = f, true
	c.sets++
	return true, nil
}

func (c *countingCache) InvalidateTree(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.forest, c.ok = nil, false
	c.invalidated++
	return nil
}

// interleavedDirectory runs onGetUser once, from inside the first GetUser call.
type interleavedDirectory struct {
	engine.Directory
	onGetUser func()
}

func (d *interleavedDirectory) GetUser(ctx context.Context, id string) (domain.User, error) {
	if fn := d.onGetUser; fn != nil {
		d.onGetUser = nil
		fn()
	}
	return d.Directory.GetUser(ctx, id)
}

func TestTreeCacheIsInvalidatedByMutations(t *testing.T) {
	env := newTestEnv(t)
	c := &countingCache{}
	env.Engine.Cache = c
	env.seedUsers(t, "A", "B")

	if _, err := env.Engine.GetTree(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTree(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if c.sets != 1 || c.hits != 1 {
		t.Fatalf("expected one fill and one hit, got sets=%d hits=%d", c.sets, c.hits)
	}
	env.assign(t, "B", "A")
	forest, err := env.Engine.GetTree(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(forest) != 1 || len(forest[0].Subordinates) != 1 {
		t.Fatalf("stale tree served after assign: %+v", forest)
	}
}

func TestTreeBuiltDuringAssignIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	c := &countingCache{}
	env.Engine.Cache = c
	env.seedUsers(t, "A", "C", "X")
	env.assign(t, "X", "A")
	if _, err := env.Engine.SetUserActive(env.Ctx, "tester", "X", false); err != nil {
		t.Fatal(err)
	}

	// X is inactive, so the tree build looks it up after reading the edges;
	// the assignment commits at that point.
	env.Engine.Directory = &interleavedDirectory{
		Directory: env.Engine.Directory,
		onGetUser: func() { env.assign(t, "C", "A") },
	}
	if _, err := env.Engine.GetTree(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if c.dropped != 1 || c.sets != 0 {
		t.Fatalf("expected the fill to be dropped, got dropped=%d sets=%d", c.dropped, c.sets)
	}

	forest, err := env.Engine.GetTree(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.hits != 0 {
		t.Fatalf("tree from before the assignment was served from cache")
	}
	if len(forest) != 1 || forest[0].User.ID != "A" || len(forest[0].Subordinates) != 2 {
		t.Fatalf("expected A with X and C, got %+v", forest)
	}
	if c.sets != 1 {
		t.Fatalf("expected the fresh tree to be cached, sets=%d", c.sets)
	}
}

func createTask(t *testing.T, env testEnv, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func expectKind(t *testing.T, err error, kind routing.Kind) {
	t.Helper()
	var invalid *routing.InvalidAssignmentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid assignment %s, got %v", kind, err)
	}
	if invalid.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, invalid.Kind)
	}
}

func TestTaskRoutingFollowsHierarchy(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "C")
	env.assign(t, "B", "A")

	down := createTask(t, env, engine.TaskCreateOptions{
		Title: "Review file", AssignedTo: "B", Type: domain.TaskTypeHierarchical,
		Direction: domain.DirectionDownward, ActorID: "A",
	})
	if down.Status != domain.StatusOpen || down.Priority != domain.PriorityMedium || down.AssignedBy != "A" {
		t.Fatalf("unexpected defaults: %+v", down)
	}
	createTask(t, env, engine.TaskCreateOptions{
		Title: "Escalate", AssignedTo: "A", Type: domain.TaskTypeHierarchical,
		Direction: domain.DirectionUpward, ActorID: "B",
	})
	createTask(t, env, engine.TaskCreateOptions{Title: "Note", AssignedTo: "C", Type: domain.TaskTypePersonal, ActorID: "C"})
	createTask(t, env, engine.TaskCreateOptions{Title: "Help", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "C"})

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward, ActorID: "C",
	})
	expectKind(t, err, routing.NotSubordinate)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssignedTo: "C", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionUpward, ActorID: "B",
	})
	expectKind(t, err, routing.NotManager)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypePersonal, ActorID: "A"})
	expectKind(t, err, routing.NotSelf)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeHierarchical, ActorID: "A"})
	expectKind(t, err, routing.WrongDirection)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, Direction: domain.DirectionDownward, ActorID: "A",
	})
	expectKind(t, err, routing.WrongDirection)

	if err := env.Engine.ValidateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "dry", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward, ActorID: "A",
	}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil || len(tasks) != 4 {
		t.Fatalf("expected 4 stored tasks, got %d %v", len(tasks), err)
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A")
	cases := []engine.TaskCreateOptions{
		{AssignedTo: "A", Type: domain.TaskTypePersonal, ActorID: "A"},
		{Title: "x", AssignedTo: "A", Type: "SIDEWAYS", ActorID: "A"},
		{Title: "x", AssignedTo: "A", Type: domain.TaskTypePersonal, Priority: "URGENT", ActorID: "A"},
		{Title: "x", AssignedTo: "A", Type: domain.TaskTypePersonal, DueDate: "next week", ActorID: "A"},
	}
	for i, opts := range cases {
		_, err := env.Engine.CreateTask(env.Ctx, opts)
		var input engine.InputError
		if !errors.As(err, &input) {
			t.Fatalf("case %d: expected input error, got %v", i, err)
		}
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", AssignedTo: "ghost", Type: domain.TaskTypeCommon, ActorID: "A"})
	var unknown *engine.UnknownUserError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}

func TestPersonalTaskForAnotherUserIsNotSelf(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "D")
	if _, err := env.Engine.SetUserActive(env.Ctx, "tester", "D", false); err != nil {
		t.Fatal(err)
	}
	for _, to := range []string{"B", "ghost", "D"} {
		_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", AssignedTo: to, Type: domain.TaskTypePersonal, ActorID: "A"})
		expectKind(t, err, routing.NotSelf)
		err = env.Engine.ValidateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", AssignedTo: to, Type: domain.TaskTypePersonal, ActorID: "A"})
		expectKind(t, err, routing.NotSelf)
	}

	task := createTask(t, env, engine.TaskCreateOptions{Title: "Note", AssignedTo: "A", Type: domain.TaskTypePersonal, ActorID: "A"})
	ghost := "ghost"
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, AssignedTo: &ghost, ActorID: "A"})
	expectKind(t, err, routing.NotSelf)

	// Hierarchical routing still reports the unknown user first.
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "x", AssignedTo: "ghost", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward, ActorID: "A",
	})
	var unknown *engine.UnknownUserError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}

func TestUpdateRevalidatesAfterEdgeRemoval(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")
	env.assign(t, "B", "A")
	task := createTask(t, env, engine.TaskCreateOptions{
		Title: "Collect KYC", AssignedTo: "B", Type: domain.TaskTypeHierarchical,
		Direction: domain.DirectionDownward, ActorID: "A",
	})
	if _, err := env.Engine.RemoveManager(env.Ctx, "tester", "B"); err != nil {
		t.Fatal(err)
	}
	title := "Collect KYC docs"
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &title, ActorID: "A"})
	expectKind(t, err, routing.NotSubordinate)

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil || stored.Title != "Collect KYC" {
		t.Fatalf("task should be unchanged: %+v %v", stored, err)
	}

	common := domain.TaskTypeCommon
	none := domain.DirectionNone
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &title, Type: &common, Direction: &none, ActorID: "A"})
	if err != nil {
		t.Fatalf("reroute as common: %v", err)
	}
	if updated.Type != domain.TaskTypeCommon || updated.Direction != domain.DirectionNone || updated.Title != title {
		t.Fatalf("unexpected update result: %+v", updated)
	}
}

func TestUpdateRequiresAssignerOrManager(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "root")
	if err := env.Engine.GrantRole(env.Ctx, "tester", "root", "admin"); err != nil {
		t.Fatal(err)
	}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})
	high := domain.PriorityHigh
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: "B"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("assignee should not edit, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Priority: &high, ActorID: "root"}); err != nil {
		t.Fatalf("task manager should edit: %v", err)
	}
}

func TestStatusPermissivePolicy(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")
	task := createTask(t, env, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})

	done, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusCompleted)
	if err != nil || done.CompletedAt == nil {
		t.Fatalf("complete: %+v %v", done, err)
	}
	reopened, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusOpen)
	if err != nil {
		t.Fatalf("reopen should be allowed by default: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Fatalf("completed_at should clear when leaving COMPLETED")
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, "DONE"); err == nil {
		t.Fatalf("expected unknown status error")
	}
}

func TestStatusForwardOnlyPolicy(t *testing.T) {
	cfg := config.Default("acme")
	cfg.Tasks.StatusPolicy = config.StatusPolicyForwardOnly
	env := newTestEnvWithConfig(t, cfg)
	env.seedUsers(t, "A", "B")
	task := createTask(t, env, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})

	if _, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusInProgress); err != nil {
		t.Fatalf("open -> in progress: %v", err)
	}
	_, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusOpen)
	var trans *engine.InvalidTransitionError
	if !errors.As(err, &trans) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	other := createTask(t, env, engine.TaskCreateOptions{Title: "y", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})
	if _, err := env.Engine.SetTaskStatus(env.Ctx, "B", other.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("open -> completed skip should be allowed: %v", err)
	}
}

func TestStatusChangePermissions(t *testing.T) {
	off := false
	cfg := config.Default("acme")
	cfg.Tasks.AssignerCanUpdateStatus = &off
	env := newTestEnvWithConfig(t, cfg)
	env.seedUsers(t, "A", "B", "C")
	task := createTask(t, env, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.SetTaskStatus(env.Ctx, "C", task.ID, domain.StatusInProgress); !errors.As(err, &forbidden) {
		t.Fatalf("stranger should be forbidden, got %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, "A", task.ID, domain.StatusInProgress); !errors.As(err, &forbidden) {
		t.Fatalf("assigner should be forbidden when disabled, got %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusInProgress); err != nil {
		t.Fatalf("assignee: %v", err)
	}
}

func TestStatusChangeRevalidates(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B")
	env.assign(t, "B", "A")
	task := createTask(t, env, engine.TaskCreateOptions{
		Title: "x", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward, ActorID: "A",
	})
	if _, err := env.Engine.RemoveManager(env.Ctx, "tester", "B"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SetTaskStatus(env.Ctx, "B", task.ID, domain.StatusInProgress)
	expectKind(t, err, routing.NotSubordinate)
}

func TestCommentsAndCascade(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "A", "B", "C")
	task := createTask(t, env, engine.TaskCreateOptions{Title: "x", AssignedTo: "B", Type: domain.TaskTypeCommon, ActorID: "A"})

	if _, err := env.Engine.AddComment(env.Ctx, "A", task.ID, "please start"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "B", task.ID, "on it"); err != nil {
		t.Fatal(err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.AddComment(env.Ctx, "C", task.ID, "hi"); !errors.As(err, &forbidden) {
		t.Fatalf("non participant should be forbidden, got %v", err)
	}
	var input engine.InputError
	if _, err := env.Engine.AddComment(env.Ctx, "A", task.ID, "   "); !errors.As(err, &input) {
		t.Fatalf("empty comment should be rejected, got %v", err)
	}
	comments, err := env.Engine.ListComments(env.Ctx, "B", task.ID)
	if err != nil || len(comments) != 2 || comments[0].Comment != "please start" {
		t.Fatalf("unexpected comments %+v %v", comments, err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, "A", task.ID); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM task_comments WHERE task_id=?`, task.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("comments should cascade, %d left", n)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleGrantAndWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "H")
	if err := env.Engine.GrantRole(env.Ctx, "tester", "H", "hr"); err != nil {
		t.Fatal(err)
	}
	who, err := env.Engine.WhoAmI(env.Ctx, "H")
	if err != nil {
		t.Fatal(err)
	}
	if len(who.Roles) != 2 {
		t.Fatalf("expected hr and staff, got %v", who.Roles)
	}
	if err := env.Engine.Auth.Authorize(env.Ctx, "H", auth.PermHierarchyManage); err != nil {
		t.Fatalf("hr should manage hierarchy: %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, "tester", "H", "wizard"); err == nil {
		t.Fatalf("unknown role should be rejected")
	}
	removed, err := env.Engine.RevokeRole(env.Ctx, "tester", "H", "hr")
	if err != nil || !removed {
		t.Fatalf("revoke: %v %v", removed, err)
	}
	if err := env.Engine.Auth.Authorize(env.Ctx, "H", auth.PermHierarchyManage); err == nil {
		t.Fatalf("permission should be gone after revoke")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedUsers(t, "svc")
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "tester", "svc", "crm sync")
	if err != nil {
		t.Fatal(err)
	}
	if secret == "" || key.KeyHash != repo.HashAPIKey(secret) {
		t.Fatalf("stored hash does not match issued secret")
	}
	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || found.ActorID != "svc" {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, "tester", key.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, "tester", key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
