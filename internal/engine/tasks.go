package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"loanops/internal/config"
	"loanops/internal/domain"
	"loanops/internal/engine/auth"
	"loanops/internal/events"
	"loanops/internal/repo"
	"loanops/internal/routing"
)

// TaskCreateOptions are parameters for creating a task. The actor becomes
// the assigner.
type TaskCreateOptions struct {
	ID           string           `json:"id" validate:"max=64"`
	Title        string           `json:"title" validate:"required,max=200"`
	Description  string           `json:"description" validate:"max=4000"`
	AssignedTo   string           `json:"assigned_to" validate:"required"`
	Type         domain.TaskType  `json:"task_type" validate:"required,oneof=PERSONAL COMMON HIERARCHICAL"`
	Direction    domain.Direction `json:"direction" validate:"omitempty,oneof=DOWNWARD UPWARD"`
	LinkedCaseID string           `json:"linked_case_id" validate:"max=64"`
	Priority     domain.Priority  `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	DueDate      string           `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ActorID      string           `json:"actor_id" validate:"required"`
}

func (o *TaskCreateOptions) normalize() {
	o.ID = strings.TrimSpace(o.ID)
	o.Title = strings.TrimSpace(o.Title)
	o.AssignedTo = strings.TrimSpace(o.AssignedTo)
	o.ActorID = strings.TrimSpace(o.ActorID)
	o.Type = domain.TaskType(strings.ToUpper(strings.TrimSpace(string(o.Type))))
	o.Direction = domain.Direction(strings.ToUpper(strings.TrimSpace(string(o.Direction))))
	o.Priority = domain.Priority(strings.ToUpper(strings.TrimSpace(string(o.Priority))))
	if o.Priority == "" {
		o.Priority = domain.PriorityMedium
	}
}

func (o TaskCreateOptions) task(id, now string) domain.Task {
	return domain.Task{
		ID:           id,
		Title:        o.Title,
		Description:  o.Description,
		AssignedTo:   o.AssignedTo,
		AssignedBy:   o.ActorID,
		Type:         o.Type,
		Direction:    o.Direction,
		LinkedCaseID: o.LinkedCaseID,
		Priority:     o.Priority,
		Status:       domain.StatusOpen,
		DueDate:      o.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// checkParties requires both ends of t to be active directory users and
// validates the routing rule against the graph as seen through tx.
func (e Engine) checkParties(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	ids := []string{t.AssignedBy}
	if t.AssignedTo != t.AssignedBy {
		ids = append(ids, t.AssignedTo)
	}
	return e.checkRouting(ctx, tx, t, ids...)
}

// checkRouting validates the routing rule of t and requires each of ids to be
// an active user. PERSONAL and COMMON rules do not read the graph and run
// before the user lookups, so a PERSONAL task for someone else fails with
// NOT_SELF even when that someone is unknown. HIERARCHICAL rules run after.
func (e Engine) checkRouting(ctx context.Context, tx *sql.Tx, t domain.Task, ids ...string) error {
	a := routing.FromTask(t)
	g := e.Repo.Graph(tx)
	if a.Type != domain.TaskTypeHierarchical {
		if err := routing.ValidateAssignment(ctx, a, g); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if _, err := e.requireActiveUser(ctx, tx, id); err != nil {
			return err
		}
	}
	if a.Type != domain.TaskTypeHierarchical {
		return nil
	}
	return routing.ValidateAssignment(ctx, a, g)
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (t domain.Task, err error) {
	defer func() { observeTask("create", err) }()
	opts.normalize()
	if err := checkInput(opts); err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t = opts.task(id, e.nowString())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.checkParties(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.TaskCreated, "task", t.ID, opts.ActorID, events.EventPayload{
		"assigned_to": t.AssignedTo,
		"task_type":   t.Type,
		"direction":   t.Direction,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.logger().WithFields(logrus.Fields{
		"actor_id":  opts.ActorID,
		"task_id":   t.ID,
		"task_type": t.Type,
	}).Info("task created")
	return t, nil
}

// ValidateTask runs the create-time checks without writing anything.
func (e Engine) ValidateTask(ctx context.Context, opts TaskCreateOptions) error {
	opts.normalize()
	if err := checkInput(opts); err != nil {
		return err
	}
	return e.checkParties(ctx, nil, opts.task("dry-run", e.nowString()))
}

// TaskUpdateOptions carries a partial update. Nil fields are left alone; a
// Direction pointing at "" clears the direction.
type TaskUpdateOptions struct {
	ID           string            `json:"id" validate:"required"`
	Title        *string           `json:"title" validate:"omitempty,max=200"`
	Description  *string           `json:"description" validate:"omitempty,max=4000"`
	AssignedTo   *string           `json:"assigned_to"`
	Type         *domain.TaskType  `json:"task_type" validate:"omitempty,oneof=PERSONAL COMMON HIERARCHICAL"`
	Direction    *domain.Direction `json:"direction" validate:"omitempty,oneof=DOWNWARD UPWARD"`
	LinkedCaseID *string           `json:"linked_case_id" validate:"omitempty,max=64"`
	Priority     *domain.Priority  `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	DueDate      *string           `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ActorID      string            `json:"actor_id" validate:"required"`
}

func (e Engine) canManageTasks(ctx context.Context, actorID string) (bool, error) {
	if e.Auth == nil {
		return false, nil
	}
	return e.Auth.Can(ctx, actorID, auth.PermTaskManage)
}

// UpdateTask edits a task. Only the assigner or a task manager may edit, and
// the routing rule is checked again against the current hierarchy.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (t domain.Task, err error) {
	defer func() { observeTask("update", err) }()
	if err := checkInput(opts); err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Task{}, inputErrorf("title must not be empty")
	}
	if opts.AssignedTo != nil && strings.TrimSpace(*opts.AssignedTo) == "" {
		return domain.Task{}, inputErrorf("assigned_to must not be empty")
	}
	manager, err := e.canManageTasks(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.ID, err)
	}
	if !manager && opts.ActorID != t.AssignedBy {
		return domain.Task{}, auth.ForbiddenError{Permission: auth.PermTaskManage}
	}
	original := t
	if opts.Title != nil {
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = strings.TrimSpace(*opts.AssignedTo)
	}
	if opts.Type != nil {
		t.Type = *opts.Type
	}
	if opts.Direction != nil {
		t.Direction = *opts.Direction
	}
	if opts.LinkedCaseID != nil {
		t.LinkedCaseID = *opts.LinkedCaseID
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		t.DueDate = *opts.DueDate
	}
	var changedAssignee []string
	if t.AssignedTo != original.AssignedTo {
		changedAssignee = append(changedAssignee, t.AssignedTo)
	}
	if err := e.checkRouting(ctx, tx, t, changedAssignee...); err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskUpdated, "task", t.ID, opts.ActorID, changedFields(original, t)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func changedFields(before, after domain.Task) events.EventPayload {
	p := events.EventPayload{}
	if before.Title != after.Title {
		p["title"] = after.Title
	}
	if before.AssignedTo != after.AssignedTo {
		p["assigned_to"] = after.AssignedTo
		p["previous_assigned_to"] = before.AssignedTo
	}
	if before.Type != after.Type {
		p["task_type"] = after.Type
	}
	if before.Direction != after.Direction {
		p["direction"] = after.Direction
	}
	if before.Priority != after.Priority {
		p["priority"] = after.Priority
	}
	if before.DueDate != after.DueDate {
		p["due_date"] = after.DueDate
	}
	return p
}

var statusRank = map[domain.Status]int{
	domain.StatusOpen:       0,
	domain.StatusInProgress: 1,
	domain.StatusCompleted:  2,
}

func ensureTaskTransition(policy string, from, to domain.Status) error {
	if policy != config.StatusPolicyForwardOnly {
		return nil
	}
	if statusRank[to] < statusRank[from] {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

func (e Engine) statusPolicy() string {
	if e.Config == nil {
		return config.StatusPolicyPermissive
	}
	return e.Config.StatusPolicy()
}

func (e Engine) mayChangeStatus(t domain.Task, actorID string, manager bool) bool {
	if manager || actorID == t.AssignedTo {
		return true
	}
	if actorID == t.AssignedBy {
		return e.Config == nil || e.Config.Tasks.AssignerMayUpdateStatus()
	}
	return false
}

// SetTaskStatus moves a task through OPEN, IN_PROGRESS and COMPLETED under
// the configured policy.
func (e Engine) SetTaskStatus(ctx context.Context, actorID, taskID string, status domain.Status) (t domain.Task, err error) {
	defer func() { observeTask("status", err) }()
	status = domain.Status(strings.ToUpper(strings.TrimSpace(string(status))))
	if _, ok := statusRank[status]; !ok {
		return domain.Task{}, inputErrorf("status must be one of OPEN IN_PROGRESS COMPLETED")
	}
	manager, err := e.canManageTasks(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err = e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if !e.mayChangeStatus(t, actorID, manager) {
		return domain.Task{}, auth.ForbiddenError{Permission: auth.PermTaskManage}
	}
	if t.Status == status {
		return t, nil
	}
	if err := ensureTaskTransition(e.statusPolicy(), t.Status, status); err != nil {
		return domain.Task{}, err
	}
	from := t.Status
	now := e.nowString()
	t.Status = status
	t.UpdatedAt = now
	if status == domain.StatusCompleted {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	if err := routing.ValidateAssignment(ctx, routing.FromTask(t), e.Repo.Graph(tx)); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskStatusChanged, "task", t.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Status != "" {
		f.Status = strings.ToUpper(f.Status)
		if _, ok := statusRank[domain.Status(f.Status)]; !ok {
			return nil, inputErrorf("unknown status %s", f.Status)
		}
	}
	if f.Type != "" {
		f.Type = strings.ToUpper(f.Type)
		switch domain.TaskType(f.Type) {
		case domain.TaskTypePersonal, domain.TaskTypeCommon, domain.TaskTypeHierarchical:
		default:
			return nil, inputErrorf("unknown task type %s", f.Type)
		}
	}
	return e.Repo.ListTasks(ctx, f)
}

// DeleteTask removes a task and, through the foreign key, its comments.
func (e Engine) DeleteTask(ctx context.Context, actorID, taskID string) (err error) {
	defer func() { observeTask("delete", err) }()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.TaskDeleted, "task", taskID, actorID, events.EventPayload{
		"title":       t.Title,
		"assigned_to": t.AssignedTo,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type commentInput struct {
	Comment string `json:"comment" validate:"required,max=4000"`
}

func (e Engine) requireParticipant(ctx context.Context, t domain.Task, actorID string) error {
	if actorID == t.AssignedTo || actorID == t.AssignedBy {
		return nil
	}
	manager, err := e.canManageTasks(ctx, actorID)
	if err != nil {
		return err
	}
	if !manager {
		return auth.ForbiddenError{Permission: auth.PermTaskManage}
	}
	return nil
}

// AddComment appends a comment. Comments are never edited.
func (e Engine) AddComment(ctx context.Context, actorID, taskID, comment string) (c domain.TaskComment, err error) {
	defer func() { observeTask("comment", err) }()
	comment = strings.TrimSpace(comment)
	if err := checkInput(commentInput{Comment: comment}); err != nil {
		return c, err
	}
	t, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return c, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := e.requireParticipant(ctx, t, actorID); err != nil {
		return c, err
	}
	c = domain.TaskComment{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Comment:   comment,
		CreatedBy: actorID,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskComment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.TaskComment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.TaskCommented, "task", taskID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.TaskComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskComment{}, err
	}
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, actorID, taskID string) ([]domain.TaskComment, error) {
	t, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := e.requireParticipant(ctx, t, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, taskID)
}
