package domain

type TaskType string

const (
	TaskTypePersonal     TaskType = "PERSONAL"
	TaskTypeCommon       TaskType = "COMMON"
	TaskTypeHierarchical TaskType = "HIERARCHICAL"
)

// Direction is only set on HIERARCHICAL tasks. The empty value means none.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionDownward Direction = "DOWNWARD"
	DirectionUpward   Direction = "UPWARD"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

// HierarchyEdge records that SubordinateID reports to ManagerID.
type HierarchyEdge struct {
	ManagerID     string `json:"manager_id"`
	SubordinateID string `json:"subordinate_id"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	CreatedBy     string `json:"created_by,omitempty"`
}

type HierarchyNode struct {
	User         User            `json:"user"`
	Depth        int             `json:"depth"`
	Subordinates []HierarchyNode `json:"subordinates"`
}

type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	AssignedTo   string    `json:"assigned_to"`
	AssignedBy   string    `json:"assigned_by"`
	Type         TaskType  `json:"task_type" enum:"PERSONAL,COMMON,HIERARCHICAL"`
	Direction    Direction `json:"direction,omitempty" enum:"DOWNWARD,UPWARD"`
	LinkedCaseID string    `json:"linked_case_id,omitempty"`
	Priority     Priority  `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	Status       Status    `json:"status" enum:"OPEN,IN_PROGRESS,COMPLETED"`
	DueDate      string    `json:"due_date,omitempty"`
	CreatedAt    string    `json:"created_at" format:"date-time"`
	UpdatedAt    string    `json:"updated_at" format:"date-time"`
	CompletedAt  *string   `json:"completed_at,omitempty" format:"date-time"`
}

type TaskComment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Comment   string `json:"comment"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// WhoAmI describes the roles and effective permissions of an actor.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
