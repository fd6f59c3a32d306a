package server

import (
	"loanops/internal/domain"
)

// Request payloads

type HierarchyAssignRequest struct {
	SubordinateID string `json:"subordinateId" minLength:"1" example:"u-loan-officer"`
	ManagerID     string `json:"managerId" minLength:"1" example:"u-branch-manager"`
}

type HierarchyRemoveRequest struct {
	SubordinateID string `json:"subordinateId" minLength:"1"`
}

type CreateUserRequest struct {
	ID       string `json:"id" minLength:"1"`
	Name     string `json:"name" minLength:"1"`
	Email    string `json:"email,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateTaskRequest struct {
	ID           *string `json:"id,omitempty"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	AssignedTo   string  `json:"assigned_to"`
	TaskType     string  `json:"task_type" enum:"PERSONAL,COMMON,HIERARCHICAL"`
	Direction    *string `json:"direction,omitempty" enum:"DOWNWARD,UPWARD"`
	LinkedCaseID *string `json:"linked_case_id,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	DueDate      *string `json:"due_date,omitempty" example:"2024-06-30"`
}

// UpdateTaskRequest is a partial update. Sending "direction": null clears
// the direction, which is how a HIERARCHICAL task is rerouted as COMMON.
type UpdateTaskRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	AssignedTo   *string `json:"assigned_to,omitempty"`
	TaskType     *string `json:"task_type,omitempty" enum:"PERSONAL,COMMON,HIERARCHICAL"`
	Direction    *string `json:"direction,omitempty" nullable:"true" doc:"DOWNWARD or UPWARD; null clears it"`
	LinkedCaseID *string `json:"linked_case_id,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	DueDate      *string `json:"due_date,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"OPEN,IN_PROGRESS,COMPLETED"`
}

type CreateCommentRequest struct {
	Comment string `json:"comment" minLength:"1"`
}

type RoleChangeRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Role   string `json:"role" minLength:"1"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type UserResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"isActive"`
}

type HierarchyEdgeResponse struct {
	SubordinateID string `json:"subordinateId"`
	ManagerID     string `json:"managerId"`
	CreatedAt     string `json:"createdAt" format:"date-time"`
	CreatedBy     string `json:"createdBy,omitempty"`
}

type HierarchyRemoveResponse struct {
	SubordinateID string `json:"subordinateId"`
	Removed       bool   `json:"removed"`
}

type TreeNodeResponse struct {
	User         UserResponse       `json:"user"`
	Depth        int                `json:"depth"`
	Subordinates []TreeNodeResponse `json:"subordinates"`
}

type TreeResponse struct {
	Roots []TreeNodeResponse `json:"roots"`
}

type ManagerResponse struct {
	UserID  string        `json:"userId"`
	Manager *UserResponse `json:"manager"`
}

type SubordinatesResponse struct {
	UserID       string         `json:"userId"`
	Subordinates []UserResponse `json:"subordinates"`
}

type ValidateTaskResponse struct {
	Valid bool `json:"valid"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

type RoleResponse struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits,omitempty"`
}

type UserRolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, IsActive: u.IsActive}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func edgeResponse(e domain.HierarchyEdge) HierarchyEdgeResponse {
	return HierarchyEdgeResponse{
		SubordinateID: e.SubordinateID,
		ManagerID:     e.ManagerID,
		CreatedAt:     e.CreatedAt,
		CreatedBy:     e.CreatedBy,
	}
}

func treeResponse(nodes []domain.HierarchyNode) []TreeNodeResponse {
	res := make([]TreeNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		res = append(res, TreeNodeResponse{
			User:         userResponse(n.User),
			Depth:        n.Depth,
			Subordinates: treeResponse(n.Subordinates),
		})
	}
	return res
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
