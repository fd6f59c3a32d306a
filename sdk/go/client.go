// Package loanopssdk is a small typed client for the Loanops HTTP API.
package loanopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Loanops HTTP API client. BaseURL includes the API
// base path, for example http://127.0.0.1:8080/api.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"isActive"`
}

type HierarchyEdge struct {
	SubordinateID string `json:"subordinateId"`
	ManagerID     string `json:"managerId"`
	CreatedAt     string `json:"createdAt"`
	CreatedBy     string `json:"createdBy,omitempty"`
}

type TreeNode struct {
	User         User       `json:"user"`
	Depth        int        `json:"depth"`
	Subordinates []TreeNode `json:"subordinates"`
}

// Task mirrors the API task model.
type Task struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	AssignedTo   string  `json:"assigned_to"`
	AssignedBy   string  `json:"assigned_by"`
	TaskType     string  `json:"task_type"`
	Direction    string  `json:"direction,omitempty"`
	LinkedCaseID string  `json:"linked_case_id,omitempty"`
	Priority     string  `json:"priority"`
	Status       string  `json:"status"`
	DueDate      string  `json:"due_date,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

// NewTask is the create payload. Empty optional fields are omitted.
type NewTask struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssignedTo   string `json:"assigned_to"`
	TaskType     string `json:"task_type"`
	Direction    string `json:"direction,omitempty"`
	LinkedCaseID string `json:"linked_case_id,omitempty"`
	Priority     string `json:"priority,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Comment   string `json:"comment"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors. A zero NextCursor
// means there are no older events.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details are filled from the
// error envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCycle reports whether err is the API's answer to an assignment that
// would close a reporting loop.
func IsCycle(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "cycle_detected"
}

// AssignManager makes managerID the direct manager of subordinateID.
func (c *Client) AssignManager(ctx context.Context, subordinateID, managerID string) (HierarchyEdge, error) {
	body := map[string]string{"subordinateId": subordinateID, "managerId": managerID}
	var resp HierarchyEdge
	err := c.do(ctx, http.MethodPost, "admin/hierarchy/assign", body, &resp)
	return resp, err
}

// RemoveManager detaches subordinateID from its manager and reports whether
// an edge existed.
func (c *Client) RemoveManager(ctx context.Context, subordinateID string) (bool, error) {
	var resp struct {
		Removed bool `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "admin/hierarchy/remove", map[string]string{"subordinateId": subordinateID}, &resp)
	return resp.Removed, err
}

func (c *Client) Tree(ctx context.Context) ([]TreeNode, error) {
	var resp struct {
		Roots []TreeNode `json:"roots"`
	}
	err := c.do(ctx, http.MethodGet, "admin/hierarchy/tree", nil, &resp)
	return resp.Roots, err
}

// ManagerOf returns nil when the user has no manager. An empty userID asks
// about the caller.
func (c *Client) ManagerOf(ctx context.Context, userID string) (*User, error) {
	var resp struct {
		Manager *User `json:"manager"`
	}
	err := c.do(ctx, http.MethodGet, userPath(userID, "manager"), nil, &resp)
	return resp.Manager, err
}

// SubordinatesOf lists direct reports. An empty userID asks about the caller.
func (c *Client) SubordinatesOf(ctx context.Context, userID string) ([]User, error) {
	var resp struct {
		Subordinates []User `json:"subordinates"`
	}
	err := c.do(ctx, http.MethodGet, userPath(userID, "subordinates"), nil, &resp)
	return resp.Subordinates, err
}

func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

// ValidateTask runs the routing checks without creating anything.
func (c *Client) ValidateTask(ctx context.Context, t NewTask) error {
	return c.do(ctx, http.MethodPost, "tasks/validate", t, nil)
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TaskQuery filters ListTasks. Zero values are ignored.
type TaskQuery struct {
	AssignedTo string
	AssignedBy string
	Mine       bool
	Status     string
	TaskType   string
	Limit      int
}

func (q TaskQuery) values() url.Values {
	v := url.Values{}
	if q.AssignedTo != "" {
		v.Set("assigned_to", q.AssignedTo)
	}
	if q.AssignedBy != "" {
		v.Set("assigned_by", q.AssignedBy)
	}
	if q.Mine {
		v.Set("mine", "true")
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.TaskType != "" {
		v.Set("task_type", q.TaskType)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	endpoint := "tasks"
	if enc := q.values().Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTask sends a partial update. Use a JSON null for direction to clear it.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(id)+"/status", map[string]string{"status": status}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AddComment(ctx context.Context, taskID, comment string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/comments", map[string]string{"comment": comment}, &resp)
	return resp, err
}

func (c *Client) Comments(ctx context.Context, taskID string) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/comments", nil, &resp)
	return resp, err
}

// EventsPage returns events newest first. Pass the previous NextCursor to
// continue.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		v.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	endpoint := "events"
	if enc := v.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func userPath(userID, leaf string) string {
	if userID == "" {
		return "users/me/" + leaf
	}
	return "users/" + url.PathEscape(userID) + "/" + leaf
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
