package domain

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/bytedance/sonic"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	DefaultStatus   = StatusPending
	DefaultPriority = PriorityMedium
)

// TagList is stored as a JSON array in a single text column so tag search can
// run as a substring match alongside title and description.
type TagList []string

func (t TagList) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	data, err := sonic.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *TagList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		return sonic.Unmarshal([]byte(v), (*[]string)(t))
	case []byte:
		return sonic.Unmarshal(v, (*[]string)(t))
	default:
		return errors.New("unsupported tag column type")
	}
}

// Task is a single tracked item owned by exactly one user. The owner is set at
// creation and never reassigned.
type Task struct {
	ID          string     `gorm:"primarykey;size:36" json:"id"`
	OwnerID     string     `gorm:"size:64;not null;index" json:"ownerId"`
	Title       string     `gorm:"size:100;not null" json:"title"`
	Description string     `gorm:"size:500" json:"description,omitempty"`
	Status      Status     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Priority    Priority   `gorm:"size:20;not null;default:medium" json:"priority"`
	DueDate     *time.Time `gorm:"index" json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Tags        TagList    `gorm:"size:600" json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Task) TableName() string {
	return "tasks"
}

// SyncCompletion keeps the completedAt <-> status invariant: completedAt is
// set exactly when the task is completed, cleared otherwise. The first
// completion timestamp wins; reruns on an already completed task are no-ops.
func (t *Task) SyncCompletion(now time.Time) {
	if t.Status == StatusCompleted {
		if t.CompletedAt == nil {
			ts := now.UTC()
			t.CompletedAt = &ts
		}
		return
	}
	t.CompletedAt = nil
}

// TaskDraft carries the caller-provided fields for a new task. Shape
// validation (lengths, enum membership, date parsing) happens upstream.
type TaskDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        TagList    `json:"tags"`
}

// NewTask builds a task from a draft, defaulting status and priority when the
// draft omits them.
func NewTask(id, ownerID string, d TaskDraft, now time.Time) *Task {
	t := &Task{
		ID:          id,
		OwnerID:     ownerID,
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
		Tags:        d.Tags,
	}
	if t.Status == "" {
		t.Status = DefaultStatus
	}
	if t.Priority == "" {
		t.Priority = DefaultPriority
	}
	t.SyncCompletion(now)
	return t
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *Status    `json:"status"`
	Priority    *Priority  `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        *TagList   `json:"tags"`
}

// IsZero reports whether the patch changes nothing.
func (p TaskPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && p.Tags == nil
}

// Apply merges the provided fields into the task and re-derives the
// completion timestamp from the resulting status.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	t.SyncCompletion(now)
}

// TaskSummary is the reduced shape reported for bulk deletions.
type TaskSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// TaskStats counts a user's tasks per status.
type TaskStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"inProgress"`
	Completed  int64 `json:"completed"`
}
