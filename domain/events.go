package domain

// Task change event kinds delivered to the owner's live sessions.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent describes one committed change to a user's tasks. Delivery is
// post-commit, at-most-once and scoped to the owning user's sessions.
type TaskEvent struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	UserID string `json:"userId"`
	// Task carries the entity after the change; nil for deletions and bulk
	// operations, which list the affected ids instead.
	Task    *Task    `json:"task,omitempty"`
	TaskIDs []string `json:"taskIds,omitempty"`
	Time    int64    `json:"time"`
}
