package api

import (
	"context"
	"time"

	"taskhub/domain"
	"taskhub/storage"
	"taskhub/tasks"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// TaskService is the mutation and query surface the handlers drive.
type TaskService interface {
	Create(ctx context.Context, ownerID string, d domain.TaskDraft) (*domain.Task, error)
	Get(ctx context.Context, id, ownerID string) (*domain.Task, error)
	Update(ctx context.Context, id, ownerID string, patch domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, id, ownerID string) error
	Complete(ctx context.Context, id, ownerID string) (*domain.Task, error)
	BulkUpdate(ctx context.Context, ids []string, ownerID string, patch domain.TaskPatch) (*tasks.BulkResult, error)
	BulkDelete(ctx context.Context, ids []string, ownerID string) (*tasks.BulkResult, error)
	List(ctx context.Context, ownerID string, q storage.TaskQuery) (*storage.TaskPage, error)
	Stats(ctx context.Context, ownerID string) (*domain.TaskStats, error)
	Overdue(ctx context.Context, ownerID string) ([]domain.Task, error)
	DueBetween(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Task, error)
}

// AccountService is the account lifecycle surface.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	Deactivate(ctx context.Context, userID string) error
}

// Authenticator resolves a verified user id from an Authorization header,
// including the session-validity check.
type Authenticator interface {
	UserIDFromAuthHeader(ctx context.Context, header string) (string, error)
}

// CredentialSource reports the session-invalidation watermark for a user;
// ok=false means the account is absent or deactivated.
type CredentialSource interface {
	CredentialChangedAt(ctx context.Context, userID string) (time.Time, bool, error)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

type bulkUpdateRequest struct {
	IDs    []string         `json:"ids"`
	Fields domain.TaskPatch `json:"fields"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}
