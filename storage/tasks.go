package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskhub/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// TaskQuery narrows and orders a task listing.
type TaskQuery struct {
	Status    domain.Status
	Priority  domain.Priority
	Tag       string
	Search    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// IsDefault reports whether the query is the plain first page, the only shape
// served from the read cache.
func (q TaskQuery) IsDefault() bool {
	return q.Status == "" && q.Priority == "" && q.Tag == "" && q.Search == "" &&
		(q.Page == 0 || q.Page == 1) && q.Limit == 0 && q.SortBy == "" && q.SortOrder == ""
}

// Pagination describes the page of results returned by ListTasks.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// TaskPage is one page of a user's tasks.
type TaskPage struct {
	Items      []domain.Task `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// sortColumns whitelists the sortable keys. Anything else falls back to
// creation time.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"title":     "title",
	"status":    "status",
}

// CreateTask inserts a new task owned by ownerID, defaulting status and
// priority when the draft omits them.
func (s *Storage) CreateTask(ctx context.Context, ownerID string, d domain.TaskDraft) (*domain.Task, error) {
	t := domain.NewTask(uuid.NewString(), ownerID, d, time.Now())
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TaskByID fetches one task, distinguishing absence from foreign ownership.
func (s *Storage) TaskByID(ctx context.Context, id, ownerID string) (*domain.Task, error) {
	return taskForOwner(s.db.WithContext(ctx), id, ownerID)
}

// taskForOwner loads a task and applies the ownership guard: absent rows are
// NotFound, rows owned by someone else are AccessDenied.
func taskForOwner(tx *gorm.DB, id, ownerID string) (*domain.Task, error) {
	var t domain.Task
	if err := tx.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound("task")
		}
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.ErrAccessDenied("task")
	}
	return &t, nil
}

// UpdateTask merges the provided fields into the task. The read, ownership
// check and write share one transaction so the guard cannot race the
// mutation.
func (s *Storage) UpdateTask(ctx context.Context, id, ownerID string, patch domain.TaskPatch) (*domain.Task, error) {
	var updated *domain.Task
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		t, err := taskForOwner(tx, id, ownerID)
		if err != nil {
			return err
		}
		patch.Apply(t, time.Now())
		if err := tx.Model(t).Select("*").Omit("id", "owner_id", "created_at").Updates(t).Error; err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes the task after the ownership check.
func (s *Storage) DeleteTask(ctx context.Context, id, ownerID string) error {
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		t, err := taskForOwner(tx, id, ownerID)
		if err != nil {
			return err
		}
		return tx.Delete(t).Error
	})
	return err
}

// CompleteTask marks the task completed. Completing twice is a business
// failure; the first completion timestamp is never overwritten.
func (s *Storage) CompleteTask(ctx context.Context, id, ownerID string) (*domain.Task, error) {
	var completed *domain.Task
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		t, err := taskForOwner(tx, id, ownerID)
		if err != nil {
			return err
		}
		if t.Status == domain.StatusCompleted {
			return domain.ErrAlreadyCompleted()
		}
		t.Status = domain.StatusCompleted
		t.SyncCompletion(time.Now())
		if err := tx.Model(t).Select("status", "completed_at", "updated_at").Updates(t).Error; err != nil {
			return err
		}
		completed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// ListTasks returns one page of the owner's tasks. Pages are 1-based, the
// limit is clamped to [1,100] and search matches title, description and tags
// as case-insensitive substrings.
func (s *Storage) ListTasks(ctx context.Context, ownerID string, q TaskQuery) (*TaskPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	base := s.db.WithContext(ctx).Model(&domain.Task{}).Where("owner_id = ?", ownerID)
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	if q.Priority != "" {
		base = base.Where("priority = ?", q.Priority)
	}
	if q.Tag != "" {
		base = base.Where(`lower(tags) LIKE ? ESCAPE '\'`, containsPattern(q.Tag))
	}
	if q.Search != "" {
		pat := containsPattern(q.Search)
		base = base.Where(`lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\' OR lower(tags) LIKE ? ESCAPE '\'`, pat, pat, pat)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, err
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}

	items := []domain.Task{}
	err := base.
		Order(column + " " + order).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	return &TaskPage{
		Items: items,
		Pagination: Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: pages,
		},
	}, nil
}

func containsPattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(strings.ToLower(term))
	return "%" + escaped + "%"
}

// BulkUpdateTasks applies the patch to every listed task. The id set is
// pre-filtered by ownership inside the transaction: if any id is absent or
// foreign the whole operation aborts with no partial effect.
func (s *Storage) BulkUpdateTasks(ctx context.Context, ids []string, ownerID string, patch domain.TaskPatch) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 || patch.IsZero() {
		return 0, nil
	}
	var modified int64
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		if err := guardBulkOwnership(tx, ids, ownerID); err != nil {
			return err
		}
		now := time.Now().UTC()
		updates := bulkUpdateColumns(patch, now)
		scope := tx.Model(&domain.Task{}).Where("id IN ? AND owner_id = ?", ids, ownerID)
		res := scope.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		modified = res.RowsAffected
		if patch.Status != nil && *patch.Status == domain.StatusCompleted {
			// first completion timestamp wins for tasks completed earlier
			return tx.Model(&domain.Task{}).
				Where("id IN ? AND owner_id = ? AND completed_at IS NULL", ids, ownerID).
				Update("completed_at", now).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// BulkDeleteTasks removes every listed task under the same all-or-nothing
// ownership pre-filter and reports summaries of what was deleted.
func (s *Storage) BulkDeleteTasks(ctx context.Context, ids []string, ownerID string) (int64, []domain.TaskSummary, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil, nil
	}
	var (
		deleted   int64
		summaries []domain.TaskSummary
	)
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		if err := guardBulkOwnership(tx, ids, ownerID); err != nil {
			return err
		}
		var victims []domain.Task
		if err := tx.Where("id IN ? AND owner_id = ?", ids, ownerID).Find(&victims).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ? AND owner_id = ?", ids, ownerID).Delete(&domain.Task{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		summaries = make([]domain.TaskSummary, 0, len(victims))
		for _, t := range victims {
			summaries = append(summaries, domain.TaskSummary{ID: t.ID, Title: t.Title, Status: t.Status})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return deleted, summaries, nil
}

// guardBulkOwnership folds the per-task ownership comparison into a single
// count so bulk operations cannot race a check-then-act window. A shortfall
// against ids that do not exist at all is NotFound; one against ids owned by
// another user is AccessDenied.
func guardBulkOwnership(tx *gorm.DB, ids []string, ownerID string) error {
	var owned int64
	if err := tx.Model(&domain.Task{}).Where("id IN ? AND owner_id = ?", ids, ownerID).Count(&owned).Error; err != nil {
		return err
	}
	if owned == int64(len(ids)) {
		return nil
	}
	var existing int64
	if err := tx.Model(&domain.Task{}).Where("id IN ?", ids).Count(&existing).Error; err != nil {
		return err
	}
	if existing < int64(len(ids)) {
		return domain.ErrNotFound("one or more tasks")
	}
	return domain.ErrAccessDenied("one or more tasks")
}

func bulkUpdateColumns(patch domain.TaskPatch, now time.Time) map[string]any {
	updates := map[string]any{"updated_at": now}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
		if *patch.Status != domain.StatusCompleted {
			updates["completed_at"] = nil
		}
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.DueDate != nil {
		updates["due_date"] = patch.DueDate
	}
	if patch.Tags != nil {
		updates["tags"] = *patch.Tags
	}
	return updates
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// TaskStats counts the owner's tasks per status.
func (s *Storage) TaskStats(ctx context.Context, ownerID string) (*domain.TaskStats, error) {
	rows := []struct {
		Status domain.Status
		N      int64
	}{}
	err := s.db.WithContext(ctx).Model(&domain.Task{}).
		Select("status, count(*) as n").
		Where("owner_id = ?", ownerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := &domain.TaskStats{}
	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case domain.StatusPending:
			stats.Pending = r.N
		case domain.StatusInProgress:
			stats.InProgress = r.N
		case domain.StatusCompleted:
			stats.Completed = r.N
		}
	}
	return stats, nil
}

// OverdueTasks returns the owner's uncompleted tasks whose due date has
// passed, earliest first.
func (s *Storage) OverdueTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.dueTasks(ctx, ownerID, "due_date < ?", time.Now().UTC())
}

// TasksDueBetween returns the owner's uncompleted tasks due inside
// [start, end], earliest first.
func (s *Storage) TasksDueBetween(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Task, error) {
	return s.dueTasks(ctx, ownerID, "due_date >= ? AND due_date <= ?", start, end)
}

func (s *Storage) dueTasks(ctx context.Context, ownerID, cond string, args ...any) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status <> ? AND due_date IS NOT NULL", ownerID, domain.StatusCompleted).
		Where(cond, args...).
		Order("due_date ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
