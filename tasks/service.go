package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/events"
	"taskhub/storage"
)

// Store is the persistence surface the service drives. Implemented by
// *storage.Storage; tests substitute stubs.
type Store interface {
	CreateTask(ctx context.Context, ownerID string, d domain.TaskDraft) (*domain.Task, error)
	TaskByID(ctx context.Context, id, ownerID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, id, ownerID string, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, id, ownerID string) error
	CompleteTask(ctx context.Context, id, ownerID string) (*domain.Task, error)
	BulkUpdateTasks(ctx context.Context, ids []string, ownerID string, patch domain.TaskPatch) (int64, error)
	BulkDeleteTasks(ctx context.Context, ids []string, ownerID string) (int64, []domain.TaskSummary, error)
}

// Reader is the listing surface, optionally cache-wrapped.
type Reader interface {
	ListTasks(ctx context.Context, ownerID string, q storage.TaskQuery) (*storage.TaskPage, error)
	TaskStats(ctx context.Context, ownerID string) (*domain.TaskStats, error)
}

// DueReader serves the due-date queries; these bypass the cache.
type DueReader interface {
	OverdueTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	TasksDueBetween(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Task, error)
}

// Invalidator drops a user's cached reads after a committed mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID string)
}

// Service ties the ownership-guarded store to post-commit event publishing.
// Every mutation follows the same shape: run the transactional store
// operation, then, only on success, invalidate the cache and publish exactly
// one change event to the owner's channel.
type Service struct {
	store  Store
	reader Reader
	due    DueReader
	pub    events.Publisher
	cache  Invalidator
	logger *log.Logger
}

func NewService(store Store, reader Reader, due DueReader, pub events.Publisher, cache Invalidator, logger *log.Logger) *Service {
	return &Service{store: store, reader: reader, due: due, pub: pub, cache: cache, logger: logger}
}

// BulkResult reports the effect of a bulk mutation.
type BulkResult struct {
	ModifiedCount int64                `json:"modifiedCount,omitempty"`
	DeletedCount  int64                `json:"deletedCount,omitempty"`
	Summaries     []domain.TaskSummary `json:"summaries,omitempty"`
}

func (s *Service) Create(ctx context.Context, ownerID string, d domain.TaskDraft) (*domain.Task, error) {
	t, err := s.store.CreateTask(ctx, ownerID, d)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, domain.TaskEvent{Kind: domain.TaskCreated, UserID: ownerID, Task: t})
	return t, nil
}

func (s *Service) Get(ctx context.Context, id, ownerID string) (*domain.Task, error) {
	return s.store.TaskByID(ctx, id, ownerID)
}

func (s *Service) Update(ctx context.Context, id, ownerID string, patch domain.TaskPatch) (*domain.Task, error) {
	t, err := s.store.UpdateTask(ctx, id, ownerID, patch)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, domain.TaskEvent{Kind: domain.TaskUpdated, UserID: ownerID, Task: t})
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	if err := s.store.DeleteTask(ctx, id, ownerID); err != nil {
		return err
	}
	s.committed(ctx, domain.TaskEvent{Kind: domain.TaskDeleted, UserID: ownerID, TaskIDs: []string{id}})
	return nil
}

func (s *Service) Complete(ctx context.Context, id, ownerID string) (*domain.Task, error) {
	t, err := s.store.CompleteTask(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, domain.TaskEvent{Kind: domain.TaskUpdated, UserID: ownerID, Task: t})
	return t, nil
}

func (s *Service) BulkUpdate(ctx context.Context, ids []string, ownerID string, patch domain.TaskPatch) (*BulkResult, error) {
	n, err := s.store.BulkUpdateTasks(ctx, ids, ownerID, patch)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.committed(ctx, domain.TaskEvent{Kind: domain.TaskUpdated, UserID: ownerID, TaskIDs: ids})
	}
	return &BulkResult{ModifiedCount: n}, nil
}

func (s *Service) BulkDelete(ctx context.Context, ids []string, ownerID string) (*BulkResult, error) {
	n, summaries, err := s.store.BulkDeleteTasks(ctx, ids, ownerID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.committed(ctx, domain.TaskEvent{Kind: domain.TaskDeleted, UserID: ownerID, TaskIDs: ids})
	}
	return &BulkResult{DeletedCount: n, Summaries: summaries}, nil
}

func (s *Service) List(ctx context.Context, ownerID string, q storage.TaskQuery) (*storage.TaskPage, error) {
	return s.reader.ListTasks(ctx, ownerID, q)
}

func (s *Service) Stats(ctx context.Context, ownerID string) (*domain.TaskStats, error) {
	return s.reader.TaskStats(ctx, ownerID)
}

func (s *Service) Overdue(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.due.OverdueTasks(ctx, ownerID)
}

func (s *Service) DueBetween(ctx context.Context, ownerID string, start, end time.Time) ([]domain.Task, error) {
	return s.due.TasksDueBetween(ctx, ownerID, start, end)
}

// committed runs the post-commit side effects. Failures are logged and
// swallowed: delivery is at-most-once and the write already happened.
func (s *Service) committed(ctx context.Context, ev domain.TaskEvent) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, ev.UserID)
	}
	if s.pub == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UnixMilli()
	if err := s.pub.TaskChanged(ctx, ev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"kind": ev.Kind,
			"user": ev.UserID,
		}).Warn("task event publish failed")
	}
}
